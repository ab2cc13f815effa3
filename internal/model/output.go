package model

import (
	"sort"
	"time"
)

// OutputSeries is the final history-plus-forecast series. Entries are sorted
// by date and every date appears once.
type OutputSeries struct {
	entries []Entry
}

// NewOutputSeries sorts entries by date and rejects duplicate dates.
func NewOutputSeries(entries []Entry) (*OutputSeries, error) {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	for i := 1; i < len(out); i++ {
		if out[i].Date.Equal(out[i-1].Date) {
			return nil, &ValidationError{Reason: "duplicate date in output series", Years: []int{out[i].Year()}}
		}
	}
	return &OutputSeries{entries: out}, nil
}

// Len returns the number of entries.
func (o *OutputSeries) Len() int {
	return len(o.entries)
}

// Entries returns a copy of the entries in date order.
func (o *OutputSeries) Entries() []Entry {
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// CountByTag returns how many entries carry tag.
func (o *OutputSeries) CountByTag(tag Tag) int {
	n := 0
	for _, e := range o.entries {
		if e.Tag == tag {
			n++
		}
	}
	return n
}

// TagCounts returns the entry count for every known tag, including zeros.
func (o *OutputSeries) TagCounts() map[Tag]int {
	counts := make(map[Tag]int, len(Tags))
	for _, t := range Tags {
		counts[t] = 0
	}
	for _, e := range o.entries {
		counts[e.Tag]++
	}
	return counts
}

// EarliestWithTag returns the first date carrying tag.
func (o *OutputSeries) EarliestWithTag(tag Tag) (time.Time, bool) {
	for _, e := range o.entries {
		if e.Tag == tag {
			return e.Date, true
		}
	}
	return time.Time{}, false
}

// LatestWithTag returns the last date carrying tag.
func (o *OutputSeries) LatestWithTag(tag Tag) (time.Time, bool) {
	for i := len(o.entries) - 1; i >= 0; i-- {
		if o.entries[i].Tag == tag {
			return o.entries[i].Date, true
		}
	}
	return time.Time{}, false
}

// Row is one persisted table row, keyed externally by date.
type Row struct {
	Value  float64 `json:"value" yaml:"value"`
	Source string  `json:"source" yaml:"source"`
}

// Summary is the persisted summary record. Its keys are a compatibility
// contract for consumers of forecast.json.
type Summary struct {
	HistoricalRowCount int            `json:"historical_row_count" yaml:"historical_row_count"`
	ResampledRowCount  int            `json:"resampled_row_count" yaml:"resampled_row_count"`
	ForecastRowCount   int            `json:"forecast_row_count" yaml:"forecast_row_count"`
	HistoricalDataEnd  string         `json:"historical_data_end" yaml:"historical_data_end"`
	ForecastStart      string         `json:"forecast_start" yaml:"forecast_start"`
	Data               map[string]Row `json:"data" yaml:"data"`
}

// Summary derives the persisted summary record from the series alone.
// historical_data_end is the last Observed date; forecast_start the first
// Forecast date.
func (o *OutputSeries) Summary() Summary {
	s := Summary{
		HistoricalRowCount: o.CountByTag(Observed),
		ResampledRowCount:  o.CountByTag(Synthesized),
		ForecastRowCount:   o.CountByTag(Forecast),
		Data:               make(map[string]Row, len(o.entries)),
	}
	if end, ok := o.LatestWithTag(Observed); ok {
		s.HistoricalDataEnd = FormatDate(end)
	}
	if start, ok := o.EarliestWithTag(Forecast); ok {
		s.ForecastStart = FormatDate(start)
	}
	for _, e := range o.entries {
		s.Data[FormatDate(e.Date)] = Row{Value: e.Value, Source: e.Tag.Label()}
	}
	return s
}
