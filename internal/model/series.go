// Package model defines the series, provenance and run types shared by the forecast pipeline.
package model

import (
	"time"
)

// DateLayout is the layout used for dates in persisted output.
const DateLayout = "2006-01-02"

// YearStart returns January 1 (UTC) of the given year.
func YearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date as YYYY-MM-DD. The zero time renders empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// Observation is a single raw (date, value) pair supplied by a data source.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ObservationAt builds an observation dated January 1 of year.
func ObservationAt(year int, value float64) Observation {
	return Observation{Date: YearStart(year), Value: value}
}

// Year returns the calendar year of the observation.
func (o Observation) Year() int {
	return o.Date.Year()
}

// Point is a dated value without provenance.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Entry is a dated, tagged series value.
type Entry struct {
	Date  time.Time `json:"date" yaml:"date"`
	Value float64   `json:"value" yaml:"value"`
	Tag   Tag       `json:"source" yaml:"source"`
}

// Year returns the calendar year of the entry.
func (e Entry) Year() int {
	return e.Date.Year()
}

// Series is a strictly annual sequence: one entry per year, adjacent years
// exactly one apart, ascending. Construct it with NewSeries.
type Series struct {
	entries []Entry
}

// NewSeries validates that entries form a contiguous annual sequence and
// returns a Series over a private copy of them.
func NewSeries(entries []Entry) (*Series, error) {
	if len(entries) == 0 {
		return nil, &ValidationError{Reason: "series is empty"}
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Tag == 0 {
			return nil, &ValidationError{Reason: "entry has no provenance tag", Years: []int{e.Year()}}
		}
		e.Date = YearStart(e.Year())
		if i > 0 {
			if prev := out[i-1].Year(); e.Year() != prev+1 {
				return nil, &ValidationError{
					Reason: "series is not annually contiguous",
					Years:  []int{prev, e.Year()},
				}
			}
		}
		out[i] = e
	}
	return &Series{entries: out}, nil
}

// Len returns the number of entries.
func (s *Series) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the entries in date order.
func (s *Series) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Values returns the value sequence in date order.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Value
	}
	return out
}

// Dates returns the date sequence.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Date
	}
	return out
}

// Points returns (date, value) pairs in date order.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.entries))
	for i, e := range s.entries {
		out[i] = Point{Date: e.Date, Value: e.Value}
	}
	return out
}

// FirstYear returns the earliest year in the series.
func (s *Series) FirstYear() int {
	return s.entries[0].Year()
}

// LastYear returns the latest year in the series.
func (s *Series) LastYear() int {
	return s.entries[len(s.entries)-1].Year()
}

// Latest returns the final entry.
func (s *Series) Latest() Entry {
	return s.entries[len(s.entries)-1]
}

// ValueAt returns the value for year, if present.
func (s *Series) ValueAt(year int) (float64, bool) {
	idx := year - s.FirstYear()
	if idx < 0 || idx >= len(s.entries) {
		return 0, false
	}
	return s.entries[idx].Value, true
}
