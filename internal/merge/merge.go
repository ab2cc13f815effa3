// Package merge joins a normalized history with its blended forecast.
package merge

import (
	"github.com/sells-group/forecast-cli/internal/model"
)

// Merge concatenates history and forecast into a single output series sorted
// by date. History entries must be Observed or Synthesized and forecast
// entries must be Forecast. It fails with *model.OverlapError when the two
// share a date or when the forecast starts before the history ends. A gap
// between them is allowed.
func Merge(history, forecast *model.Series) (*model.OutputSeries, error) {
	hist := history.Entries()
	fc := forecast.Entries()

	for _, e := range hist {
		if !e.Tag.Historical() {
			return nil, &model.ValidationError{Reason: "history contains " + e.Tag.String() + " entry", Years: []int{e.Year()}}
		}
	}
	for _, e := range fc {
		if e.Tag != model.Forecast {
			return nil, &model.ValidationError{Reason: "forecast contains " + e.Tag.String() + " entry", Years: []int{e.Year()}}
		}
	}

	seen := make(map[int64]struct{}, len(hist))
	for _, e := range hist {
		seen[e.Date.Unix()] = struct{}{}
	}
	overlap := &model.OverlapError{
		HistoricalEnd: history.Latest().Date,
		ForecastStart: fc[0].Date,
	}
	for _, e := range fc {
		if _, ok := seen[e.Date.Unix()]; ok {
			overlap.Dates = append(overlap.Dates, e.Date)
		}
	}
	if len(overlap.Dates) > 0 || !overlap.ForecastStart.After(overlap.HistoricalEnd) {
		return nil, overlap
	}

	entries := make([]model.Entry, 0, len(hist)+len(fc))
	entries = append(entries, hist...)
	entries = append(entries, fc...)
	return model.NewOutputSeries(entries)
}
