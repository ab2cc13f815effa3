// Package reconcile blends two model forecasts into one.
package reconcile

import (
	"sort"
	"time"

	"github.com/sells-group/forecast-cli/internal/model"
)

// Blend averages two forecasts date by date. Both forecasts must cover exactly
// the same dates, otherwise *model.AlignmentError lists the dates present on
// only one side. Every entry of the result is tagged model.Forecast.
func Blend(left, right *model.ForecastResult) (*model.Series, error) {
	lv, err := byDate(left)
	if err != nil {
		return nil, err
	}
	rv, err := byDate(right)
	if err != nil {
		return nil, err
	}

	onlyLeft := missingFrom(left.Points, rv)
	onlyRight := missingFrom(right.Points, lv)
	if len(onlyLeft) > 0 || len(onlyRight) > 0 {
		return nil, &model.AlignmentError{
			Left:       left.Model,
			Right:      right.Model,
			OnlyLeft:   onlyLeft,
			OnlyRight:  onlyRight,
			LeftCount:  len(left.Points),
			RightCount: len(right.Points),
		}
	}

	entries := make([]model.Entry, 0, len(left.Points))
	for _, p := range left.Points {
		entries = append(entries, model.Entry{
			Date:  p.Date,
			Value: (p.Value + rv[p.Date.Unix()]) / 2,
			Tag:   model.Forecast,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })

	return model.NewSeries(entries)
}

func byDate(r *model.ForecastResult) (map[int64]float64, error) {
	out := make(map[int64]float64, len(r.Points))
	for _, p := range r.Points {
		key := p.Date.Unix()
		if _, dup := out[key]; dup {
			return nil, &model.ValidationError{
				Reason: "forecast " + r.Model + " repeats a date",
				Years:  []int{p.Date.Year()},
			}
		}
		out[key] = p.Value
	}
	return out, nil
}

func missingFrom(points []model.Point, other map[int64]float64) []time.Time {
	var out []time.Time
	for _, p := range points {
		if _, ok := other[p.Date.Unix()]; !ok {
			out = append(out, p.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
