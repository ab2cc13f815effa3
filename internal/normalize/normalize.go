// Package normalize turns sparse annual observations into a contiguous,
// provenance-tagged annual series.
package normalize

import (
	"math"
	"sort"

	"github.com/sells-group/forecast-cli/internal/model"
)

// Stats counts how much of the normalized series was synthesized.
type Stats struct {
	Original int `json:"original_rows"`
	Filled   int `json:"filled_rows"`
	Total    int `json:"total_rows"`
}

// Normalize builds a strictly annual series spanning [min(year), max(year)]
// of obs. Years present in obs are tagged Observed with their value unchanged.
// Missing years carry the most recent prior value forward and are tagged
// Synthesized; interpolation is deliberately not used.
//
// Input order does not matter. Dates are reduced to their calendar year.
// Empty input, non-finite values, and more than one observation per year
// are rejected with *model.ValidationError.
func Normalize(obs []model.Observation) (*model.Series, Stats, error) {
	if len(obs) == 0 {
		return nil, Stats{}, &model.ValidationError{Reason: "no observations"}
	}

	byYear := make(map[int]float64, len(obs))
	var bad, dup []int
	for _, o := range obs {
		y := o.Year()
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			bad = append(bad, y)
			continue
		}
		if _, seen := byYear[y]; seen {
			dup = append(dup, y)
			continue
		}
		byYear[y] = o.Value
	}
	if len(bad) > 0 {
		sort.Ints(bad)
		return nil, Stats{}, &model.ValidationError{Reason: "non-numeric value", Years: bad}
	}
	if len(dup) > 0 {
		sort.Ints(dup)
		return nil, Stats{}, &model.ValidationError{Reason: "more than one observation per year", Years: dup}
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	first, last := years[0], years[len(years)-1]

	entries := make([]model.Entry, 0, last-first+1)
	var carried float64
	for y := first; y <= last; y++ {
		e := model.Entry{Date: model.YearStart(y)}
		if v, ok := byYear[y]; ok {
			carried = v
			e.Value = v
			e.Tag = model.Observed
		} else {
			e.Value = carried
			e.Tag = model.Synthesized
		}
		entries = append(entries, e)
	}

	s, err := model.NewSeries(entries)
	if err != nil {
		return nil, Stats{}, err
	}
	return s, Stats{
		Original: len(byYear),
		Filled:   len(entries) - len(byYear),
		Total:    len(entries),
	}, nil
}
