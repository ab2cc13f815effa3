// Package horizon computes how many years to forecast past a series.
package horizon

import (
	"time"

	"github.com/sells-group/forecast-cli/internal/model"
)

// DefaultCutOffYear is the forecast cut-off used when none is configured.
const DefaultCutOffYear = 2030

// Calculator derives the forecast horizon from a series' latest year and a
// cut-off year. The current year comes from an injectable clock.
type Calculator struct {
	cutOffYear int
	now        func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock replaces time.Now as the source of the current year.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		c.now = now
	}
}

// New creates a Calculator. A non-positive cutOffYear selects DefaultCutOffYear.
func New(cutOffYear int, opts ...Option) *Calculator {
	if cutOffYear <= 0 {
		cutOffYear = DefaultCutOffYear
	}
	c := &Calculator{cutOffYear: cutOffYear, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CutOffYear returns the configured cut-off year.
func (c *Calculator) CutOffYear() int {
	return c.cutOffYear
}

// Compute returns cutOffYear minus the series' latest year.
func (c *Calculator) Compute(s *model.Series) (int, error) {
	return c.ComputeYear(s.LastYear())
}

// ComputeYear returns cutOffYear - latestYear. It fails with
// *model.InvalidHorizonError when latestYear is after the current year or
// when latestYear is not before the cut-off.
func (c *Calculator) ComputeYear(latestYear int) (int, error) {
	current := c.now().Year()
	if latestYear > current {
		return 0, &model.InvalidHorizonError{
			LatestYear:  latestYear,
			CutOffYear:  c.cutOffYear,
			CurrentYear: current,
			Reason:      "latest year is after the current year",
		}
	}
	if latestYear >= c.cutOffYear {
		return 0, &model.InvalidHorizonError{
			LatestYear:  latestYear,
			CutOffYear:  c.cutOffYear,
			CurrentYear: current,
			Reason:      "cut-off year must be later than the latest year",
		}
	}
	return c.cutOffYear - latestYear, nil
}

// ForecastDates returns the n consecutive January 1 dates following latestYear.
func ForecastDates(latestYear, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	for i := range out {
		out[i] = model.YearStart(latestYear + i + 1)
	}
	return out
}
