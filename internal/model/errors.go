package model

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports input that cannot be normalized into a series.
type ValidationError struct {
	Reason string
	Years  []int
}

func (e *ValidationError) Error() string {
	if len(e.Years) == 0 {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s (years %s)", e.Reason, joinInts(e.Years))
}

// InvalidHorizonError reports a forecast request with no room to forecast
// or with data dated after the current year.
type InvalidHorizonError struct {
	LatestYear  int
	CutOffYear  int
	CurrentYear int
	Reason      string
}

func (e *InvalidHorizonError) Error() string {
	return fmt.Sprintf("invalid horizon: %s (latest year %d, cut-off year %d, current year %d)",
		e.Reason, e.LatestYear, e.CutOffYear, e.CurrentYear)
}

// ModelFitError reports that a forecasting model could not be fitted or
// could not produce predictions.
type ModelFitError struct {
	Model  string
	Points int
	Err    error
}

func (e *ModelFitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model %s: fit failed on %d points", e.Model, e.Points)
	}
	return fmt.Sprintf("model %s: fit failed on %d points: %v", e.Model, e.Points, e.Err)
}

func (e *ModelFitError) Unwrap() error {
	return e.Err
}

// AlignmentError reports two forecasts covering different date sets.
type AlignmentError struct {
	Left, Right           string
	OnlyLeft, OnlyRight   []time.Time
	LeftCount, RightCount int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment: %s has %d points, %s has %d; only in %s: [%s]; only in %s: [%s]",
		e.Left, e.LeftCount, e.Right, e.RightCount,
		e.Left, joinDates(e.OnlyLeft), e.Right, joinDates(e.OnlyRight))
}

// OverlapError reports history and forecast sharing or interleaving dates.
type OverlapError struct {
	Dates         []time.Time
	HistoricalEnd time.Time
	ForecastStart time.Time
}

func (e *OverlapError) Error() string {
	if len(e.Dates) > 0 {
		return fmt.Sprintf("overlap: history and forecast share %d date(s): [%s]", len(e.Dates), joinDates(e.Dates))
	}
	return fmt.Sprintf("overlap: forecast starts %s, not after history end %s",
		FormatDate(e.ForecastStart), FormatDate(e.HistoricalEnd))
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

func joinDates(v []time.Time) string {
	parts := make([]string, len(v))
	for i, d := range v {
		parts[i] = FormatDate(d)
	}
	return strings.Join(parts, ", ")
}
