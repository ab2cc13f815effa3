// Package monitoring reports pipeline diagnostics (zap events and prometheus
// metrics) and raises webhook alerts when forecast runs fail.
package monitoring

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/model"
)

// SeriesKey identifies the series a diagnostic belongs to.
type SeriesKey struct {
	Country   string
	Indicator string
}

// Reporter receives diagnostics from the forecast pipeline. Implementations
// must be safe for concurrent use; ModelCompleted is called from the model
// goroutines.
type Reporter interface {
	// RowsFilled reports how many of total normalized rows were synthesized.
	RowsFilled(key SeriesKey, filled, total int)
	// ModelCompleted reports one model fit and predict, with err set on failure.
	ModelCompleted(key SeriesKey, name string, elapsed time.Duration, err error)
	// TagCounts reports the per-tag row counts of the output series.
	TagCounts(key SeriesKey, counts map[model.Tag]int)
	// RunCompleted reports the end of a pipeline run.
	RunCompleted(key SeriesKey, elapsed time.Duration, err error)
}

// Nop discards all diagnostics.
type Nop struct{}

func (Nop) RowsFilled(SeriesKey, int, int)                         {}
func (Nop) ModelCompleted(SeriesKey, string, time.Duration, error) {}
func (Nop) TagCounts(SeriesKey, map[model.Tag]int)                 {}
func (Nop) RunCompleted(SeriesKey, time.Duration, error)           {}

// LogReporter writes diagnostics as structured zap events.
type LogReporter struct {
	log *zap.Logger
}

// NewLogReporter creates a LogReporter. A nil logger uses zap.L().
func NewLogReporter(log *zap.Logger) *LogReporter {
	if log == nil {
		log = zap.L()
	}
	return &LogReporter{log: log.With(zap.String("component", "pipeline"))}
}

func seriesFields(key SeriesKey) []zap.Field {
	return []zap.Field{zap.String("country", key.Country), zap.String("indicator", key.Indicator)}
}

func (r *LogReporter) RowsFilled(key SeriesKey, filled, total int) {
	r.log.Info("normalized series",
		append(seriesFields(key), zap.Int("filled_rows", filled), zap.Int("total_rows", total))...)
}

func (r *LogReporter) ModelCompleted(key SeriesKey, name string, elapsed time.Duration, err error) {
	fields := append(seriesFields(key), zap.String("model", name), zap.Duration("elapsed", elapsed))
	if err != nil {
		r.log.Warn("model failed", append(fields, zap.Error(err))...)
		return
	}
	r.log.Info("model completed", fields...)
}

func (r *LogReporter) TagCounts(key SeriesKey, counts map[model.Tag]int) {
	fields := seriesFields(key)
	for _, tag := range model.Tags {
		fields = append(fields, zap.Int(tag.String()+"_rows", counts[tag]))
	}
	r.log.Info("output series", fields...)
}

func (r *LogReporter) RunCompleted(key SeriesKey, elapsed time.Duration, err error) {
	fields := append(seriesFields(key), zap.Duration("elapsed", elapsed))
	if err != nil {
		r.log.Error("forecast run failed", append(fields, zap.Error(err))...)
		return
	}
	r.log.Info("forecast run complete", fields...)
}

// Multi fans diagnostics out to several reporters.
type Multi []Reporter

func (m Multi) RowsFilled(key SeriesKey, filled, total int) {
	for _, r := range m {
		r.RowsFilled(key, filled, total)
	}
}

func (m Multi) ModelCompleted(key SeriesKey, name string, elapsed time.Duration, err error) {
	for _, r := range m {
		r.ModelCompleted(key, name, elapsed, err)
	}
}

func (m Multi) TagCounts(key SeriesKey, counts map[model.Tag]int) {
	for _, r := range m {
		r.TagCounts(key, counts)
	}
}

func (m Multi) RunCompleted(key SeriesKey, elapsed time.Duration, err error) {
	for _, r := range m {
		r.RunCompleted(key, elapsed, err)
	}
}
