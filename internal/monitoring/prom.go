package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/forecast-cli/internal/model"
)

// PromReporter exports pipeline diagnostics as prometheus metrics.
type PromReporter struct {
	rowsFilled  *prometheus.CounterVec
	modelFits   *prometheus.HistogramVec
	outputRows  *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// NewPromReporter registers the forecast metrics with reg. Registering twice
// with the same registry panics, as with promauto.
func NewPromReporter(reg prometheus.Registerer) *PromReporter {
	f := promauto.With(reg)
	return &PromReporter{
		rowsFilled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_rows_filled_total",
			Help: "Rows synthesized by carrying the last observation forward",
		}, []string{"country", "indicator"}),
		modelFits: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forecast_model_fit_seconds",
			Help:    "Time to fit a model and predict the horizon",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"model", "status"}),
		outputRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecast_output_rows",
			Help: "Rows in the latest output series by source",
		}, []string{"country", "indicator", "source"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_runs_total",
			Help: "Forecast pipeline runs by status",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_run_seconds",
			Help:    "Wall time of a forecast pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (p *PromReporter) RowsFilled(key SeriesKey, filled, _ int) {
	p.rowsFilled.WithLabelValues(key.Country, key.Indicator).Add(float64(filled))
}

func (p *PromReporter) ModelCompleted(_ SeriesKey, name string, elapsed time.Duration, err error) {
	p.modelFits.WithLabelValues(name, statusLabel(err)).Observe(elapsed.Seconds())
}

func (p *PromReporter) TagCounts(key SeriesKey, counts map[model.Tag]int) {
	for _, tag := range model.Tags {
		p.outputRows.WithLabelValues(key.Country, key.Indicator, tag.Label()).Set(float64(counts[tag]))
	}
}

func (p *PromReporter) RunCompleted(_ SeriesKey, elapsed time.Duration, err error) {
	p.runs.WithLabelValues(statusLabel(err)).Inc()
	p.runDuration.Observe(elapsed.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return string(model.RunStatusFailed)
	}
	return string(model.RunStatusComplete)
}
