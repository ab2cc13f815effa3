// Package pipeline runs one forecast end to end: fetch observations,
// normalize, compute the horizon, fit both models, blend and merge.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/estimate"
	"github.com/sells-group/forecast-cli/internal/horizon"
	"github.com/sells-group/forecast-cli/internal/merge"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
	"github.com/sells-group/forecast-cli/internal/normalize"
	"github.com/sells-group/forecast-cli/internal/reconcile"
)

// Source supplies raw observations for one series.
type Source interface {
	Observations(ctx context.Context, country, indicator string) ([]model.Observation, error)
}

// Request identifies the series to forecast.
type Request struct {
	Country   string `json:"country"`
	Indicator string `json:"indicator"`
}

func (r Request) key() monitoring.SeriesKey {
	return monitoring.SeriesKey{Country: r.Country, Indicator: r.Indicator}
}

// Result is the outcome of a successful run.
type Result struct {
	Request    Request                 `json:"request"`
	CutOffYear int                     `json:"cut_off_year"`
	Horizon    int                     `json:"horizon"`
	Stats      normalize.Stats         `json:"stats"`
	Forecasts  []*model.ForecastResult `json:"-"`
	Output     *model.OutputSeries     `json:"-"`
	Summary    model.Summary           `json:"summary"`
}

// SourceError wraps a failure to obtain observations.
type SourceError struct {
	Request Request
	Err     error
}

func (e *SourceError) Error() string {
	return "pipeline: source " + e.Request.Country + "/" + e.Request.Indicator + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }

// Pipeline wires a Source to the forecasting core. It is safe for concurrent
// use when its Source and Reporter are.
type Pipeline struct {
	source   Source
	horizon  *horizon.Calculator
	models   [2]estimate.Model
	reporter monitoring.Reporter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReporter sets the diagnostics reporter. The default discards everything.
func WithReporter(r monitoring.Reporter) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

// New creates a Pipeline. Exactly two models are required.
func New(src Source, calc *horizon.Calculator, models []estimate.Model, opts ...Option) (*Pipeline, error) {
	if src == nil {
		return nil, eris.New("pipeline: nil source")
	}
	if calc == nil {
		return nil, eris.New("pipeline: nil horizon calculator")
	}
	if len(models) != 2 {
		return nil, eris.Errorf("pipeline: need exactly two models, got %d", len(models))
	}
	p := &Pipeline{
		source:   src,
		horizon:  calc,
		models:   [2]estimate.Model{models[0], models[1]},
		reporter: monitoring.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FromConfig builds the models named in cfg and a horizon calculator for
// cfg.CutOffYear. cutOff overrides the configured year when positive.
func FromConfig(cfg config.ForecastConfig, cutOff int, src Source, opts ...Option) (*Pipeline, error) {
	if cutOff <= 0 {
		cutOff = cfg.CutOffYear
	}
	models := make([]estimate.Model, 0, len(cfg.Models))
	for _, name := range cfg.Models {
		m, err := estimate.Build(name, cfg)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: build models")
		}
		models = append(models, m)
	}
	return New(src, horizon.New(cutOff), models, opts...)
}

// CutOffYear returns the year the pipeline forecasts up to.
func (p *Pipeline) CutOffYear() int {
	return p.horizon.CutOffYear()
}

// Run executes one forecast. Any stage failure fails the whole run; there is
// no partial output.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	req.Country = strings.TrimSpace(req.Country)
	req.Indicator = strings.TrimSpace(req.Indicator)
	key := req.key()
	start := time.Now()
	defer func() {
		p.reporter.RunCompleted(key, time.Since(start), err)
	}()

	if req.Country == "" || req.Indicator == "" {
		return nil, &model.ValidationError{Reason: "country and indicator are required"}
	}

	obs, err := p.source.Observations(ctx, req.Country, req.Indicator)
	if err != nil {
		return nil, &SourceError{Request: req, Err: err}
	}

	history, stats, err := normalize.Normalize(obs)
	if err != nil {
		return nil, err
	}
	p.reporter.RowsFilled(key, stats.Filled, stats.Total)

	h, err := p.horizon.Compute(history)
	if err != nil {
		return nil, err
	}

	forecasts, err := p.forecast(ctx, key, history, h)
	if err != nil {
		return nil, err
	}

	blended, err := reconcile.Blend(forecasts[0], forecasts[1])
	if err != nil {
		return nil, err
	}

	output, err := merge.Merge(history, blended)
	if err != nil {
		return nil, err
	}
	p.reporter.TagCounts(key, output.TagCounts())

	return &Result{
		Request:    req,
		CutOffYear: p.horizon.CutOffYear(),
		Horizon:    h,
		Stats:      stats,
		Forecasts:  forecasts,
		Output:     output,
		Summary:    output.Summary(),
	}, nil
}

// forecast fits both models in parallel. The first failure cancels the other.
func (p *Pipeline) forecast(ctx context.Context, key monitoring.SeriesKey, history *model.Series, h int) ([]*model.ForecastResult, error) {
	out := make([]*model.ForecastResult, len(p.models))
	g, gCtx := errgroup.WithContext(ctx)
	for i, m := range p.models {
		g.Go(func() error {
			start := time.Now()
			res, err := fitPredict(gCtx, m, history, h)
			p.reporter.ModelCompleted(key, m.Name(), time.Since(start), err)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func fitPredict(ctx context.Context, m estimate.Model, history *model.Series, h int) (*model.ForecastResult, error) {
	fit, err := m.Fit(ctx, history)
	if err != nil {
		return nil, err
	}
	return fit.Predict(h)
}
