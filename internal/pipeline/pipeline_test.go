package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/estimate"
	"github.com/sells-group/forecast-cli/internal/horizon"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
)

type fakeSource struct {
	obs []model.Observation
	err error
}

func (f *fakeSource) Observations(_ context.Context, _, _ string) ([]model.Observation, error) {
	return f.obs, f.err
}

// constModel forecasts a fixed value for every future year.
type constModel struct {
	name  string
	value float64
	err   error
	block bool
}

func (m *constModel) Name() string { return m.name }

func (m *constModel) Fit(ctx context.Context, s *model.Series) (estimate.Fitted, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, &model.ModelFitError{Model: m.name, Points: s.Len(), Err: m.err}
	}
	return &constFit{name: m.name, value: m.value, last: s.LastYear()}, nil
}

type constFit struct {
	name  string
	value float64
	last  int
}

func (f *constFit) Predict(h int) (*model.ForecastResult, error) {
	res := &model.ForecastResult{Model: f.name}
	for _, d := range horizon.ForecastDates(f.last, h) {
		res.Points = append(res.Points, model.Point{Date: d, Value: f.value})
	}
	return res, nil
}

func (f *constFit) Params() map[string]any { return nil }

type recordingReporter struct {
	mu       sync.Mutex
	filled   int
	models   []string
	counts   map[model.Tag]int
	runErr   error
	runCalls int
}

func (r *recordingReporter) RowsFilled(_ monitoring.SeriesKey, filled, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filled = filled
}

func (r *recordingReporter) ModelCompleted(_ monitoring.SeriesKey, name string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, name)
}

func (r *recordingReporter) TagCounts(_ monitoring.SeriesKey, counts map[model.Tag]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = counts
}

func (r *recordingReporter) RunCompleted(_ monitoring.SeriesKey, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runCalls++
	r.runErr = err
}

func fixedClock(year int) horizon.Option {
	return horizon.WithClock(func() time.Time { return time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC) })
}

func newTestPipeline(t *testing.T, src Source, cutOff int, models ...estimate.Model) (*Pipeline, *recordingReporter) {
	t.Helper()
	rep := &recordingReporter{}
	p, err := New(src, horizon.New(cutOff, fixedClock(2024)), models, WithReporter(rep))
	require.NoError(t, err)
	return p, rep
}

func TestRun(t *testing.T) {
	src := &fakeSource{obs: []model.Observation{
		model.ObservationAt(2018, 10),
		model.ObservationAt(2020, 12),
		model.ObservationAt(2021, 13),
	}}
	p, rep := newTestPipeline(t, src, 2024,
		&constModel{name: "a", value: 20},
		&constModel{name: "b", value: 30},
	)

	res, err := p.Run(context.Background(), Request{Country: " USA ", Indicator: "SP.POP.TOTL"})
	require.NoError(t, err)

	assert.Equal(t, "USA", res.Request.Country)
	assert.Equal(t, 2024, res.CutOffYear)
	assert.Equal(t, 3, res.Horizon)
	assert.Equal(t, 1, res.Stats.Filled)
	assert.Equal(t, 4, res.Stats.Total)
	require.Len(t, res.Forecasts, 2)

	entries := res.Output.Entries()
	require.Len(t, entries, 7)
	assert.Equal(t, model.Synthesized, entries[1].Tag)
	assert.InDelta(t, 10, entries[1].Value, 1e-9)
	for _, e := range entries[4:] {
		assert.Equal(t, model.Forecast, e.Tag)
		assert.InDelta(t, 25, e.Value, 1e-9)
	}

	assert.Equal(t, 3, res.Summary.HistoricalRowCount)
	assert.Equal(t, 1, res.Summary.ResampledRowCount)
	assert.Equal(t, 3, res.Summary.ForecastRowCount)
	assert.Equal(t, "2021-01-01", res.Summary.HistoricalDataEnd)
	assert.Equal(t, "2022-01-01", res.Summary.ForecastStart)
	assert.Equal(t, model.Row{Value: 25, Source: "Forecast"}, res.Summary.Data["2024-01-01"])

	assert.Equal(t, 1, rep.filled)
	assert.ElementsMatch(t, []string{"a", "b"}, rep.models)
	assert.Equal(t, 3, rep.counts[model.Forecast])
	assert.Equal(t, 1, rep.runCalls)
	assert.NoError(t, rep.runErr)
}

func TestRun_WithRealModels(t *testing.T) {
	var obs []model.Observation
	for i := range 30 {
		obs = append(obs, model.ObservationAt(1990+i, 100+2*float64(i)))
	}
	cfg := config.ForecastConfig{
		CutOffYear: 2025,
		Models:     []string{"arima", "trend"},
		ARIMA:      config.ARIMAConfig{MaxP: 2, MaxD: 1},
		Trend:      config.TrendConfig{Changepoints: 3, ChangepointRange: 0.8, ChangepointPrior: 0.05},
	}
	p, err := FromConfig(cfg, 0, &fakeSource{obs: obs})
	require.NoError(t, err)
	assert.Equal(t, 2025, p.CutOffYear())

	res, err := p.Run(context.Background(), Request{Country: "USA", Indicator: "X"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Horizon)
	assert.Equal(t, 36, res.Output.Len())
	last := res.Output.Entries()[35]
	assert.Equal(t, 2025, last.Year())
	assert.InDelta(t, 100+2*35.0, last.Value, 1)
}

func TestFromConfig_CutOffOverride(t *testing.T) {
	cfg := config.ForecastConfig{CutOffYear: 2030, Models: []string{"arima", "prophet"}}
	p, err := FromConfig(cfg, 2040, &fakeSource{})
	require.NoError(t, err)
	assert.Equal(t, 2040, p.CutOffYear())
}

func TestFromConfig_Errors(t *testing.T) {
	_, err := FromConfig(config.ForecastConfig{Models: []string{"arima", "lstm"}}, 2030, &fakeSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: build models")

	_, err = FromConfig(config.ForecastConfig{Models: []string{"arima"}}, 2030, &fakeSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need exactly two models")
}

func TestNew_Errors(t *testing.T) {
	calc := horizon.New(2030)
	models := []estimate.Model{&constModel{name: "a"}, &constModel{name: "b"}}

	_, err := New(nil, calc, models)
	assert.Error(t, err)
	_, err = New(&fakeSource{}, nil, models)
	assert.Error(t, err)
}

func TestRun_Errors(t *testing.T) {
	good := []model.Observation{model.ObservationAt(2019, 1), model.ObservationAt(2020, 2)}

	tests := []struct {
		name   string
		src    *fakeSource
		cutOff int
		models []estimate.Model
		req    Request
		check  func(t *testing.T, err error)
	}{
		{
			name: "missing request fields",
			src:  &fakeSource{obs: good},
			req:  Request{Country: "USA"},
			check: func(t *testing.T, err error) {
				var verr *model.ValidationError
				assert.True(t, errors.As(err, &verr))
			},
		},
		{
			name: "source failure",
			src:  &fakeSource{err: errors.New("connection refused")},
			check: func(t *testing.T, err error) {
				var serr *SourceError
				require.True(t, errors.As(err, &serr))
				assert.Equal(t, "USA", serr.Request.Country)
				assert.Contains(t, err.Error(), "connection refused")
			},
		},
		{
			name: "no observations",
			src:  &fakeSource{},
			check: func(t *testing.T, err error) {
				var verr *model.ValidationError
				assert.True(t, errors.As(err, &verr))
			},
		},
		{
			name:   "cut-off not after latest year",
			src:    &fakeSource{obs: good},
			cutOff: 2020,
			check: func(t *testing.T, err error) {
				var herr *model.InvalidHorizonError
				require.True(t, errors.As(err, &herr))
				assert.Equal(t, 2020, herr.LatestYear)
			},
		},
		{
			name:   "model fit failure",
			src:    &fakeSource{obs: good},
			models: []estimate.Model{&constModel{name: "a", err: errors.New("singular")}, &constModel{name: "b", block: true}},
			check: func(t *testing.T, err error) {
				var ferr *model.ModelFitError
				require.True(t, errors.As(err, &ferr))
				assert.Equal(t, "a", ferr.Model)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cutOff := tt.cutOff
			if cutOff == 0 {
				cutOff = 2024
			}
			models := tt.models
			if models == nil {
				models = []estimate.Model{&constModel{name: "a"}, &constModel{name: "b"}}
			}
			req := tt.req
			if req == (Request{}) {
				req = Request{Country: "USA", Indicator: "X"}
			}
			p, rep := newTestPipeline(t, tt.src, cutOff, models...)

			res, err := p.Run(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, res)
			tt.check(t, err)
			assert.Equal(t, 1, rep.runCalls)
			assert.Equal(t, err, rep.runErr)
		})
	}
}

func TestRun_AlignmentFailure(t *testing.T) {
	good := []model.Observation{model.ObservationAt(2019, 1), model.ObservationAt(2020, 2)}
	p, _ := newTestPipeline(t, &fakeSource{obs: good}, 2023,
		&constModel{name: "a", value: 1},
		&shortModel{},
	)

	_, err := p.Run(context.Background(), Request{Country: "USA", Indicator: "X"})
	var aerr *model.AlignmentError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 3, aerr.LeftCount)
	assert.Equal(t, 2, aerr.RightCount)
}

// shortModel predicts one year fewer than asked.
type shortModel struct{}

func (shortModel) Name() string { return "short" }

func (shortModel) Fit(_ context.Context, s *model.Series) (estimate.Fitted, error) {
	return &shortFit{constFit{name: "short", last: s.LastYear()}}, nil
}

type shortFit struct{ constFit }

func (f *shortFit) Predict(h int) (*model.ForecastResult, error) {
	return f.constFit.Predict(h - 1)
}

func TestSourceError(t *testing.T) {
	inner := errors.New("boom")
	err := &SourceError{Request: Request{Country: "BRA", Indicator: "X"}, Err: inner}
	assert.Equal(t, "pipeline: source BRA/X: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
