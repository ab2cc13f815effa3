package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/pipeline"
	"github.com/sells-group/forecast-cli/internal/store"
)

func testForecastConfig() config.ForecastConfig {
	return config.ForecastConfig{
		CutOffYear: 2030,
		Models:     []string{"arima", "trend"},
		ARIMA:      config.ARIMAConfig{MaxP: 2, MaxD: 1, Criterion: "aicc"},
		Trend:      config.TrendConfig{Changepoints: 3, ChangepointRange: 0.8, ChangepointPrior: 0.05},
	}
}

// stubSource serves a linear series from 1995 to 2020 with 2003 missing.
// Country "ERR" fails and "NONE" has no observations.
type stubSource struct{}

func (stubSource) Observations(_ context.Context, country, _ string) ([]model.Observation, error) {
	switch country {
	case "ERR":
		return nil, errors.New("upstream unavailable")
	case "NONE":
		return nil, nil
	}
	var obs []model.Observation
	for y := 1995; y <= 2020; y++ {
		if y == 2003 {
			continue
		}
		obs = append(obs, model.ObservationAt(y, 1000+10*float64(y-1995)))
	}
	return obs, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func runTestPipeline(t *testing.T, req pipeline.Request) *pipeline.Result {
	t.Helper()
	p, err := pipeline.FromConfig(testForecastConfig(), 0, stubSource{})
	require.NoError(t, err)
	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	return res
}

// withConfig installs c as the global config for the duration of the test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}
