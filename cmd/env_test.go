package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
	"github.com/sells-group/forecast-cli/internal/pipeline"
	"github.com/sells-group/forecast-cli/internal/source"
	"github.com/sells-group/forecast-cli/internal/store"
)

func TestNewRun_Complete(t *testing.T) {
	req := pipeline.Request{Country: "USA", Indicator: "SP.POP.TOTL"}
	res := runTestPipeline(t, req)

	run, rows := newRun(req, 2030, res, nil)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 10, run.Horizon)
	assert.Equal(t, 2030, run.CutOffYear)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 10, run.Summary.ForecastRowCount)
	assert.Len(t, rows, 36)
	assert.Empty(t, run.Error)
}

func TestNewRun_Failed(t *testing.T) {
	req := pipeline.Request{Country: "USA", Indicator: "X"}
	run, rows := newRun(req, 2030, nil, errors.New("boom"))
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)
	assert.Nil(t, run.Summary)
	assert.Nil(t, rows)
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()

	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "none"}})
	st, err := initStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	dsn := filepath.Join(t.TempDir(), "forecast.db")
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dsn}})
	st, err = initStore(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NoError(t, st.Close())
	_, err = os.Stat(dsn)
	assert.NoError(t, err)

	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "mysql"}})
	_, err = initStore(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func TestInitSource(t *testing.T) {
	withConfig(t, &config.Config{Source: config.SourceConfig{
		BaseURL:      "http://127.0.0.1:1",
		PerPage:      10,
		CacheSize:    4,
		CacheTTLMins: 1,
	}})

	assert.IsType(t, &source.CSVFile{}, initSource("obs.csv", false))
	assert.IsType(t, &source.JSONFile{}, initSource("obs.json", false))
	assert.IsType(t, &source.WorldBank{}, initSource("", true))
}

func TestRecordRun(t *testing.T) {
	var alerts atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		alerts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	ctx := context.Background()
	st := newTestStore(t)
	alerter := monitoring.NewAlerter(config.MonitoringConfig{WebhookURL: hook.URL})

	req := pipeline.Request{Country: "USA", Indicator: "SP.POP.TOTL"}
	run, rows := newRun(req, 2030, runTestPipeline(t, req), nil)
	recordRun(ctx, st, alerter, run, rows)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, int32(0), alerts.Load())

	latest, err := st.LatestRows(ctx, "USA", "SP.POP.TOTL")
	require.NoError(t, err)
	assert.Len(t, latest, 36)

	failed, _ := newRun(pipeline.Request{Country: "BRA", Indicator: "X"}, 2030, nil, errors.New("boom"))
	recordRun(ctx, st, alerter, failed, nil)
	assert.Equal(t, int32(1), alerts.Load())

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "BRA", runs[0].Country)

	// A nil store still alerts.
	recordRun(ctx, nil, alerter, &model.Run{Status: model.RunStatusFailed}, nil)
	assert.Equal(t, int32(2), alerts.Load())
}
