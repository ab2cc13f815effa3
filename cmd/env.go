package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/fetcher"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
	"github.com/sells-group/forecast-cli/internal/pipeline"
	"github.com/sells-group/forecast-cli/internal/source"
	"github.com/sells-group/forecast-cli/internal/store"
	"github.com/sells-group/forecast-cli/pkg/worldbank"
)

// initStore opens the configured run store. The "none" driver returns a nil
// store, which callers treat as persistence disabled.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "forecast.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initSource returns a file source when input is set, otherwise the World
// Bank API. cached wraps the API client in an expiring LRU.
func initSource(input string, cached bool) pipeline.Source {
	if input != "" {
		return source.FromFile(input)
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:      cfg.Source.UserAgent,
		Timeout:        time.Duration(cfg.Source.TimeoutSecs) * time.Second,
		MaxRetries:     cfg.Source.MaxRetries,
		RequestsPerSec: cfg.Source.RequestsPerSec,
	})
	client := worldbank.NewClient(
		worldbank.WithBaseURL(cfg.Source.BaseURL),
		worldbank.WithPerPage(cfg.Source.PerPage),
		worldbank.WithFetcher(f),
	)
	if cached {
		client = worldbank.NewCachedClient(client, cfg.Source.CacheSize, time.Duration(cfg.Source.CacheTTLMins)*time.Minute)
	}
	return source.NewWorldBank(client)
}

// newRun builds the run record for a finished pipeline run.
func newRun(req pipeline.Request, cutOff int, res *pipeline.Result, runErr error) (*model.Run, []model.Entry) {
	run := &model.Run{
		Country:    req.Country,
		Indicator:  req.Indicator,
		CutOffYear: cutOff,
		Status:     model.RunStatusComplete,
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
		return run, nil
	}
	run.Horizon = res.Horizon
	summary := res.Summary
	run.Summary = &summary
	return run, res.Output.Entries()
}

// recordRun saves the run and alerts on failure. Store and alert errors are
// logged, never returned, so they do not mask the forecast outcome.
func recordRun(ctx context.Context, st store.Store, alerter *monitoring.Alerter, run *model.Run, rows []model.Entry) {
	log := zap.L().With(zap.String("country", run.Country), zap.String("indicator", run.Indicator))
	if st != nil {
		if err := st.SaveRun(ctx, run, rows); err != nil {
			log.Error("failed to save run", zap.Error(err))
		} else {
			log.Info("run saved", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
		}
	}
	if alerter != nil && run.Status == model.RunStatusFailed {
		alerter.NotifyRunFailed(ctx, run)
	}
}
