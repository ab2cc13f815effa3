package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
	"github.com/sells-group/forecast-cli/internal/pipeline"
	"github.com/sells-group/forecast-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forecast HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := resolvePort(servePort, cfg.Server.Port)
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		srv := &server{
			forecast: cfg.Forecast,
			source:   initSource("", true),
			reporter: monitoring.Multi{monitoring.NewLogReporter(nil), monitoring.NewPromReporter(reg)},
			store:    st,
			alerter:  alerter,
		}

		if st != nil {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		return startServer(ctx, buildRouter(srv, reg, cfg.Server.AllowedOrigins), port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server holds the dependencies of the HTTP handlers. store may be nil.
type server struct {
	forecast config.ForecastConfig
	source   pipeline.Source
	reporter monitoring.Reporter
	store    store.Store
	alerter  *monitoring.Alerter
}

// forecastResponse is the body of a successful /v1/forecast call.
type forecastResponse struct {
	RunID      string        `json:"run_id,omitempty"`
	Country    string        `json:"country"`
	Indicator  string        `json:"indicator"`
	CutOffYear int           `json:"cut_off_year"`
	Horizon    int           `json:"horizon"`
	Summary    model.Summary `json:"summary"`
}

func buildRouter(s *server, reg *prometheus.Registry, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/forecast", s.handleForecast)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/latest/{country}/{indicator}", s.handleLatest)
	})
	return r
}

func (s *server) handleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := pipeline.Request{Country: q.Get("country"), Indicator: q.Get("indicator")}

	cutOff := 0
	if v := q.Get("cut_off"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "cut_off must be a positive year")
			return
		}
		cutOff = n
	}

	p, err := pipeline.FromConfig(s.forecast, cutOff, s.source, pipeline.WithReporter(s.reporter))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	if s.forecast.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.forecast.TimeoutSecs)*time.Second)
		defer cancel()
	}
	res, runErr := p.Run(ctx, req)

	run, rows := newRun(req, p.CutOffYear(), res, runErr)
	recordRun(context.WithoutCancel(r.Context()), s.store, s.alerter, run, rows)

	if runErr != nil {
		writeError(w, statusFor(runErr), runErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{
		RunID:      run.ID,
		Country:    res.Request.Country,
		Indicator:  res.Request.Indicator,
		CutOffYear: res.CutOffYear,
		Horizon:    res.Horizon,
		Summary:    res.Summary,
	})
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Country:   q.Get("country"),
		Indicator: q.Get("indicator"),
		Status:    model.RunStatus(q.Get("status")),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	rows, err := s.store.RunRows(r.Context(), run.ID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Rows: rows})
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	country, indicator := chi.URLParam(r, "country"), chi.URLParam(r, "indicator")
	rows, err := s.store.LatestRows(r.Context(), country, indicator)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no forecast stored for %s/%s", country, indicator))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// statusFor maps pipeline and store errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verr *model.ValidationError
		herr *model.InvalidHorizonError
		serr *pipeline.SourceError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &herr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &serr):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolvePort returns the flag port when set, else the configured one.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is done, then shuts down.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
