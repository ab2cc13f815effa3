package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/db"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	runColumns = `id, country, indicator, cut_off_year, horizon, status, error, summary, created_at`

	insertRunSQL   = `INSERT INTO runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	getRunSQL      = `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	runRowsSQL     = `SELECT to_char(date, 'YYYY-MM-DD'), value, source FROM run_points WHERE run_id = $1 ORDER BY date`
	latestRowsSQL  = `SELECT to_char(date, 'YYYY-MM-DD'), value, source FROM latest_points WHERE country = $1 AND indicator = $2 ORDER BY date`
	clearLatestSQL = `DELETE FROM latest_points WHERE country = $1 AND indicator = $2`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":   insertRunSQL,
	"get_run":      getRunSQL,
	"run_rows":     runRowsSQL,
	"latest_rows":  latestRowsSQL,
	"clear_latest": clearLatestSQL,
}

var (
	runPointColumns = []string{"run_id", "date", "value", "source"}

	latestUpsert = db.UpsertConfig{
		Table:        "latest_points",
		Columns:      []string{"country", "indicator", "date", "value", "source", "run_id"},
		ConflictKeys: []string{"country", "indicator", "date"},
	}
)

// NewPostgres creates a PostgresStore with a connection pool. The initial
// ping is retried so the CLI tolerates a database that is still starting.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	if err := resilience.Run(ctx, resilience.DefaultPolicy().Logged("postgres", "ping"), pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	country      TEXT NOT NULL,
	indicator    TEXT NOT NULL,
	cut_off_year INTEGER NOT NULL,
	horizon      INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	summary      JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_points (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	date   DATE NOT NULL,
	value  DOUBLE PRECISION NOT NULL,
	source TEXT NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS latest_points (
	country   TEXT NOT NULL,
	indicator TEXT NOT NULL,
	date      DATE NOT NULL,
	value     DOUBLE PRECISION NOT NULL,
	source    TEXT NOT NULL,
	run_id    TEXT NOT NULL,
	PRIMARY KEY (country, indicator, date)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_series ON runs(country, indicator);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run, rows []model.Entry) error {
	prepareRun(run, uuid.NewString)

	summaryJSON, err := marshalSummary(run.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID, run.Country, run.Indicator, run.CutOffYear, run.Horizon,
		string(run.Status), run.Error, summaryJSON, run.CreatedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}

	points := make([][]any, len(rows))
	for i, e := range rows {
		points[i] = []any{run.ID, e.Date, e.Value, e.Tag.Label()}
	}
	if _, err := db.CopyFrom(ctx, tx, "run_points", runPointColumns, points); err != nil {
		return eris.Wrapf(err, "postgres: run points %s", run.ID)
	}

	if run.Status == model.RunStatusComplete && len(rows) > 0 {
		if _, err := tx.Exec(ctx, clearLatestSQL, run.Country, run.Indicator); err != nil {
			return eris.Wrap(err, "postgres: clear latest points")
		}
		latest := make([][]any, len(rows))
		for i, e := range rows {
			latest[i] = []any{run.Country, run.Indicator, e.Date, e.Value, e.Tag.Label(), run.ID}
		}
		if _, err := db.UpsertTx(ctx, tx, latestUpsert, latest); err != nil {
			return eris.Wrap(err, "postgres: latest points")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, getRunSQL, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Country != "" {
		query += ` AND country = ` + arg(filter.Country)
	}
	if filter.Indicator != "" {
		query += ` AND indicator = ` + arg(filter.Indicator)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ` + arg(filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RunRows(ctx context.Context, runID string) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx, runRowsSQL, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: run rows %s", runID)
	}
	defer rows.Close()
	return scanEntries(rows, "postgres")
}

func (s *PostgresStore) LatestRows(ctx context.Context, country, indicator string) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx, latestRowsSQL, country, indicator)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest rows")
	}
	defer rows.Close()
	return scanEntries(rows, "postgres")
}

func scanPgRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var summaryJSON []byte

	if err := row.Scan(&r.ID, &r.Country, &r.Indicator, &r.CutOffYear, &r.Horizon,
		&status, &r.Error, &summaryJSON, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	if len(summaryJSON) > 0 {
		r.Summary = &model.Summary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal summary")
		}
	}
	return &r, nil
}
