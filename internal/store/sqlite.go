package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/forecast-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	country      TEXT NOT NULL,
	indicator    TEXT NOT NULL,
	cut_off_year INTEGER NOT NULL,
	horizon      INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	summary      TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_points (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	date   TEXT NOT NULL,
	value  REAL NOT NULL,
	source TEXT NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS latest_points (
	country    TEXT NOT NULL,
	indicator  TEXT NOT NULL,
	date       TEXT NOT NULL,
	value      REAL NOT NULL,
	source     TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	PRIMARY KEY (country, indicator, date)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_series ON runs(country, indicator);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run, rows []model.Entry) error {
	prepareRun(run, uuid.NewString)

	summaryJSON, err := marshalSummary(run.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, country, indicator, cut_off_year, horizon, status, error, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Country, run.Indicator, run.CutOffYear, run.Horizon,
		string(run.Status), run.Error, sql.NullString{String: string(summaryJSON), Valid: summaryJSON != nil}, run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_points (run_id, date, value, source) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare run points")
		}
		defer stmt.Close() //nolint:errcheck
		for _, e := range rows {
			if _, err := stmt.ExecContext(ctx, run.ID, model.FormatDate(e.Date), e.Value, e.Tag.Label()); err != nil {
				return eris.Wrapf(err, "sqlite: insert run point %s", model.FormatDate(e.Date))
			}
		}
	}

	if run.Status == model.RunStatusComplete && len(rows) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM latest_points WHERE country = ? AND indicator = ?`,
			run.Country, run.Indicator,
		); err != nil {
			return eris.Wrap(err, "sqlite: clear latest points")
		}
		latest, err := tx.PrepareContext(ctx,
			`INSERT INTO latest_points (country, indicator, date, value, source, run_id) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare latest points")
		}
		defer latest.Close() //nolint:errcheck
		for _, e := range rows {
			if _, err := latest.ExecContext(ctx, run.Country, run.Indicator, model.FormatDate(e.Date), e.Value, e.Tag.Label(), run.ID); err != nil {
				return eris.Wrapf(err, "sqlite: insert latest point %s", model.FormatDate(e.Date))
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, country, indicator, cut_off_year, horizon, status, error, summary, created_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, country, indicator, cut_off_year, horizon, status, error, summary, created_at FROM runs WHERE 1=1`
	var args []any

	if filter.Country != "" {
		query += ` AND country = ?`
		args = append(args, filter.Country)
	}
	if filter.Indicator != "" {
		query += ` AND indicator = ?`
		args = append(args, filter.Indicator)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RunRows(ctx context.Context, runID string) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value, source FROM run_points WHERE run_id = ? ORDER BY date`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: run rows %s", runID)
	}
	return scanEntries(rows, "sqlite")
}

func (s *SQLiteStore) LatestRows(ctx context.Context, country, indicator string) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value, source FROM latest_points WHERE country = ? AND indicator = ? ORDER BY date`,
		country, indicator,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest rows")
	}
	return scanEntries(rows, "sqlite")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString
	var createdAt time.Time

	if err := row.Scan(&r.ID, &r.Country, &r.Indicator, &r.CutOffYear, &r.Horizon,
		&r.Status, &r.Error, &summaryJSON, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = createdAt.UTC()
	if summaryJSON.Valid && summaryJSON.String != "" {
		r.Summary = &model.Summary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal summary")
		}
	}
	return &r, nil
}

type rowIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanEntries reads (date text, value, source label) rows. It closes rows
// when they are *sql.Rows.
func scanEntries(rows rowIter, prefix string) ([]model.Entry, error) {
	if c, ok := rows.(interface{ Close() error }); ok {
		defer c.Close() //nolint:errcheck
	}
	var out []model.Entry
	for rows.Next() {
		var date, source string
		var value float64
		if err := rows.Scan(&date, &value, &source); err != nil {
			return nil, eris.Wrapf(err, "%s: scan row", prefix)
		}
		e, err := entryFrom(date, value, source)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: decode row", prefix)
		}
		out = append(out, e)
	}
	return out, eris.Wrapf(rows.Err(), "%s: rows iterate", prefix)
}

func entryFrom(date string, value float64, source string) (model.Entry, error) {
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return model.Entry{}, eris.Wrapf(err, "parse date %q", date)
	}
	tag, err := model.ParseTag(source)
	if err != nil {
		return model.Entry{}, err
	}
	return model.Entry{Date: d, Value: value, Tag: tag}, nil
}

func marshalSummary(s *model.Summary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(summaryForStorage(s))
}
