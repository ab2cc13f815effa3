// Package store persists forecast runs and their output rows.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/model"
)

// ErrRunNotFound is returned (wrapped) when a run ID does not exist.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Country      string          `json:"country,omitempty"`
	Indicator    string          `json:"indicator,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for forecast runs.
type Store interface {
	// SaveRun records a finished run and its output rows in one transaction.
	// An empty run ID is assigned; a zero CreatedAt is set to now. Rows of a
	// complete run also replace the latest series for its country/indicator.
	SaveRun(ctx context.Context, run *model.Run, rows []model.Entry) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	RunRows(ctx context.Context, runID string) ([]model.Entry, error)
	// LatestRows returns the most recently saved series for a country and
	// indicator, or nil when none exists.
	LatestRows(ctx context.Context, country, indicator string) ([]model.Entry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func prepareRun(run *model.Run, newID func() string) {
	if run.ID == "" {
		run.ID = newID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
}

// summaryForStorage drops the per-date data map, which run_points already holds.
func summaryForStorage(s *model.Summary) *model.Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = nil
	return &out
}
