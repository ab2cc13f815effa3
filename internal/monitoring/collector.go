package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of forecast run health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	FailRate     float64 `json:"fail_rate"`
	// AvgHorizon is the mean forecast horizon of complete runs.
	AvgHorizon float64 `json:"avg_horizon"`
	// AvgFilledShare is the mean share of historical rows that were
	// synthesized, over complete runs with a summary.
	AvgFilledShare float64 `json:"avg_filled_share"`
	// FailedSeries lists "country/indicator" keys with at least one failure.
	FailedSeries []string `json:"failed_series,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

const collectLimit = 10000

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	failed := make(map[string]bool)
	var horizonSum, shareSum float64
	var shareRuns int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			horizonSum += float64(r.Horizon)
			if s := r.Summary; s != nil {
				if hist := s.HistoricalRowCount + s.ResampledRowCount; hist > 0 {
					shareSum += float64(s.ResampledRowCount) / float64(hist)
					shareRuns++
				}
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
			failed[r.Country+"/"+r.Indicator] = true
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgHorizon = horizonSum / float64(snap.RunsComplete)
	}
	if shareRuns > 0 {
		snap.AvgFilledShare = shareSum / float64(shareRuns)
	}
	for k := range failed {
		snap.FailedSeries = append(snap.FailedSeries, k)
	}
	sort.Strings(snap.FailedSeries)

	return snap, nil
}
