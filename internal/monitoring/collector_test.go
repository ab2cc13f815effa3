package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/store"
)

type fakeLister struct {
	runs    []model.Run
	err     error
	lastArg store.RunFilter
}

func (f *fakeLister) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.lastArg = filter
	return f.runs, f.err
}

func completeRunWith(country string, horizon, historical, resampled int) model.Run {
	return model.Run{
		Country:   country,
		Indicator: "SP.POP.TOTL",
		Horizon:   horizon,
		Status:    model.RunStatusComplete,
		Summary: &model.Summary{
			HistoricalRowCount: historical,
			ResampledRowCount:  resampled,
		},
	}
}

func TestCollector_Collect(t *testing.T) {
	lister := &fakeLister{runs: []model.Run{
		completeRunWith("USA", 6, 60, 0),
		completeRunWith("BRA", 8, 50, 10),
		{Country: "ARG", Indicator: "SP.POP.TOTL", Status: model.RunStatusFailed},
		{Country: "ARG", Indicator: "SP.POP.TOTL", Status: model.RunStatusFailed},
		{Country: "CHL", Indicator: "NY.GDP.MKTP.CD", Status: model.RunStatusFailed},
	}}

	before := time.Now().UTC()
	snap, err := NewCollector(lister).Collect(context.Background(), 12)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 3, snap.RunsFailed)
	assert.InDelta(t, 0.6, snap.FailRate, 1e-9)
	assert.InDelta(t, 7, snap.AvgHorizon, 1e-9)
	// (0/60 + 10/60) / 2
	assert.InDelta(t, 10.0/120, snap.AvgFilledShare, 1e-9)
	assert.Equal(t, []string{"ARG/SP.POP.TOTL", "CHL/NY.GDP.MKTP.CD"}, snap.FailedSeries)
	assert.Equal(t, 12, snap.LookbackHours)

	assert.Equal(t, collectLimit, lister.lastArg.Limit)
	assert.WithinDuration(t, before.Add(-12*time.Hour), lister.lastArg.CreatedAfter, time.Minute)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeLister{}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.AvgHorizon)
	assert.Empty(t, snap.FailedSeries)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Collect_SkipsMissingSummary(t *testing.T) {
	run := completeRunWith("USA", 4, 0, 0)
	run.Summary = nil
	snap, err := NewCollector(&fakeLister{runs: []model.Run{run}}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.RunsComplete)
	assert.InDelta(t, 4, snap.AvgHorizon, 1e-9)
	assert.Zero(t, snap.AvgFilledShare)
}

func TestCollector_Collect_ListError(t *testing.T) {
	_, err := NewCollector(&fakeLister{err: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
