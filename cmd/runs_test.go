package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	runs := []model.Run{
		{
			ID:         "0123456789abcdef",
			Country:    "USA",
			Indicator:  "SP.POP.TOTL",
			CutOffYear: 2030,
			Horizon:    7,
			Status:     model.RunStatusComplete,
			CreatedAt:  time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			ID:        "short",
			Country:   "BRA",
			Indicator: "X",
			Status:    model.RunStatusFailed,
			Error:     "pipeline: source BRA/X: a very long upstream failure message that keeps going\nstack",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "SERIES")
	assert.Contains(t, lines[2], "01234567")
	assert.NotContains(t, lines[2], "89abcdef")
	assert.Contains(t, lines[2], "USA/SP.POP.TOTL")
	assert.Contains(t, lines[2], "2026-03-01 12:30")
	assert.Contains(t, lines[3], "failed")
	assert.Contains(t, lines[3], "...")
	assert.NotContains(t, out, "stack")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &monitoring.MetricsSnapshot{
		RunsTotal:      4,
		RunsComplete:   3,
		RunsFailed:     1,
		FailRate:       0.25,
		AvgHorizon:     8,
		AvgFilledShare: 0.05,
		FailedSeries:   []string{"BRA/X"},
		LookbackHours:  24,
	})
	out := buf.String()
	assert.Contains(t, out, "24h")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "8.0 years")
	assert.Contains(t, out, "5.0%")
	assert.Contains(t, out, "BRA/X")
}

func TestTruncateHelpers(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "short", truncate("short", 7))
	assert.Equal(t, "first", firstErrorLine("first\nsecond"))
}
