package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertRunFailed      AlertType = "run_failed"
)

// minFinishedRuns is the fewest finished runs the failure rate is judged on.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	finished := snap.RunsComplete + snap.RunsFailed
	if finished < minFinishedRuns || snap.FailRate <= a.cfg.FailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"Forecast failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailRate*100, a.cfg.FailureRateThreshold*100,
			snap.RunsFailed, finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"failure_rate":  snap.FailRate,
			"threshold":     a.cfg.FailureRateThreshold,
			"failed":        snap.RunsFailed,
			"finished":      finished,
			"failed_series": snap.FailedSeries,
		},
		Timestamp: time.Now().UTC(),
	}}
}

// RunFailedAlert builds the alert for a single failed run.
func RunFailedAlert(run *model.Run) Alert {
	return Alert{
		Type:     AlertRunFailed,
		Severity: "medium",
		Message:  fmt.Sprintf("Forecast for %s/%s failed: %s", run.Country, run.Indicator, firstLine(run.Error)),
		Details: map[string]any{
			"run_id":       run.ID,
			"country":      run.Country,
			"indicator":    run.Indicator,
			"cut_off_year": run.CutOffYear,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NotifyRunFailed sends a RunFailedAlert when a webhook is configured and
// reports whether it was delivered.
func (a *Alerter) NotifyRunFailed(ctx context.Context, run *model.Run) bool {
	if run == nil || run.Status != model.RunStatusFailed {
		return false
	}
	return a.SendAlerts(ctx, []Alert{RunFailedAlert(run)}) == 1
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
