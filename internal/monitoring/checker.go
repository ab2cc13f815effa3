package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/config"
)

// Checker re-evaluates recent runs on a fixed interval while the server is
// up. An alert type that fired is held back until the lookback window has
// passed, so one bad batch of runs pages once rather than on every tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a Checker. A non-positive interval defaults to five
// minutes and a non-positive lookback to 24 hours.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackWindowHours,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
	if c.interval <= 0 {
		c.interval = 5 * time.Minute
	}
	if c.lookback <= 0 {
		c.lookback = 24
	}
	return c
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect run metrics", zap.Error(err))
		return
	}
	log.Debug("monitoring: run metrics",
		zap.Int("runs_total", snap.RunsTotal),
		zap.Int("runs_failed", snap.RunsFailed),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("avg_filled_share", snap.AvgFilledShare),
	)

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return
	}
	sent := c.alerter.SendAlerts(ctx, due)
	log.Info("monitoring: alerts dispatched",
		zap.Int("alerts", len(due)),
		zap.Int("sent", sent),
	)
}

// due drops alerts whose type already fired within the lookback window and
// stamps the rest as sent.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cooldown := time.Duration(c.lookback) * time.Hour
	out := alerts[:0:0]
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < cooldown {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	return out
}
