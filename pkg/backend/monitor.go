package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/harunnryd/wavdispatch/pkg/resilience"
)

// Prober checks backend liveness.
type Prober interface {
	Heartbeat(ctx context.Context) error
}

// Monitor probes the backend on a fixed interval. Results are logged and
// counted; nothing else in the process reacts to them.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	health   *resilience.HealthTracker
	obs      metrics.Observer
	log      *slog.Logger
}

func NewMonitor(prober Prober, interval time.Duration, obs metrics.Observer, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := interval
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		health:   resilience.NewHealthTracker(3),
		obs:      metrics.OrNoop(obs),
		log:      log,
	}
}

// State returns the last known backend health.
func (m *Monitor) State() resilience.HealthState { return m.health.State() }

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs a single heartbeat.
func (m *Monitor) Probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Heartbeat(probeCtx)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	m.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventHeartbeat,
		Time: time.Now(),
		Tags: map[string]string{metrics.TagOutcome: outcome},
	})
	if err != nil {
		m.log.Warn("heartbeat_failed", "reason_code", errorsx.Reason(err), "error", err)
		if m.health.OnError() {
			m.log.Error("backend_unhealthy", "consecutive_failures", m.health.Failures())
		}
		return
	}
	m.log.Debug("heartbeat_ok")
	if m.health.OnSuccess() {
		m.log.Info("backend_healthy")
	}
}
