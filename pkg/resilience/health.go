package resilience

import (
	"sync"
	"time"
)

// HealthState is the tracked state of a remote dependency.
type HealthState string

const (
	StateUnknown   HealthState = "unknown"
	StateHealthy   HealthState = "healthy"
	StateUnhealthy HealthState = "unhealthy"
)

// HealthTracker flips a dependency to unhealthy after threshold consecutive
// failed probes and back to healthy on the first success. It only reports
// state; callers decide what to do with it.
type HealthTracker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	state     HealthState
	since     time.Time
	now       func() time.Time
}

func NewHealthTracker(threshold int) *HealthTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &HealthTracker{threshold: threshold, state: StateUnknown, now: time.Now}
}

// OnSuccess records a good probe and reports whether the state changed.
func (h *HealthTracker) OnSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	return h.set(StateHealthy)
}

// OnError records a failed probe and reports whether the state changed.
func (h *HealthTracker) OnError() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	if h.failures < h.threshold {
		return false
	}
	return h.set(StateUnhealthy)
}

func (h *HealthTracker) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Failures is the current run of consecutive failures.
func (h *HealthTracker) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

// Since returns when the current state was entered.
func (h *HealthTracker) Since() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.since
}

func (h *HealthTracker) set(s HealthState) bool {
	if h.state == s {
		return false
	}
	h.state = s
	h.since = h.now()
	return true
}
