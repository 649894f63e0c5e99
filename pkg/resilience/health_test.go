package resilience

import "testing"

func TestHealthTrackerThreshold(t *testing.T) {
	h := NewHealthTracker(2)
	if h.State() != StateUnknown {
		t.Fatalf("expected unknown state, got %s", h.State())
	}
	if changed := h.OnError(); changed {
		t.Fatalf("single failure should not change state")
	}
	if changed := h.OnError(); !changed || h.State() != StateUnhealthy {
		t.Fatalf("expected unhealthy after threshold, got %s", h.State())
	}
	if changed := h.OnError(); changed {
		t.Fatalf("repeated failure should not report a change")
	}
	if h.Failures() != 3 {
		t.Fatalf("expected 3 failures, got %d", h.Failures())
	}
	if changed := h.OnSuccess(); !changed || h.State() != StateHealthy {
		t.Fatalf("expected recovery, got %s", h.State())
	}
	if h.Failures() != 0 {
		t.Fatalf("expected failures reset")
	}
	if h.Since().IsZero() {
		t.Fatalf("expected transition time")
	}
}

func TestHealthTrackerDefaultThreshold(t *testing.T) {
	h := NewHealthTracker(0)
	h.OnError()
	h.OnError()
	if h.State() == StateUnhealthy {
		t.Fatalf("default threshold should be 3")
	}
	h.OnError()
	if h.State() != StateUnhealthy {
		t.Fatalf("expected unhealthy after 3 failures")
	}
}
