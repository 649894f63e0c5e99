package observers

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserverCountsDispatches(t *testing.T) {
	p := NewPrometheusObserver(nil)
	windowed := map[string]string{metrics.TagMode: "windowed"}

	p.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionOpen})
	p.RecordEvent(metrics.MetricsEvent{Name: metrics.EventAudioIn, Value: 3200})
	p.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDispatchStart, Value: 3244, Tags: windowed})
	p.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDispatchStart, Value: 3244, Tags: windowed})
	if got := testutil.ToFloat64(p.DispatchInFlight.WithLabelValues("windowed")); got != 2 {
		t.Fatalf("expected 2 in flight, got %v", got)
	}
	p.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDispatchDone, Value: 0.01, Tags: map[string]string{
		metrics.TagMode: "windowed", metrics.TagOutcome: metrics.OutcomeError,
	}})

	if got := testutil.ToFloat64(p.DispatchInFlight.WithLabelValues("windowed")); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(p.Dispatches.WithLabelValues("windowed", metrics.OutcomeError)); got != 1 {
		t.Fatalf("expected 1 failed dispatch, got %v", got)
	}
	if got := testutil.ToFloat64(p.AudioBytes); got != 3200 {
		t.Fatalf("expected 3200 audio bytes, got %v", got)
	}
	if got := testutil.ToFloat64(p.SessionsActive); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
}

func TestPrometheusObserverHandler(t *testing.T) {
	p := NewPrometheusObserver(nil)
	p.RecordEvent(metrics.MetricsEvent{Name: metrics.EventWindowSkipped})

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "wavdispatch_windows_skipped_total 1") {
		t.Fatalf("expected skipped counter in exposition, got:\n%s", body)
	}
}
