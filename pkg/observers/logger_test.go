package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/harunnryd/wavdispatch/pkg/metrics"
)

func TestLoggerObserverWritesSortedTags(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	NewLoggerObserver(log).RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventDispatchDone,
		Value: 0.25,
		Tags: map[string]string{
			metrics.TagSessionID: "s1",
			metrics.TagMode:      "final",
			metrics.TagOutcome:   metrics.OutcomeOK,
		},
		Fields: map[string]any{"seq": 3},
	})
	line := buf.String()
	if !strings.Contains(line, "msg=event.dispatch_done") {
		t.Fatalf("unexpected message: %s", line)
	}
	if !strings.Contains(line, "mode=final outcome=ok session_id=s1 value=0.25 fields.seq=3") {
		t.Fatalf("unexpected attrs: %s", line)
	}
}

func TestLoggerObserverSkipsBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	NewLoggerObserver(log).RecordEvent(metrics.MetricsEvent{Name: metrics.EventAudioIn})
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged, got %s", buf.String())
	}
}
