package metrics

import "time"

// Event names emitted by the ingest engine.
const (
	EventSessionOpen    = "session_open"
	EventSessionClose   = "session_close"
	EventAudioIn        = "audio_in"
	EventTextIn         = "text_in"
	EventMalformedFrame = "malformed_frame"
	EventWindowSkipped  = "window_skipped"
	EventDispatchStart  = "dispatch_start"
	EventDispatchDone   = "dispatch_done"
	EventHeartbeat      = "heartbeat"
)

// Tag keys.
const (
	TagSessionID = "session_id"
	TagMode      = "mode"
	TagOutcome   = "outcome"
	TagReason    = "reason_code"
)

// Outcome tag values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
