package metrics

import (
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		async.RecordEvent(MetricsEvent{Name: EventAudioIn, Time: time.Now()})
	}
	async.Close()
	if got := mem.Count(EventAudioIn); got+int(async.Dropped()) != 10 {
		t.Fatalf("expected 10 delivered or dropped, got %d delivered %d dropped", got, async.Dropped())
	}
	async.RecordEvent(MetricsEvent{Name: EventAudioIn})
	async.Close()
}

func TestSamplingObserver(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25, EventSessionOpen)
	for i := 0; i < 8; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioIn})
	}
	s.RecordEvent(MetricsEvent{Name: EventSessionOpen})
	if got := mem.Count(EventAudioIn); got != 2 {
		t.Fatalf("expected 2 sampled audio events, got %d", got)
	}
	if got := mem.Count(EventSessionOpen); got != 1 {
		t.Fatalf("expected session_open to bypass sampling, got %d", got)
	}

	none := NewMemoryObserver()
	NewSamplingObserver(none, 0).RecordEvent(MetricsEvent{Name: EventAudioIn})
	if len(none.Events()) != 0 {
		t.Fatalf("expected rate 0 to drop everything")
	}
}

type blockingObserver struct {
	release chan struct{}
}

func (b blockingObserver) RecordEvent(MetricsEvent) { <-b.release }

func TestAsyncObserverCountsDropsByName(t *testing.T) {
	release := make(chan struct{})
	async := NewAsyncObserver(blockingObserver{release: release}, 1)
	// One event parks in the consumer, one fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		async.RecordEvent(MetricsEvent{Name: EventAudioIn})
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}
	async.RecordEvent(MetricsEvent{Name: EventWindowSkipped})
	close(release)
	async.Close()

	byName := async.DroppedByName()
	if byName[EventAudioIn] != 3 || byName[EventWindowSkipped] != 1 {
		t.Fatalf("unexpected drops %v", byName)
	}
	if async.Dropped() != 4 {
		t.Fatalf("expected 4 drops, got %d", async.Dropped())
	}
}

func TestSamplingObserverCountsPerName(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.5)
	for i := 0; i < 4; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioIn})
	}
	s.RecordEvent(MetricsEvent{Name: EventWindowSkipped})
	s.RecordEvent(MetricsEvent{Name: EventWindowSkipped})
	if mem.Count(EventAudioIn) != 2 || mem.Count(EventWindowSkipped) != 1 {
		t.Fatalf("unexpected sampling: audio=%d skipped=%d", mem.Count(EventAudioIn), mem.Count(EventWindowSkipped))
	}
}

func TestOrNoop(t *testing.T) {
	OrNoop(nil).RecordEvent(MetricsEvent{Name: "x"})
}
