package metrics

import (
	"sync"
)

// AsyncObserver moves slow observers (log lines, timeline files) off the
// session goroutines. A full buffer drops the event instead of blocking the
// sender; drops are counted per event name.
type AsyncObserver struct {
	inner Observer
	ch    chan MetricsEvent
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped map[string]int64
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner:   OrNoop(inner),
		ch:      make(chan MetricsEvent, buffer),
		done:    make(chan struct{}),
		dropped: make(map[string]int64),
	}
	go func() {
		defer close(a.done)
		for ev := range a.ch {
			a.inner.RecordEvent(ev)
		}
	}()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return
	}
	select {
	case a.ch <- ev:
		a.mu.RUnlock()
		return
	default:
	}
	a.mu.RUnlock()

	a.mu.Lock()
	a.dropped[ev.Name]++
	a.mu.Unlock()
}

// Dropped is the total number of events lost to a full buffer.
func (a *AsyncObserver) Dropped() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var n int64
	for _, c := range a.dropped {
		n += c
	}
	return n
}

// DroppedByName breaks Dropped down by event name.
func (a *AsyncObserver) DroppedByName() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int64, len(a.dropped))
	for k, v := range a.dropped {
		out[k] = v
	}
	return out
}

// Close stops accepting events and waits until the buffered ones are delivered.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}
