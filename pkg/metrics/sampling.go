package metrics

import (
	"math"
	"sync"
)

// SamplingObserver forwards about one in every 1/rate events of each name.
// Counting per name keeps rare events visible next to the per-frame ones.
// Names passed as always are never sampled out.
type SamplingObserver struct {
	inner  Observer
	every  uint64
	always map[string]bool

	mu   sync.Mutex
	seen map[string]uint64
}

func NewSamplingObserver(inner Observer, rate float64, always ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	if rate > 0 {
		every = uint64(math.Max(1, math.Round(1/rate)))
	}
	s := &SamplingObserver{
		inner:  OrNoop(inner),
		every:  every,
		always: make(map[string]bool, len(always)),
		seen:   make(map[string]uint64),
	}
	for _, name := range always {
		s.always[name] = true
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.always[ev.Name] {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	s.mu.Lock()
	s.seen[ev.Name]++
	n := s.seen[ev.Name]
	s.mu.Unlock()
	if n%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
