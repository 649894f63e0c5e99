package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handle is what the registry knows about a live connection. It carries no
// audio state; Close only asks the transport to hang up, and the session
// finishes on its own goroutine.
type Handle struct {
	ID         string
	RemoteAddr string
	Created    time.Time
	Session    *Session
	Close      func() error
}

type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers h. It refuses new sessions while draining and duplicate ids.
func (r *Registry) Add(h *Handle) bool {
	if h == nil || h.ID == "" || r.draining.Load() {
		return false
	}
	if h.Created.IsZero() {
		h.Created = time.Now()
	}
	if _, loaded := r.sessions.LoadOrStore(h.ID, h); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

func (r *Registry) Get(id string) (*Handle, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Handle), true
	}
	return nil, false
}

func (r *Registry) Remove(id string) {
	if _, ok := r.sessions.LoadAndDelete(id); ok {
		r.count.Add(-1)
	}
}

// CloseAll hangs up every live connection and returns how many were asked to
// close. Handles stay registered until their sessions remove themselves.
func (r *Registry) CloseAll() int {
	n := 0
	r.sessions.Range(func(_, value any) bool {
		h := value.(*Handle)
		if h.Close != nil {
			_ = h.Close()
		}
		n++
		return true
	})
	return n
}

// IDs lists the registered session ids in no particular order.
func (r *Registry) IDs() []string {
	var out []string
	r.sessions.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
