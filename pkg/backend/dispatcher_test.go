package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/metrics"
)

type stubPoster struct {
	mu      sync.Mutex
	reqs    []Request
	release chan struct{}
	err     error
	panic   bool
	ctxErrs []error
}

func (s *stubPoster) Post(ctx context.Context, req Request) (Response, error) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.mu.Unlock()
	if s.panic {
		panic("poster blew up")
	}
	if s.err != nil {
		return Response{StatusCode: 500}, s.err
	}
	return Response{StatusCode: 202, Elapsed: time.Millisecond}, nil
}

func (s *stubPoster) requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.reqs...)
}

type stubArchiver struct {
	mu    sync.Mutex
	saved []Request
	err   error
}

func (a *stubArchiver) Save(_ context.Context, req Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, req)
	return a.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherGoDoesNotBlock(t *testing.T) {
	poster := &stubPoster{release: make(chan struct{})}
	d := NewDispatcher(poster, DispatcherOptions{Logger: quietLogger()})

	done := make(chan struct{})
	go func() {
		d.Go(context.Background(), Request{SessionID: "s1", Seq: 1})
		d.Go(context.Background(), Request{SessionID: "s1", Seq: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Go blocked on a stalled backend")
	}
	if got := d.InFlight(); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}
	close(poster.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := d.InFlight(); got != 0 {
		t.Fatalf("expected 0 in flight, got %d", got)
	}
	for _, req := range poster.requests() {
		if req.Mode != ModeWindowed {
			t.Fatalf("expected windowed mode, got %s", req.Mode)
		}
	}
}

func TestDispatcherGoSurvivesCallerCancellation(t *testing.T) {
	poster := &stubPoster{release: make(chan struct{})}
	d := NewDispatcher(poster, DispatcherOptions{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	d.Go(ctx, Request{SessionID: "s1", Seq: 1})
	cancel()
	close(poster.release)
	_ = d.Wait(context.Background())
	if len(poster.ctxErrs) != 1 || poster.ctxErrs[0] != nil {
		t.Fatalf("windowed request context was cancelled with its caller: %v", poster.ctxErrs)
	}
}

func TestDispatcherGoSwallowsFailuresAndPanics(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	failing := &stubPoster{err: errorsx.Wrap(errors.New("refused"), errorsx.ReasonBackendRequest)}
	d := NewDispatcher(failing, DispatcherOptions{Logger: quietLogger(), Observer: obs})
	d.Go(context.Background(), Request{SessionID: "s1", Seq: 1, Body: []byte("abcd")})
	_ = d.Wait(context.Background())

	done := obs.Named(metrics.EventDispatchDone)
	if len(done) != 1 {
		t.Fatalf("expected one dispatch_done, got %d", len(done))
	}
	if done[0].Tags[metrics.TagOutcome] != metrics.OutcomeError || done[0].Tags[metrics.TagReason] != string(errorsx.ReasonBackendRequest) {
		t.Fatalf("unexpected tags %v", done[0].Tags)
	}
	start := obs.Named(metrics.EventDispatchStart)
	if len(start) != 1 || start[0].Value != 4 {
		t.Fatalf("unexpected dispatch_start %v", start)
	}

	panicking := &stubPoster{panic: true}
	d = NewDispatcher(panicking, DispatcherOptions{Logger: quietLogger()})
	d.Go(context.Background(), Request{SessionID: "s2", Seq: 1})
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if d.InFlight() != 0 {
		t.Fatalf("panicking dispatch leaked in-flight count")
	}
}

func TestDispatcherDoSurfacesErrors(t *testing.T) {
	poster := &stubPoster{err: errorsx.Wrap(errors.New("bad gateway"), errorsx.ReasonBackendStatus)}
	d := NewDispatcher(poster, DispatcherOptions{Logger: quietLogger()})
	_, err := d.Do(context.Background(), Request{SessionID: "s1"})
	if !errorsx.HasReason(err, errorsx.ReasonBackendStatus) {
		t.Fatalf("expected backend_status, got %v", err)
	}
	if reqs := poster.requests(); len(reqs) != 1 || reqs[0].Mode != ModeFinal {
		t.Fatalf("expected one final request, got %+v", reqs)
	}

	d = NewDispatcher(&stubPoster{panic: true}, DispatcherOptions{Logger: quietLogger()})
	_, err = d.Do(context.Background(), Request{SessionID: "s1"})
	if !errorsx.HasReason(err, errorsx.ReasonDispatchPanic) {
		t.Fatalf("expected dispatch_panic, got %v", err)
	}
}

func TestDispatcherDoIgnoresShutdownCancellation(t *testing.T) {
	poster := &stubPoster{}
	d := NewDispatcher(poster, DispatcherOptions{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Do(ctx, Request{SessionID: "s1"}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if poster.ctxErrs[0] != nil {
		t.Fatalf("final request saw cancelled context")
	}
}

func TestDispatcherArchivesEveryRequest(t *testing.T) {
	arch := &stubArchiver{err: errors.New("disk full")}
	d := NewDispatcher(&stubPoster{}, DispatcherOptions{Logger: quietLogger(), Archiver: arch})
	d.Go(context.Background(), Request{SessionID: "s1", Seq: 1})
	_ = d.Wait(context.Background())
	if _, err := d.Do(context.Background(), Request{SessionID: "s1", Seq: 2}); err != nil {
		t.Fatalf("archive failure must not fail the dispatch: %v", err)
	}
	if len(arch.saved) != 2 {
		t.Fatalf("expected 2 archived requests, got %d", len(arch.saved))
	}
	if arch.saved[0].Mode != ModeWindowed || arch.saved[1].Mode != ModeFinal {
		t.Fatalf("unexpected modes %s %s", arch.saved[0].Mode, arch.saved[1].Mode)
	}
}

func TestDispatcherWaitHonoursContext(t *testing.T) {
	poster := &stubPoster{release: make(chan struct{})}
	defer close(poster.release)
	d := NewDispatcher(poster, DispatcherOptions{Logger: quietLogger()})
	d.Go(context.Background(), Request{SessionID: "s1"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
