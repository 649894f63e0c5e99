package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/harunnryd/wavdispatch/pkg/redact"
)

// Poster performs one backend request.
type Poster interface {
	Post(ctx context.Context, req Request) (Response, error)
}

// Archiver persists a copy of every container sent to the backend.
type Archiver interface {
	Save(ctx context.Context, req Request) error
}

type DispatcherOptions struct {
	Timeout             time.Duration
	FinalTimeout        time.Duration
	MaxLoggedTranscript int
	Observer            metrics.Observer
	Logger              *slog.Logger
	Archiver            Archiver
}

// Dispatcher runs windowed requests in the background and final requests
// inline. Windowed failures end in the log; they never reach the caller.
type Dispatcher struct {
	poster   Poster
	opts     DispatcherOptions
	obs      metrics.Observer
	log      *slog.Logger
	wg       conc.WaitGroup
	inFlight atomic.Int64
}

func NewDispatcher(poster Poster, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FinalTimeout <= 0 {
		opts.FinalTimeout = 2 * time.Minute
	}
	if opts.MaxLoggedTranscript <= 0 {
		opts.MaxLoggedTranscript = 512
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		poster: poster,
		opts:   opts,
		obs:    metrics.OrNoop(opts.Observer),
		log:    log,
	}
}

// Go starts a windowed dispatch and returns immediately. The request outlives
// ctx cancellation and is bounded only by the windowed timeout.
func (d *Dispatcher) Go(ctx context.Context, req Request) {
	req.Mode = ModeWindowed
	detached := context.WithoutCancel(ctx)
	d.inFlight.Add(1)
	d.wg.Go(func() {
		defer d.inFlight.Add(-1)
		var pc panics.Catcher
		pc.Try(func() {
			reqCtx, cancel := context.WithTimeout(detached, d.opts.Timeout)
			defer cancel()
			_, _ = d.send(reqCtx, req)
		})
		if r := pc.Recovered(); r != nil {
			d.log.Error("dispatch_panic",
				"session_id", req.SessionID,
				"seq", req.Seq,
				"reason_code", errorsx.ReasonDispatchPanic,
				"panic", fmt.Sprint(r.Value),
			)
		}
	})
}

// Do performs the final dispatch and waits for the reply. Shutdown
// cancellation of ctx is ignored; the final timeout still applies.
func (d *Dispatcher) Do(ctx context.Context, req Request) (resp Response, err error) {
	req.Mode = ModeFinal
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.FinalTimeout)
	defer cancel()
	var pc panics.Catcher
	pc.Try(func() {
		resp, err = d.send(reqCtx, req)
	})
	if r := pc.Recovered(); r != nil {
		return Response{}, errorsx.Wrap(r.AsError(), errorsx.ReasonDispatchPanic)
	}
	return resp, err
}

// InFlight counts windowed dispatches that have not finished yet.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Wait blocks until every windowed dispatch has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, req Request) (Response, error) {
	mode := string(req.Mode)
	if d.opts.Archiver != nil {
		if err := d.opts.Archiver.Save(ctx, req); err != nil {
			d.log.Warn("artifact_write_failed",
				"session_id", req.SessionID,
				"seq", req.Seq,
				"mode", mode,
				"reason_code", errorsx.ReasonArtifactWrite,
				"error", err,
			)
		}
	}

	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventDispatchStart,
		Time:  time.Now(),
		Value: float64(len(req.Body)),
		Tags: map[string]string{
			metrics.TagSessionID: req.SessionID,
			metrics.TagMode:      mode,
		},
		Fields: map[string]any{"seq": req.Seq, "byte_start": req.ByteStart, "byte_end": req.ByteEnd},
	})

	resp, err := d.poster.Post(ctx, req)

	outcome := metrics.OutcomeOK
	tags := map[string]string{
		metrics.TagSessionID: req.SessionID,
		metrics.TagMode:      mode,
	}
	if err != nil {
		outcome = metrics.OutcomeError
		tags[metrics.TagReason] = string(errorsx.Reason(err))
	}
	tags[metrics.TagOutcome] = outcome
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventDispatchDone,
		Time:   time.Now(),
		Value:  resp.Elapsed.Seconds(),
		Tags:   tags,
		Fields: map[string]any{"seq": req.Seq, "status": resp.StatusCode},
	})

	attrs := []any{
		"session_id", req.SessionID,
		"seq", req.Seq,
		"chunks", strconv.Itoa(req.ChunkStart) + ":" + strconv.Itoa(req.ChunkEnd),
		"bytes", req.PayloadLen(),
		"status", resp.StatusCode,
		"elapsed_ms", resp.Elapsed.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "reason_code", errorsx.Reason(err), "timeout", errorsx.IsTimeout(err), "error", err)
		d.log.Warn(mode+"_dispatch_failed", attrs...)
		return resp, err
	}
	if len(resp.Body) > 0 {
		attrs = append(attrs, "transcript", redact.Transcript(resp.Body, d.opts.MaxLoggedTranscript))
	}
	d.log.Info(mode+"_dispatched", attrs...)
	return resp, nil
}
