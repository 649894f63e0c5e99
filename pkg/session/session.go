// Package session holds the per-connection audio buffer and its windowing
// state machine.
//
// A Session is owned by exactly one goroutine (the one calling Run, or a
// test driving Append/Fire/Close directly). Buffer, cursor and timer are
// never touched from anywhere else, so none of them are locked.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/harunnryd/wavdispatch/pkg/backend"
	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/frames"
	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/harunnryd/wavdispatch/pkg/redact"
	"github.com/harunnryd/wavdispatch/pkg/wav"
)

type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrNotActive = errorsx.Wrap(errors.New("session: not active"), errorsx.ReasonSessionNotActive)

// Dispatcher sends containers to the transcription backend. Go must not
// block; Do waits for the reply.
type Dispatcher interface {
	Go(ctx context.Context, req backend.Request)
	Do(ctx context.Context, req backend.Request) (backend.Response, error)
}

type Config struct {
	Interval      time.Duration
	MaxLoggedText int
}

const DefaultInterval = 5 * time.Second

type Session struct {
	id   string
	cfg  Config
	disp Dispatcher
	obs  metrics.Observer
	log  *slog.Logger

	chunks [][]byte
	cursor int
	size   int
	sent   int
	seq    int
	timer  *time.Timer

	appended int
	state    atomic.Int32
	opened   time.Time
	done     chan struct{}
}

func New(id string, cfg Config, disp Dispatcher, obs metrics.Observer, log *slog.Logger) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxLoggedText <= 0 {
		cfg.MaxLoggedText = 512
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		id:     id,
		cfg:    cfg,
		disp:   disp,
		obs:    metrics.OrNoop(obs),
		log:    log.With("session_id", id),
		opened: time.Now(),
		done:   make(chan struct{}),
	}
	s.record(metrics.EventSessionOpen, 0)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cursor is the index of the first chunk not yet covered by a windowed dispatch.
func (s *Session) Cursor() int { return s.cursor }

// Len is the number of chunks appended so far.
func (s *Session) Len() int { return s.appended }

// Bytes is the number of PCM bytes appended so far.
func (s *Session) Bytes() int { return s.size }

// SentBytes is the number of PCM bytes handed to windowed dispatches.
func (s *Session) SentBytes() int { return s.sent }

// Append adds a chunk to the buffer. The chunk is retained as is.
func (s *Session) Append(chunk []byte) error {
	if s.State() != StateActive {
		return ErrNotActive
	}
	s.chunks = append(s.chunks, chunk)
	s.appended++
	s.size += len(chunk)
	return nil
}

// Receive routes one inbound frame. Only audio frames reach the buffer.
func (s *Session) Receive(f frames.Frame) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		if err := s.Append(fr.RawPayload()); err != nil {
			s.log.Warn("audio_after_close", "reason_code", errorsx.Reason(err), "bytes", fr.Len())
			return
		}
		s.record(metrics.EventAudioIn, float64(fr.Len()))
	case frames.TextFrame:
		s.log.Debug("text_frame", "text", redact.Transcript([]byte(fr.Text()), s.cfg.MaxLoggedText))
		s.record(metrics.EventTextIn, float64(len(fr.Text())))
	default:
		err := errorsx.Errorf(errorsx.ReasonMalformedFrame, "unsupported frame kind %q", f.Kind())
		s.log.Warn("malformed_frame", "reason_code", errorsx.Reason(err), "error", err)
		s.record(metrics.EventMalformedFrame, 0)
	}
}

// Fire sends everything appended since the previous fire as one windowed
// dispatch and reports whether a dispatch was started. The cursor moves to
// the end of the buffer whether or not the backend ever accepts the window.
func (s *Session) Fire(ctx context.Context) bool {
	if s.State() != StateActive {
		return false
	}
	end := len(s.chunks)
	if s.cursor == end {
		s.record(metrics.EventWindowSkipped, 0)
		return false
	}
	window := s.chunks[s.cursor:end]
	n := wav.PayloadLen(window)
	if n == 0 {
		s.cursor = end
		s.record(metrics.EventWindowSkipped, 0)
		return false
	}
	s.seq++
	req := backend.Request{
		SessionID:  s.id,
		Seq:        s.seq,
		Mode:       backend.ModeWindowed,
		Body:       wav.EncodeChunks(window),
		ChunkStart: s.cursor,
		ChunkEnd:   end,
		ByteStart:  s.sent,
		ByteEnd:    s.sent + n,
	}
	s.disp.Go(ctx, req)
	s.cursor = end
	s.sent += n
	return true
}

// Close stops the timer and sends the whole buffer from chunk zero as the
// final dispatch, waiting for the reply. The session ends up closed whatever
// the backend does. Later calls return nil.
func (s *Session) Close(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	defer s.finish()

	if s.size == 0 {
		s.log.Info("final_skipped", "chunks", s.appended)
		return nil
	}
	s.seq++
	req := backend.Request{
		SessionID:  s.id,
		Seq:        s.seq,
		Mode:       backend.ModeFinal,
		Body:       wav.EncodeChunks(s.chunks),
		ChunkStart: 0,
		ChunkEnd:   len(s.chunks),
		ByteStart:  0,
		ByteEnd:    s.size,
	}
	_, err := s.disp.Do(ctx, req)
	return err
}

// Run drives the session from in until the channel closes or ctx ends, then
// closes the session. The timer is re-armed only after a fire completes, so
// fires never overlap.
func (s *Session) Run(ctx context.Context, in <-chan frames.Frame) error {
	s.timer = time.NewTimer(s.cfg.Interval)
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return s.Close(ctx)
			}
			s.Receive(f)
		case <-s.timer.C:
			s.Fire(ctx)
			s.timer.Reset(s.cfg.Interval)
		case <-ctx.Done():
			s.drain(in)
			return s.Close(ctx)
		}
	}
}

// drain takes whatever frames are already queued without waiting for more.
func (s *Session) drain(in <-chan frames.Frame) {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return
			}
			s.Receive(f)
		default:
			return
		}
	}
}

func (s *Session) finish() {
	s.chunks = nil
	s.state.Store(int32(StateClosed))
	s.log.Info("session_closed",
		"chunks", s.appended,
		"bytes", s.size,
		"windows", s.windows(),
		"duration_s", wav.Duration(s.size),
		"elapsed_ms", time.Since(s.opened).Milliseconds(),
	)
	s.record(metrics.EventSessionClose, float64(s.size))
	close(s.done)
}

func (s *Session) windows() int {
	if s.size == 0 {
		return s.seq
	}
	return s.seq - 1
}

func (s *Session) record(name string, value float64) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  map[string]string{metrics.TagSessionID: s.id},
	})
}
