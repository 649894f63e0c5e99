// Package ws accepts audio streams over WebSocket. Binary messages are raw
// PCM chunks, text messages are diagnostics.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/frames"
	"github.com/harunnryd/wavdispatch/pkg/session"
	"github.com/harunnryd/wavdispatch/pkg/transports"
)

type Config struct {
	Addr            string   `mapstructure:"addr"`
	WebsocketPath   string   `mapstructure:"ws_path"`
	AllowAnyOrigin  bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ReadBufferSize  int      `mapstructure:"read_buffer_size" validate:"gte=0"`
	WriteBufferSize int      `mapstructure:"write_buffer_size" validate:"gte=0"`
	MaxMessageBytes int64    `mapstructure:"max_message_bytes" validate:"gte=0"`
	FrameBuffer     int      `mapstructure:"frame_buffer" validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8765"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 64
	}
	return c
}

// SessionFactory builds the session for a freshly accepted connection.
type SessionFactory func(id string) *session.Session

type Transport struct {
	cfg        Config
	upgrader   websocket.Upgrader
	registry   *session.Registry
	newSession SessionFactory
	log        *slog.Logger

	mu       sync.Mutex
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	draining atomic.Bool
}

func New(cfg Config, registry *session.Registry, factory SessionFactory, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if registry == nil {
		registry = session.NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:        cfg,
		registry:   registry,
		newSession: factory,
		log:        log,
		mux:        http.NewServeMux(),
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	t.mux.HandleFunc("/health", t.handleHealth)
	t.mux.Handle(cfg.WebsocketPath, t)
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Registry() *session.Registry { return t.registry }

// Handle mounts an extra handler next to the websocket endpoint.
func (t *Transport) Handle(pattern string, h http.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mux.Handle(pattern, h)
}

// Handler is the full HTTP surface: websocket endpoint, /health and anything
// mounted with Handle.
func (t *Transport) Handler() http.Handler { return t.mux }

func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.cfg.Addr
}

func (t *Transport) ReadyFields() map[string]any {
	host := t.Addr()
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return map[string]any{
		"ws_url":     "ws://" + host + t.cfg.WebsocketPath,
		"health_url": "http://" + host + "/health",
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.server = &http.Server{
		Handler:           t.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := t.server
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop()
		case <-t.ctx.Done():
		}
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("ws_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Stop refuses new connections and hangs up the live ones. Sessions finish
// their final dispatch on their own goroutines; wait on the registry to know
// when they are done.
func (t *Transport) Stop() error {
	if !t.draining.CompareAndSwap(false, true) {
		return nil
	}
	t.registry.SetDraining(true)
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv != nil {
		_ = srv.Close()
	}
	t.registry.CloseAll()
	t.cancel()
	return nil
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("ws_upgrade_failed",
			"remote_addr", r.RemoteAddr,
			"reason_code", errorsx.ReasonTransportUpgrade,
			"error", err.Error(),
		)
		return
	}
	defer conn.Close()
	if t.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(t.cfg.MaxMessageBytes)
	}

	id := uuid.NewString()
	sess := t.newSession(id)
	handle := &session.Handle{
		ID:         id,
		RemoteAddr: r.RemoteAddr,
		Session:    sess,
		Close:      conn.Close,
	}
	if !t.registry.Add(handle) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "draining"),
			time.Now().Add(time.Second))
		_ = sess.Close(t.ctx)
		return
	}
	defer t.registry.Remove(id)

	t.log.Info("session_open", "session_id", id, "remote_addr", r.RemoteAddr)

	in := make(chan frames.Frame, t.cfg.FrameBuffer)
	go t.readLoop(conn, id, r.RemoteAddr, sess, in)

	if err := sess.Run(t.ctx, in); err != nil {
		t.log.Warn("session_final_failed",
			"session_id", id,
			"reason_code", errorsx.Reason(err),
			"error", err.Error(),
		)
	}
}

// readLoop turns websocket messages into frames until the connection ends,
// then closes in to tell the session the transport is gone.
func (t *Transport) readLoop(conn *websocket.Conn, id, remote string, sess *session.Session, in chan<- frames.Frame) {
	defer close(in)
	meta := map[string]string{frames.MetaRemoteAddr: remote}
	clock := frames.NewClock()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && !errors.Is(err, net.ErrClosed) {
				t.log.Debug("ws_read_ended",
					"session_id", id,
					"reason_code", errorsx.ReasonTransportRead,
					"error", err.Error(),
				)
			}
			return
		}
		pts := clock.Next()
		var f frames.Frame
		switch msgType {
		case websocket.BinaryMessage:
			f = frames.NewAudioFrame(id, pts, data, meta)
		case websocket.TextMessage:
			f = frames.NewTextFrame(id, pts, string(data), meta)
		default:
			f = frames.NewUnknownFrame(id, pts, msgType, len(data), meta)
		}
		select {
		case in <- f:
		case <-sess.Done():
			return
		}
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var (
	_ transports.Transport      = (*Transport)(nil)
	_ transports.HandlerMounter = (*Transport)(nil)
	_ transports.ReadyReporter  = (*Transport)(nil)
)
