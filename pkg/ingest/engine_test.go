package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/wavdispatch/pkg/backend"
	"github.com/harunnryd/wavdispatch/pkg/runner"
	"github.com/harunnryd/wavdispatch/pkg/transports/ws"
	"github.com/harunnryd/wavdispatch/pkg/wav"
)

type recordedPost struct {
	path string
	body []byte
}

type transcriber struct {
	srv   *httptest.Server
	mu    sync.Mutex
	posts []recordedPost
	ch    chan recordedPost
}

func newTranscriber(t *testing.T) *transcriber {
	t.Helper()
	tr := &transcriber{ch: make(chan recordedPost, 16)}
	tr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == backend.DefaultHealthPath {
			_, _ = io.WriteString(w, "Ok")
			return
		}
		body, _ := io.ReadAll(r.Body)
		p := recordedPost{path: r.URL.Path, body: body}
		tr.mu.Lock()
		tr.posts = append(tr.posts, p)
		tr.mu.Unlock()
		tr.ch <- p
		_, _ = io.WriteString(w, `{"text":"call me at a@b.com"}`)
	}))
	t.Cleanup(tr.srv.Close)
	return tr
}

func (tr *transcriber) next(t *testing.T) recordedPost {
	t.Helper()
	select {
	case p := <-tr.ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatalf("backend received nothing")
		return recordedPost{}
	}
}

func testConfig(backendURL string) Config {
	return Config{
		Environment: "test",
		LogLevel:    "debug",
		Server:      ws.Config{Addr: "127.0.0.1:0"},
		Window:      WindowConfig{IntervalMS: 200},
		Backend:     backend.Config{BaseURL: backendURL},
		Heartbeat:   HeartbeatConfig{Enabled: true, IntervalMS: 20},
		Observability: ObservabilityConfig{
			MetricsPath:   "/metrics",
			LogSampleRate: 1,
		},
		Privacy:  PrivacyConfig{RedactPII: true, MaxLoggedTranscript: 64},
		Shutdown: ShutdownConfig{DrainTimeoutMS: 3000},
	}
}

func dialEngine(t *testing.T, e *Engine) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestEngineStreamsAndDrains(t *testing.T) {
	backendSrv := newTranscriber(t)
	dir := t.TempDir()
	cfg := testConfig(backendSrv.srv.URL)
	cfg.Observability.TimelineDir = filepath.Join(dir, "timeline")
	cfg.Artifacts.Provider = "disk"
	cfg.Artifacts.Settings = map[string]any{"dir": filepath.Join(dir, "wav")}

	var logs bytes.Buffer
	e, err := NewEngine(EngineOptions{Config: cfg, Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dialEngine(t, e)
	payload := bytes.Repeat([]byte{1, 2}, 1600)
	_ = conn.WriteMessage(websocket.BinaryMessage, payload)
	window := backendSrv.next(t)
	if window.path != backend.DefaultAsyncPath || !bytes.Equal(window.body, wav.Encode(payload)) {
		t.Fatalf("unexpected window %s (%d bytes)", window.path, len(window.body))
	}

	resp, err := http.Get("http://" + e.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	exposition, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(exposition), "wavdispatch_sessions_active 1") {
		t.Fatalf("metrics missing active session:\n%s", exposition)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	final := backendSrv.next(t)
	if final.path != backend.DefaultSyncPath || !bytes.Equal(final.body, wav.Encode(payload)) {
		t.Fatalf("unexpected final %s (%d bytes)", final.path, len(final.body))
	}
	if e.Registry().Count() != 0 || e.Dispatcher().InFlight() != 0 {
		t.Fatalf("drain left work behind")
	}
	_ = conn.Close()
	e.closeObservers()

	entries, err := os.ReadDir(filepath.Join(dir, "wav"))
	if err != nil {
		t.Fatalf("read artifacts: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "_window_1.wav") || !strings.Contains(joined, "_final.wav") {
		t.Fatalf("unexpected artifacts %v", names)
	}
	timeline, err := os.ReadDir(cfg.Observability.TimelineDir)
	if err != nil || len(timeline) != 1 {
		t.Fatalf("expected one timeline file, got %v (%v)", timeline, err)
	}
	if strings.Contains(logs.String(), "a@b.com") {
		t.Fatalf("transcript logged without redaction")
	}
	if !strings.Contains(logs.String(), "final_dispatched") {
		t.Fatalf("final dispatch not logged")
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	backendSrv := newTranscriber(t)
	e, err := NewEngine(EngineOptions{
		Config: testConfig(backendSrv.srv.URL),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for e.State() != runner.StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.State() != runner.StateRunning {
		t.Fatalf("engine never reached running, state %s", e.State())
	}
	if err := e.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}

	conn := dialEngine(t, e)
	defer conn.Close()
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
	deadline = time.Now().Add(2 * time.Second)
	for e.Registry().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not stop")
	}
	if e.State() != runner.StateStopped {
		t.Fatalf("expected stopped, got %s", e.State())
	}
}

func TestNewEngineRejectsBadArtifacts(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Artifacts.Provider = "disk"
	if _, err := NewEngine(EngineOptions{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}); err == nil {
		t.Fatalf("expected error for disk artifacts without dir")
	}
}
