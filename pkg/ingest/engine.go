// Package ingest wires the websocket acceptor, per-connection sessions and
// the transcription backend into one runnable service.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harunnryd/wavdispatch/pkg/artifacts"
	"github.com/harunnryd/wavdispatch/pkg/backend"
	"github.com/harunnryd/wavdispatch/pkg/logging"
	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/harunnryd/wavdispatch/pkg/observers"
	"github.com/harunnryd/wavdispatch/pkg/redact"
	"github.com/harunnryd/wavdispatch/pkg/runner"
	"github.com/harunnryd/wavdispatch/pkg/session"
	"github.com/harunnryd/wavdispatch/pkg/transports"
	"github.com/harunnryd/wavdispatch/pkg/transports/ws"
)

type EngineOptions struct {
	Config Config
	// Logger overrides the logger built from Config.LogLevel/LogFormat.
	Logger    *slog.Logger
	LogOutput io.Writer
	BannerOut io.Writer
	// Poster replaces the HTTP backend client, mainly for tests.
	Poster backend.Poster
	// Observers receive every engine event alongside the built-in ones.
	Observers []metrics.Observer
	// Registry collects Prometheus series; a fresh one is used when nil.
	Registry *prometheus.Registry
}

type Engine struct {
	cfg        Config
	log        *slog.Logger
	registry   *session.Registry
	transport  *ws.Transport
	client     *backend.Client
	dispatcher *backend.Dispatcher
	monitor    *backend.Monitor
	sink       *artifacts.Disk
	prom       *observers.PrometheusObserver
	asyncObs   *metrics.AsyncObserver
	timeline   *observers.TimelineObserver
	runner     *runner.LifecycleRunner

	mu         sync.Mutex
	stopBgWork context.CancelFunc
	bg         sync.WaitGroup
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logging.InitLogger(cfg.LogLevel, cfg.LogFormat, opts.LogOutput)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	log.Info("wavdispatch_init",
		"environment", cfg.Environment,
		"addr", cfg.Server.Addr,
		"backend", cfg.Backend.BaseURL,
		"window_ms", cfg.Window.IntervalMS,
		"heartbeat", cfg.Heartbeat.Enabled,
		"artifacts", cfg.Artifacts.Provider,
	)

	sink, err := artifacts.New(cfg.Artifacts)
	if err != nil {
		return nil, err
	}

	prom := observers.NewPrometheusObserver(opts.Registry)
	logObs := metrics.NewSamplingObserver(
		observers.NewLoggerObserver(logging.NewComponentLogger(log, "events")),
		cfg.Observability.LogSampleRate,
		metrics.EventSessionOpen, metrics.EventSessionClose, metrics.EventDispatchDone,
	)
	slow := []metrics.Observer{logObs}
	var timeline *observers.TimelineObserver
	if dir := strings.TrimSpace(cfg.Observability.TimelineDir); dir != "" {
		timeline = observers.NewTimelineObserver(dir)
		slow = append(slow, timeline)
	}
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(slow...), cfg.Observability.EventBuffer)
	fanout := append([]metrics.Observer{prom, asyncObs}, opts.Observers...)
	obs := observers.NewMultiObserver(fanout...)

	client := backend.NewClient(cfg.Backend)
	var poster backend.Poster = client
	if opts.Poster != nil {
		poster = opts.Poster
	}
	dopts := backend.DispatcherOptions{
		Timeout:             cfg.Backend.Timeout(),
		FinalTimeout:        cfg.Backend.FinalTimeout(),
		MaxLoggedTranscript: cfg.Privacy.MaxLoggedTranscript,
		Observer:            obs,
		Logger:              logging.NewComponentLogger(log, "dispatcher"),
	}
	if sink != nil {
		dopts.Archiver = sink
	}
	dispatcher := backend.NewDispatcher(poster, dopts)

	var monitor *backend.Monitor
	if cfg.Heartbeat.Enabled {
		monitor = backend.NewMonitor(client, cfg.Heartbeat.Interval(), obs, logging.NewComponentLogger(log, "heartbeat"))
	}

	registry := session.NewRegistry()
	sessLog := logging.NewComponentLogger(log, "session")
	sessCfg := session.Config{
		Interval:      cfg.Window.Interval(),
		MaxLoggedText: cfg.Privacy.MaxLoggedTranscript,
	}
	factory := func(id string) *session.Session {
		return session.New(id, sessCfg, dispatcher, obs, sessLog)
	}
	transport := ws.New(cfg.Server, registry, factory, logging.NewComponentLogger(log, "transport"))
	mountMetrics(transport, cfg.Observability.MetricsPath, prom)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		transport:  transport,
		client:     client,
		dispatcher: dispatcher,
		monitor:    monitor,
		sink:       sink,
		prom:       prom,
		asyncObs:   asyncObs,
		timeline:   timeline,
	}
	e.runner = runner.NewLifecycleRunner(e, runner.Hooks{
		OnStart: e.Start,
		OnStop:  e.closeObservers,
	}, runner.Options{
		DrainTimeout: cfg.Shutdown.DrainTimeout(),
		BannerOut:    opts.BannerOut,
	})
	return e, nil
}

// Start binds the listener and launches background work. Run calls it; use
// it directly only when driving the engine without the lifecycle runner.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.sink != nil {
		if res, err := e.sink.Purge(); err != nil {
			e.log.Warn("artifact_purge_failed", "dir", e.sink.Dir(), "removed", res.Removed, "error", err)
		} else if res.Removed > 0 {
			e.log.Info("artifact_purge", "dir", e.sink.Dir(), "scanned", res.Scanned, "removed", res.Removed, "freed_bytes", res.Freed)
		}
	}
	if err := e.transport.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	bgCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.stopBgWork = cancel
	e.mu.Unlock()
	if e.monitor != nil {
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			e.monitor.Run(bgCtx)
		}()
	}
	e.log.Info("wavdispatch_ready", readyFields(e.transport)...)
	return nil
}

func mountMetrics(t transports.Transport, path string, prom *observers.PrometheusObserver) {
	if path == "" {
		return
	}
	if m, ok := t.(transports.HandlerMounter); ok {
		m.Handle(path, prom.Handler())
	}
}

func readyFields(t transports.Transport) []any {
	fields := []any{"transport", t.Name(), "addr", t.Addr()}
	if r, ok := t.(transports.ReadyReporter); ok {
		for k, v := range r.ReadyFields() {
			fields = append(fields, k, v)
		}
	}
	return fields
}

// Run starts the engine and blocks until ctx is cancelled, then drains.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

// Stop ends Run and drains.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// Drain stops accepting connections, hangs up live ones so each session runs
// its final dispatch, then waits for sessions and windowed dispatches to
// finish within ctx. A ctx shorter than the backend's final timeout can give
// up on finals still in flight; LoadConfig rejects such drain timeouts.
func (e *Engine) Drain(ctx context.Context) error {
	start := time.Now()
	live := e.registry.Count()
	_ = e.transport.Stop()

	var errs error
	if !e.registry.WaitForEmpty(ctx, 50*time.Millisecond) {
		errs = errors.Join(errs, fmt.Errorf("drain: %d sessions still open", e.registry.Count()))
	}
	if err := e.dispatcher.Wait(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("drain: %d windowed dispatches in flight: %w", e.dispatcher.InFlight(), err))
	}

	e.mu.Lock()
	stop := e.stopBgWork
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
	e.bg.Wait()

	e.log.Info("shutdown",
		"sessions_closed", live,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"goroutines", runtime.NumGoroutine(),
		"error", errs,
	)
	return errs
}

func (e *Engine) closeObservers() {
	e.asyncObs.Close()
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
	if dropped := e.asyncObs.Dropped(); dropped > 0 {
		e.log.Warn("observer_events_dropped", "count", dropped, "by_event", e.asyncObs.DroppedByName())
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *session.Registry { return e.registry }

func (e *Engine) Transport() *ws.Transport { return e.transport }

func (e *Engine) Dispatcher() *backend.Dispatcher { return e.dispatcher }

func (e *Engine) Metrics() *observers.PrometheusObserver { return e.prom }

func (e *Engine) Addr() string { return e.transport.Addr() }

func (e *Engine) State() runner.State { return e.runner.State() }

// Health probes the backend once.
func (e *Engine) Health(ctx context.Context) error {
	return e.client.Heartbeat(ctx)
}

var _ runner.Drainer = (*Engine)(nil)
