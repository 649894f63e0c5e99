package observers

import (
	"net/http"

	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver turns engine events into Prometheus series.
type PrometheusObserver struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsOpened   prometheus.Counter
	AudioBytes       prometheus.Counter
	Frames           *prometheus.CounterVec
	WindowsSkipped   prometheus.Counter
	Dispatches       *prometheus.CounterVec
	DispatchInFlight *prometheus.GaugeVec
	DispatchDuration *prometheus.HistogramVec
	DispatchBytes    *prometheus.HistogramVec
	Heartbeats       *prometheus.CounterVec
}

// NewPrometheusObserver registers the collectors on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusObserver(reg *prometheus.Registry) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &PrometheusObserver{
		registry: reg,
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "wavdispatch_sessions_active",
			Help: "Current number of live audio sessions",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "wavdispatch_sessions_opened_total",
			Help: "Total number of sessions accepted",
		}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "wavdispatch_audio_bytes_total",
			Help: "Total PCM bytes buffered from clients",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wavdispatch_frames_total",
			Help: "Inbound frames by kind",
		}, []string{"kind"}),
		WindowsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "wavdispatch_windows_skipped_total",
			Help: "Timer fires with no new audio",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wavdispatch_dispatches_total",
			Help: "Completed transcription dispatches by mode and outcome",
		}, []string{metrics.TagMode, metrics.TagOutcome}),
		DispatchInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wavdispatch_dispatches_in_flight",
			Help: "Transcription requests currently waiting on the backend",
		}, []string{metrics.TagMode}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wavdispatch_dispatch_duration_seconds",
			Help:    "Backend round-trip time per dispatch",
			Buckets: prometheus.DefBuckets,
		}, []string{metrics.TagMode}),
		DispatchBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wavdispatch_dispatch_bytes",
			Help:    "WAV container size per dispatch",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
		}, []string{metrics.TagMode}),
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wavdispatch_heartbeats_total",
			Help: "Backend heartbeat probes by outcome",
		}, []string{metrics.TagOutcome}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (p *PrometheusObserver) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusObserver) RecordEvent(ev metrics.MetricsEvent) {
	switch ev.Name {
	case metrics.EventSessionOpen:
		p.SessionsOpened.Inc()
		p.SessionsActive.Inc()
	case metrics.EventSessionClose:
		p.SessionsActive.Dec()
	case metrics.EventAudioIn:
		p.Frames.WithLabelValues("audio").Inc()
		p.AudioBytes.Add(ev.Value)
	case metrics.EventTextIn:
		p.Frames.WithLabelValues("text").Inc()
	case metrics.EventMalformedFrame:
		p.Frames.WithLabelValues("malformed").Inc()
	case metrics.EventWindowSkipped:
		p.WindowsSkipped.Inc()
	case metrics.EventDispatchStart:
		mode := tag(ev, metrics.TagMode)
		p.DispatchInFlight.WithLabelValues(mode).Inc()
		p.DispatchBytes.WithLabelValues(mode).Observe(ev.Value)
	case metrics.EventDispatchDone:
		mode := tag(ev, metrics.TagMode)
		p.DispatchInFlight.WithLabelValues(mode).Dec()
		p.Dispatches.WithLabelValues(mode, tag(ev, metrics.TagOutcome)).Inc()
		p.DispatchDuration.WithLabelValues(mode).Observe(ev.Value)
	case metrics.EventHeartbeat:
		p.Heartbeats.WithLabelValues(tag(ev, metrics.TagOutcome)).Inc()
	}
}

func tag(ev metrics.MetricsEvent, key string) string {
	if ev.Tags == nil {
		return ""
	}
	return ev.Tags[key]
}

var _ metrics.Observer = (*PrometheusObserver)(nil)
