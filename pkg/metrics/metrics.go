// Package metrics holds the Prometheus metrics of a live canvas process.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the live session core.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	StateChanges    *prometheus.CounterVec

	// Media metrics
	AudioFramesTotal *prometheus.CounterVec
	AudioBytesTotal  *prometheus.CounterVec
	ScreenFrames     *prometheus.CounterVec
	PlaybackUnits    prometheus.Counter

	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Persistence metrics
	SnapshotErrors prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_canvas"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected live sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of connect attempts by outcome",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	stateChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions",
		},
		[]string{"from", "to"},
	)

	audioFrames := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Audio frames by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	audioBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM bytes processed",
		},
		[]string{"direction"},
	)

	screenFrames := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screen_frames_total",
			Help:      "Screen frames by outcome",
		},
		[]string{"outcome"},
	)

	playbackUnits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_units_total",
			Help:      "Audio units scheduled for playback",
		},
	)

	toolCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool handler duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	snapshotErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_errors_total",
			Help:      "Failed session snapshot saves",
		},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		stateChanges,
		audioFrames,
		audioBytes,
		screenFrames,
		playbackUnits,
		toolCalls,
		toolDuration,
		snapshotErrors,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		StateChanges:     stateChanges,
		AudioFramesTotal: audioFrames,
		AudioBytesTotal:  audioBytes,
		ScreenFrames:     screenFrames,
		PlaybackUnits:    playbackUnits,
		ToolCallsTotal:   toolCalls,
		ToolCallDuration: toolDuration,
		SnapshotErrors:   snapshotErrors,
	}
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a session reaching Connected.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues("connected").Inc()
}

// RecordSessionFailed records a connect attempt that never reached Connected.
func (m *Metrics) RecordSessionFailed() {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues("failed").Inc()
}

// RecordSessionEnd records a connected session ending.
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordStateChange records a connection state transition.
func (m *Metrics) RecordStateChange(from, to string) {
	if m == nil {
		return
	}
	m.StateChanges.WithLabelValues(from, to).Inc()
}

// RecordAudioFrame records one outbound or inbound audio frame.
func (m *Metrics) RecordAudioFrame(direction, outcome string, bytes int) {
	if m == nil {
		return
	}
	m.AudioFramesTotal.WithLabelValues(direction, outcome).Inc()
	if outcome == "sent" || direction == "inbound" {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordScreenFrame records one screen frame.
func (m *Metrics) RecordScreenFrame(outcome string) {
	if m == nil {
		return
	}
	m.ScreenFrames.WithLabelValues(outcome).Inc()
}

// RecordPlaybackUnit records one scheduled playback unit.
func (m *Metrics) RecordPlaybackUnit() {
	if m == nil {
		return
	}
	m.PlaybackUnits.Inc()
}

// RecordToolCall records a completed tool call.
func (m *Metrics) RecordToolCall(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSnapshotError records a failed snapshot save.
func (m *Metrics) RecordSnapshotError() {
	if m == nil {
		return
	}
	m.SnapshotErrors.Inc()
}
