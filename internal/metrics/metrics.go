// Package metrics exposes Prometheus collectors for the capture, transport
// and session pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ppgcam"

// Drop reasons for FramesDropped.
const (
	DropThrottled    = "throttled"
	DropBusy         = "busy"
	DropDisconnected = "disconnected"
	DropCompleted    = "completed"
	DropOutboxFull   = "outbox_full"
)

// Stages for FrameErrors.
const (
	StageDecode = "decode"
	StageEncode = "encode"
	StagePanic  = "panic"
)

var (
	framesCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total number of frames delivered by the capture source",
		},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames discarded before being sent",
		},
		[]string{"reason"}, // throttled, busy, disconnected, completed, outbox_full
	)

	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frame messages handed to the transport",
		},
	)

	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total number of per-frame failures",
		},
		[]string{"stage"}, // decode, encode, panic
	)

	frameDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_seconds",
			Help:      "Histogram of per-frame decode and encode time in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Total number of messages received from the analyzer",
		},
		[]string{"type"}, // result, error, reset_ack, invalid
	)

	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Analyzer connection state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	sessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of completed measurement sessions",
		},
		[]string{"trigger"}, // elapsed, countdown, bp_result
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		framesCaptured,
		framesDropped,
		framesSent,
		frameErrors,
		frameDuration,
		inboundMessages,
		connectionState,
		sessionsCompleted,
	}
)

// RecordFrameCaptured records a frame delivered by a source.
func RecordFrameCaptured() {
	framesCaptured.Inc()
}

// RecordFrameDropped records a discarded frame.
func RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordFrameSent records a frame message handed to the transport.
func RecordFrameSent() {
	framesSent.Inc()
}

// RecordFrameError records a per-frame failure.
func RecordFrameError(stage string) {
	frameErrors.WithLabelValues(stage).Inc()
}

// RecordFrameDuration records the time spent analyzing one frame.
func RecordFrameDuration(seconds float64) {
	frameDuration.Observe(seconds)
}

// RecordInbound records a received message by type.
func RecordInbound(msgType string) {
	inboundMessages.WithLabelValues(msgType).Inc()
}

// SetConnectionState records the current connection state.
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// RecordSessionCompleted records a completed session and what completed it.
func RecordSessionCompleted(trigger string) {
	sessionsCompleted.WithLabelValues(trigger).Inc()
}

// NewRegistry returns a registry holding every ppgcam collector plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
