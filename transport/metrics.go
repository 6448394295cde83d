package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts link activity. Labels are bounded: link name and message kind.
type Metrics struct {
	FramesSent     *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	ListenerStarts *prometheus.CounterVec
	DeferredFrames *prometheus.CounterVec
	RangingSamples *prometheus.CounterVec
}

// NewMetrics registers the link counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Name:      "frames_sent_total",
			Help:      "Total frames transmitted, by link and message kind.",
		}, []string{"link", "kind"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Name:      "send_failures_total",
			Help:      "Total transmissions that failed in the driver or encoder, by link.",
		}, []string{"link"}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Name:      "frames_received_total",
			Help:      "Total frames decoded, by link and message kind.",
		}, []string{"link", "kind"}),
		ListenerStarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Name:      "listener_starts_total",
			Help:      "Total listener sessions started, by link.",
		}, []string{"link"}),
		DeferredFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Name:      "deferred_frames_total",
			Help:      "Total out-of-context frames stashed for the next listener session, by link.",
		}, []string{"link"}),
		RangingSamples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Name:      "ranging_samples_total",
			Help:      "Total ranging ping samples, by link and outcome.",
		}, []string{"link", "outcome"}),
	}
}
