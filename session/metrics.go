package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts race outcomes per node.
type Metrics struct {
	Races        *prometheus.CounterVec
	StageSeconds *prometheus.HistogramVec
	Distance     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Races: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelink",
			Subsystem: "session",
			Name:      "races_total",
			Help:      "Races by node and outcome (started, completed, aborted).",
		}, []string{"node", "outcome"}),
		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "racelink",
			Subsystem: "session",
			Name:      "stage_seconds",
			Help:      "Reported stage times.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"node", "stage"}),
		Distance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "racelink",
			Subsystem: "session",
			Name:      "distance_meters",
			Help:      "Last distance known to the controller.",
		}),
	}
}

func (m *Metrics) race(node, outcome string) {
	if m != nil {
		m.Races.WithLabelValues(node, outcome).Inc()
	}
}

func (m *Metrics) stage(node, stage string, seconds int) {
	if m != nil {
		m.StageSeconds.WithLabelValues(node, stage).Observe(float64(seconds))
	}
}

func (m *Metrics) distance(meters int) {
	if m != nil {
		m.Distance.Set(float64(meters))
	}
}
