package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "canvasnet",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently registered.",
		},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canvasnet",
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Sessions registered since start.",
		},
	)
	sessionExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvasnet",
			Subsystem: "sessions",
			Name:      "exits_total",
			Help:      "Session teardowns by the reason the first task exited.",
		},
		[]string{"reason"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvasnet",
			Subsystem: "frames",
			Name:      "total",
			Help:      "Frames moved through sessions.",
		},
		[]string{"direction", "kind"},
	)
	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvasnet",
			Subsystem: "broadcast",
			Name:      "total",
			Help:      "Broadcast calls.",
		},
		[]string{"kind"},
	)
	broadcastRecipients = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "canvasnet",
			Subsystem: "broadcast",
			Name:      "recipients",
			Help:      "Recipients per broadcast snapshot.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canvasnet",
			Subsystem: "protocol",
			Name:      "classifications_total",
			Help:      "Binary payload classification results.",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers all collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive,
			sessionsTotal,
			sessionExits,
			frames,
			broadcasts,
			broadcastRecipients,
			classifications,
		)
	})
}

func RecordSessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
	sessionsTotal.Inc()
}

func RecordSessionClosed(reason string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionExits.WithLabelValues(reason).Inc()
}

func RecordFrame(direction, kind string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, kind).Inc()
}

func RecordBroadcast(kind string, recipients int) {
	RegisterMetrics()
	broadcasts.WithLabelValues(kind).Inc()
	broadcastRecipients.Observe(float64(recipients))
}

// RecordClassification counts a classifier outcome. Schema names are not
// used as labels to keep cardinality bounded by the outcome set.
func RecordClassification(matched bool) {
	RegisterMetrics()
	result := "unidentified"
	if matched {
		result = "identified"
	}
	classifications.WithLabelValues(result).Inc()
}
