package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dispatchMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Messages dispatched to a handler.",
		},
		[]string{"session", "kind"},
	)
	dispatchPayloadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extbridge",
			Subsystem: "dispatch",
			Name:      "payload_bytes",
			Help:      "Payload size of dispatched messages.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
		[]string{"session", "kind"},
	)
	dispatchTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "dispatch",
			Name:      "terminations_total",
			Help:      "Sessions terminated by the dispatcher.",
		},
		[]string{"session", "reason"},
	)
	sentMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extbridge",
			Subsystem: "send",
			Name:      "messages_total",
			Help:      "Messages written to a channel.",
		},
		[]string{"session", "kind"},
	)
)

// Collectors lists every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{dispatchMessages, dispatchPayloadBytes, dispatchTerminations, sentMessages}
}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

func RecordDispatch(session, kind string, payloadBytes int) {
	RegisterMetrics()
	dispatchMessages.WithLabelValues(session, kind).Inc()
	dispatchPayloadBytes.WithLabelValues(session, kind).Observe(float64(payloadBytes))
}

func RecordTermination(session, reason string) {
	RegisterMetrics()
	dispatchTerminations.WithLabelValues(session, reason).Inc()
}

func RecordSend(session, kind string) {
	RegisterMetrics()
	sentMessages.WithLabelValues(session, kind).Inc()
}
