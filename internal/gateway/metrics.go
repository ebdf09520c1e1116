package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: full send pipeline including persistence and live delivery.
	SendDuration *prometheus.HistogramVec

	// Traffic: accepted sends by message kind.
	MessagesTotal *prometheus.CounterVec

	// Errors: classified rejections and failures.
	ErrorTotal *prometheus.CounterVec

	// Live channel outcome per delivery attempt.
	Deliveries *prometheus.CounterVec

	// Auto-replies that made it back through the pipeline.
	GeneratedReplies prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: without a registerer, metrics go to a private
	// registry nobody scrapes.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		SendDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustgate_send_duration_seconds",
			Help:    "Histogram of message send latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		MessagesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_messages_total",
			Help: "Total number of accepted messages.",
		}, []string{"kind"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // types: trust_denied, unknown_agent, persist, generation

		Deliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_deliveries_total",
			Help: "Live delivery attempts by result.",
		}, []string{"result"}), // results: delivered, offline

		GeneratedReplies: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "trustgate_generated_replies_total",
			Help: "Auto-replies successfully sent back through the gateway.",
		}),
	}
}
