package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reinf_documents_built_total",
		Help: "Total number of event documents built, labelled by event code.",
	}, []string{"event"})

	BuildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reinf_build_failures_total",
		Help: "Total number of inputs that could not be converted, labelled by event code.",
	}, []string{"event"})

	RowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reinf_rows_processed_total",
		Help: "Total number of input rows read by the event builders.",
	})

	RowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reinf_rows_skipped_total",
		Help: "Total number of input rows dropped during grouped aggregation.",
	})

	DocumentsSigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reinf_documents_signed_total",
		Help: "Total number of signing attempts, labelled by status.",
	}, []string{"status"})

	Transmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reinf_transmissions_total",
		Help: "Total number of transmission attempts, labelled by environment and outcome.",
	}, []string{"environment", "outcome"})

	TransmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reinf_transmission_duration_ms",
		Help:    "Round-trip latency of one transmission attempt in milliseconds.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reinf_documents_in_flight",
		Help: "Number of documents currently being processed.",
	})
)
