// Package metrics holds the Prometheus collectors of the settlement pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values of ExternalCallErrors.
const (
	CallConvert = "convert"
	CallCapture = "capture"
	CallCredit  = "credit"
	CallNotify  = "notify"
)

var (
	DepositsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_processed_total",
		Help: "Deposits handled by the settler, labeled by outcome",
	}, []string{"outcome"})

	DepositProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deposit_processing_seconds",
		Help:    "Latency of a single processing attempt of a deposit message",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	ExternalCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_external_call_errors_total",
		Help: "Failed calls to collaborators, labeled by call",
	}, []string{"call"})

	DepositRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposit_retries_total",
		Help: "Processing attempts repeated after a transient failure",
	})

	DepositsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposit_dead_lettered_total",
		Help: "Deposits published to the dead-letter topic after exhausting retries",
	})
)
