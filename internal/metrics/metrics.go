// Package metrics holds the prometheus registry and the instruments the
// ingestion path and the reconciler report into.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "patchfox_input"

// Registry is the registry scraped by /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// EventsReceived counts every ingestion attempt, accepted or not.
var EventsReceived = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Total datasource events submitted to the service",
	},
)

// EventsAccepted counts events that were recorded.
var EventsAccepted = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_accepted_total",
		Help:      "Total datasource events recorded as READY_FOR_PROCESSING",
	},
)

// EventsRejected counts rejections by reason class.
var EventsRejected = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Total datasource events rejected",
	},
	[]string{"reason"},
)

// IngestDuration tracks wall time of the full ingestion path per event.
var IngestDuration = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Duration of the validate-unpack-bundle-record path",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

// Rejection reason labels for EventsRejected.
const (
	ReasonValidation = "validation"
	ReasonBundle     = "bundle"
	ReasonGraph      = "graph"
	ReasonDuplicate  = "duplicate"
	ReasonInternal   = "internal"
)

// SweepRuns counts reconciliation sweeps by outcome.
var SweepRuns = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_sweep_runs_total",
		Help:      "Total status reconciliation sweeps",
	},
	[]string{"outcome"},
)

// MQRequests counts message-bus bridge publishes by outcome.
var MQRequests = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mq_requests_total",
		Help:      "Total message-bus bridge requests",
	},
	[]string{"outcome"},
)
