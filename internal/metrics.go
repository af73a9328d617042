package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltabridge_operations_submitted_total",
		Help: "Total number of asynchronous operations submitted to a runtime.",
	}, []string{"op"})

	OperationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltabridge_operations_completed_total",
		Help: "Total number of asynchronous operations whose callback fired, by error code.",
	}, []string{"op", "code"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltabridge_operation_duration_seconds",
		Help:    "Time from submission to callback of asynchronous operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	OperationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltabridge_operations_in_flight",
		Help: "Number of operations submitted whose callback has not fired yet.",
	})

	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltabridge_panics_recovered_total",
		Help: "Total number of panics recovered in operation workers.",
	}, []string{"op"})

	InvalidFrees = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltabridge_invalid_frees_total",
		Help: "Total number of rejected release calls for unknown or already released values.",
	}, []string{"kind"})

	AllocatedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltabridge_allocated_bytes",
		Help: "Bytes currently held in bridge-owned buffers.",
	})
)
