package resilience

import (
	"github.com/go-i2p/packettunnel/lib/metrics"
)

// Circuit breaker metrics, labelled by circuit name.
var (
	// CircuitTrips counts the number of times a circuit opened.
	CircuitTrips = metrics.NewCounterVec(
		"packettunnel_circuit_breaker_trips_total",
		"Total number of times circuit breakers have opened",
		"circuit",
	)

	// CircuitRejections counts requests rejected by an open circuit.
	CircuitRejections = metrics.NewCounterVec(
		"packettunnel_circuit_breaker_rejections_total",
		"Total requests rejected by open circuit breakers",
		"circuit",
	)
)
