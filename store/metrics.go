package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_store_operations_total",
	Help: "Number of store round trips by operation and result",
}, []string{"op", "result"})

var breakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guard_store_breaker_state",
	Help: "Circuit breaker state of the redis store (0 closed, 1 half-open, 2 open)",
})
