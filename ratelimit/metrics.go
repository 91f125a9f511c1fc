package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_ratelimit_decisions_total",
	Help: "Rate limit decisions by bucket and outcome",
}, []string{"bucket", "allowed"})

var storeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_ratelimit_store_failures_total",
	Help: "Rate limit checks that were allowed because the store failed",
}, []string{"bucket"})
