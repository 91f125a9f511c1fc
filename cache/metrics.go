package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_cache_lookups_total",
	Help: "Cache lookups by namespace and result (hit, miss, error)",
}, []string{"namespace", "result"})

var cacheEncodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_cache_encode_failures_total",
	Help: "Computed values that could not be serialised and were not cached",
}, []string{"namespace"})

var cacheBumps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_cache_bumps_total",
	Help: "Namespace version bumps",
}, []string{"namespace"})
