package abuse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var offenses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_abuse_offenses_total",
	Help: "Recorded offenses by bucket and kind",
}, []string{"bucket", "kind"})

var trims = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guard_abuse_trimmed_total",
	Help: "Identifiers dropped from the leaderboard to stay under the cap",
})
