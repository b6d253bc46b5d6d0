package log

import (
	"github.com/prometheus/client_golang/prometheus"
)

// eventsByLevel counts log events emitted at each level, labeled by
// module, so dashboards can track warning/error rates per subsystem
// (statecache, pipeline, reqresp, ...) without scraping log output.
var eventsByLevel = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "beacon_core_log_events_total",
		Help: "Number of log events emitted, by level and module.",
	},
	[]string{"level", "module"},
)

func init() {
	prometheus.MustRegister(eventsByLevel)
}

// countEvent increments the counter for level/module. Called from the
// Logger methods in log.go rather than exported directly, so callers never
// need to touch prometheus types themselves.
func countEvent(level, module string) {
	eventsByLevel.WithLabelValues(level, module).Inc()
}
