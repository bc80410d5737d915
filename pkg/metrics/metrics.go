// Package metrics provides prometheus instrumentation for treegrid.
//
// Collectors register with the default registry on first import. The serve
// mode exposes them on /metrics through Handler.
//
// Usage:
//
//	func (g *Grid[T]) fetch(ctx context.Context) error {
//	    defer metrics.Timer(metrics.FetchDuration)()
//	    // ... fetch code
//	}
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Toggle outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var Toggles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "treegrid_toggles_total",
	Help: "Number of expand/collapse requests by direction and outcome",
}, []string{"op", "outcome"})

var Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "treegrid_refreshes_total",
	Help: "Number of server-driven child refreshes by outcome",
}, []string{"outcome"})

var RowsSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "treegrid_rows_sent_total",
	Help: "Number of row descriptors pushed to viewers",
})

var RowDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "treegrid_row_deltas_total",
	Help: "Number of insert_rows/remove_rows commands emitted",
}, []string{"kind"})

var FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "treegrid_fetch_duration_seconds",
	Help:    "Latency of data source child fetches",
	Buckets: prometheus.DefBuckets,
})

var Sessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "treegrid_sessions_active",
	Help: "Number of connected row sync sessions",
})

var MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "treegrid_messages_received_total",
	Help: "Number of viewer messages received by op",
}, []string{"op"})

var ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "treegrid_protocol_errors_total",
	Help: "Number of viewer requests answered with an error message",
})

var ThrottledRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "treegrid_throttled_requests_total",
	Help: "Number of viewer requests delayed by the per-connection rate limit",
})

// Timer returns a function that observes the elapsed time when called.
func Timer(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
