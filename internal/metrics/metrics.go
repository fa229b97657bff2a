// Package metrics provides Prometheus instrumentation for the pairing core.
// It exposes gauges for queue depth and active sessions, counters for relay
// and moderation throughput, and a histogram for decision latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of participants waiting for a partner.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairtalk_queue_size",
		Help: "Current number of participants in the waiting queue",
	})

	// ActiveSessions tracks the current number of active pair sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairtalk_active_sessions",
		Help: "Current number of active pair sessions",
	})

	// RelayedTotal counts relayed exchanges, labeled by payload kind.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtalk_relayed_total",
		Help: "Total number of relayed exchanges",
	}, []string{"kind"}) // kind = "text", "photo", "video", "animation"

	// CasesTotal counts submitted moderation cases, labeled by kind.
	CasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtalk_cases_total",
		Help: "Total number of submitted moderation cases",
	}, []string{"kind"}) // kind = "report", "appeal"

	// DecisionsTotal counts operator decisions, labeled by kind and verdict.
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtalk_decisions_total",
		Help: "Total number of operator case decisions",
	}, []string{"kind", "decision"})

	// BansTotal counts ban status transitions, labeled by direction.
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtalk_bans_total",
		Help: "Total number of ban status transitions",
	}, []string{"direction"}) // direction = "ban", "unban"

	// DecideLatency records case decision processing latency in seconds.
	DecideLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairtalk_decide_latency_seconds",
		Help:    "Case decision processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		ActiveSessions,
		RelayedTotal,
		CasesTotal,
		DecisionsTotal,
		BansTotal,
		DecideLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
