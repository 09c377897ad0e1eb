package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is shared by the API and the worker.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		JobDuration, JobTotal, FallbackTotal,
		ConsensusRuns, HoldTotal, VerdictTotal,
	)
}

var JobDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "mistakepatch_job_duration_seconds",
		Help:    "Grading job duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mistakepatch_job_total",
		Help: "Grading jobs by terminal status",
	},
	[]string{"status"}, // done | failed
)

var FallbackTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "mistakepatch_fallback_total",
		Help: "Jobs graded from the static fallback payload",
	},
)

var ConsensusRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mistakepatch_consensus_runs",
		Help: "Generation runs by outcome",
	},
	[]string{"outcome"}, // ok | invalid | failed
)

var HoldTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "mistakepatch_hold_total",
		Help: "Jobs whose deductions were held for review",
	},
)

var VerdictTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mistakepatch_verdict_total",
		Help: "Final answer verdicts",
	},
	[]string{"verdict"},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
