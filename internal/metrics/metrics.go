// Package metrics exposes Prometheus instruments for searches, external
// provider calls and the result cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitefinder"

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeEmpty    = "empty"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
)

// Cache result label values.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Registry holds every instrument in this package.
var Registry = prometheus.NewRegistry()

var (
	// Searches counts completed searches by outcome.
	Searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Site searches run, by outcome.",
	}, []string{"outcome"})

	// CandidatesScored counts candidate coordinates passed through the scorer.
	CandidatesScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_scored_total",
		Help:      "Candidate coordinates scored.",
	})

	// SearchDuration observes wall-clock time per search.
	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Duration of a full site search.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// ExternalCalls counts calls to external providers by service and outcome.
	ExternalCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_calls_total",
		Help:      "Calls to external providers, by service and outcome.",
	}, []string{"service", "outcome"})

	// CacheRequests counts cache lookups by service and result.
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Result cache lookups, by service and result.",
	}, []string{"service", "result"})
)

func init() {
	Registry.MustRegister(
		Searches,
		CandidatesScored,
		SearchDuration,
		ExternalCalls,
		CacheRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveExternal records one external call outcome.
func ObserveExternal(service string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	ExternalCalls.WithLabelValues(service, outcome).Inc()
}
