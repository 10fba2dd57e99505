// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal       *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	leadsInserted    prometheus.Counter
	creditsDeducted  prometheus.Counter
	enrichmentJobs   *prometheus.CounterVec
	enrichmentQueued prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_pages_total",
				Help: "Result pages fetched, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_runs_total",
				Help: "Campaign runs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)
		leadsInserted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_leads_inserted_total",
				Help: "Unique lead rows written after dedup.",
			},
		)
		creditsDeducted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_credits_deducted_total",
				Help: "Credits charged for inserted leads.",
			},
		)
		enrichmentJobs = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadharvest_enrichment_jobs_total",
				Help: "Enrichment job attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		enrichmentQueued = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadharvest_enrichment_enqueued_total",
				Help: "Enrichment jobs enqueued by the orchestrator.",
			},
		)
	})
}

// PageFetch records one page fetch attempt.
func PageFetch(strategy string, success bool) {
	if pagesTotal == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	pagesTotal.WithLabelValues(strategy, outcome).Inc()
}

// RunFinished records a terminal run status.
func RunFinished(status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// LeadsInserted records newly written lead rows.
func LeadsInserted(n int) {
	if leadsInserted == nil || n <= 0 {
		return
	}
	leadsInserted.Add(float64(n))
}

// CreditsDeducted records charged credits.
func CreditsDeducted(n int) {
	if creditsDeducted == nil || n <= 0 {
		return
	}
	creditsDeducted.Add(float64(n))
}

// JobOutcome records one enrichment job attempt outcome
// (completed, retried, failed).
func JobOutcome(outcome string) {
	if enrichmentJobs == nil {
		return
	}
	enrichmentJobs.WithLabelValues(outcome).Inc()
}

// JobEnqueued records one enqueued enrichment job.
func JobEnqueued() {
	if enrichmentQueued == nil {
		return
	}
	enrichmentQueued.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
