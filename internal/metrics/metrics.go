// Package metrics exposes delivery counters for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planmail"

var (
	// Items counts finished (recipient, item) outcomes by delivery mode and status.
	Items = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_items_total",
		Help:      "Delivery items recorded, by mode and final status.",
	}, []string{"mode", "status"})

	// Attempts counts collaborator calls by operation (generate, send) and error kind ("ok" on success).
	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collaborator_attempts_total",
		Help:      "Generator and sender calls, by operation and outcome.",
	}, []string{"operation", "outcome"})

	// JobTransitions counts job status changes written by the worker, watchdog and rollover.
	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_transitions_total",
		Help:      "Job status transitions, by target status and actor.",
	}, []string{"status", "actor"})

	// Executions counts executions by terminal status.
	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Finished executions, by status.",
	}, []string{"status"})

	// ThrottleSeconds is the delay between sends currently in effect.
	ThrottleSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "throttle_seconds",
		Help:      "Current pause between consecutive sends.",
	})

	// Alerts counts operator alerts raised.
	Alerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Operator alerts raised.",
	})

	// SchedulerRuns counts periodic task runs by task and result.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_runs_total",
		Help:      "Cron task runs, by task and result.",
	}, []string{"task", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
