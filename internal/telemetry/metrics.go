package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	VariantsGenerated = prometheus.NewCounter(prometheus.CounterOpts{Name: "msgforge_variants_generated_total", Help: "Variants generated and scored"})
	GenerationErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "msgforge_generation_errors_total", Help: "Variant generations that failed after retries"})
	GateOutcomes      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "msgforge_gate_outcomes_total", Help: "Quality gate results by outcome"}, []string{"outcome"})
	ScorerFailures    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "msgforge_scorer_failures_total", Help: "Scorer runs replaced by the neutral fallback"}, []string{"scorer"})
	JobTransitions    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "msgforge_job_transitions_total", Help: "Generation job status transitions"}, []string{"to"})
	ActionOutcomes    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "msgforge_action_outcomes_total", Help: "Background action terminal statuses"}, []string{"status"})
	RetryAttempts     = prometheus.NewCounter(prometheus.CounterOpts{Name: "msgforge_retry_attempts_total", Help: "Retries scheduled after a failed attempt"})
	LimiterWaiting    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "msgforge_ratelimit_waiting", Help: "Callers suspended in the rate limiter"})
	SchedulesRun      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "msgforge_discovery_schedules_total", Help: "Discovery schedule runs by result"}, []string{"result"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			VariantsGenerated,
			GenerationErrors,
			GateOutcomes,
			ScorerFailures,
			JobTransitions,
			ActionOutcomes,
			RetryAttempts,
			LimiterWaiting,
			SchedulesRun,
		)
	})
	return promhttp.Handler()
}
