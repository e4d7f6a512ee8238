// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pilot"

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can run without instrumentation.
type Metrics struct {
	completionRequests *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	completionTokens   *prometheus.CounterVec
	completionCost     *prometheus.CounterVec
	completionFallback *prometheus.CounterVec

	decisions     *prometheus.CounterVec
	verifications *prometheus.CounterVec

	catalogRefreshes *prometheus.CounterVec
	catalogModels    prometheus.Gauge
	catalogVersion   prometheus.Gauge

	routerUpdates *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		completionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completion_requests_total",
			Help:      "Completion calls by task type, model, provider and outcome.",
		}, []string{"task_type", "model", "provider", "status"}),
		completionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"task_type", "model"}),
		completionTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completion_tokens_total",
			Help:      "Tokens consumed, split by direction.",
		}, []string{"task_type", "model", "direction"}),
		completionCost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completion_cost_total",
			Help:      "Estimated spend in USD.",
		}, []string{"task_type", "model"}),
		completionFallback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completion_fallbacks_total",
			Help:      "Calls retried against the fallback model.",
		}, []string{"task_type"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decisions_total",
			Help:      "Decision loop iterations by action kind and outcome.",
		}, []string{"action", "outcome"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "verification_criteria_total",
			Help:      "Evaluated verification criteria.",
		}, []string{"type", "result"}),
		catalogRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_refreshes_total",
			Help:      "Model catalog refresh attempts.",
		}, []string{"status"}),
		catalogModels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_models",
			Help:      "Models in the current catalog snapshot.",
		}),
		catalogVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_version",
			Help:      "Version of the current catalog snapshot.",
		}),
		routerUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "router_config_updates_total",
			Help:      "Task model configs rewritten by the optimizer.",
		}, []string{"task_type"}),
	}
}

// ObserveCompletion records a finished completion attempt.
func (m *Metrics) ObserveCompletion(taskType, model, provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.completionRequests.WithLabelValues(taskType, model, provider, status).Inc()
	m.completionDuration.WithLabelValues(taskType, model).Observe(d.Seconds())
}

// ObserveUsage records token consumption and estimated cost.
func (m *Metrics) ObserveUsage(taskType, model string, inputTokens, outputTokens int, cost float64) {
	if m == nil {
		return
	}
	m.completionTokens.WithLabelValues(taskType, model, "input").Add(float64(inputTokens))
	m.completionTokens.WithLabelValues(taskType, model, "output").Add(float64(outputTokens))
	m.completionCost.WithLabelValues(taskType, model).Add(cost)
}

// IncFallback counts a retry against the fallback model.
func (m *Metrics) IncFallback(taskType string) {
	if m == nil {
		return
	}
	m.completionFallback.WithLabelValues(taskType).Inc()
}

// IncDecision counts a decision iteration.
func (m *Metrics) IncDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action, outcome).Inc()
}

// IncVerification counts one evaluated criterion.
func (m *Metrics) IncVerification(criterionType string, passed bool) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.verifications.WithLabelValues(criterionType, result).Inc()
}

// ObserveCatalogRefresh records a refresh attempt and, on success, the new snapshot size.
func (m *Metrics) ObserveCatalogRefresh(err error, models int, version uint64) {
	if m == nil {
		return
	}
	if err != nil {
		m.catalogRefreshes.WithLabelValues("error").Inc()
		return
	}
	m.catalogRefreshes.WithLabelValues("success").Inc()
	m.catalogModels.Set(float64(models))
	m.catalogVersion.Set(float64(version))
}

// IncRouterUpdate counts a config rewrite by the optimizer.
func (m *Metrics) IncRouterUpdate(taskType string) {
	if m == nil {
		return
	}
	m.routerUpdates.WithLabelValues(taskType).Inc()
}
