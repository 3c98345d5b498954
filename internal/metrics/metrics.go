package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Tool metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	ToolCacheHitsTotal    prometheus.Counter
	ToolCostDaily         prometheus.Gauge
	ToolCostMonthly       prometheus.Gauge

	// Agent metrics
	AgentRunsTotal *prometheus.CounterVec

	// Provider metrics
	ProviderCallsTotal     *prometheus.CounterVec
	ProviderFallbacksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tool_cache_hits_total",
				Help: "Total number of tool results served from cache",
			},
		),
		ToolCostDaily: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tool_cost_daily_usd",
				Help: "Accumulated tool cost for the current day in USD",
			},
		),
		ToolCostMonthly: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tool_cost_monthly_usd",
				Help: "Accumulated tool cost for the current month in USD",
			},
		),

		AgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_total",
				Help: "Total number of agent runs by outcome",
			},
			[]string{"agent", "status"},
		),

		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total number of LLM provider calls",
			},
			[]string{"provider", "status"},
		),
		ProviderFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_fallbacks_total",
				Help: "Total number of provider fallback attempts",
			},
			[]string{"from", "to"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ToolExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionDuration)
	m.registry.MustRegister(m.ToolCacheHitsTotal)
	m.registry.MustRegister(m.ToolCostDaily)
	m.registry.MustRegister(m.ToolCostMonthly)

	m.registry.MustRegister(m.AgentRunsTotal)

	m.registry.MustRegister(m.ProviderCallsTotal)
	m.registry.MustRegister(m.ProviderFallbacksTotal)
}

// ToolExecuted records one tool execution outcome.
func (m *Metrics) ToolExecuted(tool, status string, duration time.Duration, cached bool) {
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if cached {
		m.ToolCacheHitsTotal.Inc()
	}
}

// CostUpdated records the current cost counters.
func (m *Metrics) CostUpdated(daily, monthly float64) {
	m.ToolCostDaily.Set(daily)
	m.ToolCostMonthly.Set(monthly)
}

// AgentRun records one agent run outcome.
func (m *Metrics) AgentRun(agent, status string) {
	m.AgentRunsTotal.WithLabelValues(agent, status).Inc()
}

// ProviderCall records one provider call outcome.
func (m *Metrics) ProviderCall(provider, status string) {
	m.ProviderCallsTotal.WithLabelValues(provider, status).Inc()
}

// ProviderFallback records one fallback attempt.
func (m *Metrics) ProviderFallback(from, to string) {
	m.ProviderFallbacksTotal.WithLabelValues(from, to).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
