package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// Every Record/Set helper is safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Execution metrics
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionErrorsTotal *prometheus.CounterVec
	ExecutionMemoryBytes *prometheus.HistogramVec

	// Registry metrics
	DefinitionsRegistered *prometheus.GaugeVec

	// Sandbox metrics
	SandboxLimitBreachesTotal *prometheus.CounterVec
	SandboxActiveExecutions   prometheus.Gauge

	// Security metrics
	SecurityDenialsTotal   *prometheus.CounterVec
	RateLimitRejectedTotal *prometheus.CounterVec
	PermissionCacheLookups *prometheus.CounterVec

	// Resource metrics
	ResourcesTracked     *prometheus.GaugeVec
	ResourceCleanupTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Execution metrics
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_executions_total",
				Help: "Total number of function and tool executions",
			},
			[]string{"kind", "name", "status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolguard_execution_duration_seconds",
				Help:    "Duration of executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "name"},
		),
		ExecutionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_execution_errors_total",
				Help: "Total number of failed executions by error kind",
			},
			[]string{"kind", "name", "error_type"},
		),
		ExecutionMemoryBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolguard_execution_memory_bytes",
				Help:    "Memory reported by a single execution",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"kind"},
		),

		DefinitionsRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolguard_definitions_registered",
				Help: "Number of registered functions and tools",
			},
			[]string{"kind"},
		),

		SandboxLimitBreachesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_sandbox_limit_breaches_total",
				Help: "Total number of sandbox limit breaches by limit",
			},
			[]string{"limit"},
		),
		SandboxActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolguard_sandbox_active_executions",
				Help: "Number of handlers currently running inside the sandbox",
			},
		),

		SecurityDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_security_denials_total",
				Help: "Total number of permission denials by action and reason",
			},
			[]string{"action", "reason"},
		),
		RateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_rate_limit_rejected_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"action"},
		),
		PermissionCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_permission_cache_lookups_total",
				Help: "Permission decision cache lookups by result",
			},
			[]string{"result"},
		),

		ResourcesTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolguard_resources_tracked",
				Help: "Number of tracked resources by type",
			},
			[]string{"type"},
		),
		ResourceCleanupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolguard_resource_cleanup_total",
				Help: "Resource release attempts by result",
			},
			[]string{"result"},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ExecutionsTotal)
	m.registry.MustRegister(m.ExecutionDuration)
	m.registry.MustRegister(m.ExecutionErrorsTotal)
	m.registry.MustRegister(m.ExecutionMemoryBytes)

	m.registry.MustRegister(m.DefinitionsRegistered)

	m.registry.MustRegister(m.SandboxLimitBreachesTotal)
	m.registry.MustRegister(m.SandboxActiveExecutions)

	m.registry.MustRegister(m.SecurityDenialsTotal)
	m.registry.MustRegister(m.RateLimitRejectedTotal)
	m.registry.MustRegister(m.PermissionCacheLookups)

	m.registry.MustRegister(m.ResourcesTracked)
	m.registry.MustRegister(m.ResourceCleanupTotal)
}

// RecordExecution records one finished execution
func (m *Metrics) RecordExecution(kind, name, status string, duration time.Duration, memory int64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(kind, name, status).Inc()
	m.ExecutionDuration.WithLabelValues(kind, name).Observe(duration.Seconds())
	if memory > 0 {
		m.ExecutionMemoryBytes.WithLabelValues(kind).Observe(float64(memory))
	}
}

// RecordExecutionError records a failed execution by error kind
func (m *Metrics) RecordExecutionError(kind, name, errorType string) {
	if m == nil {
		return
	}
	m.ExecutionErrorsTotal.WithLabelValues(kind, name, errorType).Inc()
}

// SetDefinitions sets the registered definition count for a kind
func (m *Metrics) SetDefinitions(kind string, n int) {
	if m == nil {
		return
	}
	m.DefinitionsRegistered.WithLabelValues(kind).Set(float64(n))
}

// RecordLimitBreach counts a sandbox limit breach ("cpu", "memory", "bandwidth")
func (m *Metrics) RecordLimitBreach(limit string) {
	if m == nil {
		return
	}
	m.SandboxLimitBreachesTotal.WithLabelValues(limit).Inc()
}

// SandboxEnter marks a handler as running
func (m *Metrics) SandboxEnter() {
	if m == nil {
		return
	}
	m.SandboxActiveExecutions.Inc()
}

// SandboxExit marks a handler as finished
func (m *Metrics) SandboxExit() {
	if m == nil {
		return
	}
	m.SandboxActiveExecutions.Dec()
}

// RecordDenial counts a permission denial
func (m *Metrics) RecordDenial(action, reason string) {
	if m == nil {
		return
	}
	m.SecurityDenialsTotal.WithLabelValues(action, reason).Inc()
}

// RecordRateLimited counts a rate limit rejection
func (m *Metrics) RecordRateLimited(action string) {
	if m == nil {
		return
	}
	m.RateLimitRejectedTotal.WithLabelValues(action).Inc()
}

// RecordCacheLookup counts a decision cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheLookups.WithLabelValues(result).Inc()
}

// SetResourcesTracked sets the tracked resource count for a type
func (m *Metrics) SetResourcesTracked(typ string, n int) {
	if m == nil {
		return
	}
	m.ResourcesTracked.WithLabelValues(typ).Set(float64(n))
}

// RecordCleanup counts one release attempt ("success" or "failure")
func (m *Metrics) RecordCleanup(result string) {
	if m == nil {
		return
	}
	m.ResourceCleanupTotal.WithLabelValues(result).Inc()
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
