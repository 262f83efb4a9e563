package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application
// metrics, scoped to
// the concerns this runtime actually exercises: model requests, tool
// executions, agent runs, and session lifetime.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordLLMRequest("ollama", "qwen2.5-coder", "success", 1.2, 512, 128)
type Metrics struct {
	// LLMRequestDuration measures model request latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, and type
	// (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind (the closed
	// taxonomy).
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// ContextWindowUsed tracks context-window token utilization.
	// Labels: provider, model.
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts agent run attempts by outcome (success|retry|failed).
	RunAttempts *prometheus.CounterVec

	// PoolOccupancy is a gauge tracking how many AgentPool slots are in use.
	PoolOccupancy prometheus.Gauge

	// WatchdogTimeouts counts ActivityWatchdog timeout firings.
	WatchdogTimeouts prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// startup; subsequent calls would panic on duplicate registration, so the
// caller (cmd/ally) constructs a single instance and threads it through.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ally_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 240},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ally_llm_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ally_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ally_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ally_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ally_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_type"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ally_active_sessions",
				Help: "Current number of active sessions",
			},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ally_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400},
			},
		),
		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ally_context_window_tokens",
				Help:    "Context window tokens used",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),
		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ally_run_attempts_total",
				Help: "Total number of agent run attempts by outcome",
			},
			[]string{"status"},
		),
		PoolOccupancy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ally_agent_pool_occupancy",
				Help: "Current number of AgentPool entries in use",
			},
		),
		WatchdogTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ally_watchdog_timeouts_total",
				Help: "Total number of ActivityWatchdog timeout firings",
			},
		),
	}
}

// RecordLLMRequest records metrics for a model request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error kind.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records an agent run attempt.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// SetPoolOccupancy sets the current AgentPool occupancy gauge.
func (m *Metrics) SetPoolOccupancy(inUse int) {
	m.PoolOccupancy.Set(float64(inUse))
}

// RecordWatchdogTimeout increments the watchdog timeout counter.
func (m *Metrics) RecordWatchdogTimeout() {
	m.WatchdogTimeouts.Inc()
}
