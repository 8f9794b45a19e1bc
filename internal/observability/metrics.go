package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Prompt throughput and agent step counts
//   - LLM request performance and token usage
//   - Tool execution patterns and latencies
//   - Credit consumption by kind (llm, tool)
//   - Error rates categorized by type and component
//   - Active prompt and websocket connection counts
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordAgentStep("coder")
//	metrics.RecordToolExecution("read_files", "success", time.Since(start).Seconds())
type Metrics struct {
	// PromptCounter counts prompts by agent type and outcome.
	// Labels: agent_type, status (success|error|cancelled)
	PromptCounter *prometheus.CounterVec

	// AgentStepCounter counts LLM steps by agent type.
	// Labels: agent_type
	AgentStepCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// CreditsConsumed tracks credits charged to users.
	// Labels: kind (llm|tool)
	CreditsConsumed *prometheus.CounterVec

	// GateRejections counts prompts rejected before reaching the runtime.
	// Labels: reason (auth|insufficient_credits|org_balance|validation)
	GateRejections *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (runtime|tool|gateway|billing), error_type
	ErrorCounter *prometheus.CounterVec

	// ActivePrompts is a gauge tracking prompts currently executing.
	ActivePrompts prometheus.Gauge

	// ActiveConnections is a gauge tracking open websocket sessions.
	ActiveConnections prometheus.Gauge

	// SubagentCounter counts spawned sub-agents by agent type.
	// Labels: agent_type, status (success|error)
	SubagentCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are registered with Prometheus's default registry and are
// served at the /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		PromptCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_prompts_total",
				Help: "Total number of prompts processed by agent type and status",
			},
			[]string{"agent_type", "status"},
		),

		AgentStepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_agent_steps_total",
				Help: "Total number of agent LLM steps by agent type",
			},
			[]string{"agent_type"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CreditsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_credits_consumed_total",
				Help: "Total credits charged to users by kind",
			},
			[]string{"kind"},
		),

		GateRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_gate_rejections_total",
				Help: "Total prompts rejected by the gating chain by reason",
			},
			[]string{"reason"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActivePrompts: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_prompts",
				Help: "Current number of prompts executing",
			},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_connections",
				Help: "Current number of open websocket sessions",
			},
		),

		SubagentCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_subagents_total",
				Help: "Total number of sub-agents spawned by agent type and status",
			},
			[]string{"agent_type", "status"},
		),
	}
}

// RecordPrompt records the outcome of one prompt run.
func (m *Metrics) RecordPrompt(agentType, status string) {
	m.PromptCounter.WithLabelValues(agentType, status).Inc()
}

// RecordAgentStep increments the step counter for an agent type.
func (m *Metrics) RecordAgentStep(agentType string) {
	m.AgentStepCounter.WithLabelValues(agentType).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
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

// RecordCredits adds consumed credits for the given kind ("llm" or "tool").
func (m *Metrics) RecordCredits(kind string, credits int64) {
	if credits > 0 {
		m.CreditsConsumed.WithLabelValues(kind).Add(float64(credits))
	}
}

// RecordGateRejection increments the rejection counter for a gating reason.
func (m *Metrics) RecordGateRejection(reason string) {
	m.GateRejections.WithLabelValues(reason).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordSubagent records a completed sub-agent run.
func (m *Metrics) RecordSubagent(agentType, status string) {
	m.SubagentCounter.WithLabelValues(agentType, status).Inc()
}

// PromptStarted increments the active prompts gauge.
func (m *Metrics) PromptStarted() { m.ActivePrompts.Inc() }

// PromptEnded decrements the active prompts gauge.
func (m *Metrics) PromptEnded() { m.ActivePrompts.Dec() }

// ConnectionOpened increments the active connections gauge.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

// ConnectionClosed decrements the active connections gauge.
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }
