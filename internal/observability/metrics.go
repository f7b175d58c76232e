package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus metric set for the agent runtime: LLM request
// accounting, reasoning-loop turn outcomes, tool dispatch, and the decorator
// chain's cache and breaker state.
type Metrics struct {
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// Labels: provider, model, status
	LLMRequestCounter *prometheus.CounterVec

	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// Labels: provider, model
	LLMCost *prometheus.CounterVec

	// Labels: tool_name, status
	ToolExecutionCounter *prometheus.CounterVec

	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec

	// Labels: outcome (continue|done|error)
	ReasoningTurns *prometheus.CounterVec

	// Labels: provider, result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// Labels: provider
	CacheHitRate *prometheus.GaugeVec

	// Labels: provider. Value: 0 closed, 1 half-open, 2 open.
	BreakerState *prometheus.GaugeVec

	cacheMu    sync.Mutex
	cacheHits  map[string]uint64
	cacheTotal map[string]uint64
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at application startup; a second call panics on
// duplicate registration.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironclaw_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCost: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_llm_cost_usd_total",
				Help: "Estimated LLM spend in USD by provider and model",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironclaw_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		ReasoningTurns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_reasoning_turns_total",
				Help: "Reasoning loop iterations by outcome (continue, done, error)",
			},
			[]string{"outcome"},
		),

		CacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironclaw_response_cache_lookups_total",
				Help: "Response cache decorator lookups by provider and result",
			},
			[]string{"provider", "result"},
		),

		CacheHitRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ironclaw_response_cache_hit_rate",
				Help: "Running response cache hit rate per provider",
			},
			[]string{"provider"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ironclaw_circuit_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
			},
			[]string{"provider"},
		),

		cacheHits:  make(map[string]uint64),
		cacheTotal: make(map[string]uint64),
	}
}

// RecordLLMRequest records one provider call with its duration, outcome,
// and token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost adds the estimated USD cost of one completed request.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	m.LLMCost.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records one dispatched tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordTurn records one reasoning loop iteration's outcome
// (continue, done, or error).
func (m *Metrics) RecordTurn(outcome string) {
	m.ReasoningTurns.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records a response-cache decorator lookup and updates
// that provider's running hit rate gauge.
func (m *Metrics) RecordCacheLookup(provider string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(provider, result).Inc()

	m.cacheMu.Lock()
	m.cacheTotal[provider]++
	if hit {
		m.cacheHits[provider]++
	}
	rate := float64(m.cacheHits[provider]) / float64(m.cacheTotal[provider])
	m.cacheMu.Unlock()

	m.CacheHitRate.WithLabelValues(provider).Set(rate)
}

// SetBreakerState sets the circuit breaker decorator's state gauge for
// provider. state must be one of "closed", "half_open", "open".
func (m *Metrics) SetBreakerState(provider, state string) {
	value := 0.0
	switch state {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	m.BreakerState.WithLabelValues(provider).Set(value)
}
