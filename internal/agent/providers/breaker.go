package providers

import (
	"context"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/agent"
	"github.com/ironclaw/ironclaw/internal/observability"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreakerConfig configures the CircuitBreaker decorator.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoverySecs     int
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, RecoverySecs: 30}
}

// CircuitBreaker is a three-state breaker: opens after N
// consecutive retryable failures, stays open for RecoverySecs, then admits
// exactly one half-open probe. Success closes it; failure re-opens it.
type CircuitBreaker struct {
	inner agent.LLMProvider
	cfg   CircuitBreakerConfig

	metrics *observability.Metrics

	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
}

func NewCircuitBreaker(inner agent.LLMProvider, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoverySecs <= 0 {
		cfg.RecoverySecs = 30
	}
	return &CircuitBreaker{inner: inner, cfg: cfg, state: breakerClosed}
}

// WithMetrics attaches an observability.Metrics sink: every state
// transition updates that provider's breaker-state gauge.
func (b *CircuitBreaker) WithMetrics(metrics *observability.Metrics) *CircuitBreaker {
	b.metrics = metrics
	return b
}

func (b *CircuitBreaker) reportState() {
	if b.metrics == nil {
		return
	}
	var state string
	switch b.state {
	case breakerHalfOpen:
		state = "half_open"
	case breakerOpen:
		state = "open"
	default:
		state = "closed"
	}
	b.metrics.SetBreakerState(b.inner.ModelName(), state)
}

func (b *CircuitBreaker) ModelName() string                                  { return b.inner.ModelName() }
func (b *CircuitBreaker) ActiveModelName() string                            { return b.inner.ActiveModelName() }
func (b *CircuitBreaker) SetModel(id string)                                 { b.inner.SetModel(id) }
func (b *CircuitBreaker) EffectiveModelName(ctx context.Context) string      { return b.inner.EffectiveModelName(ctx) }
func (b *CircuitBreaker) CostPerToken() (float64, float64)                   { return b.inner.CostPerToken() }
func (b *CircuitBreaker) ListModels(ctx context.Context) ([]agent.Model, error) { return b.inner.ListModels(ctx) }

func (b *CircuitBreaker) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	if !b.allow() {
		return nil, &ProviderError{Kind: KindProviderUnavailable, Provider: "breaker", Message: "circuit open"}
	}
	resp, err := b.inner.Complete(ctx, req)
	b.record(err)
	return resp, err
}

func (b *CircuitBreaker) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	if !b.allow() {
		return nil, &ProviderError{Kind: KindProviderUnavailable, Provider: "breaker", Message: "circuit open"}
	}
	resp, err := b.inner.CompleteWithTools(ctx, req)
	b.record(err)
	return resp, err
}

// allow reports whether a request may proceed, transitioning Open->HalfOpen
// once the recovery window elapses.
func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= time.Duration(b.cfg.RecoverySecs)*time.Second {
			b.state = breakerHalfOpen
			b.reportState()
			return true
		}
		return false
	default:
		return true
	}
}

// record applies the outcome of the just-allowed request to the state
// machine: a HalfOpen probe's success closes the breaker, its failure
// re-opens it; in Closed, consecutive retryable failures accumulate until
// the threshold trips.
func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		if err == nil {
			b.state = breakerClosed
			b.consecutiveFails = 0
		} else {
			b.state = breakerOpen
			b.openedAt = time.Now()
		}
		b.reportState()
		return
	}

	if err == nil {
		b.consecutiveFails = 0
		return
	}
	if !isBreakerCountedFailure(err) {
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.reportState()
	}
}

func isBreakerCountedFailure(err error) bool {
	pe, ok := AsProviderError(err)
	if !ok {
		return true
	}
	return pe.Kind.IsRetryable()
}
