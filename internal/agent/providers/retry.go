package providers

import (
	"context"
	"math/rand"

	"github.com/ironclaw/ironclaw/internal/agent"
	"github.com/ironclaw/ironclaw/internal/backoff"
)

// RetryConfig configures the Retry decorator.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   backoff.BackoffPolicy
}

// DefaultRetryConfig uses backoff's default base delay with a 3-attempt
// ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: backoff.DefaultPolicy()}
}

// Retry is the innermost decorator: orthogonal to each
// adapter's own transport retry loop, it catches the closed error taxonomy
// and reissues on RateLimited and transient RequestFailed.
type Retry struct {
	inner agent.LLMProvider
	cfg   RetryConfig
}

func NewRetry(inner agent.LLMProvider, cfg RetryConfig) *Retry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Retry{inner: inner, cfg: cfg}
}

func (r *Retry) ModelName() string                                  { return r.inner.ModelName() }
func (r *Retry) ActiveModelName() string                            { return r.inner.ActiveModelName() }
func (r *Retry) SetModel(id string)                                 { r.inner.SetModel(id) }
func (r *Retry) EffectiveModelName(ctx context.Context) string      { return r.inner.EffectiveModelName(ctx) }
func (r *Retry) CostPerToken() (float64, float64)                   { return r.inner.CostPerToken() }
func (r *Retry) ListModels(ctx context.Context) ([]agent.Model, error) { return r.inner.ListModels(ctx) }

func (r *Retry) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	var resp *agent.CompletionResponse
	err := r.run(ctx, func(attempt int) error {
		var callErr error
		resp, callErr = r.inner.Complete(ctx, req)
		return callErr
	})
	return resp, err
}

func (r *Retry) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	var resp *agent.ToolCompletionResponse
	err := r.run(ctx, func(attempt int) error {
		var callErr error
		resp, callErr = r.inner.CompleteWithTools(ctx, req)
		return callErr
	})
	return resp, err
}

func (r *Retry) run(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !shouldRetryDecorator(lastErr) || attempt == r.cfg.MaxAttempts-1 {
			return lastErr
		}
		// #nosec G404 -- jitter does not require cryptographic randomness
		delay := backoff.ComputeBackoffWithRand(r.cfg.BaseDelay, attempt+1, rand.Float64())
		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

// shouldRetryDecorator reissues on RateLimited and transient RequestFailed
// (narrower than Kind.IsRetryable's permissive RequestFailed default, which
// the adapter's own transport loop already applied once).
func shouldRetryDecorator(err error) bool {
	pe, ok := AsProviderError(err)
	if !ok {
		return false
	}
	switch pe.Kind {
	case KindRateLimited:
		return true
	case KindRequestFailed:
		return pe.Retryable
	default:
		return false
	}
}
