package providers

import (
	"context"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// FailoverConfig configures the Failover decorator.
type FailoverConfig struct {
	CooldownThreshold int
	CooldownSecs      int
}

func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{CooldownThreshold: 3, CooldownSecs: 60}
}

// Failover wraps two inner providers: primary is tried first,
// and on retryable-class errors - or during a cooldown window entered
// after CooldownThreshold consecutive primary failures - the fallback is
// used instead. Failures on the fallback are surfaced as-is.
type Failover struct {
	primary  agent.LLMProvider
	fallback agent.LLMProvider
	cfg      FailoverConfig

	mu                  sync.Mutex
	consecutiveFailures int
	cooldownUntil       time.Time
}

func NewFailover(primary, fallback agent.LLMProvider, cfg FailoverConfig) *Failover {
	if cfg.CooldownThreshold <= 0 {
		cfg.CooldownThreshold = 3
	}
	if cfg.CooldownSecs <= 0 {
		cfg.CooldownSecs = 60
	}
	return &Failover{primary: primary, fallback: fallback, cfg: cfg}
}

func (f *Failover) ModelName() string       { return f.primary.ModelName() }
func (f *Failover) ActiveModelName() string { return f.primary.ActiveModelName() }
func (f *Failover) SetModel(id string) {
	f.primary.SetModel(id)
	f.fallback.SetModel(id)
}
func (f *Failover) EffectiveModelName(ctx context.Context) string {
	return f.primary.EffectiveModelName(ctx)
}
func (f *Failover) CostPerToken() (float64, float64) { return f.primary.CostPerToken() }
func (f *Failover) ListModels(ctx context.Context) ([]agent.Model, error) {
	return f.primary.ListModels(ctx)
}

func (f *Failover) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	if f.inCooldown() {
		return f.fallback.Complete(ctx, req)
	}
	resp, err := f.primary.Complete(ctx, req)
	if err == nil {
		f.recordSuccess()
		return resp, nil
	}
	if !shouldFailover(err) {
		return nil, err
	}
	f.recordFailure()
	return f.fallback.Complete(ctx, req)
}

func (f *Failover) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	if f.inCooldown() {
		return f.fallback.CompleteWithTools(ctx, req)
	}
	resp, err := f.primary.CompleteWithTools(ctx, req)
	if err == nil {
		f.recordSuccess()
		return resp, nil
	}
	if !shouldFailover(err) {
		return nil, err
	}
	f.recordFailure()
	return f.fallback.CompleteWithTools(ctx, req)
}

func (f *Failover) inCooldown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.cooldownUntil.IsZero() && time.Now().Before(f.cooldownUntil)
}

func (f *Failover) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutiveFailures = 0
	f.cooldownUntil = time.Time{}
}

func (f *Failover) recordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutiveFailures++
	if f.consecutiveFailures >= f.cfg.CooldownThreshold {
		f.cooldownUntil = time.Now().Add(time.Duration(f.cfg.CooldownSecs) * time.Second)
	}
}

func shouldFailover(err error) bool {
	pe, ok := AsProviderError(err)
	if !ok {
		return true
	}
	return pe.Kind.IsRetryable()
}
