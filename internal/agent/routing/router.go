// Package routing implements the SmartRouter decorator and its
// task-scoped routing binding.
package routing

import (
	"context"
	"sync/atomic"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// SmartRouterConfig configures a SmartRouter.
type SmartRouterConfig struct {
	Classify       ClassifyConfig
	CascadeEnabled bool
}

func DefaultSmartRouterConfig() SmartRouterConfig {
	return SmartRouterConfig{Classify: DefaultClassifyConfig(), CascadeEnabled: true}
}

// Counters reports the SmartRouter's routing decisions for observability.
type Counters struct {
	Total             int64
	Cheap             int64
	Primary           int64
	CascadeEscalations int64
}

// SmartRouter is the outermost decorator in the chain:
// classifies the last user message into {Simple, Complex, Moderate} and
// routes Complete calls accordingly; CompleteWithTools always goes to the
// primary, since tool-structured output is never risked on the cheap tier.
type SmartRouter struct {
	cheap   agent.LLMProvider
	primary agent.LLMProvider
	cfg     SmartRouterConfig

	router *taskRouteRecorder

	total    int64
	cheapN   int64
	primaryN int64
	cascadeN int64
}

func NewSmartRouter(cheap, primary agent.LLMProvider, cfg SmartRouterConfig) *SmartRouter {
	return &SmartRouter{
		cheap:   cheap,
		primary: primary,
		cfg:     cfg,
		router:  newTaskRouteRecorder(),
	}
}

func (r *SmartRouter) ModelName() string       { return r.primary.ModelName() }
func (r *SmartRouter) ActiveModelName() string { return r.primary.ActiveModelName() }
func (r *SmartRouter) SetModel(id string) {
	r.primary.SetModel(id)
	r.cheap.SetModel(id)
}
func (r *SmartRouter) EffectiveModelName(ctx context.Context) string {
	return r.router.take(ctx, r.primary.ActiveModelName())
}
func (r *SmartRouter) CostPerToken() (float64, float64) { return r.primary.CostPerToken() }
func (r *SmartRouter) ListModels(ctx context.Context) ([]agent.Model, error) {
	return r.primary.ListModels(ctx)
}

// Counters returns a snapshot of the routing decision counts.
func (r *SmartRouter) Counters() Counters {
	return Counters{
		Total:              atomic.LoadInt64(&r.total),
		Cheap:              atomic.LoadInt64(&r.cheapN),
		Primary:            atomic.LoadInt64(&r.primaryN),
		CascadeEscalations: atomic.LoadInt64(&r.cascadeN),
	}
}

func (r *SmartRouter) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	atomic.AddInt64(&r.total, 1)

	class := Classify(req, r.cfg.Classify)
	switch class {
	case Simple:
		atomic.AddInt64(&r.cheapN, 1)
		resp, err := r.cheap.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		r.router.record(ctx, r.cheap.ActiveModelName())
		return resp, nil
	case Complex:
		atomic.AddInt64(&r.primaryN, 1)
		resp, err := r.primary.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		r.router.record(ctx, r.primary.ActiveModelName())
		return resp, nil
	default: // Moderate
		atomic.AddInt64(&r.cheapN, 1)
		resp, err := r.cheap.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if r.cfg.CascadeEnabled && looksUncertain(resp.Content) {
			atomic.AddInt64(&r.cascadeN, 1)
			atomic.AddInt64(&r.primaryN, 1)
			primaryResp, err := r.primary.Complete(ctx, req)
			if err != nil {
				return nil, err
			}
			r.router.record(ctx, r.primary.ActiveModelName())
			return primaryResp, nil
		}
		r.router.record(ctx, r.cheap.ActiveModelName())
		return resp, nil
	}
}

// CompleteWithTools always routes to the primary.
func (r *SmartRouter) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	atomic.AddInt64(&r.total, 1)
	atomic.AddInt64(&r.primaryN, 1)
	resp, err := r.primary.CompleteWithTools(ctx, req)
	if err != nil {
		return nil, err
	}
	r.router.record(ctx, r.primary.ActiveModelName())
	return resp, nil
}
