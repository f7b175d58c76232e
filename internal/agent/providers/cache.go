package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ironclaw/ironclaw/internal/agent"
	"github.com/ironclaw/ironclaw/internal/observability"
)

// ResponseCacheConfig configures the ResponseCache decorator.
type ResponseCacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{MaxEntries: 512, TTL: 5 * time.Minute}
}

// ResponseCache is keyed by a fingerprint over (model, serialized messages,
// temperature, max_tokens). Only Complete is cached;
// CompleteWithTools always bypasses because tool calls must be fresh.
type ResponseCache struct {
	inner   agent.LLMProvider
	lru     *expirable.LRU[string, agent.CompletionResponse]
	metrics *observability.Metrics
}

func NewResponseCache(inner agent.LLMProvider, cfg ResponseCacheConfig) *ResponseCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 512
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &ResponseCache{
		inner: inner,
		lru:   expirable.NewLRU[string, agent.CompletionResponse](cfg.MaxEntries, nil, cfg.TTL),
	}
}

// WithMetrics attaches an observability.Metrics sink: every Complete call
// records a cache hit or miss and updates the provider's running hit rate.
func (c *ResponseCache) WithMetrics(metrics *observability.Metrics) *ResponseCache {
	c.metrics = metrics
	return c
}

func (c *ResponseCache) ModelName() string                                  { return c.inner.ModelName() }
func (c *ResponseCache) ActiveModelName() string                            { return c.inner.ActiveModelName() }
func (c *ResponseCache) SetModel(id string)                                 { c.inner.SetModel(id) }
func (c *ResponseCache) EffectiveModelName(ctx context.Context) string      { return c.inner.EffectiveModelName(ctx) }
func (c *ResponseCache) CostPerToken() (float64, float64)                   { return c.inner.CostPerToken() }
func (c *ResponseCache) ListModels(ctx context.Context) ([]agent.Model, error) { return c.inner.ListModels(ctx) }

func (c *ResponseCache) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	key := fingerprintRequest(req)
	if cached, ok := c.lru.Get(key); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheLookup(c.inner.ModelName(), true)
		}
		resp := cached
		return &resp, nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(c.inner.ModelName(), false)
	}
	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, *resp)
	return resp, nil
}

// CompleteWithTools always bypasses the cache.
func (c *ResponseCache) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	return c.inner.CompleteWithTools(ctx, req)
}

// fingerprintRequest hashes (model, serialized messages, temperature,
// max_tokens) into a stable cache key.
func fingerprintRequest(req *agent.CompletionRequest) string {
	payload := struct {
		Model       string              `json:"model"`
		Messages    []agent.ChatMessage `json:"messages"`
		Temperature float64             `json:"temperature"`
		MaxTokens   int                 `json:"max_tokens"`
	}{req.Model, req.Messages, req.Temperature, req.MaxTokens}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("unmarshalable:%p", req)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
