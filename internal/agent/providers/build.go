package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ironclaw/ironclaw/internal/agent"
	"github.com/ironclaw/ironclaw/internal/agent/routing"
	"github.com/ironclaw/ironclaw/internal/config"
	"github.com/ironclaw/ironclaw/internal/observability"
)

// BuildChain constructs the default LLMProvider for cfg.DefaultProvider,
// wraps it with the decorator stack every adapter gets regardless of wire
// format (innermost first: Retry, ResponseCache, CircuitBreaker), and, if
// cfg.FallbackChain names any other configured providers, wraps the whole
// stack in a Failover against the first one that builds successfully. With
// cfg.Routing enabled, the result is additionally fronted by a SmartRouter
// whose cheap tier is cfg.Routing.CheapProvider's own decorated chain.
//
// metrics may be nil; when set, it is attached to the response cache and
// circuit breaker so their hit-rate and state gauges are populated.
func BuildChain(cfg *config.LLMConfig, metrics *observability.Metrics) (agent.LLMProvider, string, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if providerID == "" {
		providerID = "anthropic"
	}

	primary, model, err := buildProvider(cfg, providerID)
	if err != nil {
		return nil, "", err
	}
	chain := decorate(primary, metrics)

	for _, fallbackID := range cfg.FallbackChain {
		fallbackID = strings.ToLower(strings.TrimSpace(fallbackID))
		if fallbackID == "" || fallbackID == providerID {
			continue
		}
		fallback, _, ferr := buildProvider(cfg, fallbackID)
		if ferr != nil {
			continue
		}
		chain = NewFailover(chain, decorate(fallback, metrics), DefaultFailoverConfig())
		break
	}

	if cfg.Routing.Enabled {
		cheapID := strings.ToLower(strings.TrimSpace(cfg.Routing.CheapProvider))
		if cheapID == "" || cheapID == providerID {
			return nil, "", errors.New("routing: cheap_provider must name a distinct configured provider")
		}
		cheap, _, cerr := buildProvider(cfg, cheapID)
		if cerr != nil {
			return nil, "", fmt.Errorf("routing: build cheap provider: %w", cerr)
		}
		routerCfg := routing.DefaultSmartRouterConfig()
		routerCfg.CascadeEnabled = cfg.Routing.CascadeEnabled
		if cfg.Routing.ComplexMinChars > 0 {
			routerCfg.Classify.ComplexMinChars = cfg.Routing.ComplexMinChars
		}
		chain = routing.NewSmartRouter(decorate(cheap, metrics), chain, routerCfg)
	}

	return chain, model, nil
}

// decorate wraps a bare wire adapter with the shared Retry/ResponseCache/
// CircuitBreaker stack and attaches metrics to the two decorators that
// report state.
func decorate(inner agent.LLMProvider, metrics *observability.Metrics) agent.LLMProvider {
	retried := NewRetry(inner, DefaultRetryConfig())
	cached := NewResponseCache(retried, DefaultResponseCacheConfig())
	breaker := NewCircuitBreaker(cached, DefaultCircuitBreakerConfig())
	if metrics != nil {
		cached.WithMetrics(metrics)
		breaker.WithMetrics(metrics)
	}
	return breaker
}

func buildProvider(cfg *config.LLMConfig, providerID string) (agent.LLMProvider, string, error) {
	providerCfg, ok := cfg.Providers[providerID]
	if !ok {
		return nil, "", fmt.Errorf("llm provider config missing for %q", providerID)
	}

	switch providerID {
	case "anthropic":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("anthropic: api key is required")
		}
		provider, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
			BaseURL:      providerCfg.BaseURL,
		})
		return provider, providerCfg.DefaultModel, err

	case "openai":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("openai: api key is required")
		}
		provider, err := NewOpenAICompatProvider(OpenAIConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		return provider, providerCfg.DefaultModel, err

	case "bedrock":
		provider, err := NewBedrockProvider(BedrockConfig{
			Region:       cfg.Bedrock.Region,
			DefaultModel: providerCfg.DefaultModel,
		})
		return provider, providerCfg.DefaultModel, err

	case "venice":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("venice: api key is required")
		}
		provider, err := NewVeniceProvider(VeniceConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		return provider, providerCfg.DefaultModel, err

	case "nearai":
		provider, err := NewNearAIProvider(NearAIConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		return provider, providerCfg.DefaultModel, err

	case "codex":
		provider, err := NewCodexProvider(CodexConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		return provider, providerCfg.DefaultModel, err

	default:
		return nil, "", fmt.Errorf("unsupported llm provider %q", providerID)
	}
}
