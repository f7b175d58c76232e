package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// VeniceConfig configures a VeniceProvider. WebSearch/WebScraping/
// IncludeSystemPrompt are nil unless the deployment opted in, matching the
// teacher's pattern of only emitting venice_parameters when something was
// actually configured.
type VeniceConfig struct {
	APIKey                string
	BaseURL               string
	DefaultModel          string
	WebSearch             *string
	WebScraping           *bool
	IncludeSystemPrompt   *bool
	MaxRetries            int
}

// veniceCatalogTTL bounds how long a fetched model/pricing catalog is
// trusted before the next ListModels/CostPerToken call refreshes it
// the request body as chat-completions rather than Venice's own format.
const veniceCatalogTTL = time.Hour

type veniceModelInfo struct {
	ID                   string
	ContextLength        int
	InputCostPerMillion  float64
	OutputCostPerMillion float64
	hasPricing           bool
}

// VeniceProvider adapts the shared contract onto Venice's OpenAI-compatible
// chat-completions envelope, with a lazily refreshed model/pricing catalog
// and optional venice_parameters for web search/scraping.
type VeniceProvider struct {
	httpClient *http.Client
	cfg        VeniceConfig
	transport  TransportRetry

	mu          sync.RWMutex
	activeModel string

	catalogMu  sync.RWMutex
	catalog    []veniceModelInfo
	fetchedAt  time.Time

	router *taskRouteRecorder
}

func NewVeniceProvider(cfg VeniceConfig) (*VeniceProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("venice: API key is required")
	}
	if cfg.DefaultModel == "" {
		return nil, errors.New("venice: default model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.venice.ai/api/v1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &VeniceProvider{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		cfg:         cfg,
		transport:   TransportRetry{MaxRetries: cfg.MaxRetries},
		activeModel: cfg.DefaultModel,
		router:      newTaskRouteRecorder(),
	}, nil
}

func (p *VeniceProvider) apiURL(path string) string {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	return base + "/" + strings.TrimPrefix(path, "/")
}

func (p *VeniceProvider) ModelName() string { return p.cfg.DefaultModel }

func (p *VeniceProvider) ActiveModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeModel
}

func (p *VeniceProvider) SetModel(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	p.mu.Lock()
	p.activeModel = id
	p.mu.Unlock()
}

func (p *VeniceProvider) EffectiveModelName(ctx context.Context) string {
	return p.router.take(ctx, p.ActiveModelName())
}

var veniceDefaultCost = tokenCost{in: 1.0 / 1e6, out: 2.0 / 1e6}

// CostPerToken looks the active model up in the cached catalog (refreshed
// lazily by ListModels), falling back to a conservative default when the
// catalog has never been populated or lacks pricing for this model.
func (p *VeniceProvider) CostPerToken() (float64, float64) {
	active := p.ActiveModelName()
	p.catalogMu.RLock()
	defer p.catalogMu.RUnlock()
	for _, m := range p.catalog {
		if m.ID == active && m.hasPricing {
			return m.InputCostPerMillion / 1e6, m.OutputCostPerMillion / 1e6
		}
	}
	return veniceDefaultCost.in, veniceDefaultCost.out
}

func (p *VeniceProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	if err := p.refreshCatalogIfStale(ctx); err != nil {
		// A stale cache is better than an error; only surface the failure if
		// nothing has ever been fetched.
		p.catalogMu.RLock()
		empty := len(p.catalog) == 0
		p.catalogMu.RUnlock()
		if empty {
			return nil, err
		}
	}
	p.catalogMu.RLock()
	defer p.catalogMu.RUnlock()
	out := make([]agent.Model, 0, len(p.catalog))
	for _, m := range p.catalog {
		out = append(out, agent.Model{ID: m.ID, Name: m.ID, ContextSize: m.ContextLength})
	}
	return out, nil
}

type veniceModelPriceTier struct {
	USD *float64 `json:"usd"`
}

type veniceModelPricing struct {
	Input  *veniceModelPriceTier `json:"input"`
	Output *veniceModelPriceTier `json:"output"`
}

type veniceModelSpec struct {
	AvailableContextTokens *int                `json:"availableContextTokens"`
	Pricing                *veniceModelPricing `json:"pricing"`
}

type veniceAPIModelEntry struct {
	ID        string           `json:"id"`
	ModelSpec *veniceModelSpec `json:"model_spec"`
}

type veniceModelsResponse struct {
	Data []veniceAPIModelEntry `json:"data"`
}

func (p *VeniceProvider) refreshCatalogIfStale(ctx context.Context) error {
	p.catalogMu.RLock()
	stale := p.fetchedAt.IsZero() || time.Since(p.fetchedAt) > veniceCatalogTTL
	p.catalogMu.RUnlock()
	if !stale {
		return nil
	}

	var resp veniceModelsResponse
	_, err := getJSON(ctx, p.httpClient, p.apiURL("models"), map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}, &resp)
	if err != nil {
		return fmt.Errorf("venice: fetch models: %w", err)
	}

	models := make([]veniceModelInfo, 0, len(resp.Data))
	for _, entry := range resp.Data {
		info := veniceModelInfo{ID: entry.ID}
		if entry.ModelSpec != nil {
			if entry.ModelSpec.AvailableContextTokens != nil {
				info.ContextLength = *entry.ModelSpec.AvailableContextTokens
			}
			if p := entry.ModelSpec.Pricing; p != nil && p.Input != nil && p.Output != nil && p.Input.USD != nil && p.Output.USD != nil {
				info.InputCostPerMillion = *p.Input.USD
				info.OutputCostPerMillion = *p.Output.USD
				info.hasPricing = true
			}
		}
		models = append(models, info)
	}

	p.catalogMu.Lock()
	p.catalog = models
	p.fetchedAt = time.Now()
	p.catalogMu.Unlock()
	return nil
}

type veniceParameters struct {
	EnableWebSearch            *string `json:"enable_web_search,omitempty"`
	EnableWebScraping          *bool   `json:"enable_web_scraping,omitempty"`
	IncludeVeniceSystemPrompt  *bool   `json:"include_venice_system_prompt,omitempty"`
}

func (p *VeniceProvider) buildVeniceParameters() *veniceParameters {
	if p.cfg.WebSearch == nil && p.cfg.WebScraping == nil && p.cfg.IncludeSystemPrompt == nil {
		return nil
	}
	return &veniceParameters{
		EnableWebSearch:           p.cfg.WebSearch,
		EnableWebScraping:         p.cfg.WebScraping,
		IncludeVeniceSystemPrompt: p.cfg.IncludeSystemPrompt,
	}
}

type veniceChatMessage struct {
	Role       string              `json:"role"`
	Content    *string             `json:"content,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
	ToolCalls  []veniceToolCallOut `json:"tool_calls,omitempty"`
}

type veniceToolCallOut struct {
	ID       string                `json:"id"`
	Type     string                `json:"type"`
	Function veniceToolCallFunction `json:"function"`
}

type veniceToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type veniceTool struct {
	Type     string             `json:"type"`
	Function veniceToolFunction `json:"function"`
}

type veniceToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type veniceChatRequest struct {
	Model            string              `json:"model"`
	Messages         []veniceChatMessage `json:"messages"`
	Temperature      float64             `json:"temperature,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	Tools            []veniceTool        `json:"tools,omitempty"`
	ToolChoice       string              `json:"tool_choice,omitempty"`
	VeniceParameters *veniceParameters   `json:"venice_parameters,omitempty"`
}

type veniceChatResponseMessage struct {
	Content   *string             `json:"content"`
	ToolCalls []veniceToolCallOut `json:"tool_calls"`
}

type veniceChatChoice struct {
	Message      veniceChatResponseMessage `json:"message"`
	FinishReason *string                   `json:"finish_reason"`
}

type veniceChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type veniceChatResponse struct {
	ID      string             `json:"id"`
	Choices []veniceChatChoice `json:"choices"`
	Usage   veniceChatUsage    `json:"usage"`
}

func (p *VeniceProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp, err := p.complete(ctx, req, nil, "")
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return &agent.CompletionResponse{Content: resp.Content, Usage: resp.Usage, FinishReason: resp.FinishReason}, nil
}

func (p *VeniceProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	choice := ""
	switch req.ToolChoice {
	case agent.ToolChoiceRequired:
		choice = "required"
	case agent.ToolChoiceNone:
		choice = "none"
	case agent.ToolChoiceAuto:
		choice = "auto"
	}
	resp, err := p.complete(ctx, &req.CompletionRequest, req.Tools, choice)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return resp, nil
}

func (p *VeniceProvider) resolveModel(reqModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return p.ActiveModelName()
}

func (p *VeniceProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, toolChoice string) (*agent.ToolCompletionResponse, error) {
	model := p.resolveModel(req.Model)

	body := veniceChatRequest{
		Model:            model,
		Messages:         convertMessagesVenice(req.Messages),
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		ToolChoice:       toolChoice,
		VeniceParameters: p.buildVeniceParameters(),
	}
	if len(tools) > 0 {
		body.Tools = convertToolDefsVenice(tools)
	}

	var parsed veniceChatResponse
	retryErr := p.transport.Do(ctx, func(attempt int) (int, error) {
		headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
		status, err := postJSON(ctx, p.httpClient, p.apiURL("chat/completions"), headers, &body, &parsed)
		if err == nil {
			return 0, nil
		}
		return status, p.wrapError(err, status, model)
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Kind: KindInvalidResponse, Provider: "venice", Model: model, Message: "no choices in response"}
	}

	choice := parsed.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	var toolCalls []agent.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args json.RawMessage
		if tc.Function.Arguments != "" {
			args = json.RawMessage(tc.Function.Arguments)
		}
		toolCalls = append(toolCalls, agent.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	var finishReasonStr string
	if choice.FinishReason != nil {
		finishReasonStr = *choice.FinishReason
	}
	return &agent.ToolCompletionResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		Usage:        agent.Usage{InputTokens: parsed.Usage.PromptTokens, OutputTokens: parsed.Usage.CompletionTokens},
		FinishReason: normalizeVeniceFinishReason(finishReasonStr, len(toolCalls) > 0),
	}, nil
}

// convertMessagesVenice maps 1:1 onto the OpenAI-compatible envelope; unlike
// the Codex and Anthropic adapters, Venice's chat-completions wire format
// accepts role "tool" directly, so no merging or flattening is needed.
func convertMessagesVenice(msgs []agent.ChatMessage) []veniceChatMessage {
	out := make([]veniceChatMessage, 0, len(msgs))
	for _, m := range msgs {
		var role string
		switch m.Role {
		case agent.RoleSystem:
			role = "system"
		case agent.RoleAssistant:
			role = "assistant"
		case agent.RoleTool:
			role = "tool"
		default:
			role = "user"
		}

		vm := veniceChatMessage{Role: role, ToolCallID: m.ToolCallID, Name: m.Name}
		hasToolCalls := role == "assistant" && len(m.ToolCalls) > 0
		if !(hasToolCalls && m.Content == "") {
			content := m.Content
			vm.Content = &content
		}
		for _, tc := range m.ToolCalls {
			vm.ToolCalls = append(vm.ToolCalls, veniceToolCallOut{
				ID:   tc.ID,
				Type: "function",
				Function: veniceToolCallFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, vm)
	}
	return out
}

func convertToolDefsVenice(tools []agent.ToolDefinition) []veniceTool {
	out := make([]veniceTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, veniceTool{
			Type: "function",
			Function: veniceToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func normalizeVeniceFinishReason(reason string, hasToolCalls bool) agent.FinishReason {
	switch reason {
	case "stop":
		return agent.FinishStop
	case "length":
		return agent.FinishLength
	case "tool_calls":
		return agent.FinishToolUse
	case "content_filter":
		return agent.FinishContentFilter
	default:
		if hasToolCalls {
			return agent.FinishToolUse
		}
		return agent.FinishUnknown
	}
}

func (p *VeniceProvider) wrapError(err error, status int, model string) error {
	if err == nil {
		return nil
	}
	if status > 0 {
		return (&ProviderError{Provider: "venice", Model: model, Cause: err}).WithStatus(status)
	}
	return NewProviderError("venice", model, err)
}
