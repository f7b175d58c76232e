package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// OpenAIConfig configures an OpenAICompatProvider. BaseURL lets this adapter
// front any OpenAI-compatible chat-completions endpoint, not just OpenAI
// itself.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// OpenAICompatProvider adapts the shared contract onto the OpenAI
// chat-completions wire format: system messages merged
// into one leading system message, tool calls nested under the SDK's
// native ToolCall/FunctionCall shape.
type OpenAICompatProvider struct {
	client    *openai.Client
	transport TransportRetry

	mu           sync.RWMutex
	defaultModel string
	activeModel  string

	router *taskRouteRecorder
}

func NewOpenAICompatProvider(cfg OpenAIConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openaicompat: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		transport:    TransportRetry{MaxRetries: cfg.MaxRetries},
		defaultModel: cfg.DefaultModel,
		activeModel:  cfg.DefaultModel,
		router:       newTaskRouteRecorder(),
	}, nil
}

func (p *OpenAICompatProvider) ModelName() string { return p.defaultModel }

func (p *OpenAICompatProvider) ActiveModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeModel
}

func (p *OpenAICompatProvider) SetModel(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	p.mu.Lock()
	p.activeModel = id
	p.mu.Unlock()
}

func (p *OpenAICompatProvider) EffectiveModelName(ctx context.Context) string {
	return p.router.take(ctx, p.ActiveModelName())
}

var openaiCostTable = map[string]tokenCost{
	"gpt-4o":      {in: 2.5 / 1e6, out: 10.0 / 1e6},
	"gpt-4o-mini": {in: 0.15 / 1e6, out: 0.6 / 1e6},
	"gpt-4-turbo": {in: 10.0 / 1e6, out: 30.0 / 1e6},
}

func (p *OpenAICompatProvider) CostPerToken() (float64, float64) {
	c := openaiCostTable[p.ActiveModelName()]
	return c.in, c.out
}

func (p *OpenAICompatProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
	}, nil
}

func (p *OpenAICompatProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp, err := p.complete(ctx, req, nil, agent.ToolChoiceAuto)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return &agent.CompletionResponse{Content: resp.Content, Usage: resp.Usage, FinishReason: resp.FinishReason}, nil
}

func (p *OpenAICompatProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	resp, err := p.complete(ctx, &req.CompletionRequest, req.Tools, req.ToolChoice)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return resp, nil
}

func (p *OpenAICompatProvider) resolveModel(reqModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return p.ActiveModelName()
}

func (p *OpenAICompatProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (*agent.ToolCompletionResponse, error) {
	model := p.resolveModel(req.Model)

	messages := convertMessagesOpenAI(req.Messages)

	params := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if len(tools) > 0 {
		params.Tools = convertToolDefsOpenAI(tools)
		switch choice {
		case agent.ToolChoiceRequired:
			params.ToolChoice = "required"
		case agent.ToolChoiceNone:
			params.ToolChoice = "none"
		default:
			params.ToolChoice = "auto"
		}
	}

	var completion openai.ChatCompletionResponse
	retryErr := p.transport.Do(ctx, func(attempt int) (int, error) {
		c, callErr := p.client.CreateChatCompletion(ctx, params)
		if callErr == nil {
			completion = c
			return 0, nil
		}
		return p.statusOf(callErr), p.wrapError(callErr, model)
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{Kind: KindInvalidResponse, Provider: "openaicompat", Model: model, Message: "no choices returned"}
	}

	choiceResp := completion.Choices[0]
	resp := &agent.ToolCompletionResponse{
		Content: choiceResp.Message.Content,
		Usage: agent.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	for _, tc := range choiceResp.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	resp.FinishReason = normalizeOpenAIFinishReason(string(choiceResp.FinishReason), len(resp.ToolCalls) > 0)
	return resp, nil
}

// convertMessagesOpenAI merges every System ChatMessage into a single
// leading system message and maps the rest 1:1.
func convertMessagesOpenAI(msgs []agent.ChatMessage) []openai.ChatCompletionMessage {
	systems, rest := extractSystemMessages(msgs)
	var out []openai.ChatCompletionMessage
	if len(systems) > 0 {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: strings.Join(systems, "\n\n")})
	}
	for _, m := range rest {
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case agent.RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case agent.RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		out = append(out, msg)
	}
	return out
}

func convertToolDefsOpenAI(tools []agent.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &params)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// normalizeOpenAIFinishReason maps the chat-completions finish_reason onto
// the shared taxonomy; an unrecognized reason accompanied by tool calls
// normalizes to ToolUse.
func normalizeOpenAIFinishReason(reason string, hasToolCalls bool) agent.FinishReason {
	switch reason {
	case "stop":
		return agent.FinishStop
	case "length":
		return agent.FinishLength
	case "tool_calls", "function_call":
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

func (p *OpenAICompatProvider) statusOf(err error) int {
	if apiErr, ok := err.(*openai.APIError); ok {
		return apiErr.HTTPStatusCode
	}
	return -1
}

func (p *OpenAICompatProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*openai.APIError); ok {
		pe := &ProviderError{Provider: "openaicompat", Model: model, Cause: err, Code: fmt.Sprint(apiErr.Code)}
		pe = pe.WithStatus(apiErr.HTTPStatusCode)
		pe.Message = apiErr.Message
		return pe
	}
	return NewProviderError("openaicompat", model, err)
}
