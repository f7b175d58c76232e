package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// anthropicAPIVersion and anthropicOAuthBeta are sent on every request:
// every request carries anthropic-version, and OAuth-mode requests
// additionally carry anthropic-beta.
const (
	anthropicAPIVersion = "2023-06-01"
	anthropicOAuthBeta  = "oauth-2025-04-20"
	anthropicTokenURL   = "https://console.anthropic.com/v1/oauth/token"
)

// AnthropicAuthMode selects how the adapter authenticates.
type AnthropicAuthMode int

const (
	AnthropicAuthAPIKey AnthropicAuthMode = iota
	AnthropicAuthOAuth
)

// AnthropicOAuthCredentials mirrors the on-disk auth.json the OAuth path
// reads and rewrites after a refresh.
type AnthropicOAuthCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	AuthMode     AnthropicAuthMode
	AuthJSONPath string // path to auth.json, required for OAuth mode
	DefaultModel string
	MaxRetries   int
}

// AnthropicProvider is the native Anthropic Messages API adapter. It
// implements agent.LLMProvider directly (non-streaming: one CompletionResponse
// per call, adapting Anthropic's streaming wire contract to this package's
// synchronous one).
type AnthropicProvider struct {
	client       anthropic.Client
	authMode     AnthropicAuthMode
	authJSONPath string
	transport    TransportRetry

	mu           sync.RWMutex
	defaultModel string
	activeModel  string

	router *taskRouteRecorder
}

// NewAnthropicProvider builds an AnthropicProvider. In OAuth mode it loads
// auth.json once at construction time; API-key mode never looks at disk.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []option.RequestOption{
		option.WithHeader("anthropic-version", anthropicAPIVersion),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	switch cfg.AuthMode {
	case AnthropicAuthAPIKey:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic: API key is required")
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case AnthropicAuthOAuth:
		if cfg.AuthJSONPath == "" {
			return nil, errors.New("anthropic: auth.json path is required for OAuth mode")
		}
		creds, err := loadAnthropicOAuthCreds(cfg.AuthJSONPath)
		if err != nil {
			return nil, fmt.Errorf("anthropic: load auth.json: %w", err)
		}
		opts = append(opts,
			option.WithHeader("authorization", "Bearer "+creds.AccessToken),
			option.WithHeader("anthropic-beta", anthropicOAuthBeta),
		)
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		authMode:     cfg.AuthMode,
		authJSONPath: cfg.AuthJSONPath,
		transport:    TransportRetry{MaxRetries: cfg.MaxRetries},
		defaultModel: cfg.DefaultModel,
		activeModel:  cfg.DefaultModel,
		router:       newTaskRouteRecorder(),
	}, nil
}

func loadAnthropicOAuthCreds(path string) (*AnthropicOAuthCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds AnthropicOAuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (p *AnthropicProvider) ModelName() string { return p.defaultModel }

func (p *AnthropicProvider) ActiveModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeModel
}

func (p *AnthropicProvider) SetModel(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	p.mu.Lock()
	p.activeModel = id
	p.mu.Unlock()
}

func (p *AnthropicProvider) EffectiveModelName(ctx context.Context) string {
	return p.router.take(ctx, p.ActiveModelName())
}

// CostPerToken reads a static model->cost table; OAuth mode is
// subscription-billed and reports zero.
func (p *AnthropicProvider) CostPerToken() (float64, float64) {
	if p.authMode == AnthropicAuthOAuth {
		return 0, 0
	}
	return anthropicCostTable[p.ActiveModelName()].in, anthropicCostTable[p.ActiveModelName()].out
}

type tokenCost struct{ in, out float64 }

var anthropicCostTable = map[string]tokenCost{
	"claude-opus-4-20250514":     {in: 15.0 / 1e6, out: 75.0 / 1e6},
	"claude-sonnet-4-20250514":   {in: 3.0 / 1e6, out: 15.0 / 1e6},
	"claude-3-5-sonnet-20241022": {in: 3.0 / 1e6, out: 15.0 / 1e6},
	"claude-3-haiku-20240307":    {in: 0.25 / 1e6, out: 1.25 / 1e6},
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	return []agent.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, SupportsVision: true},
	}, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp, err := p.complete(ctx, req, nil, agent.ToolChoiceAuto)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return &agent.CompletionResponse{Content: resp.Content, Usage: resp.Usage, FinishReason: resp.FinishReason}, nil
}

func (p *AnthropicProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	resp, err := p.complete(ctx, &req.CompletionRequest, req.Tools, req.ToolChoice)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return resp, nil
}

func (p *AnthropicProvider) resolveModel(reqModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return p.ActiveModelName()
}

func (p *AnthropicProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (*agent.ToolCompletionResponse, error) {
	model := p.resolveModel(req.Model)

	systemMsgs, rest := extractSystemMessages(req.Messages)
	messages, err := p.convertMessages(rest)
	if err != nil {
		return nil, &ProviderError{Kind: KindInvalidResponse, Provider: "anthropic", Model: model, Message: err.Error(), Cause: err}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if len(systemMsgs) > 0 {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: strings.Join(systemMsgs, "\n\n")}}
	}
	if len(tools) > 0 {
		anthTools, err := convertToolDefsAnthropic(tools)
		if err != nil {
			return nil, &ProviderError{Kind: KindInvalidResponse, Provider: "anthropic", Model: model, Cause: err}
		}
		params.Tools = anthTools
	}

	var message *anthropic.Message
	retryErr := p.transport.Do(ctx, func(attempt int) (int, error) {
		m, callErr := p.client.Messages.New(ctx, params)
		if callErr == nil {
			message = m
			return 0, nil
		}
		status, authErr := p.maybeRefreshAndRetryStatus(ctx, callErr)
		if authErr {
			// auth.json refreshed; force one more attempt regardless of
			// the outer transport-retry window, carrying the new token.
			var retryOpts []option.RequestOption
			if creds, loadErr := loadAnthropicOAuthCreds(p.authJSONPath); loadErr == nil {
				retryOpts = append(retryOpts, option.WithHeader("authorization", "Bearer "+creds.AccessToken))
			}
			m2, callErr2 := p.client.Messages.New(ctx, params, retryOpts...)
			if callErr2 == nil {
				message = m2
				return 0, nil
			}
			return status, p.wrapError(callErr2, model)
		}
		return status, p.wrapError(callErr, model)
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return anthropicMessageToResponse(message), nil
}

// maybeRefreshAndRetryStatus inspects err for a 401 in OAuth mode and, if
// found, performs the single allowed token refresh. It reports the observed
// status and whether a refresh happened (the caller must retry exactly once
// more after a refresh, never recursively).
func (p *AnthropicProvider) maybeRefreshAndRetryStatus(ctx context.Context, err error) (int, bool) {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	if apiErr.StatusCode != 401 || p.authMode != AnthropicAuthOAuth {
		return apiErr.StatusCode, false
	}
	if refreshErr := p.refreshOAuthToken(ctx); refreshErr != nil {
		return apiErr.StatusCode, false
	}
	return apiErr.StatusCode, true
}

func (p *AnthropicProvider) refreshOAuthToken(ctx context.Context) error {
	creds, err := loadAnthropicOAuthCreds(p.authJSONPath)
	if err != nil {
		return err
	}
	if creds.RefreshToken == "" {
		return errors.New("anthropic: no refresh token present in auth.json")
	}
	// The refresh token acquisition flow itself is unspecified upstream;
	// this performs the one documented step: POST to the token endpoint
	// and persist the new access token.
	return postOAuthRefresh(ctx, anthropicTokenURL, creds, p.authJSONPath)
}

func extractSystemMessages(msgs []agent.ChatMessage) ([]string, []agent.ChatMessage) {
	var systems []string
	var rest []agent.ChatMessage
	for _, m := range msgs {
		if m.Role == agent.RoleSystem {
			if m.Content != "" {
				systems = append(systems, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return systems, rest
}

// convertMessages maps the shared ChatMessage sequence onto Anthropic's
// content-block model: tool calls become tool_use blocks on the assistant
// message, tool results become tool_result blocks on a user message, and
// consecutive tool-result messages are merged into a single user message
// (tested in anthropic_test.go).
func (p *AnthropicProvider) convertMessages(msgs []agent.ChatMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	i := 0
	for i < len(msgs) {
		m := msgs[i]
		switch m.Role {
		case agent.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			i++
		case agent.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for i < len(msgs) && msgs[i].Role == agent.RoleTool {
				blocks = append(blocks, anthropic.NewToolResultBlock(msgs[i].ToolCallID, msgs[i].Content, false))
				i++
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		default: // user
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			i++
		}
	}
	return out, nil
}

func convertToolDefsAnthropic(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, toolParam)
	}
	return out, nil
}

func anthropicMessageToResponse(msg *anthropic.Message) *agent.ToolCompletionResponse {
	resp := &agent.ToolCompletionResponse{
		Usage: agent.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args, _ := json.Marshal(tu.Input)
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}
	resp.Content = text.String()
	resp.FinishReason = normalizeAnthropicStopReason(string(msg.StopReason), len(resp.ToolCalls) > 0)
	return resp
}

// normalizeAnthropicStopReason maps Anthropic's native stop_reason onto the
// shared taxonomy. When tool calls are present but the native reason is
// unrecognized, the normalized reason is ToolUse.
func normalizeAnthropicStopReason(reason string, hasToolCalls bool) agent.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return agent.FinishStop
	case "max_tokens":
		return agent.FinishLength
	case "tool_use":
		return agent.FinishToolUse
	default:
		if hasToolCalls {
			return agent.FinishToolUse
		}
		return agent.FinishUnknown
	}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := &ProviderError{Provider: "anthropic", Model: model, Cause: err}
		pe = pe.WithStatus(apiErr.StatusCode)
		if pe.Message == "" {
			pe.Message = apiErr.Error()
		}
		return pe
	}
	return NewProviderError("anthropic", model, err)
}
