package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// CodexConfig configures a CodexProvider. Leaving APIKey empty selects OAuth
// mode, reading a Codex CLI auth.json from AuthJSONPath on each cold start
// and caching the access token until a 401 invalidates it.
type CodexConfig struct {
	APIKey       string
	BaseURL      string
	AuthJSONPath string
	AccountID    string
	DefaultModel string
	MaxRetries   int
}

// CodexProvider adapts the shared contract onto the OpenAI Responses API:
// a flat input array instead of a message list, instructions instead of a
// system message, and unwrapped (non-nested) tool definitions.
type CodexProvider struct {
	httpClient *http.Client
	cfg        CodexConfig
	transport  TransportRetry

	tokenMu     sync.RWMutex
	cachedToken string

	mu           sync.RWMutex
	defaultModel string
	activeModel  string

	router *taskRouteRecorder
}

// CodexModels lists the models the wizard offers; OAuth tokens can't call
// /v1/models, so this lineup is hardcoded the way the other wire adapters
// hardcode a static catalog.
var CodexModels = []agent.Model{
	{ID: "gpt-5.3-codex", Name: "GPT-5.3 Codex (flagship)", ContextSize: 400000},
	{ID: "gpt-5.3-codex-spark", Name: "GPT-5.3 Codex Spark (fast)", ContextSize: 400000},
	{ID: "gpt-5.2-codex", Name: "GPT-5.2 Codex", ContextSize: 400000},
	{ID: "gpt-5.1-codex", Name: "GPT-5.1 Codex", ContextSize: 400000},
	{ID: "gpt-5.1-codex-mini", Name: "GPT-5.1 Codex Mini", ContextSize: 400000},
	{ID: "gpt-5-codex", Name: "GPT-5 Codex", ContextSize: 272000},
	{ID: "o3", Name: "o3 (reasoning)", ContextSize: 200000},
	{ID: "o4-mini", Name: "o4-mini (reasoning)", ContextSize: 200000},
}

var codexCostTable = map[string]tokenCost{
	"gpt-5.3-codex":       {in: 5.0 / 1e6, out: 20.0 / 1e6},
	"gpt-5.3-codex-spark": {in: 1.0 / 1e6, out: 4.0 / 1e6},
	"gpt-5.2-codex":       {in: 5.0 / 1e6, out: 20.0 / 1e6},
	"gpt-5.1-codex":       {in: 5.0 / 1e6, out: 20.0 / 1e6},
	"gpt-5.1-codex-mini":  {in: 1.0 / 1e6, out: 4.0 / 1e6},
	"gpt-5-codex":         {in: 5.0 / 1e6, out: 20.0 / 1e6},
	"o3":                  {in: 10.0 / 1e6, out: 40.0 / 1e6},
	"o4-mini":             {in: 1.1 / 1e6, out: 4.4 / 1e6},
}

func NewCodexProvider(cfg CodexConfig) (*CodexProvider, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-5.3-codex"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.APIKey == "" && strings.TrimSpace(cfg.AuthJSONPath) == "" {
		return nil, errors.New("codexresponses: either an API key or an auth.json path is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	return &CodexProvider{
		httpClient:   &http.Client{Timeout: 180 * time.Second},
		cfg:          cfg,
		transport:    TransportRetry{MaxRetries: cfg.MaxRetries},
		defaultModel: cfg.DefaultModel,
		activeModel:  cfg.DefaultModel,
		router:       newTaskRouteRecorder(),
	}, nil
}

func (p *CodexProvider) usesAPIKey() bool { return p.cfg.APIKey != "" }

// responsesURL builds the Responses API endpoint for either billing mode:
// OpenAI's own /v1/responses, or ChatGPT's backend-api/codex/responses for
// subscription billing.
func (p *CodexProvider) responsesURL() string {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	switch {
	case strings.HasSuffix(base, "/v1"):
		return base + "/responses"
	case strings.Contains(base, "chatgpt.com"):
		return base + "/responses"
	default:
		return base + "/v1/responses"
	}
}

func (p *CodexProvider) bearerToken() (string, error) {
	if p.usesAPIKey() {
		return p.cfg.APIKey, nil
	}
	p.tokenMu.RLock()
	if p.cachedToken != "" {
		tok := p.cachedToken
		p.tokenMu.RUnlock()
		return tok, nil
	}
	p.tokenMu.RUnlock()
	return p.loadTokenFromDisk()
}

func (p *CodexProvider) loadTokenFromDisk() (string, error) {
	data, err := os.ReadFile(p.cfg.AuthJSONPath)
	if err != nil {
		return "", &ProviderError{Kind: KindAuthFailed, Provider: "codexresponses", Message: fmt.Sprintf("cannot read %s: %v", p.cfg.AuthJSONPath, err), Cause: err}
	}
	var doc struct {
		Tokens *struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
		Token      string `json:"token"`
		APIKey     string `json:"api_key"`
		AccessTok  string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", &ProviderError{Kind: KindAuthFailed, Provider: "codexresponses", Message: fmt.Sprintf("cannot parse %s: %v", p.cfg.AuthJSONPath, err), Cause: err}
	}
	token := ""
	switch {
	case doc.Tokens != nil && doc.Tokens.AccessToken != "":
		token = doc.Tokens.AccessToken
	case doc.Token != "":
		token = doc.Token
	case doc.APIKey != "":
		token = doc.APIKey
	case doc.AccessTok != "":
		token = doc.AccessTok
	default:
		return "", &ProviderError{Kind: KindAuthFailed, Provider: "codexresponses", Message: fmt.Sprintf("no token found in %s", p.cfg.AuthJSONPath)}
	}
	p.tokenMu.Lock()
	p.cachedToken = token
	p.tokenMu.Unlock()
	return token, nil
}

func (p *CodexProvider) invalidateToken() {
	p.tokenMu.Lock()
	p.cachedToken = ""
	p.tokenMu.Unlock()
}

func (p *CodexProvider) ModelName() string { return p.defaultModel }

func (p *CodexProvider) ActiveModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeModel
}

func (p *CodexProvider) SetModel(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	p.mu.Lock()
	p.activeModel = id
	p.mu.Unlock()
}

func (p *CodexProvider) EffectiveModelName(ctx context.Context) string {
	return p.router.take(ctx, p.ActiveModelName())
}

func (p *CodexProvider) CostPerToken() (float64, float64) {
	c := codexCostTable[p.ActiveModelName()]
	return c.in, c.out
}

func (p *CodexProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	return CodexModels, nil
}

type codexInputItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type codexToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type codexResponsesRequest struct {
	Model           string          `json:"model"`
	Instructions    string          `json:"instructions,omitempty"`
	Input           []codexInputItem `json:"input"`
	Tools           []codexToolDef  `json:"tools,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     float64         `json:"temperature,omitempty"`
}

type codexContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type codexOutputItem struct {
	Type      string              `json:"type"`
	Role      string              `json:"role,omitempty"`
	Content   []codexContentBlock `json:"content,omitempty"`
	CallID    string              `json:"call_id,omitempty"`
	Name      string              `json:"name,omitempty"`
	Arguments string              `json:"arguments,omitempty"`
}

type codexUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type codexResponsesResponse struct {
	ID     string            `json:"id"`
	Output []codexOutputItem `json:"output"`
	Usage  *codexUsage       `json:"usage"`
	Status string            `json:"status"`
}

func (p *CodexProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp, err := p.complete(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return &agent.CompletionResponse{Content: resp.Content, Usage: resp.Usage, FinishReason: resp.FinishReason}, nil
}

func (p *CodexProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	resp, err := p.complete(ctx, &req.CompletionRequest, req.Tools)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return resp, nil
}

func (p *CodexProvider) resolveModel(reqModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return p.ActiveModelName()
}

func (p *CodexProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (*agent.ToolCompletionResponse, error) {
	model := p.resolveModel(req.Model)
	instructions, input := convertMessagesCodex(req.Messages)

	body := codexResponsesRequest{
		Model:           model,
		Instructions:    instructions,
		Input:           input,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
	}
	if len(tools) > 0 {
		body.Tools = convertToolDefsCodex(tools)
	}

	var parsed codexResponsesResponse
	retryErr := p.transport.Do(ctx, func(attempt int) (int, error) {
		status, err := p.sendOnce(ctx, &body, &parsed)
		if err == nil {
			return 0, nil
		}
		if status == http.StatusUnauthorized && !p.usesAPIKey() {
			p.invalidateToken()
			status2, err2 := p.sendOnce(ctx, &body, &parsed)
			if err2 == nil {
				return 0, nil
			}
			return status2, p.wrapError(err2, status2, model)
		}
		return status, p.wrapError(err, status, model)
	})
	if retryErr != nil {
		return nil, retryErr
	}

	content, toolCalls := parseCodexOutput(parsed.Output)
	resp := &agent.ToolCompletionResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: normalizeCodexStatus(parsed.Status, len(toolCalls) > 0),
	}
	if parsed.Usage != nil {
		resp.Usage = agent.Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens}
	}
	return resp, nil
}

func (p *CodexProvider) sendOnce(ctx context.Context, body *codexResponsesRequest, out *codexResponsesResponse) (int, error) {
	token, err := p.bearerToken()
	if err != nil {
		return http.StatusUnauthorized, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	if p.cfg.AccountID != "" {
		headers["openai-account-id"] = p.cfg.AccountID
	}
	return postJSON(ctx, p.httpClient, p.responsesURL(), headers, body, out)
}

// convertMessagesCodex splits system content into Responses API
// "instructions" and maps everything else onto the flat input array:
// assistant tool calls become function_call items and tool results become
// function_call_output items, both keyed by call id (grounded in
// original_source/src/llm/openai_codex.rs).
func convertMessagesCodex(msgs []agent.ChatMessage) (string, []codexInputItem) {
	var instructions []string
	var input []codexInputItem
	for _, m := range msgs {
		switch m.Role {
		case agent.RoleSystem:
			if m.Content != "" {
				instructions = append(instructions, m.Content)
			}
		case agent.RoleAssistant:
			if m.Content != "" {
				input = append(input, codexInputItem{Type: "message", Role: "assistant", Content: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input = append(input, codexInputItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)})
			}
		case agent.RoleTool:
			if m.ToolCallID != "" {
				input = append(input, codexInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content})
			}
		default:
			input = append(input, codexInputItem{Type: "message", Role: "user", Content: m.Content})
		}
	}
	return strings.Join(instructions, "\n\n"), input
}

func convertToolDefsCodex(tools []agent.ToolDefinition) []codexToolDef {
	out := make([]codexToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, codexToolDef{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

func parseCodexOutput(output []codexOutputItem) (string, []agent.ToolCall) {
	var text strings.Builder
	var calls []agent.ToolCall
	for _, item := range output {
		switch item.Type {
		case "message":
			for _, block := range item.Content {
				text.WriteString(block.Text)
			}
		case "function_call":
			calls = append(calls, agent.ToolCall{ID: item.CallID, Name: item.Name, Arguments: json.RawMessage(item.Arguments)})
		}
	}
	return text.String(), calls
}

// normalizeCodexStatus maps the Responses API's top-level status onto the
// shared taxonomy.
func normalizeCodexStatus(status string, hasToolCalls bool) agent.FinishReason {
	switch status {
	case "completed":
		return agent.FinishStop
	case "incomplete":
		return agent.FinishLength
	case "failed":
		return agent.FinishUnknown
	default:
		if hasToolCalls {
			return agent.FinishToolUse
		}
		return agent.FinishUnknown
	}
}

func (p *CodexProvider) wrapError(err error, status int, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if status > 0 {
		return (&ProviderError{Provider: "codexresponses", Model: model, Cause: err}).WithStatus(status)
	}
	return NewProviderError("codexresponses", model, err)
}
