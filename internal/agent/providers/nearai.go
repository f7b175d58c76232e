package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// NearAIConfig configures a NearAIProvider. A SessionManager is constructed
// internally from LoginURL/AccountID/PrivateKey unless one is injected via
// Session (tests substitute a stub there).
type NearAIConfig struct {
	BaseURL      string
	LoginURL     string
	AccountID    string
	PrivateKey   string
	DefaultModel string
	MaxRetries   int
	Session      *SessionManager
}

// NearAIProvider adapts the shared contract onto NEAR AI's Responses-API-like
// endpoint, authenticating with a renewable session token instead of a
// static API key.
type NearAIProvider struct {
	httpClient *http.Client
	cfg        NearAIConfig
	session    *SessionManager
	transport  TransportRetry

	mu          sync.RWMutex
	activeModel string

	router *taskRouteRecorder
}

// NearAI's cost is not model-specific in the upstream billing model; the
// original hardcodes a single constant pair rather than a per-model table.
const (
	nearAIInputCostPerToken  = 0.000003
	nearAIOutputCostPerToken = 0.000015
)

func NewNearAIProvider(cfg NearAIConfig) (*NearAIProvider, error) {
	if cfg.DefaultModel == "" {
		return nil, errors.New("nearai: default model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.near.ai"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	client := &http.Client{Timeout: 120 * time.Second}
	session := cfg.Session
	if session == nil {
		loginURL := cfg.LoginURL
		if strings.TrimSpace(loginURL) == "" {
			loginURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1/auth/login"
		}
		session = NewSessionManager(client, loginURL, cfg.AccountID, cfg.PrivateKey)
	}

	return &NearAIProvider{
		httpClient:  client,
		cfg:         cfg,
		session:     session,
		transport:   TransportRetry{MaxRetries: cfg.MaxRetries},
		activeModel: cfg.DefaultModel,
		router:      newTaskRouteRecorder(),
	}, nil
}

func (p *NearAIProvider) apiURL(path string) string {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	return base + "/v1/" + strings.TrimPrefix(path, "/")
}

func (p *NearAIProvider) ModelName() string { return p.cfg.DefaultModel }

func (p *NearAIProvider) ActiveModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeModel
}

func (p *NearAIProvider) SetModel(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	p.mu.Lock()
	p.activeModel = id
	p.mu.Unlock()
}

func (p *NearAIProvider) EffectiveModelName(ctx context.Context) string {
	return p.router.take(ctx, p.ActiveModelName())
}

func (p *NearAIProvider) CostPerToken() (float64, float64) {
	return nearAIInputCostPerToken, nearAIOutputCostPerToken
}

type nearAIModelEntry struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Model    string `json:"model"`
	ModelName string `json:"model_name"`
	ModelID  string `json:"model_id"`
	Metadata *struct {
		Name      string `json:"name"`
		ModelName string `json:"model_name"`
	} `json:"metadata"`
}

func (e nearAIModelEntry) resolvedID() string {
	switch {
	case e.Name != "":
		return e.Name
	case e.ID != "":
		return e.ID
	case e.Model != "":
		return e.Model
	case e.ModelName != "":
		return e.ModelName
	case e.ModelID != "":
		return e.ModelID
	case e.Metadata != nil && e.Metadata.Name != "":
		return e.Metadata.Name
	case e.Metadata != nil && e.Metadata.ModelName != "":
		return e.Metadata.ModelName
	default:
		return ""
	}
}

type nearAIModelListResponse struct {
	Models []nearAIModelEntry `json:"models"`
	Data   []nearAIModelEntry `json:"data"`
}

func (p *NearAIProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	token, err := p.session.Token(ctx)
	if err != nil {
		return nil, err
	}
	var resp nearAIModelListResponse
	headers := map[string]string{"Authorization": "Bearer " + token}
	_, err = getJSON(ctx, p.httpClient, p.apiURL("model/list"), headers, &resp)
	if err != nil {
		return nil, p.wrapError(err, 0, "")
	}

	entries := resp.Models
	if len(entries) == 0 {
		entries = resp.Data
	}
	out := make([]agent.Model, 0, len(entries))
	for _, e := range entries {
		id := e.resolvedID()
		if id == "" {
			continue
		}
		out = append(out, agent.Model{ID: id, Name: id})
	}
	return out, nil
}

type nearAIInputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type nearAIToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type nearAIRequest struct {
	Model           string            `json:"model"`
	Instructions    string            `json:"instructions,omitempty"`
	Input           []nearAIInputItem `json:"input"`
	Temperature     float64           `json:"temperature,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Stream          bool              `json:"stream"`
	Tools           []nearAIToolDef   `json:"tools,omitempty"`
}

type nearAIContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type nearAIOutputItem struct {
	Type      string          `json:"type"`
	Content   []nearAIContent `json:"content,omitempty"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
}

type nearAIUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type nearAIResponse struct {
	ID     string             `json:"id"`
	Output []nearAIOutputItem `json:"output"`
	Usage  *nearAIUsage       `json:"usage"`
}

func (p *NearAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp, err := p.complete(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return &agent.CompletionResponse{Content: resp.Content, Usage: resp.Usage, FinishReason: resp.FinishReason}, nil
}

func (p *NearAIProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	resp, err := p.complete(ctx, &req.CompletionRequest, req.Tools)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return resp, nil
}

func (p *NearAIProvider) resolveModel(reqModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return p.ActiveModelName()
}

func (p *NearAIProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (*agent.ToolCompletionResponse, error) {
	model := p.resolveModel(req.Model)
	instructions, input := splitMessagesNearAI(req.Messages)

	body := nearAIRequest{
		Model:           model,
		Instructions:    instructions,
		Input:           input,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Stream:          false,
	}
	if len(tools) > 0 {
		body.Tools = convertToolDefsNearAI(tools)
	}

	var parsed nearAIResponse
	retryErr := p.transport.Do(ctx, func(attempt int) (int, error) {
		status, err := p.sendOnce(ctx, &body, &parsed)
		if err == nil {
			return 0, nil
		}
		wrapped := p.wrapError(err, status, model)
		var pe *ProviderError
		if errors.As(wrapped, &pe) && pe.Kind == KindSessionExpired {
			if _, renewErr := p.session.HandleAuthFailure(ctx); renewErr == nil {
				status2, err2 := p.sendOnce(ctx, &body, &parsed)
				if err2 == nil {
					return 0, nil
				}
				return status2, p.wrapError(err2, status2, model)
			}
		}
		return status, wrapped
	})
	if retryErr != nil {
		return nil, retryErr
	}

	content, toolCalls := parseNearAIOutput(parsed.Output)
	resp := &agent.ToolCompletionResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: normalizeNearAIFinishReason(len(toolCalls) > 0),
	}
	if parsed.Usage != nil {
		resp.Usage = agent.Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens}
	}
	return resp, nil
}

func (p *NearAIProvider) sendOnce(ctx context.Context, body *nearAIRequest, out *nearAIResponse) (int, error) {
	token, err := p.session.Token(ctx)
	if err != nil {
		return http.StatusUnauthorized, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	return postJSON(ctx, p.httpClient, p.apiURL("responses"), headers, body, out)
}

// splitMessagesNearAI pulls System content into the Responses-style
// instructions field, joined the way the original joins multiple system
// messages, and otherwise passes every message through untouched - NEAR AI's
// input items are a flat role/content pair with no call-id restructuring for
// tool messages.
func splitMessagesNearAI(msgs []agent.ChatMessage) (string, []nearAIInputItem) {
	var instructions []string
	var input []nearAIInputItem
	for _, m := range msgs {
		if m.Role == agent.RoleSystem {
			if m.Content != "" {
				instructions = append(instructions, m.Content)
			}
			continue
		}
		input = append(input, nearAIInputItem{Role: string(m.Role), Content: m.Content})
	}
	return strings.Join(instructions, "\n\n"), input
}

func convertToolDefsNearAI(tools []agent.ToolDefinition) []nearAIToolDef {
	out := make([]nearAIToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, nearAIToolDef{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

// parseNearAIOutput extracts text preferring the item-level Text field
// before falling back to scanning Content blocks for output_text/input_text/
// text entries, mirroring the original's layered fallback.
func parseNearAIOutput(output []nearAIOutputItem) (string, []agent.ToolCall) {
	var text strings.Builder
	var calls []agent.ToolCall
	for _, item := range output {
		switch item.Type {
		case "function_call":
			var args json.RawMessage
			if item.Arguments != "" {
				args = json.RawMessage(item.Arguments)
			}
			calls = append(calls, agent.ToolCall{ID: item.CallID, Name: item.Name, Arguments: args})
		default:
			if item.Text != "" {
				text.WriteString(item.Text)
				continue
			}
			for _, block := range item.Content {
				switch block.Type {
				case "output_text", "input_text", "text":
					text.WriteString(block.Text)
				}
			}
		}
	}
	return text.String(), calls
}

func normalizeNearAIFinishReason(hasToolCalls bool) agent.FinishReason {
	if hasToolCalls {
		return agent.FinishToolUse
	}
	return agent.FinishStop
}

func (p *NearAIProvider) wrapError(err error, status int, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if status == http.StatusUnauthorized {
		body := err.Error()
		if isSessionExpiredBody(body) {
			return &ProviderError{Kind: KindSessionExpired, Provider: "nearai", Model: model, Status: status, Cause: err, Message: "nearai session expired"}
		}
		return &ProviderError{Kind: KindAuthFailed, Provider: "nearai", Model: model, Status: status, Cause: err}
	}
	if status > 0 {
		return (&ProviderError{Provider: "nearai", Model: model, Cause: err}).WithStatus(status)
	}
	return NewProviderError("nearai", model, err)
}
