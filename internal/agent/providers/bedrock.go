package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// BedrockConfig configures a BedrockProvider, which fronts the Converse API
// Amazon's Converse API, non-streaming.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
}

// BedrockProvider adapts the shared contract onto AWS Bedrock's Converse
// API. Authentication uses the AWS SDK's default credential chain unless
// explicit keys are supplied.
type BedrockProvider struct {
	client    *bedrockruntime.Client
	transport TransportRetry

	mu           sync.RWMutex
	defaultModel string
	activeModel  string

	router *taskRouteRecorder
}

func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		transport:    TransportRetry{MaxRetries: cfg.MaxRetries},
		defaultModel: cfg.DefaultModel,
		activeModel:  cfg.DefaultModel,
		router:       newTaskRouteRecorder(),
	}, nil
}

func (p *BedrockProvider) ModelName() string { return p.defaultModel }

func (p *BedrockProvider) ActiveModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeModel
}

func (p *BedrockProvider) SetModel(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	p.mu.Lock()
	p.activeModel = id
	p.mu.Unlock()
}

func (p *BedrockProvider) EffectiveModelName(ctx context.Context) string {
	return p.router.take(ctx, p.ActiveModelName())
}

// CostPerToken is unset for Bedrock: spend is billed through AWS and tracked
// outside the per-token model the other adapters use.
func (p *BedrockProvider) CostPerToken() (float64, float64) { return 0, 0 }

func (p *BedrockProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	return []agent.Model{
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", ContextSize: 8192, SupportsVision: false},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8192, SupportsVision: false},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", ContextSize: 32768, SupportsVision: false},
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", ContextSize: 128000, SupportsVision: false},
	}, nil
}

func (p *BedrockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp, err := p.complete(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return &agent.CompletionResponse{Content: resp.Content, Usage: resp.Usage, FinishReason: resp.FinishReason}, nil
}

func (p *BedrockProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	resp, err := p.complete(ctx, &req.CompletionRequest, req.Tools)
	if err != nil {
		return nil, err
	}
	p.router.record(ctx, p.resolveModel(req.Model))
	return resp, nil
}

func (p *BedrockProvider) resolveModel(reqModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return p.ActiveModelName()
}

func (p *BedrockProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (*agent.ToolCompletionResponse, error) {
	model := p.resolveModel(req.Model)

	systems, rest := extractSystemMessages(req.Messages)
	messages, err := convertMessagesBedrock(rest)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if len(systems) > 0 {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: strings.Join(systems, "\n\n")},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(tools) > 0 {
		toolConfig, err := convertToolDefsBedrock(tools)
		if err != nil {
			return nil, err
		}
		converseReq.ToolConfig = toolConfig
	}

	var out *bedrockruntime.ConverseOutput
	retryErr := p.transport.Do(ctx, func(attempt int) (int, error) {
		o, callErr := p.client.Converse(ctx, converseReq)
		if callErr == nil {
			out = o
			return 0, nil
		}
		return p.statusOf(callErr), p.wrapError(callErr, model)
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return bedrockOutputToResponse(out, model)
}

func convertMessagesBedrock(msgs []agent.ChatMessage) ([]types.Message, error) {
	result := make([]types.Message, 0, len(msgs))
	// push folds a message into the previous one when the roles match, so
	// the Converse API always sees strict user/assistant alternation.
	push := func(role types.ConversationRole, content []types.ContentBlock) {
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, content...)
			return
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	i := 0
	for i < len(msgs) {
		m := msgs[i]
		if m.Role == agent.RoleTool {
			var content []types.ContentBlock
			for i < len(msgs) && msgs[i].Role == agent.RoleTool {
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(msgs[i].ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msgs[i].Content}},
					},
				})
				i++
			}
			push(types.ConversationRoleUser, content)
			continue
		}

		var content []types.ContentBlock
		if m.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: m.Content})
		}
		role := types.ConversationRoleUser
		if m.Role == agent.RoleAssistant {
			role = types.ConversationRoleAssistant
			for _, tc := range m.ToolCalls {
				var inputDoc any
				if err := json.Unmarshal(tc.Arguments, &inputDoc); err != nil {
					inputDoc = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})
			}
		}
		if len(content) > 0 {
			push(role, content)
		}
		i++
	}
	return result, nil
}

func convertToolDefsBedrock(tools []agent.ToolDefinition) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("bedrock: invalid tool schema for %s: %w", t.Name, err)
			}
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func bedrockOutputToResponse(out *bedrockruntime.ConverseOutput, model string) (*agent.ToolCompletionResponse, error) {
	resp := &agent.ToolCompletionResponse{}
	if out.Usage != nil {
		resp.Usage = agent.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, &ProviderError{Kind: KindInvalidResponse, Provider: "bedrock", Model: model, Message: "no message in response"}
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *types.ContentBlockMemberToolUse:
			raw, err := json.Marshal(b.Value.Input)
			if err != nil {
				raw = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: raw,
			})
		}
	}
	resp.Content = text.String()
	resp.FinishReason = normalizeBedrockStopReason(out.StopReason, len(resp.ToolCalls) > 0)
	return resp, nil
}

func normalizeBedrockStopReason(reason types.StopReason, hasToolCalls bool) agent.FinishReason {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return agent.FinishStop
	case types.StopReasonMaxTokens:
		return agent.FinishLength
	case types.StopReasonToolUse:
		return agent.FinishToolUse
	case types.StopReasonContentFiltered:
		return agent.FinishContentFilter
	default:
		if hasToolCalls {
			return agent.FinishToolUse
		}
		return agent.FinishUnknown
	}
}

func (p *BedrockProvider) statusOf(err error) int {
	var apiErr smithy.APIError
	if ok := asSmithyAPIError(err, &apiErr); ok {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return 429
		case "ServiceUnavailableException":
			return 503
		case "ValidationException", "AccessDeniedException":
			return 400
		}
	}
	return -1
}

func asSmithyAPIError(err error, target *smithy.APIError) bool {
	apiErr, ok := err.(smithy.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	pe := NewProviderError("bedrock", model, err)
	var apiErr smithy.APIError
	if asSmithyAPIError(err, &apiErr) {
		pe = pe.WithCode(apiErr.ErrorCode())
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			pe = pe.WithKind(KindRateLimited)
		case "ServiceUnavailableException":
			pe = pe.WithKind(KindProviderUnavailable)
		case "ValidationException", "AccessDeniedException":
			pe = pe.WithKind(KindRequestFailed)
		}
	}
	return pe
}
