package providers

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ironclaw/ironclaw/internal/agent"
)

func TestConvertMessagesBedrockMergesToolResultsIntoUserBlock(t *testing.T) {
	msgs := []agent.ChatMessage{
		{Role: agent.RoleUser, Content: "check the weather"},
		{Role: agent.RoleAssistant, Content: "", ToolCalls: []agent.ToolCall{
			{ID: "t1", Name: "weather", Arguments: json.RawMessage(`{"city":"sf"}`)},
			{ID: "t2", Name: "weather", Arguments: json.RawMessage(`{"city":"nyc"}`)},
		}},
		{Role: agent.RoleTool, ToolCallID: "t1", Content: "sunny"},
		{Role: agent.RoleTool, ToolCallID: "t2", Content: "rainy"},
	}

	out, err := convertMessagesBedrock(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("messages = %d, want user/assistant/merged-tool-results", len(out))
	}
	if out[0].Role != types.ConversationRoleUser {
		t.Errorf("first role = %v", out[0].Role)
	}
	if out[1].Role != types.ConversationRoleAssistant || len(out[1].Content) != 2 {
		t.Errorf("assistant message: role=%v blocks=%d", out[1].Role, len(out[1].Content))
	}

	// Converse requires strict user/assistant alternation: consecutive tool
	// results become one user-role message with two result blocks, in order.
	merged := out[2]
	if merged.Role != types.ConversationRoleUser || len(merged.Content) != 2 {
		t.Fatalf("merged tool results: role=%v blocks=%d", merged.Role, len(merged.Content))
	}
	first, ok := merged.Content[0].(*types.ContentBlockMemberToolResult)
	if !ok || aws.ToString(first.Value.ToolUseId) != "t1" {
		t.Fatalf("first merged block = %#v", merged.Content[0])
	}
	second, ok := merged.Content[1].(*types.ContentBlockMemberToolResult)
	if !ok || aws.ToString(second.Value.ToolUseId) != "t2" {
		t.Fatalf("second merged block = %#v", merged.Content[1])
	}
}

func TestConvertMessagesBedrockDropsEmptyMessages(t *testing.T) {
	msgs := []agent.ChatMessage{
		{Role: agent.RoleUser, Content: ""},
		{Role: agent.RoleUser, Content: "hello"},
	}
	out, err := convertMessagesBedrock(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("empty messages must be dropped, got %d", len(out))
	}
}

func TestConvertToolDefsBedrock(t *testing.T) {
	defs := []agent.ToolDefinition{{
		Name:        "lookup",
		Description: "Look something up",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"],"additionalProperties":false}`),
	}}
	cfg, err := convertToolDefsBedrock(defs)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Tools) != 1 {
		t.Fatalf("tools = %d", len(cfg.Tools))
	}
	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("tool = %#v", cfg.Tools[0])
	}
	if aws.ToString(spec.Value.Name) != "lookup" || aws.ToString(spec.Value.Description) != "Look something up" {
		t.Errorf("spec = %+v", spec.Value)
	}
}

func TestConvertToolDefsBedrockRejectsMalformedSchema(t *testing.T) {
	defs := []agent.ToolDefinition{{Name: "bad", Parameters: json.RawMessage(`{not json`)}}
	if _, err := convertToolDefsBedrock(defs); err == nil {
		t.Fatal("expected schema decode error")
	}
}

func TestNormalizeBedrockStopReason(t *testing.T) {
	cases := []struct {
		reason       types.StopReason
		hasToolCalls bool
		want         agent.FinishReason
	}{
		{types.StopReasonEndTurn, false, agent.FinishStop},
		{types.StopReasonStopSequence, false, agent.FinishStop},
		{types.StopReasonMaxTokens, false, agent.FinishLength},
		{types.StopReasonToolUse, true, agent.FinishToolUse},
		{types.StopReasonContentFiltered, false, agent.FinishContentFilter},
		{types.StopReason("mystery"), true, agent.FinishToolUse},
		{types.StopReason("mystery"), false, agent.FinishUnknown},
	}
	for _, tc := range cases {
		if got := normalizeBedrockStopReason(tc.reason, tc.hasToolCalls); got != tc.want {
			t.Errorf("normalize(%q, %v) = %q, want %q", tc.reason, tc.hasToolCalls, got, tc.want)
		}
	}
}

func TestBedrockCostPerTokenIsZero(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	in, out := p.CostPerToken()
	if in != 0 || out != 0 {
		t.Fatalf("bedrock bills out of band; cost = (%v, %v)", in, out)
	}
}
