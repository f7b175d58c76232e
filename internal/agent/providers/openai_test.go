package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ironclaw/ironclaw/internal/agent"
)

func newTestOpenAIProvider(t *testing.T) *OpenAICompatProvider {
	t.Helper()
	p, err := NewOpenAICompatProvider(OpenAIConfig{APIKey: "sk-test", DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewOpenAICompatProvider: %v", err)
	}
	return p
}

func TestNewOpenAICompatProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAICompatProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestOpenAICompatModelSelection(t *testing.T) {
	p := newTestOpenAIProvider(t)
	if p.ModelName() != "gpt-4o" {
		t.Errorf("unexpected default model: %s", p.ModelName())
	}
	p.SetModel("gpt-4o-mini")
	if p.ActiveModelName() != "gpt-4o-mini" {
		t.Error("SetModel did not update active model")
	}
	p.SetModel("")
	if p.ActiveModelName() != "gpt-4o-mini" {
		t.Error("SetModel(\"\") should be a no-op")
	}
}

func TestConvertMessagesOpenAIMergesSystemMessages(t *testing.T) {
	msgs := []agent.ChatMessage{
		{Role: agent.RoleSystem, Content: "be terse"},
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleSystem, Content: "never lie"},
		{
			Role: agent.RoleAssistant,
			ToolCalls: []agent.ToolCall{
				{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{"q":"a"}`)},
			},
		},
		{Role: agent.RoleTool, ToolCallID: "call_1", Name: "lookup", Content: "result a"},
	}

	out := convertMessagesOpenAI(msgs)
	if out[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected first message to be the merged system message, got role %s", out[0].Role)
	}
	if out[0].Content != "be terse\n\nnever lie" {
		t.Errorf("unexpected merged system content: %q", out[0].Content)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 messages (system, user, assistant, tool), got %d", len(out))
	}
	assistantMsg := out[2]
	if len(assistantMsg.ToolCalls) != 1 || assistantMsg.ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("expected assistant tool call to round-trip, got %+v", assistantMsg.ToolCalls)
	}
	toolMsg := out[3]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("expected tool message with ToolCallID call_1, got %+v", toolMsg)
	}
}

func TestConvertToolDefsOpenAI(t *testing.T) {
	tools := []agent.ToolDefinition{
		{Name: "lookup", Description: "look something up", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	out := convertToolDefsOpenAI(tools)
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	if out[0].Function.Name != "lookup" {
		t.Errorf("unexpected tool name: %s", out[0].Function.Name)
	}
}

func TestNormalizeOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		expected     agent.FinishReason
	}{
		{"stop", false, agent.FinishStop},
		{"length", false, agent.FinishLength},
		{"tool_calls", true, agent.FinishToolUse},
		{"function_call", true, agent.FinishToolUse},
		{"content_filter", false, agent.FinishContentFilter},
		{"something_new", true, agent.FinishToolUse},
		{"something_new", false, agent.FinishUnknown},
	}
	for _, tt := range tests {
		if got := normalizeOpenAIFinishReason(tt.reason, tt.hasToolCalls); got != tt.expected {
			t.Errorf("normalizeOpenAIFinishReason(%q, %v) = %v, want %v", tt.reason, tt.hasToolCalls, got, tt.expected)
		}
	}
}
