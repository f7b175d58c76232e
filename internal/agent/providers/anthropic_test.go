package providers

import (
	"encoding/json"
	"testing"

	"github.com/ironclaw/ironclaw/internal/agent"
)

func newTestAnthropicProvider(t *testing.T) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test", DefaultModel: "claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	return p
}

func TestNewAnthropicProviderRequiresAPIKeyOrAuthJSON(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{AuthMode: AnthropicAuthAPIKey}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
	if _, err := NewAnthropicProvider(AnthropicConfig{AuthMode: AnthropicAuthOAuth}); err == nil {
		t.Fatal("expected error when auth.json path is missing in OAuth mode")
	}
}

func TestAnthropicModelSelection(t *testing.T) {
	p := newTestAnthropicProvider(t)
	if p.ModelName() != "claude-sonnet-4-20250514" {
		t.Errorf("unexpected default model: %s", p.ModelName())
	}
	p.SetModel("claude-opus-4-20250514")
	if p.ActiveModelName() != "claude-opus-4-20250514" {
		t.Errorf("SetModel did not update active model")
	}
	p.SetModel("")
	if p.ActiveModelName() != "claude-opus-4-20250514" {
		t.Errorf("SetModel(\"\") should be a no-op")
	}
}

func TestAnthropicProviderOAuthRequiresReadableAuthJSON(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{
		AuthMode:     AnthropicAuthOAuth,
		AuthJSONPath: "/nonexistent/auth.json",
	}); err == nil {
		t.Fatal("expected error loading nonexistent auth.json")
	}
}

func TestExtractSystemMessages(t *testing.T) {
	msgs := []agent.ChatMessage{
		{Role: agent.RoleSystem, Content: "be terse"},
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleSystem, Content: "never lie"},
	}
	systems, rest := extractSystemMessages(msgs)
	if len(systems) != 2 || systems[0] != "be terse" || systems[1] != "never lie" {
		t.Errorf("unexpected systems: %v", systems)
	}
	if len(rest) != 1 || rest[0].Content != "hi" {
		t.Errorf("unexpected rest: %v", rest)
	}
}

func TestAnthropicConvertMessagesMergesConsecutiveToolResults(t *testing.T) {
	p := newTestAnthropicProvider(t)
	msgs := []agent.ChatMessage{
		{Role: agent.RoleUser, Content: "run two tools"},
		{
			Role: agent.RoleAssistant,
			ToolCalls: []agent.ToolCall{
				{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{"q":"a"}`)},
				{ID: "call_2", Name: "lookup", Arguments: json.RawMessage(`{"q":"b"}`)},
			},
		},
		{Role: agent.RoleTool, ToolCallID: "call_1", Content: "result a"},
		{Role: agent.RoleTool, ToolCallID: "call_2", Content: "result b"},
	}

	out, err := p.convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 messages (user, assistant, merged tool-result), got %d", len(out))
	}
	merged := out[2]
	if len(merged.Content) != 2 {
		t.Errorf("expected the two tool results to merge into one message with 2 blocks, got %d", len(merged.Content))
	}
}

func TestAnthropicConvertMessagesRejectsInvalidToolArguments(t *testing.T) {
	p := newTestAnthropicProvider(t)
	msgs := []agent.ChatMessage{
		{
			Role: agent.RoleAssistant,
			ToolCalls: []agent.ToolCall{
				{ID: "call_1", Name: "broken", Arguments: json.RawMessage(`not json`)},
			},
		},
	}
	if _, err := p.convertMessages(msgs); err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

func TestNormalizeAnthropicStopReason(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		expected     agent.FinishReason
	}{
		{"end_turn", false, agent.FinishStop},
		{"stop_sequence", false, agent.FinishStop},
		{"max_tokens", false, agent.FinishLength},
		{"tool_use", true, agent.FinishToolUse},
		{"something_new", true, agent.FinishToolUse},
		{"something_new", false, agent.FinishUnknown},
	}
	for _, tt := range tests {
		if got := normalizeAnthropicStopReason(tt.reason, tt.hasToolCalls); got != tt.expected {
			t.Errorf("normalizeAnthropicStopReason(%q, %v) = %v, want %v", tt.reason, tt.hasToolCalls, got, tt.expected)
		}
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if maxTokensOrDefault(0) != 4096 {
		t.Error("expected default of 4096 for n <= 0")
	}
	if maxTokensOrDefault(-5) != 4096 {
		t.Error("expected default of 4096 for negative n")
	}
	if maxTokensOrDefault(512) != 512 {
		t.Error("expected explicit value to pass through")
	}
}

func TestConvertToolDefsAnthropic(t *testing.T) {
	tools := []agent.ToolDefinition{
		{Name: "lookup", Description: "look something up", Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
	}
	out, err := convertToolDefsAnthropic(tools)
	if err != nil {
		t.Fatalf("convertToolDefsAnthropic: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
}
