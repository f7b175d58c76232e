package providers

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/ironclaw/ironclaw/internal/agent"
)

func newTestCodexProvider(t *testing.T) *CodexProvider {
	t.Helper()
	p, err := NewCodexProvider(CodexConfig{APIKey: "sk-test", DefaultModel: "gpt-5.3-codex"})
	if err != nil {
		t.Fatalf("NewCodexProvider: %v", err)
	}
	return p
}

func TestNewCodexProviderRequiresAPIKeyOrAuthJSON(t *testing.T) {
	if _, err := NewCodexProvider(CodexConfig{}); err == nil {
		t.Fatal("expected error when neither an API key nor an auth.json path is configured")
	}
}

func TestCodexModelSelection(t *testing.T) {
	p := newTestCodexProvider(t)
	if p.ModelName() != "gpt-5.3-codex" {
		t.Errorf("unexpected default model: %s", p.ModelName())
	}
	p.SetModel("o3")
	if p.ActiveModelName() != "o3" {
		t.Errorf("SetModel did not update active model")
	}
	p.SetModel("")
	if p.ActiveModelName() != "o3" {
		t.Errorf("SetModel(\"\") should be a no-op")
	}
}

func TestCodexResponsesURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/responses"},
		{"https://chatgpt.com/backend-api/codex", "https://chatgpt.com/backend-api/codex/responses"},
		{"https://example.com/api", "https://example.com/api/v1/responses"},
	}
	for _, tt := range tests {
		p, err := NewCodexProvider(CodexConfig{APIKey: "sk-test", DefaultModel: "gpt-5.3-codex", BaseURL: tt.base})
		if err != nil {
			t.Fatalf("NewCodexProvider: %v", err)
		}
		if got := p.responsesURL(); got != tt.want {
			t.Errorf("responsesURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestConvertMessagesCodexSplitsInstructionsAndToolOutputs(t *testing.T) {
	msgs := []agent.ChatMessage{
		{Role: agent.RoleSystem, Content: "be terse"},
		{Role: agent.RoleUser, Content: "what's 2+2"},
		{Role: agent.RoleAssistant, Content: "let me check"},
		{Role: agent.RoleTool, ToolCallID: "call_1", Content: "4"},
		{Role: agent.RoleSystem, Content: "never lie"},
	}
	instructions, input := convertMessagesCodex(msgs)
	if instructions != "be terse\n\nnever lie" {
		t.Errorf("unexpected instructions: %q", instructions)
	}
	if len(input) != 3 {
		t.Fatalf("expected 3 input items, got %d", len(input))
	}
	if input[2].Type != "function_call_output" || input[2].CallID != "call_1" || input[2].Output != "4" {
		t.Errorf("unexpected tool output item: %+v", input[2])
	}
}

func TestParseCodexOutput(t *testing.T) {
	output := []codexOutputItem{
		{Type: "message", Content: []codexContentBlock{{Type: "output_text", Text: "hello "}, {Type: "output_text", Text: "world"}}},
		{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: `{"q":"a"}`},
	}
	text, calls := parseCodexOutput(output)
	if text != "hello world" {
		t.Errorf("unexpected text: %q", text)
	}
	if len(calls) != 1 || calls[0].Name != "lookup" || string(calls[0].Arguments) != `{"q":"a"}` {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
}

func TestNormalizeCodexStatus(t *testing.T) {
	tests := []struct {
		status       string
		hasToolCalls bool
		want         agent.FinishReason
	}{
		{"completed", false, agent.FinishStop},
		{"incomplete", false, agent.FinishLength},
		{"failed", false, agent.FinishUnknown},
		{"", true, agent.FinishToolUse},
		{"", false, agent.FinishUnknown},
	}
	for _, tt := range tests {
		if got := normalizeCodexStatus(tt.status, tt.hasToolCalls); got != tt.want {
			t.Errorf("normalizeCodexStatus(%q, %v) = %v, want %v", tt.status, tt.hasToolCalls, got, tt.want)
		}
	}
}

func TestCodexLoadTokenFromDiskTriesEachFieldPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/auth.json"
	if err := os.WriteFile(path, []byte(`{"token":"tok-123"}`), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	p, err := NewCodexProvider(CodexConfig{AuthJSONPath: path, DefaultModel: "gpt-5.3-codex"})
	if err != nil {
		t.Fatalf("NewCodexProvider: %v", err)
	}
	tok, err := p.bearerToken()
	if err != nil {
		t.Fatalf("bearerToken: %v", err)
	}
	if tok != "tok-123" {
		t.Errorf("unexpected token: %q", tok)
	}

	p.invalidateToken()
	if p.cachedToken != "" {
		t.Error("invalidateToken should clear the cache")
	}
}

func TestConvertToolDefsCodexFlattensDefinition(t *testing.T) {
	tools := []agent.ToolDefinition{
		{Name: "lookup", Description: "look something up", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	out := convertToolDefsCodex(tools)
	if len(out) != 1 || out[0].Type != "function" || out[0].Name != "lookup" {
		t.Errorf("unexpected tool def: %+v", out)
	}
}
