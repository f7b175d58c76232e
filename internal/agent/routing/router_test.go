package routing

import (
	"context"
	"testing"

	"github.com/ironclaw/ironclaw/internal/agent"
)

type stubProvider struct {
	name         string
	model        string
	respContent  string
	respErr      error
	calls        int
	toolCalls    int
}

func (p *stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	p.calls++
	if p.respErr != nil {
		return nil, p.respErr
	}
	return &agent.CompletionResponse{Content: p.respContent, FinishReason: agent.FinishStop}, nil
}

func (p *stubProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.ToolCompletionResponse, error) {
	p.toolCalls++
	return &agent.ToolCompletionResponse{Content: p.respContent, FinishReason: agent.FinishStop}, nil
}

func (p *stubProvider) ListModels(ctx context.Context) ([]agent.Model, error) { return nil, nil }
func (p *stubProvider) ModelName() string                                    { return p.model }
func (p *stubProvider) ActiveModelName() string                              { return p.model }
func (p *stubProvider) SetModel(id string)                                   { p.model = id }
func (p *stubProvider) EffectiveModelName(ctx context.Context) string        { return p.model }
func (p *stubProvider) CostPerToken() (float64, float64)                     { return 0, 0 }

func reqWithUser(content string) *agent.CompletionRequest {
	return &agent.CompletionRequest{Messages: []agent.ChatMessage{{Role: agent.RoleUser, Content: content}}}
}

func TestSmartRouterSimpleGreetingGoesCheap(t *testing.T) {
	cheap := &stubProvider{name: "cheap", model: "cheap-model", respContent: "hi there"}
	primary := &stubProvider{name: "primary", model: "primary-model"}
	router := NewSmartRouter(cheap, primary, DefaultSmartRouterConfig())

	ctx := WithTaskID(context.Background())
	resp, err := router.Complete(ctx, reqWithUser("hello"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if cheap.calls != 1 || primary.calls != 0 {
		t.Fatalf("expected exactly the cheap provider to be called, got cheap=%d primary=%d", cheap.calls, primary.calls)
	}
	counters := router.Counters()
	if counters.Total != 1 || counters.Cheap != 1 || counters.Primary != 0 {
		t.Errorf("unexpected counters: %+v", counters)
	}
	if got := router.EffectiveModelName(ctx); got != "cheap-model" {
		t.Errorf("EffectiveModelName = %q, want cheap-model", got)
	}
}

func TestSmartRouterCascadeEscalation(t *testing.T) {
	cheap := &stubProvider{name: "cheap", model: "cheap-model", respContent: "I'm not sure about that."}
	primary := &stubProvider{name: "primary", model: "primary-model", respContent: "Here is the answer."}
	router := NewSmartRouter(cheap, primary, DefaultSmartRouterConfig())

	ctx := WithTaskID(context.Background())
	// A message long enough to avoid the Simple-greeting bucket but short of
	// ComplexMinChars classifies Moderate.
	resp, err := router.Complete(ctx, reqWithUser("what should I consider when choosing a database for this workload"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Here is the answer." {
		t.Errorf("expected the primary's answer to be visible, got %q", resp.Content)
	}
	if cheap.calls != 1 || primary.calls != 1 {
		t.Fatalf("expected one call to each tier, got cheap=%d primary=%d", cheap.calls, primary.calls)
	}
	counters := router.Counters()
	if counters.CascadeEscalations != 1 {
		t.Errorf("expected 1 cascade escalation, got %d", counters.CascadeEscalations)
	}
	if got := router.EffectiveModelName(ctx); got != "primary-model" {
		t.Errorf("EffectiveModelName = %q, want primary-model after escalation", got)
	}
}

func TestSmartRouterComplexGoesPrimary(t *testing.T) {
	cheap := &stubProvider{name: "cheap", model: "cheap-model"}
	primary := &stubProvider{name: "primary", model: "primary-model", respContent: "refactored"}
	router := NewSmartRouter(cheap, primary, DefaultSmartRouterConfig())

	resp, err := router.Complete(context.Background(), reqWithUser("please refactor this function to remove duplication"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "refactored" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if primary.calls != 1 || cheap.calls != 0 {
		t.Fatalf("expected only the primary to be called, got cheap=%d primary=%d", cheap.calls, primary.calls)
	}
}

func TestSmartRouterCodeFenceIsComplex(t *testing.T) {
	req := reqWithUser("```go\nfunc main() {}\n```")
	if got := Classify(req, DefaultClassifyConfig()); got != Complex {
		t.Errorf("Classify(code fence) = %v, want Complex", got)
	}
}

func TestSmartRouterLongMessageIsComplex(t *testing.T) {
	long := make([]byte, DefaultClassifyConfig().ComplexMinChars)
	for i := range long {
		long[i] = 'a'
	}
	req := reqWithUser(string(long))
	if got := Classify(req, DefaultClassifyConfig()); got != Complex {
		t.Errorf("Classify(long message) = %v, want Complex", got)
	}
}

func TestSmartRouterCompleteWithToolsAlwaysGoesPrimary(t *testing.T) {
	cheap := &stubProvider{name: "cheap", model: "cheap-model"}
	primary := &stubProvider{name: "primary", model: "primary-model", respContent: "tool result"}
	router := NewSmartRouter(cheap, primary, DefaultSmartRouterConfig())

	req := &agent.ToolCompletionRequest{
		CompletionRequest: *reqWithUser("hello"),
		Tools:             []agent.ToolDefinition{{Name: "lookup"}},
	}
	resp, err := router.CompleteWithTools(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	if resp.Content != "tool result" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if primary.toolCalls != 1 || cheap.toolCalls != 0 {
		t.Fatalf("expected CompleteWithTools to always route to primary, got cheap=%d primary=%d", cheap.toolCalls, primary.toolCalls)
	}
}

func TestLooksUncertain(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"", true},
		{"I'm not sure about that.", true},
		{"I don't know.", true},
		{"Here is a concrete answer.", false},
	}
	for _, tc := range cases {
		if got := looksUncertain(tc.content); got != tc.want {
			t.Errorf("looksUncertain(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}
