package agent

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolErrorTypeIsRetryable(t *testing.T) {
	retryable := []ToolErrorType{ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit}
	for _, tt := range retryable {
		if !tt.IsRetryable() {
			t.Errorf("%s should be retryable", tt)
		}
	}
	terminal := []ToolErrorType{ToolErrorNotFound, ToolErrorInvalidInput, ToolErrorPermission, ToolErrorExecution, ToolErrorPanic, ToolErrorUnknown}
	for _, tt := range terminal {
		if tt.IsRetryable() {
			t.Errorf("%s should not be retryable", tt)
		}
	}
}

func TestNewToolErrorClassifiesByCause(t *testing.T) {
	cases := []struct {
		cause error
		want  ToolErrorType
	}{
		{fmt.Errorf("wrapped: %w", ErrToolNotFound), ToolErrorNotFound},
		{fmt.Errorf("wrapped: %w", ErrToolTimeout), ToolErrorTimeout},
		{fmt.Errorf("wrapped: %w", ErrToolPanic), ToolErrorPanic},
		{errors.New("context deadline exceeded"), ToolErrorTimeout},
		{errors.New("connection refused"), ToolErrorNetwork},
		{errors.New("429 too many requests"), ToolErrorRateLimit},
		{errors.New("access denied for user"), ToolErrorPermission},
		{errors.New("missing required field url"), ToolErrorInvalidInput},
		{errors.New("segmentation violation"), ToolErrorExecution},
	}
	for _, tc := range cases {
		got := NewToolError("http", tc.cause)
		if got.Type != tc.want {
			t.Errorf("NewToolError(%q).Type = %s, want %s", tc.cause, got.Type, tc.want)
		}
		if got.Retryable != tc.want.IsRetryable() {
			t.Errorf("NewToolError(%q).Retryable inconsistent with type", tc.cause)
		}
	}
}

func TestToolErrorFormatsAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewToolError("http", cause).WithAttempts(3)

	msg := err.Error()
	if !strings.Contains(msg, "[tool:network]") || !strings.Contains(msg, "http") || !strings.Contains(msg, "attempts=3") {
		t.Fatalf("message = %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Fatal("ToolError must unwrap to its cause")
	}
}

func TestToolErrorBuilders(t *testing.T) {
	err := NewToolError("shell", errors.New("boom")).
		WithType(ToolErrorTimeout).
		WithToolCallID("call_1").
		WithMessage("tool timed out after 30s")

	if err.Type != ToolErrorTimeout || !err.Retryable {
		t.Fatalf("type = %s retryable = %v", err.Type, err.Retryable)
	}
	if err.ToolCallID != "call_1" {
		t.Fatalf("call id = %q", err.ToolCallID)
	}
	if !strings.Contains(err.Error(), "tool timed out after 30s") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestGetToolErrorThroughWrapping(t *testing.T) {
	inner := NewToolError("http", errors.New("x"))
	wrapped := fmt.Errorf("dispatch failed: %w", inner)

	if !IsToolError(wrapped) {
		t.Fatal("IsToolError should see through wrapping")
	}
	got, ok := GetToolError(wrapped)
	if !ok || got.ToolName != "http" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if IsToolError(errors.New("plain")) {
		t.Fatal("plain errors are not tool errors")
	}
}

func TestIsToolRetryable(t *testing.T) {
	if !IsToolRetryable(NewToolError("http", errors.New("connection reset by network"))) {
		t.Fatal("network tool error should be retryable")
	}
	if IsToolRetryable(NewToolError("http", errors.New("invalid params"))) {
		t.Fatal("invalid-input tool error should not be retryable")
	}
	// Bare errors fall back to message classification.
	if !IsToolRetryable(errors.New("rate limit exceeded")) {
		t.Fatal("rate-limit-shaped bare error should be retryable")
	}
}

func TestLoopErrorFormatsAndUnwraps(t *testing.T) {
	cause := errors.New("provider blew up")
	err := &LoopError{Phase: PhasePlanning, Iteration: 2, Cause: cause}
	if !strings.Contains(err.Error(), "planning") || !strings.Contains(err.Error(), "iteration 2") {
		t.Fatalf("message = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("LoopError must unwrap")
	}

	withMsg := &LoopError{Phase: PhaseDispatching, Iteration: 0, Message: "tool hung"}
	if !strings.Contains(withMsg.Error(), "tool hung") {
		t.Fatalf("message = %q", withMsg.Error())
	}
}

func TestLoopPhases(t *testing.T) {
	phases := []LoopPhase{PhasePlanning, PhaseDispatching, PhaseCollecting, PhaseDone}
	seen := map[LoopPhase]bool{}
	for _, p := range phases {
		if p == "" || seen[p] {
			t.Fatalf("phase %q empty or duplicated", p)
		}
		seen[p] = true
	}
}
