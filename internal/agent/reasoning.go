package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ironclaw/ironclaw/internal/observability"
)

// ApprovalFunc decides whether a tool call needs human sign-off before it
// runs (e.g. a NEAR transaction the keys/policy engine flagged). Returning
// (false, "") means the call may proceed immediately.
type ApprovalFunc func(ctx context.Context, call ToolCall) (needsApproval bool, reason string)

// ApprovalDecider is asked to approve or deny a call that ApprovalFunc
// flagged. It blocks until a decision is made (or ctx is cancelled).
type ApprovalDecider func(ctx context.Context, call ToolCall, reason string) (approved bool)

// ActionLogEntry records one step of a reasoning loop run, regardless of
// whether the run as a whole succeeds, so a cancelled or erroring run still
// leaves an audit trail of what was actually dispatched.
type ActionLogEntry struct {
	Iteration int
	Phase     LoopPhase
	ToolName  string
	ToolCall  *ToolCall
	Result    *ToolResult
	Err       error
}

// ReasoningLoop drives the Planning -> Dispatching -> Collecting ->
// Done|Continue state machine described by the agent's system prompt: each
// iteration asks the provider for a completion against the current
// attenuated tool catalog, dispatches any requested tool calls, appends
// their results, and either stops (no tool calls, or the iteration cap is
// hit) or continues.
type ReasoningLoop struct {
	Provider      LLMProvider
	Tools         *ToolRegistry
	Sanitizer     *Sanitizer
	MaxIterations int

	// TrustCeiling bounds which tools are attenuated into the catalog this
	// run. Callers recompute it per turn from the skills active in context.
	TrustCeiling TrustCeiling

	// NeedsApproval and Approve implement the human-in-the-loop gate for
	// sensitive tool calls (transaction signing, destructive shell
	// commands). Both may be nil, in which case no call ever requires
	// approval.
	NeedsApproval ApprovalFunc
	Approve       ApprovalDecider

	// Metrics, when set, records one ReasoningTurns observation per
	// iteration (continue|done|error) and one ToolExecution observation
	// per dispatched tool call.
	Metrics *observability.Metrics

	// Tracer, when set, wraps each dispatched tool call in a span.
	Tracer *observability.Tracer
}

// Run drives the loop to completion from the given message history,
// returning the final assistant message, the accumulated usage, and the
// full action log (including entries for calls made before a cancellation
// or error, per the "partial progress is still recorded" invariant).
func (l *ReasoningLoop) Run(ctx context.Context, messages []ChatMessage, model string) (*ChatMessage, Usage, []ActionLogEntry, error) {
	if l.Provider == nil {
		return nil, Usage{}, nil, ErrNoProvider
	}
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = 25
	}

	history := append([]ChatMessage(nil), messages...)
	var log []ActionLogEntry
	var total Usage

	for iter := 0; iter < maxIter; iter++ {
		select {
		case <-ctx.Done():
			l.recordTurn("error")
			return nil, total, log, &LoopError{Phase: PhasePlanning, Iteration: iter, Cause: ctx.Err()}
		default:
		}

		req := &ToolCompletionRequest{
			CompletionRequest: CompletionRequest{Model: model, Messages: history},
			Tools:             l.Tools.Definitions(l.TrustCeiling),
			ToolChoice:        ToolChoiceAuto,
		}

		resp, err := l.Provider.CompleteWithTools(ctx, req)
		if err != nil {
			l.recordTurn("error")
			return nil, total, log, &LoopError{Phase: PhasePlanning, Iteration: iter, Cause: err}
		}
		total.InputTokens += resp.Usage.InputTokens
		total.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			l.recordTurn("done")
			final := ChatMessage{Role: RoleAssistant, Content: resp.Content}
			return &final, total, log, nil
		}
		l.recordTurn("continue")

		assistantMsg := ChatMessage{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		history = append(history, assistantMsg)

		for _, call := range resp.ToolCalls {
			select {
			case <-ctx.Done():
				return nil, total, log, &LoopError{Phase: PhaseDispatching, Iteration: iter, Cause: ctx.Err()}
			default:
			}

			result, dispatchErr := l.dispatch(ctx, call)
			log = append(log, ActionLogEntry{Iteration: iter, Phase: PhaseDispatching, ToolName: call.Name, ToolCall: &call, Result: result, Err: dispatchErr})

			toolMsg := ChatMessage{Role: RoleTool, ToolCallID: call.ID, Name: call.Name}
			if dispatchErr != nil {
				toolMsg.Content = dispatchErr.Error()
			} else {
				toolMsg.Content = result.Content
			}
			history = append(history, toolMsg)
		}
	}

	l.recordTurn("error")
	return nil, total, log, fmt.Errorf("%w after %d iterations", ErrMaxIterations, maxIter)
}

func (l *ReasoningLoop) recordTurn(outcome string) {
	if l.Metrics != nil {
		l.Metrics.RecordTurn(outcome)
	}
}

// dispatch runs one tool call through the approval gate (if any), the
// tool's Execute, and the sanitizer, in that order.
func (l *ReasoningLoop) dispatch(ctx context.Context, call ToolCall) (*ToolResult, error) {
	tool, ok := l.Tools.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	if l.NeedsApproval != nil {
		if needs, reason := l.NeedsApproval(ctx, call); needs {
			if l.Approve == nil || !l.Approve(ctx, call, reason) {
				return nil, fmt.Errorf("tool call %s denied: %s", call.Name, reason)
			}
		}
	}

	if l.Tracer != nil {
		var span trace.Span
		ctx, span = l.Tracer.TraceToolExecution(ctx, call.Name)
		defer span.End()
	}

	start := time.Now()
	result, err := tool.Execute(ctx, call.Arguments)
	if l.Tracer != nil && err != nil {
		l.Tracer.RecordError(trace.SpanFromContext(ctx), err)
	}
	if l.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		l.Metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, NewToolError(call.Name, err)
	}
	if l.Sanitizer != nil {
		result.Content = l.Sanitizer.Sanitize(result.Content)
	}
	return result, nil
}

// MarshalArguments is a convenience used by built-in tools to re-encode a
// params struct as json.RawMessage for a ToolResult or test fixture.
func MarshalArguments(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
