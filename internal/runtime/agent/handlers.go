package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"iris/internal/observability"
	"iris/internal/runtime/dispatch"
	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
	"iris/internal/runtime/status"
	"iris/internal/segment"
)

func (a *Agent) registerHandlers(r *dispatch.Registry) {
	r.Register(event.KindUserMessageReceived, a.onUserMessage)
	r.Register(event.KindInterAgentMessage, a.onInterAgentMessage)
	r.Register(event.KindLLMUserMessageReady, a.onLLMUserMessageReady)
	r.Register(event.KindLLMCompleteResponseReceived, a.onLLMComplete)
	r.Register(event.KindPendingToolInvocation, a.onPendingInvocation)
	r.Register(event.KindToolExecutionApproval, a.onApproval)
	r.Register(event.KindExecuteToolInvocation, a.onExecute)
	r.Register(event.KindToolResult, a.onToolResult)
	r.Register(event.KindAgentReady, a.onAgentReady)
	r.Register(event.KindAgentError, a.onAgentError)
	r.Register(event.KindInternalSystem, a.onInternalSystem)
}

// enqueue submits an event from inside a handler. Self-submission must not
// block the loop, so a full queue is an error rather than a wait.
func (a *Agent) enqueue(evt event.Event) error {
	if err := a.worker.Queues().TrySubmit(evt); err != nil {
		return fmt.Errorf("enqueue %s: %w", evt.Kind(), err)
	}
	return nil
}

func (a *Agent) onUserMessage(ctx context.Context, evt event.Event) error {
	e := evt.(event.UserMessageReceived)
	if e.Message.Sender != ports.SenderTool {
		// A fresh user task resets the turn budget; synthesized
		// tool-turn messages keep counting against it.
		a.turns = 0
	}
	return a.ingestAndPrepare(ctx, e.Message)
}

func (a *Agent) onInterAgentMessage(ctx context.Context, evt event.Event) error {
	e := evt.(event.InterAgentMessage)
	a.turns = 0
	a.logger.Info("message from agent %s", e.From)
	return a.ingestAndPrepare(ctx, e.Message)
}

func (a *Agent) ingestAndPrepare(ctx context.Context, msg ports.Message) error {
	if err := a.deps.Memory.IngestUserMessage(ctx, msg); err != nil {
		return fmt.Errorf("ingest user message: %w", err)
	}
	messages, err := a.deps.Memory.TranscriptMessages(ctx)
	if err != nil {
		return fmt.Errorf("prepare transcript: %w", err)
	}
	return a.enqueue(event.LLMUserMessageReady{Messages: messages})
}

// onLLMUserMessageReady runs the LLM call. The worker blocks here for the
// duration of the stream; the parser and notifier consume chunks as they
// arrive.
func (a *Agent) onLLMUserMessageReady(ctx context.Context, evt event.Event) error {
	e := evt.(event.LLMUserMessageReady)

	a.turns++
	if a.turns > a.cfg.MaxTurns {
		return fmt.Errorf("turn limit %d exceeded", a.cfg.MaxTurns)
	}
	turnID := "turn-" + uuid.NewString()[:8]

	adapter := segment.NewAdapter(a.deps.Syntax)
	parser := segment.NewParser(segment.Config{
		Mode:      a.cfg.ParserMode,
		ExtraTags: a.cfg.ExtraTags,
	}, func(ev segment.Event) {
		a.notifier.SegmentEvent(ev)
		adapter.OnEvent(ev)
	})

	stream, errf, err := a.deps.LLM.StreamMessages(ctx, e.Messages, a.deps.Tools.List())
	if err != nil {
		return fmt.Errorf("start llm stream: %w", err)
	}

	var content strings.Builder
	var usage ports.TokenUsage
	for chunk := range stream {
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			a.notifier.AssistantChunk(chunk.Content)
		}
		parser.Feed(chunk)
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	if err := errf(); err != nil {
		parser.Finalize()
		return fmt.Errorf("llm stream: %w", err)
	}
	parser.Finalize()

	for _, perr := range adapter.Errors() {
		a.logger.Warn("tool segment discarded: %v", perr)
	}

	parsed := adapter.Invocations()
	invocations := make([]event.ToolInvocation, 0, len(parsed))
	for _, inv := range parsed {
		invocations = append(invocations, event.ToolInvocation{
			ID:        inv.ID,
			ToolName:  inv.ToolName,
			Arguments: inv.Arguments,
			TurnID:    turnID,
		})
	}

	return a.enqueue(event.LLMCompleteResponseReceived{
		Content:     content.String(),
		Invocations: invocations,
		Usage:       usage,
		TurnID:      turnID,
	})
}

func (a *Agent) onLLMComplete(ctx context.Context, evt event.Event) error {
	e := evt.(event.LLMCompleteResponseReceived)

	if err := a.deps.Memory.IngestAssistantResponse(ctx, e.Content, e.Usage); err != nil {
		return fmt.Errorf("ingest assistant response: %w", err)
	}
	if m := a.deps.Metrics; m != nil {
		m.LLMTokens.WithLabelValues(a.cfg.ID, "prompt").Add(float64(e.Usage.PromptTokens))
		m.LLMTokens.WithLabelValues(a.cfg.ID, "completion").Add(float64(e.Usage.CompletionTokens))
	}

	if len(e.Invocations) == 0 {
		a.turn = nil
		a.status.Transition(ctx, status.Idle, nil)
		return nil
	}

	a.turn = newTurn(e.TurnID, e.Invocations)
	for _, inv := range e.Invocations {
		if err := a.deps.Memory.IngestToolIntent(ctx, inv.ID, inv.ToolName, inv.Arguments); err != nil {
			return fmt.Errorf("ingest tool intent %s: %w", inv.ID, err)
		}
		if err := a.enqueue(event.PendingToolInvocation{
			Invocation:  inv,
			AutoExecute: a.cfg.AutoExecuteTools,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) onPendingInvocation(ctx context.Context, evt event.Event) error {
	e := evt.(event.PendingToolInvocation)
	a.pending[e.Invocation.ID] = e.Invocation

	if e.AutoExecute {
		return a.enqueue(event.ExecuteToolInvocation{Invocation: e.Invocation})
	}
	a.notifier.ToolApprovalRequested(e.Invocation.ID, e.Invocation.ToolName, e.Invocation.Arguments)
	return nil
}

func (a *Agent) onApproval(ctx context.Context, evt event.Event) error {
	e := evt.(event.ToolExecutionApproval)
	inv, ok := a.pending[e.InvocationID]
	if !ok {
		a.logger.Warn("approval for unknown invocation %s ignored", e.InvocationID)
		return nil
	}

	if e.Approved {
		a.notifier.ToolApproved(inv.ID, inv.ToolName)
		return a.enqueue(event.ExecuteToolInvocation{Invocation: inv})
	}

	reason := e.Reason
	if reason == "" {
		reason = "denied by user"
	}
	a.notifier.ToolDenied(inv.ID, inv.ToolName, reason)
	return a.enqueue(event.ToolResult{InvocationID: inv.ID, Err: reason, Denied: true})
}

func (a *Agent) onExecute(ctx context.Context, evt event.Event) error {
	inv := evt.(event.ExecuteToolInvocation).Invocation
	ctx, span := observability.StartToolSpan(ctx, a.cfg.ID, inv.ToolName, inv.ID)
	defer span.End()

	args := inv.Arguments
	if args == nil {
		args = make(map[string]any)
	}
	for _, pre := range a.deps.Preprocessors {
		if err := pre.PreprocessArgs(ctx, inv.ToolName, args); err != nil {
			return a.enqueue(event.ToolResult{InvocationID: inv.ID, Err: err.Error()})
		}
	}

	tool, ok := a.deps.Tools.Get(inv.ToolName)
	if !ok {
		return a.enqueue(event.ToolResult{
			InvocationID: inv.ID,
			Err:          fmt.Sprintf("unknown tool %q", inv.ToolName),
		})
	}

	a.notifier.ToolExecutionStarted(inv.ID, inv.ToolName, args)

	start := a.clock.Now()
	content, err := runTool(ctx, tool, args)
	if m := a.deps.Metrics; m != nil {
		m.ToolDuration.WithLabelValues(a.cfg.ID, inv.ToolName).
			Observe(a.clock.Now().Sub(start).Seconds())
	}

	result := event.ToolResult{InvocationID: inv.ID, Content: content}
	if err != nil {
		result.Err = err.Error()
	}
	return a.enqueue(result)
}

// runTool contains tool panics so a misbehaving tool settles as a failed
// result instead of killing the agent.
func runTool(ctx context.Context, tool ports.Tool, args map[string]any) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

func (a *Agent) onToolResult(ctx context.Context, evt event.Event) error {
	e := evt.(event.ToolResult)

	inv, ok := a.pending[e.InvocationID]
	if !ok {
		// Duplicate or stale result: the first settlement wins.
		a.logger.Warn("discarding result for settled or unknown invocation %s", e.InvocationID)
		return nil
	}
	delete(a.pending, e.InvocationID)

	content := e.Content
	var execErr error
	if e.Err != "" {
		execErr = errors.New(e.Err)
	}

	if !e.Denied {
		for _, proc := range a.deps.ResultProcessors {
			out, perr := proc.ProcessResult(ctx, inv.ToolName, content, execErr)
			if perr != nil {
				a.logger.Warn("result processor for %s failed: %v", inv.ToolName, perr)
				continue
			}
			content = out
		}
		outcome := "ok"
		if execErr != nil {
			outcome = "error"
			a.notifier.ToolExecutionFailed(inv.ID, inv.ToolName, execErr.Error())
		} else {
			a.notifier.ToolExecutionSucceeded(inv.ID, inv.ToolName, content)
		}
		if m := a.deps.Metrics; m != nil {
			m.ToolExecutions.WithLabelValues(a.cfg.ID, inv.ToolName, outcome).Inc()
		}
	}

	if err := a.deps.Memory.IngestToolResult(ctx, inv.ID, content, execErr); err != nil {
		return fmt.Errorf("ingest tool result %s: %w", inv.ID, err)
	}

	if a.turn == nil {
		a.status.Transition(ctx, status.Idle, nil)
		return nil
	}
	a.turn.settle(e.InvocationID, settledResult{
		toolName: inv.ToolName,
		content:  content,
		errMsg:   e.Err,
		denied:   e.Denied,
	})
	if !a.turn.complete() {
		return nil
	}

	msg := a.turn.composeMessage()
	a.turn = nil
	a.status.Transition(ctx, status.Idle, nil)
	return a.enqueue(event.UserMessageReceived{Message: msg})
}

func (a *Agent) onAgentReady(ctx context.Context, evt event.Event) error {
	a.logger.Info("agent %s ready (model %s)", a.cfg.ID, a.deps.LLM.Model())
	return nil
}

func (a *Agent) onAgentError(ctx context.Context, evt event.Event) error {
	e := evt.(event.AgentError)
	a.notifier.Error(e.Phase, e.Err)
	return nil
}

func (a *Agent) onInternalSystem(ctx context.Context, evt event.Event) error {
	e := evt.(event.InternalSystem)
	a.logger.Debug("internal op %s", e.Op)
	return nil
}
