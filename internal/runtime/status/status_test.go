package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
)

func TestDeriveHappyPath(t *testing.T) {
	walk := []struct {
		evt  event.Event
		want Status
	}{
		{event.AgentReady{}, Idle},
		{event.UserMessageReceived{Message: ports.Message{Content: "hi"}}, ProcessingUserInput},
		{event.LLMUserMessageReady{}, AwaitingLLMResponse},
		{event.LLMCompleteResponseReceived{}, AnalyzingLLMResponse},
		{event.PendingToolInvocation{Invocation: event.ToolInvocation{ID: "i1"}}, AwaitingToolApproval},
		{event.ExecuteToolInvocation{Invocation: event.ToolInvocation{ID: "i1"}}, ExecutingTool},
		{event.ToolResult{InvocationID: "i1"}, ProcessingToolResult},
	}

	current := Bootstrapping
	for _, step := range walk {
		next, moved := Derive(current, step.evt)
		require.True(t, moved, "event %s from %s", step.evt.Kind(), current)
		assert.Equal(t, step.want, next)
		current = next
	}
}

func TestDeriveAutoExecuteSkipsApproval(t *testing.T) {
	next, moved := Derive(AnalyzingLLMResponse, event.PendingToolInvocation{AutoExecute: true})
	assert.False(t, moved)
	assert.Equal(t, AnalyzingLLMResponse, next)

	next, moved = Derive(AnalyzingLLMResponse, event.ExecuteToolInvocation{})
	assert.True(t, moved)
	assert.Equal(t, ExecutingTool, next)
}

func TestDeriveApprovalDecision(t *testing.T) {
	// Approval keeps the status; the follow-up execute moves it.
	next, moved := Derive(AwaitingToolApproval, event.ToolExecutionApproval{Approved: true})
	assert.False(t, moved)
	assert.Equal(t, AwaitingToolApproval, next)

	next, moved = Derive(AwaitingToolApproval, event.ToolExecutionApproval{Approved: false})
	assert.True(t, moved)
	assert.Equal(t, ToolDenied, next)

	next, moved = Derive(ToolDenied, event.ToolResult{Denied: true})
	assert.True(t, moved)
	assert.Equal(t, ProcessingToolResult, next)
}

func TestDeriveErrorAndStopPreempt(t *testing.T) {
	for _, current := range []Status{Idle, AwaitingLLMResponse, ExecutingTool} {
		next, moved := Derive(current, event.AgentError{Phase: "x"})
		require.True(t, moved)
		assert.Equal(t, Error, next)

		next, moved = Derive(current, event.AgentStopped{})
		require.True(t, moved)
		assert.Equal(t, ShuttingDown, next)
	}
}

func TestDeriveIgnoresUnrelatedEvents(t *testing.T) {
	next, moved := Derive(Idle, event.ToolResult{InvocationID: "stale"})
	assert.False(t, moved)
	assert.Equal(t, Idle, next)
}

func TestLifecycleProjection(t *testing.T) {
	cases := []struct {
		from, to Status
		want     LifecycleEvent
	}{
		{Bootstrapping, Idle, LifecycleAgentReady},
		{ProcessingUserInput, AwaitingLLMResponse, LifecycleBeforeLLMCall},
		{AnalyzingLLMResponse, AwaitingLLMResponse, LifecycleBeforeLLMCall},
		{AwaitingLLMResponse, AnalyzingLLMResponse, LifecycleAfterLLMResponse},
		{AwaitingToolApproval, ExecutingTool, LifecycleBeforeToolExec},
		{ExecutingTool, ProcessingToolResult, LifecycleAfterToolExec},
	}
	for _, c := range cases {
		got, ok := LifecycleFor(c.from, c.to)
		require.True(t, ok, "%s -> %s", c.from, c.to)
		assert.Equal(t, c.want, got)
	}

	_, ok := LifecycleFor(Idle, ProcessingUserInput)
	assert.False(t, ok)
}

func TestManagerFiresHooksThenProcessorsThenNotify(t *testing.T) {
	m := NewManager(nil)
	var order []string

	m.AddHook(HookFunc{
		Source: Bootstrapping,
		Target: Idle,
		Fn: func(ctx context.Context, data map[string]any) error {
			order = append(order, "hook")
			return nil
		},
	})
	m.AddProcessor(ProcessorFunc{
		On: LifecycleAgentReady,
		Fn: func(ctx context.Context, data map[string]any) error {
			order = append(order, "processor")
			return nil
		},
	})
	m.SetNotify(func(from, to Status, lifecycle LifecycleEvent) {
		order = append(order, "notify")
	})

	m.Transition(context.Background(), Bootstrapping, nil)
	m.Transition(context.Background(), Idle, nil)

	assert.Equal(t, []string{"hook", "processor", "notify"}, order)
	assert.Equal(t, Idle, m.Current())
}

func TestManagerContainsHookPanics(t *testing.T) {
	m := NewManager(nil)
	m.AddHook(HookFunc{
		Source: Uninitialized,
		Target: Bootstrapping,
		Fn: func(ctx context.Context, data map[string]any) error {
			panic("boom")
		},
	})

	assert.NotPanics(t, func() {
		m.Transition(context.Background(), Bootstrapping, nil)
	})
	assert.Equal(t, Bootstrapping, m.Current())
}

func TestManagerSelfTransitionIsNoop(t *testing.T) {
	m := NewManager(nil)
	fired := 0
	m.SetNotify(func(from, to Status, lifecycle LifecycleEvent) { fired++ })

	m.Transition(context.Background(), Idle, nil)
	m.Transition(context.Background(), Idle, nil)
	assert.Equal(t, 1, fired)
}
