package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/llm"
	"iris/internal/memory"
	"iris/internal/notify"
	"iris/internal/runtime/ports"
	"iris/internal/runtime/status"
	"iris/internal/segment"
	"iris/internal/tools"
)

type fakeTool struct {
	name   string
	result string
	err    error

	mu    sync.Mutex
	calls []map[string]any
}

func (f *fakeTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: f.name}
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	f.calls = append(f.calls, copied)
	return f.result, f.err
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTool) call(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type streamRecorder struct {
	mu     sync.Mutex
	events []notify.StreamEvent
}

func recordStream(t *testing.T, bus *notify.Bus, entityID string) *streamRecorder {
	t.Helper()
	sub := bus.Subscribe(entityID)
	t.Cleanup(func() { bus.Unsubscribe(sub) })
	r := &streamRecorder{}
	go func() {
		for ev := range sub.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *streamRecorder) find(kind notify.Kind) (notify.StreamEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return notify.StreamEvent{}, false
}

func (r *streamRecorder) count(kind notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *streamRecorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == notify.KindStatusChanged {
			out = append(out, ev.Status)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

type agentHarness struct {
	agent  *Agent
	client *llm.ScriptedClient
	stream *streamRecorder
	tool   *fakeTool
}

func newHarness(t *testing.T, cfg Config, client *llm.ScriptedClient, extraTools ...ports.Tool) *agentHarness {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "test-agent"
	}
	cfg.PollInterval = 10 * time.Millisecond

	registry := tools.NewRegistry(nil)
	tool := &fakeTool{name: "write_file", result: "file written"}
	require.NoError(t, registry.Register(tool))
	for _, extra := range extraTools {
		require.NoError(t, registry.Register(extra))
	}

	a, err := New(cfg, Deps{
		LLM:    client,
		Memory: memory.NewTranscript(memory.Config{SystemPrompt: "You are a coding agent."}, nil),
		Tools:  registry,
	})
	require.NoError(t, err)

	h := &agentHarness{
		agent:  a,
		client: client,
		stream: recordStream(t, a.Bus(), a.ID()),
		tool:   tool,
	}
	t.Cleanup(func() {
		a.Stop()
		select {
		case <-a.Done():
		case <-time.After(5 * time.Second):
			t.Error("agent did not shut down")
		}
	})
	return h
}

func (h *agentHarness) start(t *testing.T) {
	t.Helper()
	h.agent.Start()
	waitFor(t, func() bool { return h.agent.Status() == status.Idle }, "agent idle after bootstrap")
}

func TestApprovedToolFlow(t *testing.T) {
	client := llm.NewScriptedClient("test",
		llm.ChunkedScript("Creating the file.\n<write_file path=\"a.py\">", "print('hi')", "</write_file>"),
		llm.TextScript("The file is in place."),
	)
	h := newHarness(t, Config{ParserMode: segment.ModeXML}, client)
	h.start(t)

	require.NoError(t, h.agent.SubmitUserMessage(context.Background(), "create a.py"))

	waitFor(t, func() bool {
		_, ok := h.stream.find(notify.KindToolApprovalRequested)
		return ok
	}, "approval request")
	req, _ := h.stream.find(notify.KindToolApprovalRequested)
	assert.Equal(t, "write_file", req.ToolName)
	require.NotEmpty(t, req.SegmentID)

	require.NoError(t, h.agent.SubmitApproval(context.Background(), req.SegmentID, true, ""))

	waitFor(t, func() bool {
		_, ok := h.stream.find(notify.KindToolExecutionSucceeded)
		return ok
	}, "tool execution")
	waitFor(t, func() bool {
		return len(h.client.Calls()) == 2 && h.agent.Status() == status.Idle
	}, "follow-up turn")

	require.Equal(t, 1, h.tool.callCount())
	args := h.tool.call(0)
	assert.Equal(t, "a.py", args["path"])
	assert.Equal(t, "print('hi')", args["content"])

	// The second LLM call carries the synthesized tool-result message.
	second := h.client.Calls()[1]
	last := second[len(second)-1]
	assert.Equal(t, ports.SenderTool, last.Sender)
	assert.Contains(t, last.Content, "file written")

	// First call starts with the system prompt.
	assert.Equal(t, "system", h.client.Calls()[0][0].Role)
}

func TestDeniedToolFlow(t *testing.T) {
	client := llm.NewScriptedClient("test",
		llm.ChunkedScript("<write_file path=\"a.py\">x</write_file>"),
		llm.TextScript("Understood, skipping it."),
	)
	h := newHarness(t, Config{ParserMode: segment.ModeXML}, client)
	h.start(t)

	require.NoError(t, h.agent.SubmitUserMessage(context.Background(), "create a.py"))

	waitFor(t, func() bool {
		_, ok := h.stream.find(notify.KindToolApprovalRequested)
		return ok
	}, "approval request")
	req, _ := h.stream.find(notify.KindToolApprovalRequested)

	require.NoError(t, h.agent.SubmitApproval(context.Background(), req.SegmentID, false, "not today"))

	waitFor(t, func() bool {
		return len(h.client.Calls()) == 2 && h.agent.Status() == status.Idle
	}, "follow-up turn after denial")

	// The tool never ran and no execution lifecycle was reported.
	assert.Zero(t, h.tool.callCount())
	assert.Zero(t, h.stream.count(notify.KindToolExecutionStarted))
	assert.Zero(t, h.stream.count(notify.KindToolExecutionSucceeded))

	denied, ok := h.stream.find(notify.KindToolDenied)
	require.True(t, ok)
	assert.Equal(t, "not today", denied.Payload["reason"])

	second := h.client.Calls()[1]
	last := second[len(second)-1]
	assert.Contains(t, last.Content, "denied")
	assert.Contains(t, last.Content, "not today")
}

func TestAutoExecuteAggregatesInParserOrder(t *testing.T) {
	slow := &fakeTool{name: "slow_tool", result: "slow done"}
	client := llm.NewScriptedClient("test",
		llm.ChunkedScript(
			"<tool_call name=\"slow_tool\">{}</tool_call>",
			"<write_file path=\"b.txt\">data</write_file>",
		),
		llm.TextScript("Both finished."),
	)
	h := newHarness(t, Config{ParserMode: segment.ModeXML, AutoExecuteTools: true}, client, slow)
	h.start(t)

	require.NoError(t, h.agent.SubmitUserMessage(context.Background(), "do both"))

	waitFor(t, func() bool {
		return len(h.client.Calls()) == 2 && h.agent.Status() == status.Idle
	}, "aggregated follow-up turn")

	// No approval round trip in auto mode.
	assert.Zero(t, h.stream.count(notify.KindToolApprovalRequested))
	assert.Equal(t, 1, slow.callCount())
	assert.Equal(t, 1, h.tool.callCount())

	// Exactly one synthesized message carrying both results, in the order
	// the model emitted the calls.
	second := h.client.Calls()[1]
	last := second[len(second)-1]
	assert.Equal(t, ports.SenderTool, last.Sender)
	slowIdx := strings.Index(last.Content, "slow done")
	writeIdx := strings.Index(last.Content, "file written")
	require.GreaterOrEqual(t, slowIdx, 0)
	require.GreaterOrEqual(t, writeIdx, 0)
	assert.Less(t, slowIdx, writeIdx)
}

func TestFailedToolReportsError(t *testing.T) {
	failing := &fakeTool{name: "flaky", err: errors.New("disk on fire")}
	client := llm.NewScriptedClient("test",
		llm.ChunkedScript("<tool_call name=\"flaky\">{}</tool_call>"),
		llm.TextScript("I'll work around it."),
	)
	h := newHarness(t, Config{ParserMode: segment.ModeXML, AutoExecuteTools: true}, client, failing)
	h.start(t)

	require.NoError(t, h.agent.SubmitUserMessage(context.Background(), "try it"))

	waitFor(t, func() bool {
		return len(h.client.Calls()) == 2 && h.agent.Status() == status.Idle
	}, "follow-up turn after failure")

	failed, ok := h.stream.find(notify.KindToolExecutionFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Payload["error"], "disk on fire")

	// A failed tool is an answer to the model, not an agent error.
	assert.Zero(t, h.stream.count(notify.KindError))
	second := h.client.Calls()[1]
	assert.Contains(t, second[len(second)-1].Content, "disk on fire")
}

func TestBootstrapFailureWalksToShutdown(t *testing.T) {
	client := llm.NewScriptedClient("test")

	registry := tools.NewRegistry(nil)
	a, err := New(Config{ID: "boot-fail", PollInterval: 10 * time.Millisecond}, Deps{
		LLM:    client,
		Memory: memory.NewTranscript(memory.Config{}, nil),
		Tools:  registry,
		SystemPromptProcessors: []func(ctx context.Context) error{
			func(ctx context.Context) error { return fmt.Errorf("prompt store unreachable") },
		},
	})
	require.NoError(t, err)

	stream := recordStream(t, a.Bus(), a.ID())
	a.Start()

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not shut down after bootstrap failure")
	}
	waitFor(t, func() bool { return len(stream.statuses()) >= 4 }, "status walk to drain")

	statuses := stream.statuses()
	assert.Equal(t, []string{
		string(status.Bootstrapping),
		string(status.Error),
		string(status.ShuttingDown),
		string(status.ShutdownComplete),
	}, statuses)
	assert.NotContains(t, statuses, string(status.Idle))
	assert.Zero(t, len(client.Calls()))
}

func TestLLMFailureRaisesAgentError(t *testing.T) {
	registry := tools.NewRegistry(nil)
	a, err := New(Config{ID: "llm-fail", PollInterval: 10 * time.Millisecond}, Deps{
		LLM:    llm.FailingClient{Reason: "provider down"},
		Memory: memory.NewTranscript(memory.Config{}, nil),
		Tools:  registry,
	})
	require.NoError(t, err)

	stream := recordStream(t, a.Bus(), a.ID())
	a.Start()
	waitFor(t, func() bool { return a.Status() == status.Idle }, "agent idle")

	require.NoError(t, a.SubmitUserMessage(context.Background(), "hello"))

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not terminate after llm failure")
	}
	waitFor(t, func() bool {
		_, ok := stream.find(notify.KindError)
		return ok
	}, "error event to drain")

	errEv, ok := stream.find(notify.KindError)
	require.True(t, ok)
	assert.Contains(t, errEv.Payload["error"], "provider down")
	assert.Contains(t, stream.statuses(), string(status.Error))
}

func TestDuplicateResultsAndStrayApprovalsIgnored(t *testing.T) {
	client := llm.NewScriptedClient("test", llm.TextScript("Nothing to do."))
	h := newHarness(t, Config{ParserMode: segment.ModeXML}, client)
	h.start(t)

	// An approval for an invocation that was never requested is dropped.
	require.NoError(t, h.agent.SubmitApproval(context.Background(), "ghost", true, ""))

	require.NoError(t, h.agent.SubmitUserMessage(context.Background(), "hi"))
	waitFor(t, func() bool {
		return len(h.client.Calls()) == 1 && h.agent.Status() == status.Idle
	}, "plain text turn")

	assert.Zero(t, h.tool.callCount())
	assert.Zero(t, h.stream.count(notify.KindError))
}

func TestPlainTextTurnReturnsToIdle(t *testing.T) {
	client := llm.NewScriptedClient("test", llm.ChunkedScript("Hello ", "there."))
	h := newHarness(t, Config{ParserMode: segment.ModeXML}, client)
	h.start(t)

	require.NoError(t, h.agent.SubmitUserMessage(context.Background(), "hi"))
	waitFor(t, func() bool { return h.agent.Status() == status.Idle && len(h.client.Calls()) == 1 }, "turn done")

	// Chunks were streamed as they arrived.
	assert.GreaterOrEqual(t, h.stream.count(notify.KindAssistantChunk), 2)

	statuses := h.stream.statuses()
	assert.Contains(t, statuses, string(status.ProcessingUserInput))
	assert.Contains(t, statuses, string(status.AwaitingLLMResponse))
	assert.Contains(t, statuses, string(status.AnalyzingLLMResponse))
}
