package llm

import (
	"context"
	"fmt"
	"sync"

	"iris/internal/runtime/ports"
)

// Script is one pre-recorded model turn.
type Script struct {
	Chunks []ports.ChunkResponse

	// Err, when set, is reported as the stream's terminal error after the
	// chunks were delivered.
	Err error
}

// ScriptedClient replays pre-recorded turns in order. It backs offline demos
// and deterministic tests; once the scripts run out every call answers with
// an empty completion.
type ScriptedClient struct {
	mu      sync.Mutex
	model   string
	scripts []Script
	calls   [][]ports.Message
}

// NewScriptedClient creates a client replaying the given turns.
func NewScriptedClient(model string, scripts ...Script) *ScriptedClient {
	if model == "" {
		model = "scripted"
	}
	return &ScriptedClient{model: model, scripts: scripts}
}

// TextScript builds a plain one-chunk text turn.
func TextScript(content string) Script {
	return Script{Chunks: []ports.ChunkResponse{{
		Content:    content,
		IsComplete: true,
		Usage:      &ports.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}}}
}

// ChunkedScript builds a turn that streams content split into the given
// deltas.
func ChunkedScript(deltas ...string) Script {
	chunks := make([]ports.ChunkResponse, 0, len(deltas)+1)
	for _, d := range deltas {
		chunks = append(chunks, ports.ChunkResponse{Content: d})
	}
	chunks = append(chunks, ports.ChunkResponse{
		IsComplete: true,
		Usage:      &ports.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	})
	return Script{Chunks: chunks}
}

func (c *ScriptedClient) Model() string { return c.model }

// Calls returns the message slices of every StreamMessages invocation so far.
func (c *ScriptedClient) Calls() [][]ports.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]ports.Message, len(c.calls))
	copy(out, c.calls)
	return out
}

// Append adds further turns after construction.
func (c *ScriptedClient) Append(scripts ...Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, scripts...)
}

func (c *ScriptedClient) StreamMessages(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (<-chan ports.ChunkResponse, ports.ErrFunc, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]ports.Message(nil), messages...))
	var script Script
	if len(c.scripts) > 0 {
		script = c.scripts[0]
		c.scripts = c.scripts[1:]
	} else {
		script = TextScript("")
	}
	c.mu.Unlock()

	ch := make(chan ports.ChunkResponse, len(script.Chunks))
	var streamErr error

	go func() {
		defer close(ch)
		for _, chunk := range script.Chunks {
			select {
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			case ch <- chunk:
			}
		}
		streamErr = script.Err
	}()

	return ch, func() error { return streamErr }, nil
}

// FailingClient returns an error on every call; used to exercise error paths.
type FailingClient struct {
	Reason string
}

func (f FailingClient) Model() string { return "failing" }

func (f FailingClient) StreamMessages(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (<-chan ports.ChunkResponse, ports.ErrFunc, error) {
	return nil, nil, fmt.Errorf("llm unavailable: %s", f.Reason)
}
