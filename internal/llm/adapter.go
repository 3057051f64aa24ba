// Package llm provides model clients: an OpenAI-compatible streaming client,
// a scripted client for offline use, and an adapter that lifts non-streaming
// clients to the streaming contract.
package llm

import (
	"context"

	"iris/internal/runtime/ports"
)

// EnsureStreaming returns client unchanged if it already streams, otherwise
// wraps a completion-only client in a one-chunk streaming adapter.
func EnsureStreaming(client any) (ports.LLMClient, bool) {
	switch c := client.(type) {
	case ports.LLMClient:
		return c, true
	case ports.CompletionClient:
		return &streamingAdapter{inner: c}, true
	default:
		return nil, false
	}
}

// streamingAdapter synthesizes a single-chunk stream from a full completion.
type streamingAdapter struct {
	inner ports.CompletionClient
}

func (s *streamingAdapter) Model() string { return s.inner.Model() }

func (s *streamingAdapter) StreamMessages(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (<-chan ports.ChunkResponse, ports.ErrFunc, error) {
	ch := make(chan ports.ChunkResponse, 2)
	var streamErr error

	go func() {
		defer close(ch)
		resp, err := s.inner.Complete(ctx, messages, tools)
		if err != nil {
			streamErr = err
			return
		}
		usage := resp.Usage
		ch <- ports.ChunkResponse{
			Content:    resp.Content,
			Reasoning:  resp.Reasoning,
			ToolCalls:  resp.ToolCalls,
			IsComplete: true,
			Usage:      &usage,
		}
	}()

	return ch, func() error { return streamErr }, nil
}
