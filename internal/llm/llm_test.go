package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/runtime/ports"
)

func drain(t *testing.T, client ports.LLMClient, messages []ports.Message) ([]ports.ChunkResponse, error) {
	t.Helper()
	stream, errf, err := client.StreamMessages(context.Background(), messages, nil)
	require.NoError(t, err)
	var chunks []ports.ChunkResponse
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	return chunks, errf()
}

func TestScriptedClientReplaysInOrder(t *testing.T) {
	client := NewScriptedClient("m",
		ChunkedScript("a", "b"),
		TextScript("second"),
	)

	chunks, err := drain(t, client, []ports.Message{{Role: "user", Content: "one"}})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "a", chunks[0].Content)
	assert.Equal(t, "b", chunks[1].Content)
	assert.True(t, chunks[2].IsComplete)

	chunks, err = drain(t, client, []ports.Message{{Role: "user", Content: "two"}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "second", chunks[0].Content)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0][0].Content)
	assert.Equal(t, "two", calls[1][0].Content)
}

func TestScriptedClientTerminalError(t *testing.T) {
	client := NewScriptedClient("m", Script{
		Chunks: []ports.ChunkResponse{{Content: "partial"}},
		Err:    assert.AnError,
	})

	chunks, err := drain(t, client, nil)
	require.Len(t, chunks, 1)
	assert.ErrorIs(t, err, assert.AnError)
}

type completionOnly struct{}

func (completionOnly) Model() string { return "completion" }

func (completionOnly) Complete(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (*ports.CompletionResponse, error) {
	return &ports.CompletionResponse{
		Content: "full answer",
		Usage:   ports.TokenUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	}, nil
}

func TestEnsureStreamingWrapsCompletionClient(t *testing.T) {
	client, ok := EnsureStreaming(completionOnly{})
	require.True(t, ok)
	assert.Equal(t, "completion", client.Model())

	chunks, err := drain(t, client, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "full answer", chunks[0].Content)
	assert.True(t, chunks[0].IsComplete)
	require.NotNil(t, chunks[0].Usage)
	assert.Equal(t, 8, chunks[0].Usage.TotalTokens)
}

type flakyClient struct {
	failures int
	calls    int
	reason   string
	inner    ports.LLMClient
}

func (f *flakyClient) Model() string { return "flaky" }

func (f *flakyClient) StreamMessages(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (<-chan ports.ChunkResponse, ports.ErrFunc, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, nil, errors.New(f.reason)
	}
	return f.inner.StreamMessages(ctx, messages, tools)
}

func TestRetryClientRetriesTransientSetupFailures(t *testing.T) {
	flaky := &flakyClient{
		failures: 2,
		reason:   "chat completions: status 503: upstream overloaded",
		inner:    NewScriptedClient("m", TextScript("recovered")),
	}
	client := NewRetryClient(flaky, RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, nil)

	chunks, err := drain(t, client, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "recovered", chunks[0].Content)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryClientFailsFastOnPermanentError(t *testing.T) {
	flaky := &flakyClient{
		failures: 10,
		reason:   "chat completions: status 401: invalid api key",
	}
	client := NewRetryClient(flaky, RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}, nil)

	_, _, err := client.StreamMessages(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

func TestRetryClientGivesUpAfterMaxAttempts(t *testing.T) {
	flaky := &flakyClient{
		failures: 10,
		reason:   "chat completions request: connection refused",
	}
	client := NewRetryClient(flaky, RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}, nil)

	_, _, err := client.StreamMessages(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestEnsureStreamingPassesThroughStreamingClient(t *testing.T) {
	scripted := NewScriptedClient("m")
	client, ok := EnsureStreaming(scripted)
	require.True(t, ok)
	assert.Same(t, scripted, client)

	_, ok = EnsureStreaming(struct{}{})
	assert.False(t, ok)
}
