package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"iris/internal/runtime/ports"
)

// OpenAIConfig configures the OpenAI-compatible client. BaseURL may point at
// any server speaking the chat completions protocol.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPTimeout time.Duration
}

// OpenAIClient streams chat completions over SSE from an OpenAI-compatible
// endpoint.
type OpenAIClient struct {
	cfg  OpenAIConfig
	http *http.Client
}

// NewOpenAIClient creates a streaming client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Minute
	}
	return &OpenAIClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (c *OpenAIClient) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	StreamOpts  *streamOpts   `json:"stream_options,omitempty"`
}

type streamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning_content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) StreamMessages(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (<-chan ports.ChunkResponse, ports.ErrFunc, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Stream:      true,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		StreamOpts:  &streamOpts{IncludeUsage: true},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolID,
		})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("chat completions request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, nil, fmt.Errorf("chat completions: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	ch := make(chan ports.ChunkResponse, 16)
	var streamErr error

	go func() {
		defer close(ch)
		defer resp.Body.Close()
		streamErr = c.consume(ctx, resp.Body, ch)
	}()

	return ch, func() error { return streamErr }, nil
}

// consume reads the SSE stream and converts each data frame into a chunk.
func (c *OpenAIClient) consume(ctx context.Context, body io.Reader, ch chan<- ports.ChunkResponse) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var frame chatChunk
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return fmt.Errorf("decode stream frame: %w", err)
		}

		chunk := ports.ChunkResponse{}
		if len(frame.Choices) > 0 {
			delta := frame.Choices[0].Delta
			chunk.Content = delta.Content
			chunk.Reasoning = delta.Reasoning
			for _, tc := range delta.ToolCalls {
				chunk.ToolCalls = append(chunk.ToolCalls, ports.ToolCallDelta{
					Index:          tc.Index,
					CallID:         tc.ID,
					Name:           tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				})
			}
			if frame.Choices[0].FinishReason != nil {
				chunk.IsComplete = true
			}
		}
		if frame.Usage != nil {
			chunk.Usage = &ports.TokenUsage{
				PromptTokens:     frame.Usage.PromptTokens,
				CompletionTokens: frame.Usage.CompletionTokens,
				TotalTokens:      frame.Usage.TotalTokens,
			}
			chunk.IsComplete = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- chunk:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
