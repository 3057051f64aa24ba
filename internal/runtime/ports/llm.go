package ports

import "context"

// Message represents a conversation message.
type Message struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Sender   string         `json:"sender,omitempty"`
	ToolID   string         `json:"tool_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Message sender identities. Sender is orthogonal to Role: a tool-result
// message re-enters the pipeline with Role "user" and Sender SenderTool.
const (
	SenderUser  = "USER"
	SenderAgent = "AGENT"
	SenderTool  = "TOOL"
)

// TokenUsage tracks token consumption for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCallDelta is one provider-native tool-call fragment. Only the first
// fragment for an index is required to carry Name and CallID; ArgumentsDelta
// accumulates by concatenation in arrival order.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	CallID         string `json:"call_id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// ChunkResponse is one unit of a streamed LLM response.
type ChunkResponse struct {
	Content    string          `json:"content"`
	Reasoning  string          `json:"reasoning,omitempty"`
	IsComplete bool            `json:"is_complete"`
	Usage      *TokenUsage     `json:"usage,omitempty"`
	ToolCalls  []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolDefinition is the schema advertised to the LLM for one tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// LLMClient represents any LLM provider capable of streaming.
//
// StreamMessages returns a receive-only channel of chunks. The channel is
// closed when the response completes or ctx is cancelled; a terminal error is
// reported through the returned error function after the channel closes.
type LLMClient interface {
	StreamMessages(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan ChunkResponse, ErrFunc, error)

	// Model returns the model identifier.
	Model() string
}

// ErrFunc reports the terminal error of a finished stream, nil on success.
// It must only be called after the chunk channel is closed.
type ErrFunc func() error

// CompletionClient is the non-streaming contract. Clients that only implement
// it are wrapped by a streaming adapter that synthesizes a one-chunk stream.
type CompletionClient interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResponse, error)
	Model() string
}

// CompletionResponse is a full, non-streamed LLM response.
type CompletionResponse struct {
	Content   string          `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	Usage     TokenUsage      `json:"usage"`
}
