// Package event defines the runtime event union and the input queue kinds.
package event

import "iris/internal/runtime/ports"

// Kind tags one event variant.
type Kind string

const (
	KindUserMessageReceived         Kind = "user_message_received"
	KindInterAgentMessage           Kind = "inter_agent_message"
	KindLLMUserMessageReady         Kind = "llm_user_message_ready"
	KindPendingToolInvocation       Kind = "pending_tool_invocation"
	KindExecuteToolInvocation       Kind = "execute_tool_invocation"
	KindToolExecutionApproval       Kind = "tool_execution_approval"
	KindToolResult                  Kind = "tool_result"
	KindLLMCompleteResponseReceived Kind = "llm_complete_response_received"
	KindAgentReady                  Kind = "agent_ready"
	KindAgentStopped                Kind = "agent_stopped"
	KindAgentError                  Kind = "agent_error"
	KindInternalSystem              Kind = "internal_system"
)

// Event is one immutable runtime event. Implementations are plain payload
// structs; nothing mutates an event after it has been dispatched.
type Event interface {
	Kind() Kind
}

// ToolInvocation is a parsed request to execute a tool. ID equals the
// originating segment id so UI and execution stay correlated.
type ToolInvocation struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	TurnID    string         `json:"turn_id,omitempty"`
}

// UserMessageReceived carries user (or synthesized tool-turn) input.
type UserMessageReceived struct {
	Message ports.Message
}

func (UserMessageReceived) Kind() Kind { return KindUserMessageReceived }

// InterAgentMessage carries a message routed from a sibling agent.
type InterAgentMessage struct {
	From    string
	To      string
	Message ports.Message
}

func (InterAgentMessage) Kind() Kind { return KindInterAgentMessage }

// LLMUserMessageReady signals that the transcript is prepared for the next
// LLM call.
type LLMUserMessageReady struct {
	Messages []ports.Message
}

func (LLMUserMessageReady) Kind() Kind { return KindLLMUserMessageReady }

// PendingToolInvocation announces a parsed invocation awaiting approval or
// auto-execution.
type PendingToolInvocation struct {
	Invocation  ToolInvocation
	AutoExecute bool
}

func (PendingToolInvocation) Kind() Kind { return KindPendingToolInvocation }

// ExecuteToolInvocation requests execution of an approved (or auto-approved)
// invocation.
type ExecuteToolInvocation struct {
	Invocation ToolInvocation
}

func (ExecuteToolInvocation) Kind() Kind { return KindExecuteToolInvocation }

// ToolExecutionApproval carries the user's decision for a pending invocation.
type ToolExecutionApproval struct {
	InvocationID string
	Approved     bool
	Reason       string
}

func (ToolExecutionApproval) Kind() Kind { return KindToolExecutionApproval }

// ToolResult settles one invocation. Denied results carry the denial reason
// in Err and never produce execution lifecycle notifications.
type ToolResult struct {
	InvocationID string
	Content      string
	Err          string
	Denied       bool
}

func (ToolResult) Kind() Kind { return KindToolResult }

// LLMCompleteResponseReceived carries the fully assembled model turn.
type LLMCompleteResponseReceived struct {
	Content     string
	Invocations []ToolInvocation
	Usage       ports.TokenUsage
	TurnID      string
}

func (LLMCompleteResponseReceived) Kind() Kind { return KindLLMCompleteResponseReceived }

// AgentReady marks successful bootstrap.
type AgentReady struct{}

func (AgentReady) Kind() Kind { return KindAgentReady }

// AgentStopped requests orderly shutdown.
type AgentStopped struct{}

func (AgentStopped) Kind() Kind { return KindAgentStopped }

// AgentError reports a handler or bootstrap failure.
type AgentError struct {
	Phase string
	Err   error
}

func (AgentError) Kind() Kind { return KindAgentError }

// InternalSystem carries low-priority bookkeeping operations.
type InternalSystem struct {
	Op   string
	Data map[string]any
}

func (InternalSystem) Kind() Kind { return KindInternalSystem }
