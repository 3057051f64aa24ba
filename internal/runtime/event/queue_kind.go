package event

// QueueKind names one logical input channel of an entity.
type QueueKind string

const (
	QueueUserMessage           QueueKind = "user_message"
	QueueInterAgentMessage     QueueKind = "inter_agent_message"
	QueueToolInvocationRequest QueueKind = "tool_invocation_request"
	QueueToolResult            QueueKind = "tool_result"
	QueueToolApproval          QueueKind = "tool_approval"
	QueueInternalSystem        QueueKind = "internal_system"
)

// AgentQueuePriority is the fixed selection order across agent queues,
// highest first. User input preempts internal bookkeeping; tool results sort
// after invocation requests so multi-turn aggregation stays stable.
func AgentQueuePriority() []QueueKind {
	return []QueueKind{
		QueueUserMessage,
		QueueInterAgentMessage,
		QueueToolInvocationRequest,
		QueueToolResult,
		QueueToolApproval,
		QueueInternalSystem,
	}
}

// TeamQueuePriority is the reduced queue set used by team and workflow
// runtimes.
func TeamQueuePriority() []QueueKind {
	return []QueueKind{
		QueueUserMessage,
		QueueInternalSystem,
	}
}

// QueueFor routes an event kind to its input queue.
func QueueFor(k Kind) QueueKind {
	switch k {
	case KindUserMessageReceived:
		return QueueUserMessage
	case KindInterAgentMessage:
		return QueueInterAgentMessage
	case KindPendingToolInvocation, KindExecuteToolInvocation:
		return QueueToolInvocationRequest
	case KindToolResult:
		return QueueToolResult
	case KindToolExecutionApproval:
		return QueueToolApproval
	default:
		return QueueInternalSystem
	}
}
