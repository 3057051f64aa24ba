package tools

import (
	"context"
	"fmt"

	"iris/internal/runtime/ports"
)

// Router delivers a message to another agent. The team runtime implements it.
type Router interface {
	Route(ctx context.Context, from, to, message string) error
}

// SendMessageTool lets an agent message a sibling through its team router.
type SendMessageTool struct {
	From   string
	Router Router
}

func (t *SendMessageTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "send_message_to",
		Description: "Send a message to another agent on the team.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{"type": "string", "description": "Target agent id."},
				"message": map[string]any{"type": "string", "description": "Message content."},
			},
			"required": []string{"to", "message"},
		},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	to, ok := stringArg(args, "to", "agent", "agent_id")
	if !ok {
		return "", fmt.Errorf("send_message_to: missing target agent")
	}
	message, ok := stringArg(args, "message", "content")
	if !ok {
		return "", fmt.Errorf("send_message_to: missing message")
	}
	if t.Router == nil {
		return "", fmt.Errorf("send_message_to: agent has no team router")
	}
	if err := t.Router.Route(ctx, t.From, to, message); err != nil {
		return "", fmt.Errorf("send_message_to: %w", err)
	}
	return fmt.Sprintf("message delivered to %s", to), nil
}
