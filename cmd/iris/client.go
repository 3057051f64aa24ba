package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"iris/internal/notify"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a user message to a running entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(opts.serverAddr,
				fmt.Sprintf("/api/v1/entities/%s/messages", entity),
				map[string]any{"content": args[0]})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "iris", "target entity id")
	return cmd
}

func newApproveCmd(opts *rootOptions) *cobra.Command {
	var entity, reason string
	var deny bool
	cmd := &cobra.Command{
		Use:   "approve [invocation-id]",
		Short: "Approve or deny a pending tool invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(opts.serverAddr,
				fmt.Sprintf("/api/v1/entities/%s/approvals", entity),
				map[string]any{
					"invocation_id": args[0],
					"approved":      !deny,
					"reason":        reason,
				})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "iris", "target entity id")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	cmd.Flags().StringVar(&reason, "reason", "", "denial reason")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var entity string
	var replay bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream an entity's events to the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(opts.serverAddr, entity, replay)
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "iris", "target entity id")
	cmd.Flags().BoolVar(&replay, "replay", false, "replay recent history first")
	return cmd
}

func postJSON(base, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(strings.TrimRight(base, "/")+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	fmt.Println(strings.TrimSpace(string(data)))
	return nil
}

func watch(base, entity string, replay bool) error {
	u, err := url.Parse(base)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/api/v1/entities/%s/stream", entity)
	if replay {
		u.RawQuery = "replay=1"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupt
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var ev notify.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return nil
		}
		printEvent(ev)
	}
}

var (
	statusColor = color.New(color.FgCyan)
	textColor   = color.New(color.FgWhite)
	toolColor   = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
	errColor    = color.New(color.FgRed)
)

func printEvent(ev notify.StreamEvent) {
	prefix := ev.Timestamp.Format("15:04:05")
	if ev.Replayed {
		prefix += " (replay)"
	}
	if ev.Truncated {
		errColor.Printf("%s [%s] stream truncated, events were dropped\n", prefix, ev.EntityID)
	}

	switch ev.Kind {
	case notify.KindStatusChanged:
		statusColor.Printf("%s [%s] status -> %s\n", prefix, ev.EntityID, ev.Status)
	case notify.KindAssistantChunk:
		if delta, ok := ev.Payload["delta"].(string); ok {
			textColor.Print(delta)
		}
	case notify.KindToolApprovalRequested:
		toolColor.Printf("%s [%s] approval requested: %s (%s)\n", prefix, ev.EntityID, ev.ToolName, ev.SegmentID)
	case notify.KindToolApproved:
		okColor.Printf("%s [%s] approved: %s\n", prefix, ev.EntityID, ev.ToolName)
	case notify.KindToolDenied:
		errColor.Printf("%s [%s] denied: %s\n", prefix, ev.EntityID, ev.ToolName)
	case notify.KindToolExecutionStarted:
		toolColor.Printf("%s [%s] running %s...\n", prefix, ev.EntityID, ev.ToolName)
	case notify.KindToolExecutionSucceeded:
		okColor.Printf("%s [%s] %s ok\n", prefix, ev.EntityID, ev.ToolName)
	case notify.KindToolExecutionFailed:
		errColor.Printf("%s [%s] %s failed: %v\n", prefix, ev.EntityID, ev.ToolName, ev.Payload["error"])
	case notify.KindError:
		errColor.Printf("%s [%s] error: %v\n", prefix, ev.EntityID, ev.Payload["error"])
	}
}
