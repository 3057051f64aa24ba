package segment

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"iris/internal/runtime/ports"
)

// passthroughState is the text path in api_tool_call mode: content flows
// through untouched while tool calls arrive on the provider-native channel.
type passthroughState struct{}

func (s *passthroughState) run(p *Parser, final bool) bool {
	if p.buf == "" {
		return false
	}
	p.emitText(p.buf)
	p.buf = ""
	return false
}

func (s *passthroughState) finalize(p *Parser) {}

// apiAggregator assembles provider-native tool-call deltas keyed by index
// into one tool_call segment per index. Argument deltas are forwarded as
// CONTENT so consumers can stream the argument JSON; the parsed arguments
// object rides in SEGMENT_END metadata so the invocation adapter does not
// re-parse content.
type apiAggregator struct {
	calls map[int]*apiCall
	order []int
}

type apiCall struct {
	segID  string
	name   string
	callID string
	args   strings.Builder
}

func newAPIAggregator() *apiAggregator {
	return &apiAggregator{calls: make(map[int]*apiCall)}
}

func (a *apiAggregator) feed(p *Parser, deltas []ports.ToolCallDelta) {
	for _, delta := range deltas {
		call, ok := a.calls[delta.Index]
		if !ok {
			call = &apiCall{
				segID:  p.nextID(),
				name:   delta.Name,
				callID: delta.CallID,
			}
			a.calls[delta.Index] = call
			a.order = append(a.order, delta.Index)
			p.emit(Event{
				SegmentID: call.segID,
				Kind:      EventStart,
				Type:      TypeToolCall,
				Metadata:  map[string]any{"tool_name": call.name, "call_id": call.callID},
			})
		}
		if call.name == "" && delta.Name != "" {
			call.name = delta.Name
		}
		if call.callID == "" && delta.CallID != "" {
			call.callID = delta.CallID
		}
		if delta.ArgumentsDelta != "" {
			call.args.WriteString(delta.ArgumentsDelta)
			p.emit(Event{
				SegmentID: call.segID,
				Kind:      EventContent,
				Type:      TypeToolCall,
				Delta:     delta.ArgumentsDelta,
			})
		}
	}
}

// finalize closes every open tool_call segment in index order.
func (a *apiAggregator) finalize(p *Parser) {
	sort.Ints(a.order)
	for _, idx := range a.order {
		call := a.calls[idx]
		meta := map[string]any{
			"tool_name": call.name,
			"call_id":   call.callID,
			"arguments": parseArguments(call.args.String()),
		}
		p.emit(Event{SegmentID: call.segID, Kind: EventEnd, Type: TypeToolCall, Metadata: meta})
	}
	a.calls = make(map[int]*apiCall)
	a.order = nil
}

// parseArguments decodes accumulated argument JSON, repairing the common
// model-emitted malformations before giving up.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return map[string]any{"_raw": raw}
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}
