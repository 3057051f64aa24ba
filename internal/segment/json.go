package segment

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// jsonTextState streams text and watches for a JSON object opening at the
// start of a line, which may be an embedded tool call.
type jsonTextState struct {
	midLine bool
}

func (s *jsonTextState) run(p *Parser, final bool) bool {
	if p.buf == "" {
		return false
	}
	for i := 0; i < len(p.buf); i++ {
		c := p.buf[i]
		if c == '{' && !s.midLine {
			p.emitText(p.buf[:i])
			p.buf = p.buf[i:]
			p.state = &jsonToolState{}
			return true
		}
		s.midLine = c != '\n'
	}
	p.emitText(p.buf)
	p.buf = ""
	return false
}

func (s *jsonTextState) finalize(p *Parser) {}

// jsonToolState accumulates one balanced JSON object. Nothing is emitted
// until the object completes: a non-tool object must surface as plain text,
// so streaming its bytes early would misclassify them.
type jsonToolState struct {
	raw     strings.Builder
	depth   int
	inStr   bool
	escaped bool
}

func (s *jsonToolState) run(p *Parser, final bool) bool {
	for i := 0; i < len(p.buf); i++ {
		c := p.buf[i]
		s.raw.WriteByte(c)
		switch {
		case s.escaped:
			s.escaped = false
		case s.inStr:
			if c == '\\' {
				s.escaped = true
			} else if c == '"' {
				s.inStr = false
			}
		case c == '"':
			s.inStr = true
		case c == '{':
			s.depth++
		case c == '}':
			s.depth--
			if s.depth == 0 {
				p.buf = p.buf[i+1:]
				s.complete(p, nil)
				p.state = &jsonTextState{midLine: true}
				return true
			}
		}
	}
	p.buf = ""
	return false
}

func (s *jsonToolState) finalize(p *Parser) {
	s.complete(p, map[string]any{"truncated": true})
}

// complete classifies the accumulated object: a tool call becomes a
// tool_call segment, anything else degrades to text. Malformed JSON never
// crashes the stream.
func (s *jsonToolState) complete(p *Parser, extra map[string]any) {
	raw := s.raw.String()
	if raw == "" {
		return
	}
	name, args, ok := parseJSONToolCall(raw)
	if !ok {
		p.emitText(raw)
		return
	}

	p.closeText()
	id := p.nextID()
	meta := map[string]any{"tool_name": name}
	p.emit(Event{SegmentID: id, Kind: EventStart, Type: TypeToolCall, Metadata: cloneMeta(meta)})
	if argsJSON, err := json.Marshal(args); err == nil {
		p.emit(Event{SegmentID: id, Kind: EventContent, Type: TypeToolCall, Delta: string(argsJSON)})
	}
	endMeta := map[string]any{"tool_name": name, "arguments": args}
	for k, v := range extra {
		endMeta[k] = v
	}
	p.emit(Event{SegmentID: id, Kind: EventEnd, Type: TypeToolCall, Metadata: endMeta})
}

// parseJSONToolCall accepts `{"tool": "...", "args": {...}}` and the
// `name`/`arguments` field spellings, repairing malformed JSON first.
func parseJSONToolCall(raw string) (string, map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return "", nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
			return "", nil, false
		}
	}

	name := ""
	for _, key := range []string{"tool", "name", "tool_name"} {
		if v, ok := obj[key].(string); ok && v != "" {
			name = v
			break
		}
	}
	if name == "" {
		return "", nil, false
	}

	args := map[string]any{}
	for _, key := range []string{"args", "arguments"} {
		if v, ok := obj[key].(map[string]any); ok {
			args = v
			break
		}
	}
	return name, args, true
}
