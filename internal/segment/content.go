package segment

import "strings"

// contentState pipes the inner payload of one tool-form tag (write_file,
// patch_file, run_bash, or a generic tool tag). Structural markup is
// consumed and discarded; only the payload is streamed as deltas.
type contentState struct {
	id      string
	segType Type
	tag     string
	closing string
	meta    map[string]any
	filter  *contentFilter
	closed  bool
}

// newContentState emits SEGMENT_START and enters the content state. For
// write_file/patch_file the start carries the path attribute parsed from the
// opening tag, so consumers always see the file target before any delta.
func newContentState(p *Parser, tag string, segType Type, attrs map[string]string) *contentState {
	meta := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		meta[k] = v
	}
	if segType == TypeToolCall {
		if name, ok := attrs["name"]; ok && name != "" {
			meta["tool_name"] = name
		} else if tag != "tool_call" {
			meta["tool_name"] = tag
		}
	}
	s := &contentState{
		id:      p.nextID(),
		segType: segType,
		tag:     tag,
		closing: "</" + tag + ">",
		meta:    meta,
		filter:  newContentFilter(segType != TypeToolCall),
	}
	p.emit(Event{SegmentID: s.id, Kind: EventStart, Type: segType, Metadata: cloneMeta(meta)})
	return s
}

func (s *contentState) run(p *Parser, final bool) bool {
	if p.buf == "" {
		return false
	}
	if idx := strings.Index(p.buf, s.closing); idx >= 0 {
		payload := p.buf[:idx]
		p.buf = p.buf[idx+len(s.closing):]
		s.emitContent(p, payload)
		s.close(p, nil)
		p.state = &textState{}
		return true
	}

	// Hold back the longest tail that is still a prefix of the closing
	// token so a partial `</wr` is never surfaced and then retracted.
	hold := overlap(p.buf, s.closing)
	if final {
		hold = 0
	}
	if len(p.buf) > hold {
		s.emitContent(p, p.buf[:len(p.buf)-hold])
		p.buf = p.buf[len(p.buf)-hold:]
	}
	return false
}

func (s *contentState) finalize(p *Parser) {
	if s.closed {
		return
	}
	s.emitContent(p, p.buf)
	p.buf = ""
	s.close(p, map[string]any{"truncated": true})
}

func (s *contentState) emitContent(p *Parser, payload string) {
	s.filter.write(payload, func(delta string) {
		if delta != "" {
			p.emit(Event{SegmentID: s.id, Kind: EventContent, Type: s.segType, Delta: delta})
		}
	})
}

func (s *contentState) close(p *Parser, extra map[string]any) {
	if s.closed {
		return
	}
	s.closed = true
	s.filter.flush(func(delta string) {
		if delta != "" {
			p.emit(Event{SegmentID: s.id, Kind: EventContent, Type: s.segType, Delta: delta})
		}
	})
	meta := cloneMeta(s.meta)
	for k, v := range extra {
		meta[k] = v
	}
	p.emit(Event{SegmentID: s.id, Kind: EventEnd, Type: s.segType, Metadata: meta})
}

const (
	filterLead = iota
	filterPipe
	filterEnded
)

// contentFilter trims the payload to the region between the optional
// __START_CONTENT__ / __END_CONTENT__ sentinels while staying streaming
// safe: a partially arrived sentinel is held back, never emitted.
type contentFilter struct {
	trim  bool
	phase int
	lead  string
	hold  string
}

func newContentFilter(trimSentinels bool) *contentFilter {
	f := &contentFilter{trim: trimSentinels}
	if !trimSentinels {
		f.phase = filterPipe
	}
	return f
}

func (f *contentFilter) write(delta string, emit func(string)) {
	if f.phase == filterEnded {
		return
	}
	if f.phase == filterLead {
		f.lead += delta
		trimmed := strings.TrimLeft(f.lead, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, StartContentSentinel):
			rest := trimmed[len(StartContentSentinel):]
			rest = strings.TrimPrefix(rest, "\r\n")
			rest = strings.TrimPrefix(rest, "\n")
			f.lead = ""
			f.phase = filterPipe
			f.pipe(rest, emit)
		case len(trimmed) < len(StartContentSentinel) && strings.HasPrefix(StartContentSentinel, trimmed):
			// Undecided: wait for more payload.
		default:
			lead := f.lead
			f.lead = ""
			f.phase = filterPipe
			f.pipe(lead, emit)
		}
		return
	}
	f.pipe(delta, emit)
}

func (f *contentFilter) pipe(delta string, emit func(string)) {
	data := f.hold + delta
	f.hold = ""
	if !f.trim {
		emit(data)
		return
	}
	if idx := strings.Index(data, EndContentSentinel); idx >= 0 {
		head := data[:idx]
		head = strings.TrimSuffix(head, "\n")
		head = strings.TrimSuffix(head, "\r")
		emit(head)
		f.phase = filterEnded
		return
	}
	hold := overlap(data, EndContentSentinel)
	emit(data[:len(data)-hold])
	f.hold = data[len(data)-hold:]
}

// flush releases whatever the filter still withholds when the segment ends.
func (f *contentFilter) flush(emit func(string)) {
	switch f.phase {
	case filterLead:
		emit(f.lead)
		f.lead = ""
	case filterPipe:
		emit(f.hold)
		f.hold = ""
	}
}

// overlap returns the length of the longest proper suffix of s that is a
// prefix of token.
func overlap(s, token string) int {
	max := len(token) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, token[:k]) {
			return k
		}
	}
	return 0
}

func cloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
