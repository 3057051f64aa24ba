package segment

import (
	"encoding/json"
	"strings"
)

// Sentinel stream markers. The START marker carries a JSON object whose
// mandatory "type" field classifies the segment; remaining fields become
// segment metadata.
const (
	sentinelStart = "[[SEG_START "
	sentinelEnd   = "[[SEG_END]]"
)

// sentinelTextState streams text and watches for a START marker line.
type sentinelTextState struct{}

func (s *sentinelTextState) run(p *Parser, final bool) bool {
	if p.buf == "" {
		return false
	}
	idx := strings.Index(p.buf, sentinelStart)
	if idx < 0 {
		hold := overlap(p.buf, sentinelStart)
		if final {
			hold = 0
		}
		p.emitText(p.buf[:len(p.buf)-hold])
		p.buf = p.buf[len(p.buf)-hold:]
		return false
	}

	closeIdx := strings.Index(p.buf[idx:], "]]")
	if closeIdx < 0 {
		if !final {
			p.emitText(p.buf[:idx])
			p.buf = p.buf[idx:]
			return false
		}
		p.emitText(p.buf)
		p.buf = ""
		return false
	}

	header := p.buf[idx+len(sentinelStart) : idx+closeIdx]
	rest := p.buf[idx+closeIdx+2:]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	var meta map[string]any
	typeName := ""
	if err := json.Unmarshal([]byte(header), &meta); err == nil {
		typeName, _ = meta["type"].(string)
	}
	if typeName == "" {
		// Marker without a valid type is not a segment boundary.
		p.emitText(p.buf[:idx+closeIdx+2])
		p.buf = p.buf[idx+closeIdx+2:]
		return true
	}

	p.emitText(p.buf[:idx])
	p.buf = rest
	p.closeText()
	delete(meta, "type")
	p.state = newSentinelContentState(p, Type(typeName), meta)
	return true
}

func (s *sentinelTextState) finalize(p *Parser) {}

// sentinelContentState pipes payload until the END marker line.
type sentinelContentState struct {
	id      string
	segType Type
	meta    map[string]any
	filter  *contentFilter
	closed  bool
}

func newSentinelContentState(p *Parser, segType Type, meta map[string]any) *sentinelContentState {
	trim := segType == TypeWriteFile || segType == TypePatchFile || segType == TypeRunBash
	s := &sentinelContentState{
		id:      p.nextID(),
		segType: segType,
		meta:    meta,
		filter:  newContentFilter(trim),
	}
	p.emit(Event{SegmentID: s.id, Kind: EventStart, Type: segType, Metadata: cloneMeta(meta)})
	return s
}

func (s *sentinelContentState) run(p *Parser, final bool) bool {
	if p.buf == "" {
		return false
	}
	if idx := strings.Index(p.buf, sentinelEnd); idx >= 0 {
		payload := p.buf[:idx]
		payload = strings.TrimSuffix(payload, "\n")
		payload = strings.TrimSuffix(payload, "\r")
		rest := p.buf[idx+len(sentinelEnd):]
		rest = strings.TrimPrefix(rest, "\r\n")
		rest = strings.TrimPrefix(rest, "\n")
		p.buf = rest
		s.emitContent(p, payload)
		s.close(p, nil)
		p.state = &sentinelTextState{}
		return true
	}

	hold := overlap(p.buf, sentinelEnd)
	if final {
		hold = 0
	}
	if len(p.buf) > hold {
		s.emitContent(p, p.buf[:len(p.buf)-hold])
		p.buf = p.buf[len(p.buf)-hold:]
	}
	return false
}

func (s *sentinelContentState) finalize(p *Parser) {
	if s.closed {
		return
	}
	s.emitContent(p, p.buf)
	p.buf = ""
	s.close(p, map[string]any{"truncated": true})
}

func (s *sentinelContentState) emitContent(p *Parser, payload string) {
	s.filter.write(payload, func(delta string) {
		if delta != "" {
			p.emit(Event{SegmentID: s.id, Kind: EventContent, Type: s.segType, Delta: delta})
		}
	})
}

func (s *sentinelContentState) close(p *Parser, extra map[string]any) {
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
