package segment

import "strings"

// textState is the default state in xml mode: stream text, watch for the
// opening bracket of a recognized tool tag.
type textState struct{}

func (s *textState) run(p *Parser, final bool) bool {
	if p.buf == "" {
		return false
	}
	i := strings.IndexByte(p.buf, '<')
	if i < 0 {
		p.emitText(p.buf)
		p.buf = ""
		return false
	}
	if i > 0 {
		p.emitText(p.buf[:i])
		p.buf = p.buf[i:]
	}

	end := strings.IndexByte(p.buf, '>')
	if end < 0 {
		if !final && couldBeKnownTag(p.buf, p.knownTags()) {
			// Hold: the partial token may still become a tool tag.
			return false
		}
		p.emitText(p.buf[:1])
		p.buf = p.buf[1:]
		return true
	}

	raw := p.buf[:end+1]
	name, attrs, ok := parseTag(raw)
	if ok {
		if segType, known := p.tags[strings.ToLower(name)]; known {
			p.buf = p.buf[end+1:]
			p.closeText()
			p.state = newContentState(p, strings.ToLower(name), segType, attrs)
			return true
		}
	}
	// Unknown tags pass through as text, never discarded.
	p.emitText(raw)
	p.buf = p.buf[end+1:]
	return true
}

func (s *textState) finalize(p *Parser) {}

// couldBeKnownTag reports whether buf (starting with '<' and lacking '>')
// may still grow into a recognized opening tag.
func couldBeKnownTag(buf string, tags []string) bool {
	partial := buf[1:]
	name := partial
	if cut := strings.IndexAny(partial, " \t\r\n"); cut >= 0 {
		name = partial[:cut]
	}
	lower := strings.ToLower(name)
	nameComplete := len(name) < len(partial)
	for _, tag := range tags {
		if nameComplete {
			if lower == tag {
				return true
			}
			continue
		}
		if strings.HasPrefix(tag, lower) {
			return true
		}
	}
	return false
}

// parseTag extracts the name and attributes from a raw opening tag such as
// `<write_file path="/a.py">`.
func parseTag(raw string) (string, map[string]string, bool) {
	if len(raw) < 3 || raw[0] != '<' || raw[len(raw)-1] != '>' {
		return "", nil, false
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	inner = strings.TrimSuffix(inner, "/")
	if inner == "" || inner[0] == '/' || inner[0] == '!' || inner[0] == '?' {
		return "", nil, false
	}

	name := inner
	rest := ""
	if cut := strings.IndexAny(inner, " \t\r\n"); cut >= 0 {
		name = inner[:cut]
		rest = strings.TrimSpace(inner[cut+1:])
	}
	if !validTagName(name) {
		return "", nil, false
	}

	attrs := map[string]string{}
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			break
		}
		key := strings.TrimSpace(rest[:eq])
		rest = strings.TrimSpace(rest[eq+1:])
		if rest == "" {
			break
		}
		quote := rest[0]
		if quote != '"' && quote != '\'' {
			break
		}
		closeIdx := strings.IndexByte(rest[1:], quote)
		if closeIdx < 0 {
			break
		}
		attrs[key] = rest[1 : closeIdx+1]
		rest = strings.TrimSpace(rest[closeIdx+2:])
	}
	return name, attrs, true
}

func validTagName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
