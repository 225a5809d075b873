package compiler

// peek returns the byte at cursor, or 0 if cursor is at or past EOF.
func (c *Compiler) peek() byte {
	if c.cursor >= len(c.source) {
		return 0
	}
	return c.source[c.cursor]
}

// eof reports whether cursor has reached the end of source.
func (c *Compiler) eof() bool {
	return c.cursor >= len(c.source)
}

// skipWhitespace advances cursor past ASCII space/tab/CR/LF.
func (c *Compiler) skipWhitespace() {
	for !c.eof() {
		switch c.source[c.cursor] {
		case ' ', '\t', '\r', '\n':
			c.cursor++
		default:
			return
		}
	}
}

// matchAt reports whether pattern occurs at cursor.
func (c *Compiler) matchAt(pattern string) bool {
	return c.cb.MatchAt(c.cursor, []byte(pattern))
}

// findClose scans forward from from for the next occurrence of closeDelim,
// skipping (and recording) any occurrence immediately preceded by the
// escape byte. It returns the index of the first unescaped occurrence, or
// -1 if none exists before EOF.
func (c *Compiler) findClose(closeDelim string, from int) (idx int, escapes []int) {
	pattern := []byte(closeDelim)
	pos := from
	for {
		found := c.cb.FindIndex(pos, pattern)
		if found < 0 {
			return -1, escapes
		}
		if found > 0 && c.source[found-1] == c.opts.Templates.Escape {
			escapes = append(escapes, found-1)
			pos = found + 1
			continue
		}
		return found, escapes
	}
}

// stripEscapes returns source[start:end] with every byte offset listed in
// escapes (which must lie in [start,end)) deleted.
func stripEscapes(source []byte, start, end int, escapes []int) []byte {
	if len(escapes) == 0 {
		return append([]byte(nil), source[start:end]...)
	}
	out := make([]byte, 0, end-start)
	cursor := start
	for _, e := range escapes {
		if e < start || e >= end {
			continue
		}
		out = append(out, source[cursor:e]...)
		cursor = e + 1
	}
	out = append(out, source[cursor:end]...)
	return out
}

// trimSpace trims leading/trailing ASCII whitespace.
func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
