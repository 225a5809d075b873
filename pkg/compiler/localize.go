package compiler

import "github.com/rmay/eryn/pkg/osh"

// LocalPrefix/LocalSuffix are spliced around every bare occurrence of an
// active iterator identifier so the evaluator resolves it against the
// renderer's dedicated local-scope namespace instead of whatever else
// `local` might hold. The prefix ends, and the suffix begins, with an
// identifier-valid byte ('_'), which is what makes the rewrite idempotent:
// a second pass sees the wrapped identifier as preceded by an
// identifier-valid byte and never treats it as a fresh candidate.
const (
	LocalPrefix = "__local__"
	LocalSuffix = "__"
)

// Localize rewrites every bare occurrence of any name in iterators within
// expr into LocalPrefix+name+LocalSuffix, skipping occurrences inside
// string/template literals (except within `${...}` placeholders) and
// occurrences that are member-accessed, escaped, or part of a larger
// identifier or an object-literal shorthand key. Duplicate names in
// iterators are deduplicated before scanning. See spec.md §4.3.
func Localize(expr []byte, iterators [][]byte) []byte {
	names := dedupeNames(iterators)
	if len(names) == 0 {
		return expr
	}

	buf := osh.NewBuffer(len(expr))
	buf.Write(expr)

	const (
		quoteNone = 0
		quoteIn   = 1
	)
	quoteCount := quoteNone
	var quoteType byte
	templateDepth := 0

	i := 0
	for i < buf.Len() {
		data := buf.Bytes()
		b := data[i]

		if quoteCount == quoteIn {
			if quoteType == '`' {
				if b == '\\' && i+1 < len(data) {
					i += 2
					continue
				}
				if b == '$' && i+1 < len(data) && data[i+1] == '{' {
					quoteCount = quoteNone
					templateDepth++
					i += 2
					continue
				}
				if b == '`' {
					quoteCount = quoteNone
				}
				i++
				continue
			}
			if b == '\\' && i+1 < len(data) {
				i += 2
				continue
			}
			if b == quoteType {
				quoteCount = quoteNone
			}
			i++
			continue
		}

		if templateDepth > 0 && b == '}' {
			templateDepth--
			quoteCount = quoteIn
			quoteType = '`'
			i++
			continue
		}

		if b == '\'' || b == '"' || b == '`' {
			quoteCount = quoteIn
			quoteType = b
			i++
			continue
		}

		if matched, next := tryMatchIterator(data, i, names); matched {
			buf.MoveRight(i, len(LocalPrefix))
			buf.WriteAt(i, []byte(LocalPrefix))
			afterIdent := next + len(LocalPrefix)
			buf.MoveRight(afterIdent, len(LocalSuffix))
			buf.WriteAt(afterIdent, []byte(LocalSuffix))
			i = afterIdent + len(LocalSuffix)
			continue
		}

		i++
	}

	return buf.Bytes()
}

// tryMatchIterator reports whether one of names matches as a standalone
// identifier starting at i, returning the index just past the matched
// name on success.
func tryMatchIterator(data []byte, i int, names [][]byte) (bool, int) {
	if i > 0 {
		p := data[i-1]
		if isIdentByte(p) || p == '.' || p == '\\' {
			return false, 0
		}
	}
	for _, name := range names {
		n := len(name)
		if n == 0 || i+n > len(data) {
			continue
		}
		if string(data[i:i+n]) != string(name) {
			continue
		}
		end := i + n
		if end < len(data) {
			next := data[end]
			if isIdentByte(next) || next == ':' {
				continue
			}
		}
		return true, end
	}
	return false, 0
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// dedupeNames returns the distinct byte-slices in iterators, preserving
// first-seen order.
func dedupeNames(iterators [][]byte) [][]byte {
	var out [][]byte
	seen := map[string]bool{}
	for _, it := range iterators {
		s := string(it)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, it)
	}
	return out
}
