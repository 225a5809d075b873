package render

import "fmt"

// Closed set of RenderingError messages not otherwise derived from an
// evaluator failure, per spec.md §7.
const (
	MsgUnsupportedReturnType = "Unsupported template return type"
	MsgNoCacheEntry          = "Item does not exist in cache"
	MsgNoContent             = "No content"
	MsgPanic                 = "PANIC"
)

// RenderingError is raised by the renderer. Unlike CompilationError it
// carries no line/column — the source span is no longer available once
// compiled to OSH — only the origin label and, where relevant, the
// expression token being evaluated when the failure occurred.
type RenderingError struct {
	Origin  string
	Message string
	Hint    string
	Token   string
	cause   error
}

func (e *RenderingError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s: %s", e.Origin, e.Message)
	}
	return fmt.Sprintf("%s: %s (in %q)", e.Origin, e.Message, e.Token)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *RenderingError) Unwrap() error { return e.cause }
