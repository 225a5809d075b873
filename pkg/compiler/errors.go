package compiler

import (
	"fmt"

	"github.com/rmay/eryn/pkg/chunk"
)

// Closed set of CompilationError messages, per spec.md §7.
const (
	MsgUnexpectedEOF             = "Unexpected EOF"
	MsgUnexpectedTemplateEnd     = "Unexpected template end"
	MsgUnexpectedSeparator       = "Unexpected separator"
	MsgUnexpectedEndOfTemplate   = "Unexpected end of template"
	MsgExpectedTemplateBodyEnd   = "Expected template body end"
	MsgPathTooLong               = "Path is too long"
	MsgHookReturnedInvalidValue  = "Hook returned invalid value"
)

// UnexpectedKindTemplate renders "Unexpected <kind> template".
func UnexpectedKindTemplate(kind string) string {
	return fmt.Sprintf("Unexpected %s template", kind)
}

// UnexpectedKindBodyEnd renders "Unexpected <kind> body end".
func UnexpectedKindBodyEnd(kind string) string {
	return fmt.Sprintf("Unexpected %s body end", kind)
}

// ExpectedEndForKindTemplate renders "Expected end for <kind> template".
func ExpectedEndForKindTemplate(kind string) string {
	return fmt.Sprintf("Expected end for %s template", kind)
}

// CompilationError is the structured payload the compiler raises on any
// failure. Message is drawn from the closed set above; Hint is a one
// sentence human-readable fix suggestion.
type CompilationError struct {
	Path    string
	Message string
	Hint    string
	Chunk   chunk.Chunk
	cause   error
}

func (e *CompilationError) Error() string {
	if e.Chunk.Snippet == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s\n%s\n%s^",
		e.Path, e.Chunk.Line, e.Chunk.Column, e.Message,
		e.Chunk.Snippet, pad(e.Chunk.Index))
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *CompilationError) Unwrap() error { return e.cause }

func pad(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// newError builds a CompilationError anchored at byte offset index in src.
func (c *Compiler) newError(message, hint string, index int) *CompilationError {
	return &CompilationError{
		Path:    c.origin,
		Message: message,
		Hint:    hint,
		Chunk:   c.chunkAt(index),
	}
}

// wrapError builds a CompilationError that also carries an underlying
// cause (e.g. a failed compile hook), wrapped with github.com/pkg/errors
// so the original error chain survives errors.Cause.
func (c *Compiler) wrapError(cause error, message, hint string, index int) *CompilationError {
	e := c.newError(message, hint, index)
	e.cause = cause
	return e
}
