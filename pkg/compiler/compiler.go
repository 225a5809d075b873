// Package compiler turns eryn source bytes into OSH bytecode: a single
// state-machine pass over the byte stream driven by a template stack
// (conditional/else/else-conditional/loop/component) and an iterator
// stack, emitting BDP832 pairs and backpatching jump offsets once each
// construct's body extent is known.
package compiler

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rmay/eryn/pkg/chunk"
	"github.com/rmay/eryn/pkg/osh"
)

// ChunkWindow bounds the size of the source snippet a CompilationError
// quotes around its caret.
const ChunkWindow = 120

// TemplateKind identifies which construct a template-stack frame belongs
// to.
type TemplateKind int

const (
	KindConditional TemplateKind = iota
	KindElseConditional
	KindElse
	KindLoop
	KindComponent
)

func (k TemplateKind) String() string {
	switch k {
	case KindConditional:
		return "conditional"
	case KindElseConditional:
		return "else-conditional"
	case KindElse:
		return "else"
	case KindLoop:
		return "loop"
	case KindComponent:
		return "component"
	default:
		return "template"
	}
}

// isConditionalGroup reports whether k belongs to the if/elif/else chain
// family, which all share the 'C' body-end marker.
func (k TemplateKind) isConditionalGroup() bool {
	return k == KindConditional || k == KindElseConditional || k == KindElse
}

// frame is a pushed template-stack entry. OutputIndex is the first byte of
// this frame's OSH pair; OutputBodyIndex is the first byte of the body,
// immediately past the frame's pre-zeroed fixed offset slots.
type frame struct {
	Kind            TemplateKind
	OutputIndex     int
	OutputBodyIndex int
	InputIndex      int
	// HasSlots is true for Conditional and ElseConditional frames, whose
	// pair carries end_off/true_end_off slots to patch. It is false for
	// Else frames (the 'E' pair has no slots) and is not set for loop or
	// component frames, which are patched by closeLoop/closeComponent.
	HasSlots bool
}

// Compiler holds the state of a single compilation pass. It is not safe
// for concurrent or repeated use; construct a fresh one per source via
// New.
type Compiler struct {
	source []byte
	origin string
	opts   Options

	cb     osh.ConstBuffer
	cursor int

	out       *osh.Buffer
	templates []frame
	iterators [][]byte

	log logrus.FieldLogger
}

// New returns a Compiler configured by opts. Logger may be nil, in which
// case logrus.StandardLogger() is used.
func New(opts Options, logger logrus.FieldLogger) *Compiler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Compiler{opts: opts, log: logger}
}

// Compile scans source (labelled origin, for error messages) into OSH
// bytecode.
func (c *Compiler) Compile(source []byte, origin string) ([]byte, error) {
	c.source = source
	c.origin = origin
	c.cb = osh.NewConstBuffer(source)
	c.cursor = 0
	c.out = osh.NewBuffer(len(source))
	c.templates = nil
	c.iterators = nil

	start := []byte(c.opts.Templates.Start)

	var pending []byte
	for {
		next := c.cb.FindIndex(c.cursor, start)
		if next > c.cursor && c.source[next-1] == c.opts.Templates.Escape {
			// An escaped templateStart is literal text: drop the escape byte
			// and keep it in the same plaintext run.
			pending = append(pending, c.source[c.cursor:next-1]...)
			pending = append(pending, start...)
			c.cursor = next + len(start)
			continue
		}
		to := next
		if next < 0 {
			to = len(c.source)
		}
		text := append(pending, c.source[c.cursor:to]...)
		pending = nil
		if err := c.emitPlaintext(text); err != nil {
			return nil, err
		}
		if next < 0 {
			break
		}
		c.cursor = next + len(start)
		c.skipWhitespace()
		if err := c.dispatch(); err != nil {
			return nil, err
		}
	}

	if len(c.templates) > 0 {
		top := c.templates[len(c.templates)-1]
		return nil, c.newError(ExpectedEndForKindTemplate(top.Kind.String()),
			"close every opened template with an end tag before the file ends", top.InputIndex)
	}

	return c.out.Bytes(), nil
}

// dispatch routes the construct starting at c.cursor (already past
// templateStart and leading whitespace) to its handler, per the fixed
// prefix-trial order in spec §4.2.
func (c *Compiler) dispatch() error {
	t := &c.opts.Templates
	switch {
	case c.matchAt(t.CommentStart):
		return c.compileComment()
	case c.matchAt(t.ConditionalStart):
		return c.compileConditional()
	case c.matchAt(t.ElseConditionalStart):
		return c.compileElseConditional()
	case c.matchAt(t.ElseStart):
		return c.compileElse()
	case c.matchAt(t.LoopStart):
		return c.compileLoop()
	case c.matchAt(t.ComponentStart):
		return c.compileComponent()
	case c.matchAt(t.VoidStart):
		return c.compileVoid()
	default:
		return c.compileTemplateOrBodyEnd()
	}
}

func (c *Compiler) emitPlaintext(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if c.opts.IgnoreBlankPlaintext && len(trimSpace(data)) == 0 {
		return nil
	}
	data, err := c.runHook(FilterPlaintext, data)
	if err != nil {
		return err
	}
	return c.out.WritePair([]byte{byte(osh.MarkerPlaintext)}, data)
}

func (c *Compiler) compileComment() error {
	start := c.cursor
	c.cursor += len(c.opts.Templates.CommentStart)
	end, escapes := c.findClose(c.opts.Templates.CommentEnd, c.cursor)
	if end < 0 {
		return c.newError(MsgUnexpectedEOF, "add a closing //|] to this comment", start)
	}
	body := stripEscapes(c.source, c.cursor, end, escapes)
	c.cursor = end + len(c.opts.Templates.CommentEnd)
	if c.opts.CompileHook == nil {
		return nil
	}
	c.log.WithFields(logrus.Fields{"kind": FilterComment, "origin": c.origin}).Trace("compile hook")
	out, err := c.opts.CompileHook(FilterComment, body, c.origin)
	if err != nil {
		return c.wrapError(errors.Wrap(err, "compile hook"), MsgHookReturnedInvalidValue, "", start)
	}
	if out == nil {
		return nil
	}
	return c.out.WritePair([]byte{byte(osh.MarkerPlaintext)}, out)
}

func (c *Compiler) compileTemplateOrBodyEnd() error {
	start := c.cursor
	end, escapes := c.findClose(c.opts.Templates.End, c.cursor)
	if end < 0 {
		return c.newError(MsgUnexpectedEOF, "add a closing |] to this template", start)
	}
	raw := stripEscapes(c.source, c.cursor, end, escapes)
	trimmed := trimSpace(raw)
	c.cursor = end + len(c.opts.Templates.End)

	if string(trimmed) == c.opts.Templates.BodyEnd {
		return c.compileBodyEnd(start)
	}

	if len(trimmed) == 0 {
		return nil
	}

	expr := Localize(trimmed, c.iterators)
	expr, err := c.runHook(FilterTemplate, expr)
	if err != nil {
		return err
	}
	return c.out.WritePair([]byte{byte(osh.MarkerTemplate)}, expr)
}

func (c *Compiler) compileVoid() error {
	start := c.cursor
	c.cursor += len(c.opts.Templates.VoidStart)
	end, escapes := c.findClose(c.opts.Templates.End, c.cursor)
	if end < 0 {
		return c.newError(MsgUnexpectedEOF, "add a closing |] to this template", start)
	}
	raw := stripEscapes(c.source, c.cursor, end, escapes)
	trimmed := trimSpace(raw)
	c.cursor = end + len(c.opts.Templates.End)
	if len(trimmed) == 0 {
		return c.newError(MsgUnexpectedTemplateEnd, "a void template needs an expression, e.g. [|# doSomething() |]", start)
	}
	expr := Localize(trimmed, c.iterators)
	expr, err := c.runHook(FilterVoidTemplate, expr)
	if err != nil {
		return err
	}
	return c.out.WritePair([]byte{byte(osh.MarkerVoidTemplate)}, expr)
}

func (c *Compiler) compileConditional() error {
	start := c.cursor
	c.cursor += len(c.opts.Templates.ConditionalStart)
	expr, err := c.readTrimmedExpr(start)
	if err != nil {
		return err
	}
	if len(expr) == 0 {
		return c.newError(MsgUnexpectedTemplateEnd, "an if needs a condition, e.g. [|? x > 0 |]", start)
	}
	expr = Localize(expr, c.iterators)
	expr, err = c.runHookFilter(FilterConditional, expr)
	if err != nil {
		return err
	}
	return c.pushConditionalLike(osh.MarkerConditionalStart, KindConditional, expr, start)
}

func (c *Compiler) compileElseConditional() error {
	start := c.cursor
	if len(c.templates) == 0 || !c.templates[len(c.templates)-1].Kind.isConditionalGroup() ||
		c.templates[len(c.templates)-1].Kind == KindElse {
		return c.newError(UnexpectedKindTemplate("else-conditional"),
			"an else-if must follow an if or another else-if", start)
	}
	c.cursor += len(c.opts.Templates.ElseConditionalStart)
	expr, err := c.readTrimmedExpr(start)
	if err != nil {
		return err
	}
	if len(expr) == 0 {
		return c.newError(MsgUnexpectedTemplateEnd, "an else-if needs a condition, e.g. [|:? x > 0 |]", start)
	}
	expr = Localize(expr, c.iterators)
	expr, err = c.runHookFilter(FilterConditional, expr)
	if err != nil {
		return err
	}
	return c.pushConditionalLike(osh.MarkerElseConditional, KindElseConditional, expr, start)
}

func (c *Compiler) compileElse() error {
	start := c.cursor
	if len(c.templates) == 0 || !c.templates[len(c.templates)-1].Kind.isConditionalGroup() ||
		c.templates[len(c.templates)-1].Kind == KindElse {
		return c.newError(UnexpectedKindTemplate("else"),
			"an else must follow an if or an else-if", start)
	}
	c.cursor += len(c.opts.Templates.ElseStart)
	end, escapes := c.findClose(c.opts.Templates.End, c.cursor)
	if end < 0 {
		return c.newError(MsgUnexpectedEOF, "add a closing |] to this template", start)
	}
	raw := stripEscapes(c.source, c.cursor, end, escapes)
	c.cursor = end + len(c.opts.Templates.End)
	if len(trimSpace(raw)) != 0 {
		return c.newError(MsgExpectedTemplateBodyEnd, "an else tag takes no content: [|: |]", start)
	}
	outputIndex := c.out.Len()
	if err := c.out.WritePair([]byte{byte(osh.MarkerElse)}, nil); err != nil {
		return err
	}
	c.templates = append(c.templates, frame{
		Kind:            KindElse,
		OutputIndex:     outputIndex,
		OutputBodyIndex: c.out.Len(),
		InputIndex:      start,
		HasSlots:        false,
	})
	return nil
}

// pushConditionalLike emits a (marker, expr) pair followed by two zeroed
// 4-byte offset slots, and pushes a frame of kind for later patching.
func (c *Compiler) pushConditionalLike(marker osh.Marker, kind TemplateKind, expr []byte, start int) error {
	outputIndex := c.out.Len()
	if err := c.out.WritePair([]byte{byte(marker)}, expr); err != nil {
		return err
	}
	c.out.Repeat(0, 2*osh.OSHFormat)
	c.templates = append(c.templates, frame{
		Kind:            kind,
		OutputIndex:     outputIndex,
		OutputBodyIndex: c.out.Len(),
		InputIndex:      start,
		HasSlots:        true,
	})
	return nil
}

func (c *Compiler) compileLoop() error {
	start := c.cursor
	c.cursor += len(c.opts.Templates.LoopStart)
	end, escapes := c.findClose(c.opts.Templates.End, c.cursor)
	if end < 0 {
		return c.newError(MsgUnexpectedEOF, "add a closing |] to this template", start)
	}
	body := stripEscapes(c.source, c.cursor, end, escapes)
	c.cursor = end + len(c.opts.Templates.End)

	sepIdx := indexOf(body, []byte(c.opts.Templates.LoopSeparator))
	if sepIdx < 0 {
		return c.newError(MsgUnexpectedSeparator,
			"a loop needs an iterator and an iterable separated by ':', e.g. [|@ it : items |]", start)
	}
	iterRaw := trimSpace(body[:sepIdx])
	iterableRaw := trimSpace(body[sepIdx+len(c.opts.Templates.LoopSeparator):])
	if len(iterRaw) == 0 || len(iterableRaw) == 0 {
		return c.newError(MsgUnexpectedSeparator,
			"both the iterator name and the iterable expression are required", start)
	}

	reverse := false
	if rev := []byte(c.opts.Templates.LoopReverse); len(rev) > 0 && len(iterableRaw) >= len(rev) &&
		string(iterableRaw[len(iterableRaw)-len(rev):]) == string(rev) {
		reverse = true
		iterableRaw = trimSpace(iterableRaw[:len(iterableRaw)-len(rev)])
	}

	iterable := Localize(iterableRaw, c.iterators)
	iterable, err := c.runHookFilter(FilterLoopIterable, iterable)
	if err != nil {
		return err
	}

	packed, err := osh.WritePair(nil, iterRaw, iterable)
	if err != nil {
		return c.wrapError(err, MsgPathTooLong, "shorten the iterator name", start)
	}

	marker := osh.MarkerLoopForward
	if reverse {
		marker = osh.MarkerLoopReverse
	}

	outputIndex := c.out.Len()
	if err := c.out.WritePair([]byte{byte(marker)}, packed); err != nil {
		return err
	}
	c.out.Repeat(0, osh.OSHFormat)

	c.templates = append(c.templates, frame{
		Kind:            KindLoop,
		OutputIndex:     outputIndex,
		OutputBodyIndex: c.out.Len(),
		InputIndex:      start,
	})
	c.iterators = append(c.iterators, iterRaw)
	return nil
}

func (c *Compiler) compileComponent() error {
	start := c.cursor
	c.cursor += len(c.opts.Templates.ComponentStart)
	end, escapes := c.findClose(c.opts.Templates.End, c.cursor)
	if end < 0 {
		return c.newError(MsgUnexpectedEOF, "add a closing |] to this template", start)
	}
	body := stripEscapes(c.source, c.cursor, end, escapes)
	c.cursor = end + len(c.opts.Templates.End)

	body = trimSpace(body)
	selfClosing := false
	if self := []byte(c.opts.Templates.ComponentSelf); len(self) > 0 && len(body) >= len(self) &&
		string(body[len(body)-len(self):]) == string(self) {
		selfClosing = true
		body = trimSpace(body[:len(body)-len(self)])
	}

	var rawPath, contextExpr []byte
	if sepIdx := indexOf(body, []byte(c.opts.Templates.ComponentSeparator)); sepIdx >= 0 {
		rawPath = trimSpace(body[:sepIdx])
		contextExpr = trimSpace(body[sepIdx+len(c.opts.Templates.ComponentSeparator):])
	} else {
		rawPath = body
	}
	if len(rawPath) == 0 {
		return c.newError(MsgUnexpectedTemplateEnd, "a component tag needs a path, e.g. [|% card |]", start)
	}

	absPath, err := c.resolveComponentPath(string(rawPath), start)
	if err != nil {
		return err
	}

	contextExpr = Localize(contextExpr, c.iterators)
	contextExpr, err = c.runHookFilter(FilterComponentContext, contextExpr)
	if err != nil {
		return err
	}

	packed, err := osh.WritePair(nil, []byte(absPath), contextExpr)
	if err != nil {
		return c.wrapError(err, MsgPathTooLong, "shorten the component path", start)
	}

	outputIndex := c.out.Len()
	if err := c.out.WritePair([]byte{byte(osh.MarkerComponentStart)}, packed); err != nil {
		return err
	}
	c.out.Repeat(0, osh.OSHFormat)
	bodyIndex := c.out.Len()

	if selfClosing {
		if err := c.out.WritePair([]byte{byte(osh.MarkerComponentBodyEnd)}, nil); err != nil {
			return err
		}
		return nil
	}

	c.templates = append(c.templates, frame{
		Kind:            KindComponent,
		OutputIndex:     outputIndex,
		OutputBodyIndex: bodyIndex,
		InputIndex:      start,
	})
	return nil
}

// resolveComponentPath joins raw against the configured working directory
// and rejects any result that escapes it via "..".
func (c *Compiler) resolveComponentPath(raw string, start int) (string, error) {
	if len(raw) > osh.MaxNameLength {
		return "", c.newError(MsgPathTooLong, "shorten the component path", start)
	}
	base, err := filepath.Abs(c.opts.WorkingDir)
	if err != nil {
		return "", c.wrapError(errors.Wrap(err, "resolve working directory"), MsgPathTooLong, "check workingDir", start)
	}
	joined := filepath.Join(base, raw)
	rel, err := filepath.Rel(base, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", c.newError(MsgPathTooLong, "component paths may not escape workingDir via ..", start)
	}
	if len(joined) > osh.MaxNameLength {
		return "", c.newError(MsgPathTooLong, "shorten the component path", start)
	}
	return joined, nil
}

// compileBodyEnd closes the top of the template stack. start is the input
// offset of the [| that opened this body-end tag.
func (c *Compiler) compileBodyEnd(start int) error {
	if len(c.templates) == 0 {
		return c.newError(UnexpectedKindBodyEnd("template"),
			"there is no open template to close here", start)
	}
	top := c.templates[len(c.templates)-1]

	switch {
	case top.Kind.isConditionalGroup():
		return c.closeConditionalGroup()
	case top.Kind == KindLoop:
		return c.closeLoop(top)
	case top.Kind == KindComponent:
		return c.closeComponent(top)
	default:
		return c.newError(UnexpectedKindBodyEnd(top.Kind.String()), "", start)
	}
}

func (c *Compiler) closeConditionalGroup() error {
	cBefore := c.out.Len()
	if err := c.out.WritePair([]byte{byte(osh.MarkerConditionalBodyEnd)}, nil); err != nil {
		return err
	}
	cAfter := c.out.Len()

	top := c.templates[len(c.templates)-1]
	c.templates = c.templates[:len(c.templates)-1]

	if top.Kind == KindConditional {
		c.patchOffsets(top, cBefore-top.OutputBodyIndex, cAfter-cBefore)
		return nil
	}

	// Chain case: pop frames up through the nearest Conditional. Each
	// frame's end_off points at the start of the next e/E (or at C, for
	// the innermost); currentEnd reverts to each frame's own pair-start
	// as we climb outward.
	currentEnd := cBefore
	frameN := top
	for {
		c.patchOffsets(frameN, currentEnd-frameN.OutputBodyIndex, cAfter-frameN.OutputBodyIndex)
		currentEnd = frameN.OutputIndex
		if frameN.Kind == KindConditional {
			break
		}
		if len(c.templates) == 0 {
			break
		}
		frameN = c.templates[len(c.templates)-1]
		c.templates = c.templates[:len(c.templates)-1]
	}
	return nil
}

// patchOffsets writes endOff/trueEndOff into a conditional-like frame's
// two reserved slots. An Else frame has no slots to patch.
func (c *Compiler) patchOffsets(f frame, endOff, trueEndOff int) {
	if !f.HasSlots {
		return
	}
	slot := f.OutputBodyIndex - 2*osh.OSHFormat
	c.out.WriteLength(slot, uint32(endOff), osh.OSHFormat)
	c.out.WriteLength(slot+osh.OSHFormat, uint32(trueEndOff), osh.OSHFormat)
}

func (c *Compiler) closeLoop(top frame) error {
	c.templates = c.templates[:len(c.templates)-1]
	if n := len(c.iterators); n > 0 {
		c.iterators = c.iterators[:n-1]
	}

	if err := c.out.WritePair([]byte{byte(osh.MarkerLoopBodyEnd)}, nil); err != nil {
		return err
	}
	c.out.Repeat(0, osh.OSHFormat)
	after := c.out.Len()

	offset := uint32(after - top.OutputBodyIndex)
	c.out.WriteLength(top.OutputBodyIndex-osh.OSHFormat, offset, osh.OSHFormat)
	c.out.WriteLength(after-osh.OSHFormat, offset, osh.OSHFormat)
	return nil
}

func (c *Compiler) closeComponent(top frame) error {
	before := c.out.Len()
	c.templates = c.templates[:len(c.templates)-1]
	if err := c.out.WritePair([]byte{byte(osh.MarkerComponentBodyEnd)}, nil); err != nil {
		return err
	}
	contentLen := uint32(before - top.OutputBodyIndex)
	c.out.WriteLength(top.OutputBodyIndex-osh.OSHFormat, contentLen, osh.OSHFormat)
	return nil
}

// readTrimmedExpr finds templateEnd from c.cursor, strips escapes, trims
// whitespace, and advances c.cursor past the closing delimiter.
func (c *Compiler) readTrimmedExpr(start int) ([]byte, error) {
	end, escapes := c.findClose(c.opts.Templates.End, c.cursor)
	if end < 0 {
		return nil, c.newError(MsgUnexpectedEOF, "add a closing |] to this template", start)
	}
	raw := stripEscapes(c.source, c.cursor, end, escapes)
	c.cursor = end + len(c.opts.Templates.End)
	return trimSpace(raw), nil
}

func (c *Compiler) runHook(kind FilterKind, data []byte) ([]byte, error) {
	if c.opts.CompileHook == nil {
		return data, nil
	}
	c.log.WithFields(logrus.Fields{"kind": kind, "origin": c.origin}).Trace("compile hook")
	out, err := c.opts.CompileHook(kind, data, c.origin)
	if err != nil {
		return nil, c.wrapError(errors.Wrap(err, "compile hook"), MsgHookReturnedInvalidValue, "", c.cursor)
	}
	if out == nil {
		return data, nil
	}
	return out, nil
}

// runHookFilter passes an already-localized expression through the
// compile hook.
func (c *Compiler) runHookFilter(kind FilterKind, expr []byte) ([]byte, error) {
	return c.runHook(kind, expr)
}

// chunkAt builds an error-reporting chunk centered on index.
func (c *Compiler) chunkAt(index int) chunk.Chunk {
	return chunk.Extract(c.source, index, ChunkWindow)
}

func indexOf(haystack, needle []byte) int {
	return osh.NewConstBuffer(haystack).Find(needle)
}
