// Package render implements the OSH decode loop: a linear, stack-based
// interpreter that walks compiled bytecode, consults a host bridge.Evaluator
// for every expression, and produces an output byte stream. See spec.md §4.4.
package render

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rmay/eryn/pkg/bridge"
	"github.com/rmay/eryn/pkg/osh"
)

// Options are the render-time knobs from spec.md §6 that affect runtime
// behavior (as opposed to compiler-time delimiter configuration).
type Options struct {
	ThrowOnEmptyContent bool
	CloneIterators      bool
	CloneBackups        bool
	CloneLocalInLoops   bool
}

// Loader fetches the compiled OSH bytecode for a component, by its
// absolute path, for recursive rendering. The engine wires this to its
// cache.
type Loader func(absPath string) ([]byte, error)

// Renderer walks OSH bytecode. It holds no per-render mutable state itself;
// each call to Render constructs a fresh decode stack.
type Renderer struct {
	Options Options
	Eval    bridge.Evaluator
	Load    Loader
	Log     logrus.FieldLogger
}

// New returns a Renderer. Logger may be nil, in which case
// logrus.StandardLogger() is used.
func New(opts Options, eval bridge.Evaluator, load Loader, logger logrus.FieldLogger) *Renderer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Renderer{Options: opts, Eval: eval, Load: load, Log: logger}
}

type loopFrame struct {
	Iterable       bridge.Value
	Keys           []string
	IsArray        bool
	Iterator       string
	Index          int
	Step           int
	LocalBackup    bridge.Backup
	HasLocalBackup bool
}

func (f *loopFrame) atEnd(nextIndex int) bool {
	return nextIndex < 0 || nextIndex >= len(f.Keys)
}

type componentFrame struct {
	HasContent  bool
	StartIndex  int
	AbsPath     string
	ContextExpr []byte
}

type condFrame struct {
	LastTrue     bool
	TrueEndIndex int
}

// decoder is one level of the decode stack: either the top-level render
// call or a component's recursive re-entry. All levels share the same
// output buffer.
type decoder struct {
	r      *Renderer
	data   []byte
	cursor int
	origin string

	output  *osh.Buffer
	scope   bridge.Scope
	content []byte

	loops      []loopFrame
	components []componentFrame
	conds      []condFrame
}

// Render decodes data (OSH bytecode labelled origin) against scope and
// returns the rendered output bytes.
func (r *Renderer) Render(data []byte, origin string, scope bridge.Scope) ([]byte, error) {
	d := &decoder{r: r, data: data, origin: origin, output: osh.NewBuffer(len(data)), scope: scope}
	if err := d.run(); err != nil {
		return nil, err
	}
	return d.output.Bytes(), nil
}

func (d *decoder) renderError(message, hint, token string) *RenderingError {
	return &RenderingError{Origin: d.origin, Message: message, Hint: hint, Token: token}
}

func (d *decoder) wrapError(cause error, message, token string) *RenderingError {
	e := d.renderError(message, "", token)
	e.cause = errors.Wrap(cause, "evaluator")
	return e
}

func (d *decoder) run() error {
	for d.cursor < len(d.data) {
		pair, err := osh.ReadPair(d.data[d.cursor:])
		if err != nil {
			return d.renderError(MsgPanic, "bytecode ended mid-pair", "")
		}
		marker := pair.Name[0]
		d.cursor += pair.Consumed

		switch osh.Marker(marker) {
		case osh.MarkerPlaintext:
			d.output.Write(pair.Value)

		case osh.MarkerTemplate:
			if err := d.execTemplate(pair.Value); err != nil {
				return err
			}

		case osh.MarkerVoidTemplate:
			if err := d.r.Eval.EvalVoidTemplate(pair.Value, d.scope); err != nil {
				return d.wrapError(err, "void template evaluation failed", string(pair.Value))
			}

		case osh.MarkerConditionalStart:
			if err := d.execConditionalStart(pair.Value); err != nil {
				return err
			}

		case osh.MarkerElseConditional:
			if err := d.execElseConditional(pair.Value); err != nil {
				return err
			}

		case osh.MarkerElse:
			if err := d.execElse(); err != nil {
				return err
			}

		case osh.MarkerConditionalBodyEnd:
			if len(d.conds) == 0 {
				return d.renderError(MsgPanic, "conditional body end with empty stack", "")
			}
			d.conds = d.conds[:len(d.conds)-1]

		case osh.MarkerLoopForward, osh.MarkerLoopReverse:
			if err := d.execLoopStart(pair.Value, osh.Marker(marker) == osh.MarkerLoopReverse); err != nil {
				return err
			}

		case osh.MarkerLoopBodyEnd:
			if err := d.execLoopBodyEnd(); err != nil {
				return err
			}

		case osh.MarkerComponentStart:
			if err := d.execComponentStart(pair.Value); err != nil {
				return err
			}

		case osh.MarkerComponentBodyEnd:
			if err := d.execComponentBodyEnd(); err != nil {
				return err
			}

		default:
			return d.renderError(MsgPanic, "unrecognised marker in bytecode", string(marker))
		}
	}
	return nil
}

func (d *decoder) execTemplate(expr []byte) error {
	if string(expr) == osh.ContentSentinel {
		if len(d.content) == 0 {
			if d.r.Options.ThrowOnEmptyContent {
				return d.renderError(MsgNoContent, "this component was invoked without a body", "")
			}
			return nil
		}
		d.output.Write(d.content)
		return nil
	}
	v, err := d.r.Eval.EvalTemplate(expr, d.scope)
	if err != nil {
		return d.wrapError(err, "template evaluation failed", string(expr))
	}
	b, err := stringify(v)
	if err != nil {
		return d.renderError(err.Error(), "", string(expr))
	}
	d.output.Write(b)
	return nil
}

// stringify renders v per spec.md §4.4's per-kind table, dispatching
// purely through bridge.Value's capability queries.
func stringify(v bridge.Value) ([]byte, error) {
	if v == nil || v.IsNullish() {
		return nil, nil
	}
	switch {
	case v.IsString():
		return []byte(v.String()), nil
	case v.IsBuffer():
		return v.Bytes(), nil
	case v.IsNumber():
		return []byte(v.String()), nil
	case v.IsBoolean():
		if v.Bool() {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case v.IsObject(), v.IsArray():
		out, err := v.JSON()
		if err != nil {
			return nil, errors.Wrap(err, MsgUnsupportedReturnType)
		}
		return out, nil
	default:
		return nil, errors.New(MsgUnsupportedReturnType)
	}
}

// readOffset reads a 4-byte little-endian offset at the cursor and
// advances past it.
func (d *decoder) readOffset() uint32 {
	v := osh.Uint32LE(d.data, d.cursor)
	d.cursor += osh.OSHFormat
	return v
}

func (d *decoder) execConditionalStart(expr []byte) error {
	endOff := d.readOffset()
	trueEndOff := d.readOffset()
	bodyIndex := d.cursor
	ok, err := d.r.Eval.EvalConditionalTemplate(expr, d.scope)
	if err != nil {
		return d.wrapError(err, "conditional evaluation failed", string(expr))
	}
	if ok {
		d.conds = append(d.conds, condFrame{LastTrue: true, TrueEndIndex: bodyIndex + int(trueEndOff)})
		return nil
	}
	d.conds = append(d.conds, condFrame{LastTrue: false})
	d.cursor = bodyIndex + int(endOff)
	return nil
}

func (d *decoder) execElseConditional(expr []byte) error {
	endOff := d.readOffset()
	trueEndOff := d.readOffset()
	bodyIndex := d.cursor

	if len(d.conds) == 0 {
		return d.renderError(MsgPanic, "else-if with empty conditional stack", "")
	}
	top := d.conds[len(d.conds)-1]
	d.conds = d.conds[:len(d.conds)-1]

	if top.LastTrue {
		d.cursor = top.TrueEndIndex
		return nil
	}

	ok, err := d.r.Eval.EvalConditionalTemplate(expr, d.scope)
	if err != nil {
		return d.wrapError(err, "conditional evaluation failed", string(expr))
	}
	if ok {
		d.conds = append(d.conds, condFrame{LastTrue: true, TrueEndIndex: bodyIndex + int(trueEndOff)})
		return nil
	}
	d.conds = append(d.conds, condFrame{LastTrue: false})
	d.cursor = bodyIndex + int(endOff)
	return nil
}

func (d *decoder) execElse() error {
	if len(d.conds) == 0 {
		return d.renderError(MsgPanic, "else with empty conditional stack", "")
	}
	top := d.conds[len(d.conds)-1]
	if top.LastTrue {
		d.conds = d.conds[:len(d.conds)-1]
		d.cursor = top.TrueEndIndex
		return nil
	}
	// False: fall through into the else body; the matching C pops us.
	return nil
}

func (d *decoder) execLoopStart(packed []byte, reverse bool) error {
	skipOff := d.readOffset()
	bodyIndex := d.cursor

	inner, err := osh.ReadPair(packed)
	if err != nil {
		return d.renderError(MsgPanic, "malformed packed loop value", "")
	}
	iterator := string(inner.Name)
	iterable, keys, isArray, err := d.r.Eval.InitLoopIterable(inner.Value, d.scope)
	if err != nil {
		return d.wrapError(err, "loop iterable evaluation failed", string(inner.Value))
	}

	if len(keys) == 0 {
		d.cursor = bodyIndex + int(skipOff)
		return nil
	}

	frame := loopFrame{Iterable: iterable, Keys: keys, IsArray: isArray, Iterator: iterator}
	if reverse {
		frame.Step = -1
		frame.Index = len(keys) - 1
	} else {
		frame.Step = 1
		frame.Index = 0
	}

	if d.r.Options.CloneLocalInLoops {
		backup, err := d.r.Eval.BackupLocal(d.scope.Local, d.r.Options.CloneBackups)
		if err != nil {
			return d.wrapError(err, "local backup failed", "")
		}
		frame.LocalBackup = backup
		frame.HasLocalBackup = true
	}

	if err := d.assignIterator(&frame); err != nil {
		return err
	}

	d.loops = append(d.loops, frame)
	return nil
}

func (d *decoder) assignIterator(f *loopFrame) error {
	if f.IsArray {
		if err := d.r.Eval.EvalIteratorArrayAssignment(d.scope.Local, f.Iterator, f.Iterable, f.Index, d.r.Options.CloneIterators); err != nil {
			return d.wrapError(err, "loop iterator assignment failed", f.Iterator)
		}
		return nil
	}
	if err := d.r.Eval.EvalIteratorObjectAssignment(d.scope.Local, f.Iterator, f.Iterable, f.Keys, f.Index, d.r.Options.CloneIterators); err != nil {
		return d.wrapError(err, "loop iterator assignment failed", f.Iterator)
	}
	return nil
}

func (d *decoder) execLoopBodyEnd() error {
	backOff := d.readOffset()
	if len(d.loops) == 0 {
		return d.renderError(MsgPanic, "loop body end with empty loop stack", "")
	}
	top := &d.loops[len(d.loops)-1]
	next := top.Index + top.Step

	if top.atEnd(next) {
		if top.HasLocalBackup {
			restored, err := d.r.Eval.RestoreLocal(top.LocalBackup)
			if err != nil {
				return d.wrapError(err, "local restore failed", top.Iterator)
			}
			d.scope.Local = restored
		}
		if err := d.r.Eval.Unassign(d.scope.Local, top.Iterator); err != nil {
			return d.wrapError(err, "iterator unassign failed", top.Iterator)
		}
		d.loops = d.loops[:len(d.loops)-1]
		return nil
	}

	if d.r.Options.CloneLocalInLoops {
		restored, err := d.r.Eval.RestoreLocal(top.LocalBackup)
		if err != nil {
			return d.wrapError(err, "local restore failed", top.Iterator)
		}
		d.scope.Local = restored
		backup, err := d.r.Eval.BackupLocal(d.scope.Local, d.r.Options.CloneBackups)
		if err != nil {
			return d.wrapError(err, "local backup failed", top.Iterator)
		}
		top.LocalBackup = backup
	}

	top.Index = next
	if err := d.assignIterator(top); err != nil {
		return err
	}
	d.cursor -= int(backOff)
	return nil
}

func (d *decoder) execComponentStart(packed []byte) error {
	contentLen := d.readOffset()

	inner, err := osh.ReadPair(packed)
	if err != nil {
		return d.renderError(MsgPanic, "malformed packed component value", "")
	}
	frame := componentFrame{
		HasContent:  contentLen > 0,
		StartIndex:  d.output.Len(),
		AbsPath:     string(inner.Name),
		ContextExpr: append([]byte(nil), inner.Value...),
	}

	if !frame.HasContent {
		if err := d.invokeComponent(frame, nil); err != nil {
			return err
		}
	}
	d.components = append(d.components, frame)
	return nil
}

func (d *decoder) execComponentBodyEnd() error {
	if len(d.components) == 0 {
		return d.renderError(MsgPanic, "component body end with empty component stack", "")
	}
	top := d.components[len(d.components)-1]
	d.components = d.components[:len(d.components)-1]

	if !top.HasContent {
		return nil
	}

	content := append([]byte(nil), d.output.Bytes()[top.StartIndex:d.output.Len()]...)
	d.output.Truncate(top.StartIndex)
	return d.invokeComponent(top, content)
}

// invokeComponent backs up the caller's context/local, initializes fresh
// ones for the component, recursively decodes its bytecode into the same
// output buffer, and restores the caller's context/local.
func (d *decoder) invokeComponent(f componentFrame, content []byte) error {
	backupCtx, err := d.r.Eval.BackupContext(d.scope.Context, d.r.Options.CloneBackups)
	if err != nil {
		return d.wrapError(err, "context backup failed", f.AbsPath)
	}
	backupLocal, err := d.r.Eval.BackupLocal(d.scope.Local, d.r.Options.CloneBackups)
	if err != nil {
		return d.wrapError(err, "local backup failed", f.AbsPath)
	}

	ctx, err := d.r.Eval.InitContext(f.ContextExpr, d.scope)
	if err != nil {
		return d.wrapError(err, "component context evaluation failed", f.AbsPath)
	}
	local, err := d.r.Eval.InitLocal()
	if err != nil {
		return d.wrapError(err, "component local initialization failed", f.AbsPath)
	}

	body, err := d.r.Load(f.AbsPath)
	if err != nil {
		return d.wrapError(err, MsgNoCacheEntry, f.AbsPath)
	}

	child := &decoder{
		r:       d.r,
		data:    body,
		origin:  f.AbsPath,
		output:  d.output,
		scope:   bridge.Scope{Context: ctx, Local: local, Shared: d.scope.Shared},
		content: content,
	}
	if err := child.run(); err != nil {
		return err
	}

	restoredCtx, err := d.r.Eval.RestoreContext(backupCtx)
	if err != nil {
		return d.wrapError(err, "context restore failed", f.AbsPath)
	}
	restoredLocal, err := d.r.Eval.RestoreLocal(backupLocal)
	if err != nil {
		return d.wrapError(err, "local restore failed", f.AbsPath)
	}
	d.scope.Context = restoredCtx
	d.scope.Local = restoredLocal
	return nil
}
