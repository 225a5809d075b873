// Package bridge defines the contract between the renderer and the host:
// an Evaluator that runs expression snippets against opaque value handles,
// and a Value capability interface the renderer uses to stringify results
// without ever inspecting a host value directly.
package bridge

// Value is a capability-queryable handle to a host value. The renderer
// dispatches stringification (spec.md §4.4) purely through these queries;
// it never type-switches on a concrete host type.
type Value interface {
	IsNullish() bool
	IsString() bool
	IsBuffer() bool
	IsNumber() bool
	IsBoolean() bool
	IsObject() bool
	IsArray() bool

	String() string
	Bytes() []byte
	Bool() bool

	// JSON returns the JSON encoding of an object/array value.
	JSON() ([]byte, error)
}

// Scope bundles the three opaque value handles an expression is evaluated
// against: the caller's context, the per-render local scope (iterator
// bindings, component locals), and host-wide shared state.
type Scope struct {
	Context Value
	Local   Value
	Shared  Value
}

// Backup is an opaque snapshot of a Value taken before the renderer
// mutates Local/Context for a loop iteration or component invocation, to
// be restored afterward.
type Backup interface{}

// Evaluator is the host-provided oracle the renderer calls into for every
// expression snippet in the compiled bytecode. Within this module the only
// implementation is the reference one in internal/testeval; spec.md §1
// treats the evaluator as an external collaborator.
type Evaluator interface {
	// EvalTemplate evaluates expr (a `t` pair's value) and returns the
	// resulting value, to be stringified per spec.md §4.4.
	EvalTemplate(expr []byte, scope Scope) (Value, error)

	// EvalVoidTemplate evaluates expr (a `v` pair's value) for side
	// effects only; its result is discarded.
	EvalVoidTemplate(expr []byte, scope Scope) error

	// EvalConditionalTemplate evaluates expr and coerces the result to a
	// boolean, for `?`/`e` pairs.
	EvalConditionalTemplate(expr []byte, scope Scope) (bool, error)

	// InitLoopIterable evaluates the iterable side of a loop template and
	// returns the iterable handle, its ordered key list, and whether the
	// iterable is an array (every key, in order, equals its zero-based
	// index as a string).
	InitLoopIterable(expr []byte, scope Scope) (iterable Value, keys []string, isArray bool, err error)

	// EvalIteratorArrayAssignment binds local[iter] to iterable's element
	// at index. If clone is set, the element is deep-copied first.
	EvalIteratorArrayAssignment(local Value, iter string, iterable Value, index int, clone bool) error

	// EvalIteratorObjectAssignment binds local[iter] to {key, value} for
	// iterable's entry at keys[index]. If clone is set, value is
	// deep-copied first.
	EvalIteratorObjectAssignment(local Value, iter string, iterable Value, keys []string, index int, clone bool) error

	// Unassign clears local[iter] once a loop body has finished iterating.
	Unassign(local Value, iter string) error

	// CopyValue deep-copies v. The renderer does not call it; the
	// cloneIterators/cloneBackups settings reach the evaluator as the clone
	// argument of the assignment and backup methods.
	CopyValue(v Value) (Value, error)

	// BackupContext/BackupLocal snapshot the current context/local value
	// (optionally deep, per clone) before the renderer swaps in a fresh
	// one for a component invocation.
	BackupContext(current Value, clone bool) (Backup, error)
	BackupLocal(current Value, clone bool) (Backup, error)

	// InitContext evaluates expr (or returns an empty object if expr is
	// empty) to become a component's fresh context.
	InitContext(expr []byte, scope Scope) (Value, error)

	// InitLocal returns a fresh, empty local scope for a component
	// invocation.
	InitLocal() (Value, error)

	// RestoreContext/RestoreLocal restore a value previously captured by
	// BackupContext/BackupLocal.
	RestoreContext(b Backup) (Value, error)
	RestoreLocal(b Backup) (Value, error)
}
