// Package testeval is a minimal reference bridge.Evaluator, used by this
// module's own tests to exercise the compiler and renderer end to end, and
// by the eryn CLI as its evaluator. It is not part of the renderer's
// contract: a real host provides its own Evaluator backed by whatever
// scripting engine it embeds.
package testeval

import (
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rmay/eryn/pkg/bridge"
	"github.com/rmay/eryn/pkg/compiler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Value wraps a plain Go value (nil, bool, float64, string, []byte,
// []interface{}, map[string]interface{}) as a bridge.Value.
type Value struct {
	v interface{}
}

// New wraps a native Go value (bool, float64, string, []interface{},
// map[string]interface{}, or nil) as a Value.
func New(v interface{}) *Value { return &Value{v: v} }

func (v *Value) Raw() interface{} { return v.v }

func (v *Value) IsNullish() bool { return v == nil || v.v == nil }
func (v *Value) IsString() bool  { _, ok := v.v.(string); return ok }
func (v *Value) IsBuffer() bool  { _, ok := v.v.([]byte); return ok }
func (v *Value) IsNumber() bool  { _, ok := v.v.(float64); return ok }
func (v *Value) IsBoolean() bool { _, ok := v.v.(bool); return ok }
func (v *Value) IsObject() bool  { _, ok := v.v.(map[string]interface{}); return ok }
func (v *Value) IsArray() bool   { _, ok := v.v.([]interface{}); return ok }

func (v *Value) String() string {
	switch x := v.v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (v *Value) Bytes() []byte {
	if b, ok := v.v.([]byte); ok {
		return b
	}
	return []byte(v.String())
}

func (v *Value) Bool() bool {
	b, _ := v.v.(bool)
	return b
}

func (v *Value) JSON() ([]byte, error) {
	out, err := json.Marshal(v.v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal value")
	}
	return out, nil
}

func (v *Value) asMap() (map[string]interface{}, error) {
	if v == nil || v.v == nil {
		return nil, errors.New("value is not an object")
	}
	m, ok := v.v.(map[string]interface{})
	if !ok {
		return nil, errors.New("value is not an object")
	}
	return m, nil
}

// Evaluator implements bridge.Evaluator over a small dotted-path +
// comparison expression grammar: bare/dotted identifier lookups against
// local, then context, then shared; numeric/string/boolean literals;
// `!`, `==`, `!=`, `>`, `<`, `>=`, `<=`.
type Evaluator struct{}

func asValue(v bridge.Value) *Value {
	tv, _ := v.(*Value)
	return tv
}

// unwrapLocal strips the compiler's localization wrapper from a bare
// identifier, reporting whether it was present. A loop body's compiled
// expression refers to its iterator as "__local__name__" precisely so the
// host can route it straight to the local scope instead of whatever else a
// bare "name" might mean elsewhere.
func unwrapLocal(name string) (string, bool) {
	if !strings.HasPrefix(name, compiler.LocalPrefix) || !strings.HasSuffix(name, compiler.LocalSuffix) {
		return name, false
	}
	inner := strings.TrimPrefix(name, compiler.LocalPrefix)
	inner = strings.TrimSuffix(inner, compiler.LocalSuffix)
	if inner == "" {
		return name, false
	}
	return inner, true
}

func lookup(scope bridge.Scope, path string) interface{} {
	parts := strings.Split(strings.TrimSpace(path), ".")
	roots := []bridge.Value{scope.Local, scope.Context, scope.Shared}
	if name, ok := unwrapLocal(parts[0]); ok {
		parts[0] = name
		roots = []bridge.Value{scope.Local}
	}
	for _, root := range roots {
		tv := asValue(root)
		if tv == nil {
			continue
		}
		m, ok := tv.v.(map[string]interface{})
		if !ok {
			continue
		}
		cur, found := m[parts[0]]
		if !found {
			continue
		}
		for _, p := range parts[1:] {
			mm, ok := cur.(map[string]interface{})
			if !ok {
				return nil
			}
			cur = mm[p]
		}
		return cur
	}
	return nil
}

func literal(tok string) (interface{}, bool) {
	tok = strings.TrimSpace(tok)
	switch tok {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null", "nil":
		return nil, true
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return n, true
	}
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') && tok[len(tok)-1] == tok[0] {
		return tok[1 : len(tok)-1], true
	}
	return nil, false
}

func resolve(scope bridge.Scope, tok string) interface{} {
	if v, ok := literal(tok); ok {
		return v
	}
	return lookup(scope, tok)
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	default:
		return true
	}
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func (Evaluator) EvalTemplate(expr []byte, scope bridge.Scope) (bridge.Value, error) {
	return New(resolve(scope, string(expr))), nil
}

// EvalVoidTemplate supports a single side-effecting form: "path = literal",
// assigning into local.
func (Evaluator) EvalVoidTemplate(expr []byte, scope bridge.Scope) error {
	s := string(expr)
	eq := strings.Index(s, "=")
	if eq < 0 {
		return nil
	}
	path := strings.TrimSpace(s[:eq])
	lit, _ := literal(s[eq+1:])
	m, err := asValue(scope.Local).asMap()
	if err != nil {
		return err
	}
	m[path] = lit
	return nil
}

func (Evaluator) EvalConditionalTemplate(expr []byte, scope bridge.Scope) (bool, error) {
	s := strings.TrimSpace(string(expr))
	negate := false
	if strings.HasPrefix(s, "!") {
		negate = true
		s = strings.TrimSpace(s[1:])
	}
	for _, op := range comparisonOps {
		idx := strings.Index(s, op)
		if idx < 0 {
			continue
		}
		left := resolve(scope, s[:idx])
		right := resolve(scope, s[idx+len(op):])
		result := compareValues(left, right, op)
		if negate {
			result = !result
		}
		return result, nil
	}
	result := truthy(resolve(scope, s))
	if negate {
		result = !result
	}
	return result, nil
}

func compareValues(left, right interface{}, op string) bool {
	if lf, lok := left.(float64); lok {
		if rf, rok := right.(float64); rok {
			switch op {
			case "==":
				return lf == rf
			case "!=":
				return lf != rf
			case ">":
				return lf > rf
			case "<":
				return lf < rf
			case ">=":
				return lf >= rf
			case "<=":
				return lf <= rf
			}
		}
	}
	ls, rs := toString(left), toString(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	}
	return false
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (Evaluator) InitLoopIterable(expr []byte, scope bridge.Scope) (bridge.Value, []string, bool, error) {
	v := resolve(scope, string(expr))
	switch x := v.(type) {
	case []interface{}:
		keys := make([]string, len(x))
		for i := range x {
			keys[i] = strconv.Itoa(i)
		}
		return New(x), keys, true, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return New(x), keys, false, nil
	default:
		return New(nil), nil, true, nil
	}
}

func (Evaluator) EvalIteratorArrayAssignment(local bridge.Value, iter string, iterable bridge.Value, index int, clone bool) error {
	arr, ok := asValue(iterable).v.([]interface{})
	if !ok {
		return errors.New("iterable is not an array")
	}
	m, err := asValue(local).asMap()
	if err != nil {
		return err
	}
	elem := arr[index]
	if clone {
		elem = deepCopy(elem)
	}
	m[iter] = elem
	return nil
}

func (Evaluator) EvalIteratorObjectAssignment(local bridge.Value, iter string, iterable bridge.Value, keys []string, index int, clone bool) error {
	obj, ok := asValue(iterable).v.(map[string]interface{})
	if !ok {
		return errors.New("iterable is not an object")
	}
	m, err := asValue(local).asMap()
	if err != nil {
		return err
	}
	k := keys[index]
	value := obj[k]
	if clone {
		value = deepCopy(value)
	}
	m[iter] = map[string]interface{}{"key": k, "value": value}
	return nil
}

func (Evaluator) Unassign(local bridge.Value, iter string) error {
	m, err := asValue(local).asMap()
	if err != nil {
		return err
	}
	delete(m, iter)
	return nil
}

func (Evaluator) CopyValue(v bridge.Value) (bridge.Value, error) {
	return New(deepCopy(asValue(v).v)), nil
}

func deepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return x
	}
}

func (e Evaluator) BackupContext(current bridge.Value, clone bool) (bridge.Backup, error) {
	return e.backup(current, clone)
}

func (e Evaluator) BackupLocal(current bridge.Value, clone bool) (bridge.Backup, error) {
	return e.backup(current, clone)
}

func (Evaluator) backup(current bridge.Value, clone bool) (bridge.Backup, error) {
	m, err := asValue(current).asMap()
	if err != nil {
		return nil, err
	}
	if clone {
		return New(deepCopy(m)), nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return New(cp), nil
}

func (Evaluator) InitContext(expr []byte, scope bridge.Scope) (bridge.Value, error) {
	if len(strings.TrimSpace(string(expr))) == 0 {
		return New(map[string]interface{}{}), nil
	}
	v := resolve(scope, string(expr))
	if m, ok := v.(map[string]interface{}); ok {
		return New(m), nil
	}
	return New(map[string]interface{}{}), nil
}

func (Evaluator) InitLocal() (bridge.Value, error) {
	return New(map[string]interface{}{}), nil
}

func (Evaluator) RestoreContext(b bridge.Backup) (bridge.Value, error) {
	return restore(b)
}

func (Evaluator) RestoreLocal(b bridge.Backup) (bridge.Value, error) {
	return restore(b)
}

func restore(b bridge.Backup) (bridge.Value, error) {
	v, ok := b.(bridge.Value)
	if !ok {
		return nil, errors.New("backup is not a value")
	}
	return v, nil
}
