package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmay/eryn/pkg/bridge"
	"github.com/rmay/eryn/pkg/compiler"
)

// fakeValue is a minimal bridge.Value over Go native types, just enough to
// drive the decode loop end to end without a real scripting host.
type fakeValue struct {
	v interface{}
}

func val(v interface{}) *fakeValue { return &fakeValue{v: v} }

func (f *fakeValue) IsNullish() bool { return f == nil || f.v == nil }
func (f *fakeValue) IsString() bool  { _, ok := f.v.(string); return ok }
func (f *fakeValue) IsBuffer() bool  { return false }
func (f *fakeValue) IsNumber() bool  { _, ok := f.v.(float64); return ok }
func (f *fakeValue) IsBoolean() bool { _, ok := f.v.(bool); return ok }
func (f *fakeValue) IsObject() bool  { _, ok := f.v.(map[string]interface{}); return ok }
func (f *fakeValue) IsArray() bool   { _, ok := f.v.([]interface{}); return ok }

func (f *fakeValue) String() string {
	switch x := f.v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
func (f *fakeValue) Bytes() []byte { return []byte(f.String()) }
func (f *fakeValue) Bool() bool    { b, _ := f.v.(bool); return b }
func (f *fakeValue) JSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%v", f.v)), nil
}

func (f *fakeValue) asMap() map[string]interface{} {
	if f == nil {
		return nil
	}
	m, _ := f.v.(map[string]interface{})
	return m
}

// fakeEvaluator resolves dotted-path lookups against Local then Context,
// and understands a tiny comparison grammar for conditionals: "path",
// "!path", "path OP literal" with OP in == != > < >= <=.
type fakeEvaluator struct{}

// unwrapLocal strips the compiler's "__local__name__" localization
// wrapper off a bare identifier, since loop-body expressions referencing
// the iterator are compiled in that wrapped form (pkg/compiler/localize.go).
func unwrapLocal(name string) (string, bool) {
	const prefix, suffix = "__local__", "__"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return name, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	if inner == "" {
		return name, false
	}
	return inner, true
}

func lookupPath(scope bridge.Scope, path string) interface{} {
	parts := strings.Split(strings.TrimSpace(path), ".")
	var cur interface{}
	roots := []bridge.Value{scope.Local, scope.Context, scope.Shared}
	if name, ok := unwrapLocal(parts[0]); ok {
		parts[0] = name
		roots = []bridge.Value{scope.Local}
	}
	for _, root := range roots {
		fv, _ := root.(*fakeValue)
		if fv == nil {
			continue
		}
		m, ok := fv.v.(map[string]interface{})
		if !ok {
			continue
		}
		if v, found := m[parts[0]]; found {
			cur = v
			for _, p := range parts[1:] {
				mm, ok := cur.(map[string]interface{})
				if !ok {
					return nil
				}
				cur = mm[p]
			}
			return cur
		}
	}
	return nil
}

func parseLiteral(tok string) interface{} {
	tok = strings.TrimSpace(tok)
	if tok == "true" {
		return true
	}
	if tok == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return n
	}
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') && tok[len(tok)-1] == tok[0] {
		return tok[1 : len(tok)-1]
	}
	return nil
}

func (fakeEvaluator) EvalTemplate(expr []byte, scope bridge.Scope) (bridge.Value, error) {
	return val(lookupPath(scope, string(expr))), nil
}

func (fakeEvaluator) EvalVoidTemplate(expr []byte, scope bridge.Scope) error {
	// set:path=literal
	s := string(expr)
	if strings.HasPrefix(s, "set:") {
		rest := strings.TrimPrefix(s, "set:")
		eq := strings.Index(rest, "=")
		if eq < 0 {
			return nil
		}
		path, lit := rest[:eq], rest[eq+1:]
		m := scope.Local.(*fakeValue).asMap()
		m[path] = parseLiteral(lit)
	}
	return nil
}

var comparisons = []string{"==", "!=", ">=", "<=", ">", "<"}

func (fakeEvaluator) EvalConditionalTemplate(expr []byte, scope bridge.Scope) (bool, error) {
	s := strings.TrimSpace(string(expr))
	negate := false
	if strings.HasPrefix(s, "!") {
		negate = true
		s = strings.TrimSpace(s[1:])
	}
	for _, op := range comparisons {
		if idx := strings.Index(s, op); idx >= 0 {
			left := lookupPath(scope, s[:idx])
			right := parseLiteral(s[idx+len(op):])
			result := compare(left, right, op)
			if negate {
				result = !result
			}
			return result, nil
		}
	}
	v := lookupPath(scope, s)
	truthy := truthy(v)
	if negate {
		truthy = !truthy
	}
	return truthy, nil
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
	default:
		return true
	}
}

func compare(left, right interface{}, op string) bool {
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if lok && rok {
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
	ls, rs := fmt.Sprint(left), fmt.Sprint(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	}
	return false
}

func (fakeEvaluator) InitLoopIterable(expr []byte, scope bridge.Scope) (bridge.Value, []string, bool, error) {
	v := lookupPath(scope, string(expr))
	switch x := v.(type) {
	case []interface{}:
		keys := make([]string, len(x))
		for i := range x {
			keys[i] = strconv.Itoa(i)
		}
		return val(x), keys, true, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return val(x), keys, false, nil
	default:
		return val(nil), nil, true, nil
	}
}

func (fakeEvaluator) EvalIteratorArrayAssignment(local bridge.Value, iter string, iterable bridge.Value, index int, clone bool) error {
	arr := iterable.(*fakeValue).v.([]interface{})
	local.(*fakeValue).asMap()[iter] = arr[index]
	return nil
}

func (fakeEvaluator) EvalIteratorObjectAssignment(local bridge.Value, iter string, iterable bridge.Value, keys []string, index int, clone bool) error {
	m := iterable.(*fakeValue).v.(map[string]interface{})
	k := keys[index]
	local.(*fakeValue).asMap()[iter] = map[string]interface{}{"key": k, "value": m[k]}
	return nil
}

func (fakeEvaluator) Unassign(local bridge.Value, iter string) error {
	delete(local.(*fakeValue).asMap(), iter)
	return nil
}

func (fakeEvaluator) CopyValue(v bridge.Value) (bridge.Value, error) {
	return v, nil
}

func (fakeEvaluator) BackupContext(current bridge.Value, clone bool) (bridge.Backup, error) {
	return current, nil
}
func (fakeEvaluator) BackupLocal(current bridge.Value, clone bool) (bridge.Backup, error) {
	src := current.(*fakeValue).asMap()
	cp := make(map[string]interface{}, len(src))
	for k, v := range src {
		cp[k] = v
	}
	return val(cp), nil
}

func (fakeEvaluator) InitContext(expr []byte, scope bridge.Scope) (bridge.Value, error) {
	if len(expr) == 0 {
		return val(map[string]interface{}{}), nil
	}
	v := lookupPath(scope, string(expr))
	if m, ok := v.(map[string]interface{}); ok {
		return val(m), nil
	}
	return val(map[string]interface{}{}), nil
}

func (fakeEvaluator) InitLocal() (bridge.Value, error) {
	return val(map[string]interface{}{}), nil
}

func (fakeEvaluator) RestoreContext(b bridge.Backup) (bridge.Value, error) {
	return b.(bridge.Value), nil
}
func (fakeEvaluator) RestoreLocal(b bridge.Backup) (bridge.Value, error) {
	return b.(bridge.Value), nil
}

func newScope(ctx map[string]interface{}) bridge.Scope {
	return bridge.Scope{
		Context: val(ctx),
		Local:   val(map[string]interface{}{}),
		Shared:  val(map[string]interface{}{}),
	}
}

// workDir is a fixed, absolute stand-in working directory so resolved
// component paths are deterministic regardless of the test process's cwd.
const workDir = "/workdir"

func compileSrc(t *testing.T, src string) []byte {
	t.Helper()
	opts := compiler.NewOptions()
	opts.WorkingDir = workDir
	c := compiler.New(opts, nil)
	out, err := c.Compile([]byte(src), "test.eryn")
	require.NoError(t, err)
	return out
}

func newRenderer() *Renderer {
	return New(Options{}, fakeEvaluator{}, nil, nil)
}

func TestRenderPlaintextOnly(t *testing.T) {
	out, err := newRenderer().Render(compileSrc(t, "hello world"), "t", newScope(nil))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
}

func TestRenderTemplateLookup(t *testing.T) {
	bc := compileSrc(t, "Hello [|name|]!")
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"name": "Ada"}))
	require.NoError(t, err)
	require.Equal(t, "Hello Ada!", string(out))
}

func TestRenderConditionalTrue(t *testing.T) {
	bc := compileSrc(t, "[|? age > 17|]adult[|end|]")
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"age": 20.0}))
	require.NoError(t, err)
	require.Equal(t, "adult", string(out))
}

func TestRenderConditionalFalse(t *testing.T) {
	bc := compileSrc(t, "[|? age > 17|]adult[|end|]")
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"age": 10.0}))
	require.NoError(t, err)
	require.Equal(t, "", string(out))
}

func TestRenderIfElse(t *testing.T) {
	bc := compileSrc(t, "[|? ok == true|]yes[|:|]no[|end|]")
	outTrue, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"ok": true}))
	require.NoError(t, err)
	require.Equal(t, "yes", string(outTrue))

	outFalse, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"ok": false}))
	require.NoError(t, err)
	require.Equal(t, "no", string(outFalse))
}

func TestRenderIfElseIfElse(t *testing.T) {
	bc := compileSrc(t, "[|? n == 1|]one[|:? n == 2|]two[|:|]many[|end|]")
	for n, want := range map[float64]string{1: "one", 2: "two", 3: "many"} {
		out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"n": n}))
		require.NoError(t, err)
		require.Equal(t, want, string(out), "n=%v", n)
	}
}

func TestRenderLoopForwardOverArray(t *testing.T) {
	bc := compileSrc(t, "[|@ item : items|][|item|],[|end|]")
	items := []interface{}{"a", "b", "c"}
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"items": items}))
	require.NoError(t, err)
	require.Equal(t, "a,b,c,", string(out))
}

func TestRenderLoopOverEmptyArraySkipsBody(t *testing.T) {
	bc := compileSrc(t, "before[|@ item : items|][|item|][|end|]after")
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"items": []interface{}{}}))
	require.NoError(t, err)
	require.Equal(t, "beforeafter", string(out))
}

func TestRenderLoopReverseOverArray(t *testing.T) {
	bc := compileSrc(t, "[|@ item : items~|][|item|],[|end|]")
	items := []interface{}{"a", "b", "c"}
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"items": items}))
	require.NoError(t, err)
	require.Equal(t, "c,b,a,", string(out))
}

func TestRenderNestedLoops(t *testing.T) {
	bc := compileSrc(t, "[|@ row : rows|][|@ col : row|][|col|][|end|];[|end|]")
	rows := []interface{}{
		[]interface{}{"1", "2"},
		[]interface{}{"3"},
	}
	out, err := newRenderer().Render(bc, "t", newScope(map[string]interface{}{"rows": rows}))
	require.NoError(t, err)
	require.Equal(t, "12;3;", string(out))
}

func TestRenderComponentWithContext(t *testing.T) {
	card, err := New(Options{}, fakeEvaluator{}, loaderFor(map[string]string{
		"/card.eryn": "<[|title|]>",
	}), nil).Render(compileSrc(t, "[|% /card.eryn : meta|][|end|]"), "t", newScope(map[string]interface{}{
		"meta": map[string]interface{}{"title": "Hi"},
	}))
	require.NoError(t, err)
	require.Equal(t, "<Hi>", string(card))
}

func TestRenderComponentWithBody(t *testing.T) {
	r := New(Options{}, fakeEvaluator{}, loaderFor(map[string]string{
		"/wrap.eryn": "[<[|content|]>]",
	}), nil)
	out, err := r.Render(compileSrc(t, "[|% /wrap.eryn|]inner[|end|]"), "t", newScope(nil))
	require.NoError(t, err)
	require.Equal(t, "[<inner>]", string(out))
}

func TestRenderSelfClosingComponentWithoutContent(t *testing.T) {
	r := New(Options{ThrowOnEmptyContent: false}, fakeEvaluator{}, loaderFor(map[string]string{
		"/empty.eryn": "[|content|]",
	}), nil)
	out, err := r.Render(compileSrc(t, "[|% /empty.eryn /|]"), "t", newScope(nil))
	require.NoError(t, err)
	require.Equal(t, "", string(out))
}

func TestRenderMalformedBytecodePanics(t *testing.T) {
	_, err := newRenderer().Render([]byte{0xFF, 0x01}, "t", newScope(nil))
	require.Error(t, err)
	var re *RenderingError
	require.ErrorAs(t, err, &re)
	require.Equal(t, MsgPanic, re.Message)
}

// loaderFor compiles each component source under workDir and returns a
// Loader keyed by the same absolute paths the compiler resolves component
// references to.
func loaderFor(files map[string]string) Loader {
	opts := compiler.NewOptions()
	opts.WorkingDir = workDir
	compiled := map[string][]byte{}
	for path, src := range files {
		c := compiler.New(opts, nil)
		out, err := c.Compile([]byte(src), path)
		if err != nil {
			panic(err)
		}
		compiled[workDir+path] = out
	}
	return func(absPath string) ([]byte, error) {
		b, ok := compiled[absPath]
		if !ok {
			return nil, fmt.Errorf("no such component: %s", absPath)
		}
		return b, nil
	}
}
