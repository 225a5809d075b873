package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmay/eryn/internal/testeval"
	"github.com/rmay/eryn/pkg/bridge"
	"github.com/rmay/eryn/pkg/engine"
)

func scope() bridge.Scope {
	return bridge.Scope{
		Context: testeval.New(map[string]interface{}{"name": "Ada"}),
		Local:   testeval.New(map[string]interface{}{}),
		Shared:  testeval.New(map[string]interface{}{}),
	}
}

func TestEngineCompileThenRenderFromCache(t *testing.T) {
	e := engine.New(engine.NewOptions(), testeval.Evaluator{}, nil)
	_, err := e.Compile([]byte("Hello [|name|]!"), "greeting")
	require.NoError(t, err)
	require.Equal(t, 1, e.Cache.Len())

	out, err := e.Render("greeting", scope())
	require.NoError(t, err)
	require.Equal(t, "Hello Ada!", string(out))
}

func TestEngineRenderMissingEntryWithThrowOnMissingEntry(t *testing.T) {
	opts := engine.NewOptions()
	opts.ThrowOnMissingEntry = true
	e := engine.New(opts, testeval.Evaluator{}, nil)

	_, err := e.Render("/nope.eryn", scope())
	require.Error(t, err)
}

func TestEngineRenderAutoCompilesFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.eryn"), []byte("Hi [|name|]"), 0o644))

	opts := engine.NewOptions()
	opts.WorkingDir = dir
	e := engine.New(opts, testeval.Evaluator{}, nil)

	out, err := e.RenderFile("/page.eryn", scope())
	require.NoError(t, err)
	require.Equal(t, "Hi Ada", string(out))
	require.Equal(t, 1, e.Cache.Len())
}

func TestEngineCompileDirSkipsBadFilesByDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.eryn"), []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.eryn"), []byte("[|? unterminated"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not a template"), 0o644))

	opts := engine.NewOptions()
	opts.WorkingDir = dir
	e := engine.New(opts, testeval.Evaluator{}, nil)

	err := e.CompileDir(".")
	require.NoError(t, err)
	require.Equal(t, 1, e.Cache.Len())
}

func TestEngineCompileDirAbortsWhenThrowOnCompileDirError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.eryn"), []byte("[|? unterminated"), 0o644))

	opts := engine.NewOptions()
	opts.WorkingDir = dir
	opts.ThrowOnCompileDirError = true
	e := engine.New(opts, testeval.Evaluator{}, nil)

	err := e.CompileDir(".")
	require.Error(t, err)
}

func TestEngineDumpWritesCompiledBytecode(t *testing.T) {
	dir := t.TempDir()
	e := engine.New(engine.NewOptions(), testeval.Evaluator{}, nil)
	bytecode, err := e.Compile([]byte("hello"), "greeting")
	require.NoError(t, err)

	outPath := filepath.Join(dir, "greeting.osh")
	require.NoError(t, e.Dump("greeting", outPath))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, bytecode, got)
}

func TestEngineBypassCacheRecompilesFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.eryn")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	opts := engine.NewOptions()
	opts.WorkingDir = dir
	opts.BypassCache = true
	e := engine.New(opts, testeval.Evaluator{}, nil)

	out, err := e.RenderFile("/page.eryn", scope())
	require.NoError(t, err)
	require.Equal(t, "v1", string(out))

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	out, err = e.RenderFile("/page.eryn", scope())
	require.NoError(t, err)
	require.Equal(t, "v2", string(out))
}
