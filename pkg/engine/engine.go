// Package engine wires the compiler, cache, and renderer into the single
// entry point a host embeds: compile templates (or whole directories of
// them) once, then render any of them repeatedly against a bridge.Scope.
package engine

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rmay/eryn/pkg/bridge"
	"github.com/rmay/eryn/pkg/compiler"
	"github.com/rmay/eryn/pkg/render"
)

// TemplateExt is the file extension CompileDir walks for. CompileFile and
// RenderFile use the path they are given and add no extension.
const TemplateExt = ".eryn"

// Options is the single flat configuration surface spec.md §6 describes,
// covering compiler delimiters, renderer clone/backup behavior, and the
// engine's own cache/directory-compile policy.
type Options struct {
	Templates            compiler.Delimiters
	IgnoreBlankPlaintext bool
	WorkingDir           string
	CompileHook          compiler.CompileHook

	ThrowOnEmptyContent bool
	CloneIterators      bool
	CloneBackups        bool
	CloneLocalInLoops   bool

	BypassCache            bool
	ThrowOnMissingEntry    bool
	ThrowOnCompileDirError bool
}

// NewOptions returns the spec.md §6 default Options.
func NewOptions() Options {
	return Options{
		Templates:            compiler.DefaultDelimiters(),
		IgnoreBlankPlaintext: false,
		WorkingDir:           ".",
	}
}

func (o Options) compilerOptions() compiler.Options {
	return compiler.Options{
		Templates:            o.Templates,
		IgnoreBlankPlaintext: o.IgnoreBlankPlaintext,
		WorkingDir:           o.WorkingDir,
		CompileHook:          o.CompileHook,
	}
}

func (o Options) renderOptions() render.Options {
	return render.Options{
		ThrowOnEmptyContent: o.ThrowOnEmptyContent,
		CloneIterators:      o.CloneIterators,
		CloneBackups:        o.CloneBackups,
		CloneLocalInLoops:   o.CloneLocalInLoops,
	}
}

// Engine bundles compile-time Options, a Cache of compiled bytecode, and a
// host-provided Evaluator, and exposes Compile/Render over both.
type Engine struct {
	Options Options
	Cache   *Cache
	Eval    bridge.Evaluator

	log      logrus.FieldLogger
	renderer *render.Renderer
}

// New constructs an Engine. Logger may be nil, in which case
// logrus.StandardLogger() is used.
func New(opts Options, eval bridge.Evaluator, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Engine{Options: opts, Cache: NewCache(), Eval: eval, log: logger}
	e.renderer = render.New(opts.renderOptions(), eval, e.load, logger)
	return e
}

// Compile compiles source (labelled origin) and stores the result in the
// cache under origin, overwriting any prior entry.
func (e *Engine) Compile(source []byte, origin string) ([]byte, error) {
	c := compiler.New(e.Options.compilerOptions(), e.log)
	bytecode, err := c.Compile(source, origin)
	if err != nil {
		return nil, err
	}
	e.Cache.Put(origin, bytecode)
	return bytecode, nil
}

// AbsPath resolves path against WorkingDir the same way the compiler
// resolves component references, so a file compiled via CompileFile/
// CompileDir is cached under the exact key a component reference to it
// will resolve to. Exported so a host (or the CLI) can predict the cache
// key a given path compiles to.
func (e *Engine) AbsPath(path string) (string, error) {
	base, err := filepath.Abs(e.Options.WorkingDir)
	if err != nil {
		return "", errors.Wrap(err, "resolve working directory")
	}
	return filepath.Join(base, path), nil
}

// CompileFile reads and compiles the template at path, caching it under
// its resolved absolute path. path is always joined onto WorkingDir; a
// leading separator does not make it absolute.
func (e *Engine) CompileFile(path string) ([]byte, error) {
	origin, err := e.AbsPath(path)
	if err != nil {
		return nil, err
	}
	source, err := os.ReadFile(origin)
	if err != nil {
		return nil, errors.Wrapf(err, "read template %s", origin)
	}
	return e.Compile(source, origin)
}

// CompileDir walks dir (joined onto WorkingDir, as in CompileFile) and compiles
// every file with TemplateExt. When ThrowOnCompileDirError is set, the
// first failure aborts and is returned; otherwise failures are logged at
// warn level and that file is skipped.
func (e *Engine) CompileDir(dir string) error {
	root, err := e.AbsPath(dir)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || filepath.Ext(path) != TemplateExt {
			return nil
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return e.handleDirError(path, errors.Wrapf(err, "read template %s", path))
		}
		if _, err := e.Compile(source, path); err != nil {
			return e.handleDirError(path, err)
		}
		return nil
	})
}

func (e *Engine) handleDirError(path string, err error) error {
	if e.Options.ThrowOnCompileDirError {
		return err
	}
	e.log.WithFields(logrus.Fields{"path": path, "error": err}).Warn("skipping template: compile failed")
	return nil
}

// load implements render.Loader: it is handed an absolute component path
// by the renderer and must return that component's compiled bytecode,
// compiling on demand from disk if ThrowOnMissingEntry is unset.
func (e *Engine) load(absPath string) ([]byte, error) {
	if !e.Options.BypassCache {
		if b, ok := e.Cache.Get(absPath); ok {
			return b, nil
		}
	}
	if e.Options.ThrowOnMissingEntry {
		return nil, &render.RenderingError{Origin: absPath, Message: render.MsgNoCacheEntry}
	}
	source, err := os.ReadFile(absPath)
	if err != nil {
		return nil, errors.Wrapf(err, "auto-compile %s", absPath)
	}
	return e.Compile(source, absPath)
}

// Render renders the bytecode cached (or auto-compiled, per
// ThrowOnMissingEntry) under origin against scope.
func (e *Engine) Render(origin string, scope bridge.Scope) ([]byte, error) {
	bytecode, err := e.load(origin)
	if err != nil {
		return nil, err
	}
	return e.renderer.Render(bytecode, origin, scope)
}

// RenderFile resolves path the same way CompileFile does and renders it.
func (e *Engine) RenderFile(path string, scope bridge.Scope) ([]byte, error) {
	origin, err := e.AbsPath(path)
	if err != nil {
		return nil, err
	}
	return e.Render(origin, scope)
}

// Dump writes previously compiled bytecode for origin verbatim to outPath,
// per spec.md §6's "CLI / persisted state" note. outPath is used as given;
// no .osh suffix is added.
func (e *Engine) Dump(origin, outPath string) error {
	bytecode, ok := e.Cache.Get(origin)
	if !ok {
		return &render.RenderingError{Origin: origin, Message: render.MsgNoCacheEntry}
	}
	return os.WriteFile(outPath, bytecode, 0o644)
}
