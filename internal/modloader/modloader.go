// Package modloader implements the Module Loader. It is deliberately
// engine-agnostic: rather than depend on either backend's
// native ES-module API, it transforms each module to CommonJS with
// evanw/esbuild (the same dependency cryguy-worker's bundle.go already
// uses, generalized here from "bundle one worker entrypoint" to
// "transform one module file at a time behind a synchronous require()
// bridge") and drives resolution/instantiation itself through
// engine.Engine's plain Eval/RegisterFunc/SetGlobal surface.
package modloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/errs"
	"github.com/kestrel-run/kestrel/internal/modcache"
)

// Info is the Module Info record {dir}, keyed by script id.
type Info struct {
	Dir  string
	Path string
}

// Loader resolves import specifiers against a per-module directory table
// and registers module metadata.
type Loader struct {
	eng   engine.Engine
	cache *modcache.Cache // may be nil: module compilation cache is optional

	mu      sync.Mutex
	nextID  int
	modules map[int]Info
	exports map[int]any // value handed back to require() (the module id), keyed by script id, for re-import dedup
	byPath  map[string]int
}

// New wires a Loader to eng and installs its require() bridge as a global
// function. cache may be nil (the module cache is optional;
// absence just means every module recompiles every run).
func New(eng engine.Engine, cache *modcache.Cache) (*Loader, error) {
	l := &Loader{
		eng:     eng,
		cache:   cache,
		modules: make(map[int]Info),
		exports: make(map[int]any),
		byPath:  make(map[string]int),
	}
	if err := eng.RegisterFunc("__kestrel_require", l.requireCallback); err != nil {
		return nil, fmt.Errorf("modloader: installing require bridge: %w", err)
	}
	return l, nil
}

// requireCallback is the native side of the synchronous require() bridge.
// args[0] is the referrer script id (as a number), args[1] the specifier.
func (l *Loader) requireCallback(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: require expects (referrerID, specifier)", errs.ErrCantConvert)
	}
	referrerID, err := toInt(args[0])
	if err != nil {
		return nil, err
	}
	specifier, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: require specifier must be a string", errs.ErrCantConvert)
	}

	path, err := l.resolve(referrerID, specifier)
	if err != nil {
		return nil, err
	}
	return l.loadModule(path, false)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: expected number", errs.ErrCantConvert)
}

// resolve implements the resolver callback semantics: absolute
// specifiers are used directly; relative specifiers are joined to the
// referrer's registered directory.
func (l *Loader) resolve(referrerID int, specifier string) (string, error) {
	if filepath.IsAbs(specifier) {
		return filepath.Clean(specifier), nil
	}
	l.mu.Lock()
	info, ok := l.modules[referrerID]
	l.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown referrer script id %d", errs.ErrCompileError, referrerID)
	}
	joined := filepath.Join(info.Dir, specifier)
	return ensureExtension(joined)
}

// ensureExtension tries the path as-is, then with a .js suffix, since
// specifiers commonly omit the extension ("./util" -> "./util.js").
func ensureExtension(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if _, err := os.Stat(path + ".js"); err == nil {
		return path + ".js", nil
	}
	return "", fmt.Errorf("%w: module not found: %s", errs.ErrCompileError, path)
}

// Load is the entry point for the initial script load. It compiles the
// file as a module, registers {script_id -> dir}, and evaluates it at
// the top level for its side effects (window creation, handler
// registration); the main script's own module.exports, if any, is never
// consumed by the runtime.
func (l *Loader) Load(path string) error {
	_, err := l.loadModule(path, true)
	return err
}

// loadModule reads, transforms, and evaluates one module file, caching
// its module id by absolute path so repeated requires of the same file
// return the same id (and so the same exports object script-side)
// instead of re-executing it. isMain is true only
// for the entry-point call from Load: its failures are additionally
// tagged ErrMainScriptError (on top of the more specific ErrParseError/
// ErrCompileError each branch already produces) via wrapLoadErr, since a
// dev-mode caller needs to distinguish "the entry script itself is
// broken" from an ordinary require() failure deeper in the module graph.
func (l *Loader) loadModule(path string, isMain bool) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, l.wrapLoadErr(isMain, fmt.Errorf("%w: %v", errs.ErrCompileError, err))
	}

	l.mu.Lock()
	if id, ok := l.byPath[abs]; ok {
		exp := l.exports[id]
		l.mu.Unlock()
		return exp, nil
	}
	l.mu.Unlock()

	source, err := os.ReadFile(abs)
	if err != nil {
		return nil, l.wrapLoadErr(isMain, fmt.Errorf("%w: reading %s: %v", errs.ErrCompileError, abs, err))
	}

	transformed, fromCache, err := l.transform(abs, source)
	if err != nil {
		return nil, l.wrapLoadErr(isMain, err)
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	dir := filepath.Dir(abs)
	l.modules[id] = Info{Dir: dir, Path: abs}
	l.byPath[abs] = id
	l.mu.Unlock()

	exports, err := l.instantiate(id, abs, transformed)
	if err != nil {
		// A compile/read failure throws a script-engine exception;
		// instantiation/evaluation failures produce a captured stack
		// trace string returned to the caller instead —
		// callers (our own require bridge, and Load) treat both the
		// same way here since engine.Eval already surfaces the
		// engine's own captured trace in err.Error().
		return nil, l.wrapLoadErr(isMain, err)
	}

	l.mu.Lock()
	l.exports[id] = exports
	l.mu.Unlock()

	if l.cache != nil && !fromCache {
		_ = l.cache.Put(abs, source, transformed)
	}
	return exports, nil
}

// wrapLoadErr additionally tags err as ErrMainScriptError when the
// failure occurred loading the entry script, leaving its more specific
// classification (ErrParseError/ErrCompileError) reachable through the
// same err via errors.Is, since Go 1.20 lets %w wrap more than one error.
func (l *Loader) wrapLoadErr(isMain bool, err error) error {
	if !isMain || err == nil {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrMainScriptError, err)
}

// transform converts ES-module source to CommonJS via esbuild, consulting
// the module cache first when present (Get already checks the source
// mtime itself, so a cache hit never serves a stale compile).
func (l *Loader) transform(abs string, source []byte) (code string, fromCache bool, err error) {
	if l.cache != nil {
		if cached, ok, cerr := l.cache.Get(abs, source); cerr == nil && ok {
			return cached, true, nil
		}
	}

	result := esbuild.Transform(string(source), esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Format:     esbuild.FormatCommonJS,
		Target:     esbuild.ES2022,
		Sourcefile: abs,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", false, fmt.Errorf("%w: transforming %s: %s", errs.ErrParseError, abs, strings.Join(msgs, "; "))
	}
	return string(result.Code), false, nil
}

// instantiate wraps the CommonJS-transformed body in a function scope
// providing module/exports/require, evaluates it, and returns the module
// id; the exports object itself stays script-side in
// globalThis.__kestrel_modules[id].exports.
func (l *Loader) instantiate(id int, abs string, code string) (any, error) {
	// require() is a thin JS shim around the native __kestrel_require
	// bridge: the bridge call only has to hand back a module id (a
	// plain number, which crosses the engine.Engine any-boundary
	// unchanged), and the shim itself reads the real exports object
	// back out of globalThis — so the native side never has to marshal
	// an arbitrary live script object through FunctionCallback's return
	// value.
	wrapper := fmt.Sprintf(`(function(module, exports, require) {
%s
})(globalThis.__kestrel_modules[%d], globalThis.__kestrel_modules[%d].exports, function(specifier) {
  var __mid = __kestrel_require(%d, specifier);
  return globalThis.__kestrel_modules[__mid].exports;
});`, code, id, id, id)

	init := fmt.Sprintf(`globalThis.__kestrel_modules = globalThis.__kestrel_modules || {};
globalThis.__kestrel_modules[%d] = { exports: {} };`, id)
	if err := l.eng.Eval(init); err != nil {
		return nil, err
	}
	if err := l.eng.Eval(wrapper); err != nil {
		return nil, err
	}
	return id, nil
}
