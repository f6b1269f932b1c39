// Package engine abstracts the script engine (V8 or QuickJS) behind a
// common interface used by the runtime orchestration layer. Generalized
// from cryguy-worker's internal/core.JSRuntime, extended with the
// promise-resolver operation the Promise Registry requires.
//
// Module loading is deliberately NOT part of this interface: it is
// implemented once, engine-agnostically, in internal/modloader on top of
// Eval/RegisterFunc/SetGlobal — see that package's doc comment.
package engine

// Resolver is a live script-side Promise resolver, handed out by
// NewResolver and consumed exactly once by Resolve or Reject.
type Resolver interface {
	Resolve(value any) error
	Reject(value any) error
}

// FunctionCallback is invoked synchronously when script calls a
// Go-registered global function. args are already-converted native
// values (see internal/bridge for conversion policy); the return value
// and error follow the RegisterFunc contract: (T, nil) resolves to a
// script value, (zero, err) throws a script exception carrying the error
// message.
type FunctionCallback func(args []any) (any, error)

// Engine is the common script-engine surface. Exactly one goroutine (the
// main thread) is permitted to call into an Engine at a time.
type Engine interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString/EvalBool/EvalInt run js and coerce the result.
	EvalString(js string) (string, error)
	EvalBool(js string) (bool, error)
	EvalInt(js string) (int, error)

	// RegisterFunc installs fn as globalName, reachable from script.
	RegisterFunc(globalName string, fn FunctionCallback) error

	// SetGlobal assigns a native value (converted via the Value Bridge
	// policy) to a global property.
	SetGlobal(name string, value any) error

	// RunMicrotasks drains the engine's microtask queue to a fixed point.
	RunMicrotasks()

	// NewResolver creates a pending Promise, assigns it to globalName,
	// and returns a Resolver bound to it.
	NewResolver(globalName string) (Resolver, error)

	// Close releases all engine resources. Must be called exactly once.
	Close()
}

// Name identifies which backend an Engine instance was built from, for
// diagnostics (reported in CLI output and panics).
type Name string

const (
	NameV8      Name = "v8"
	NameQuickJS Name = "quickjs"
)
