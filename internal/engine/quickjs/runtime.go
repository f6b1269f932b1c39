//go:build !v8

// Package quickjs implements internal/engine.Engine over modernc.org/quickjs.
// This is Kestrel's default, always-available backend — it requires no
// cgo toolchain beyond what modernc.org/libc already transpiles. Grounded
// on cryguy-worker/internal/quickjs/runtime.go (EvalValue, RegisterFunc's
// double-return unwrapping, executePendingJobs microtask pump).
package quickjs

import (
	"fmt"

	"modernc.org/quickjs"

	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/errs"
)

// Runtime implements engine.Engine over a single QuickJS VM.
type Runtime struct {
	vm *quickjs.VM
}

var _ engine.Engine = (*Runtime)(nil)

// New creates a fresh QuickJS VM with an optional memory limit (bytes).
func New(memoryLimitBytes uintptr) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimitBytes > 0 {
		vm.SetMemoryLimit(memoryLimitBytes)
	}
	return &Runtime{vm: vm}, nil
}

func (r *Runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *Runtime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

func (r *Runtime) EvalInt(js string) (int, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", result)
	}
}

// RegisterFunc registers a Go callback as a global function. Uses the
// same raw-then-wrap pattern as cryguy-worker: the raw Go func, with its
// (value, error) result, is registered under a temporary name, and a
// small JS shim re-exposes it under the public name by forwarding each
// call unchanged; the shim itself does no unwrapping. A panic inside fn is
// recovered here and converted into an ErrPanic-tagged error rather than
// crashing the process, since fn runs synchronously on the VM's calling
// goroutine with no other supervisor above it.
func (r *Runtime) RegisterFunc(name string, fn engine.FunctionCallback) error {
	rawName := "__raw_" + name
	raw := func(args ...any) (v any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				v, err = nil, fmt.Errorf("%w: %s: %v", errs.ErrPanic, name, rec)
			}
		}()
		return fn(args)
	}
	if err := r.vm.RegisterFunc(rawName, raw, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			return raw.apply(this, arguments);
		};
		delete globalThis[%q];
	})()`, rawName, name, rawName)
	return r.Eval(wrapJS)
}

func (r *Runtime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

func (r *Runtime) RunMicrotasks() {
	executePendingJobs(r.vm)
}

// NewResolver creates a Promise via a small JS shim that captures its
// resolve/reject functions into Go-reachable globals, then assigns the
// Promise itself to globalName.
func (r *Runtime) NewResolver(globalName string) (engine.Resolver, error) {
	resolveFn := "__resolver_resolve_" + globalName
	rejectFn := "__resolver_reject_" + globalName

	js := fmt.Sprintf(`
		globalThis[%q] = new Promise(function(res, rej) {
			globalThis[%q] = res;
			globalThis[%q] = rej;
		});
	`, globalName, resolveFn, rejectFn)
	if err := r.Eval(js); err != nil {
		return nil, fmt.Errorf("creating promise %s: %w", globalName, err)
	}
	return &qjsResolver{rt: r, resolveFn: resolveFn, rejectFn: rejectFn}, nil
}

type qjsResolver struct {
	rt        *Runtime
	resolveFn string
	rejectFn  string
	consumed  bool
}

func (p *qjsResolver) Resolve(value any) error {
	return p.settle(p.resolveFn, value)
}

func (p *qjsResolver) Reject(value any) error {
	return p.settle(p.rejectFn, value)
}

func (p *qjsResolver) settle(fnName string, value any) error {
	if p.consumed {
		return fmt.Errorf("promise resolver already consumed")
	}
	p.consumed = true
	varName := "__settle_value"
	if err := p.rt.SetGlobal(varName, value); err != nil {
		return err
	}
	js := fmt.Sprintf(`%s(globalThis.%s); delete globalThis.%s; delete globalThis.%s; delete globalThis.%s;`,
		fnName, varName, varName, p.resolveFn, p.rejectFn)
	return p.rt.Eval(js)
}

func (r *Runtime) Close() {
	r.vm.Close()
}
