//go:build v8

// Package v8 implements internal/engine.Engine over github.com/tommie/v8go,
// the V8-class script engine backend. Built behind the v8 build tag,
// mirroring cryguy-worker's own backend_v8.go / internal/v8engine split
// (v8 is opt-in; modernc.org/quickjs is Kestrel's always-available
// default, see internal/engine/quickjs).
package v8

import (
	"fmt"

	v8 "github.com/tommie/v8go"

	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/errs"
)

// Runtime implements engine.Engine over a single V8 isolate and context.
type Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ engine.Engine = (*Runtime)(nil)

// New creates a fresh isolate and context. heapLimitBytes, if non-zero,
// bounds the isolate's heap the way cryguy-worker/internal/v8engine/pool.go
// sizes its per-worker isolates via WithResourceConstraints.
func New(heapLimitBytes uint64) (*Runtime, error) {
	var iso *v8.Isolate
	if heapLimitBytes > 0 {
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapLimitBytes/2, heapLimitBytes))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	return &Runtime{iso: iso, ctx: ctx}, nil
}

func (r *Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

func (r *Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil {
		return false, err
	}
	if val == nil {
		return false, nil
	}
	return val.Boolean(), nil
}

func (r *Runtime) EvalInt(js string) (int, error) {
	val, err := r.ctx.RunScript(js, "eval_int.js")
	if err != nil {
		return 0, err
	}
	if val == nil {
		return 0, nil
	}
	return int(val.Integer()), nil
}

// RegisterFunc installs fn as a V8 FunctionTemplate. Arguments are
// converted to native `any` values by jsValueToAny before fn is called;
// this package only does the scalar JS<->Go plumbing V8 itself needs. A
// panic inside fn is recovered and surfaced as a thrown exception tagged
// ErrPanic instead of crashing the process, since V8 calls this callback
// directly on the goroutine that invoked Eval/RunScript with no other
// recover above it.
func (r *Runtime) RegisterFunc(name string, fn engine.FunctionCallback) error {
	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) (ret *v8.Value) {
		defer func() {
			if rec := recover(); rec != nil {
				msg, _ := v8.NewValue(r.iso, fmt.Sprintf("%s: %s: %v", name, errs.ErrPanic, rec))
				r.iso.ThrowException(msg)
				ret = nil
			}
		}()

		rawArgs := info.Args()
		args := make([]any, len(rawArgs))
		for i, a := range rawArgs {
			args[i] = jsValueToAny(a)
		}

		result, err := fn(args)
		if err != nil {
			msg, _ := v8.NewValue(r.iso, fmt.Sprintf("%s: %s", name, err.Error()))
			r.iso.ThrowException(msg)
			return nil
		}
		return anyToJSValue(r.iso, result)
	})

	fnObj := tmpl.GetFunction(r.ctx)
	if err := r.ctx.Global().Set(name, fnObj); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) SetGlobal(name string, value any) error {
	jsVal := anyToJSValue(r.iso, value)
	return r.ctx.Global().Set(name, jsVal)
}

func (r *Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// NewResolver wraps v8go's native PromiseResolver, the idiomatic V8 way to
// hand a pending Promise to script while keeping the settle functions on
// the Go side — no JS-level shim is needed here, unlike the QuickJS backend.
func (r *Runtime) NewResolver(globalName string) (engine.Resolver, error) {
	resolver, err := v8.NewPromiseResolver(r.ctx)
	if err != nil {
		return nil, fmt.Errorf("creating promise resolver: %w", err)
	}
	if err := r.ctx.Global().Set(globalName, resolver.GetPromise()); err != nil {
		return nil, fmt.Errorf("assigning promise to %s: %w", globalName, err)
	}
	return &v8Resolver{rt: r, resolver: resolver}, nil
}

type v8Resolver struct {
	rt       *Runtime
	resolver *v8.PromiseResolver
	consumed bool
}

func (p *v8Resolver) Resolve(value any) error {
	if p.consumed {
		return fmt.Errorf("promise resolver already consumed")
	}
	p.consumed = true
	return p.resolver.Resolve(anyToJSValue(p.rt.iso, value))
}

func (p *v8Resolver) Reject(value any) error {
	if p.consumed {
		return fmt.Errorf("promise resolver already consumed")
	}
	p.consumed = true
	return p.resolver.Reject(anyToJSValue(p.rt.iso, value))
}

func (r *Runtime) Close() {
	r.iso.Dispose()
}

// jsValueToAny converts a *v8.Value to a native any using the same
// scalar-kind dispatch as cryguy-worker/internal/v8engine/runtime.go's
// jsToGoArg, generalized to infer the Go kind from the JS value itself
// rather than from a reflect.Type target (RegisterFunc here has no
// compile-time Go signature to reflect on).
func jsValueToAny(val *v8.Value) any {
	switch {
	case val.IsString():
		return val.String()
	case val.IsBoolean():
		return val.Boolean()
	case val.IsInt32(), val.IsUint32():
		return val.Integer()
	case val.IsNumber():
		return val.Number()
	case val.IsNullOrUndefined():
		return nil
	default:
		// Opaque values (objects, arrays, handles) pass through unchanged;
		// internal/bridge decides what to do with *v8.Value downstream.
		return val
	}
}

// anyToJSValue mirrors cryguy-worker/internal/v8engine/runtime.go's
// goAnyToJSValue, generalized over the Value Bridge's native shape set.
func anyToJSValue(iso *v8.Isolate, value any) *v8.Value {
	if value == nil {
		return v8.Undefined(iso)
	}
	switch v := value.(type) {
	case string:
		val, _ := v8.NewValue(iso, v)
		return val
	case bool:
		val, _ := v8.NewValue(iso, v)
		return val
	case int:
		val, _ := v8.NewValue(iso, int32(v))
		return val
	case int32:
		val, _ := v8.NewValue(iso, v)
		return val
	case int64:
		val, _ := v8.NewValue(iso, v)
		return val
	case uint64:
		val, _ := v8.NewValue(iso, v)
		return val
	case float64:
		val, _ := v8.NewValue(iso, v)
		return val
	case *v8.Value:
		return v
	default:
		return v8.Undefined(iso)
	}
}
