//go:build !v8

package quickjs

import (
	"strings"
	"testing"

	"github.com/kestrel-run/kestrel/internal/errs"
)

func TestEvalIntReturnsExpressionResult(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	n, err := rt.EvalInt("2 + 40")
	if err != nil {
		t.Fatalf("EvalInt: %v", err)
	}
	if n != 42 {
		t.Fatalf("EvalInt(2+40) = %d, want 42", n)
	}
}

func TestEvalStringRoundTrips(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	s, err := rt.EvalString(`"hello" + " " + "world"`)
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if s != "hello world" {
		t.Fatalf("EvalString = %q, want %q", s, "hello world")
	}
}

func TestRegisterFuncIsCallableFromScript(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	var gotArg any
	err = rt.RegisterFunc("nativeAdd", func(args []any) (any, error) {
		if len(args) > 0 {
			gotArg = args[0]
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	n, err := rt.EvalInt("nativeAdd(7)")
	if err != nil {
		t.Fatalf("EvalInt: %v", err)
	}
	if n != 99 {
		t.Fatalf("EvalInt(nativeAdd(7)) = %d, want 99", n)
	}
	if gotArg == nil {
		t.Fatalf("native callback never observed its argument")
	}
}

func TestRegisterFuncRecoversPanicInsteadOfCrashing(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	err = rt.RegisterFunc("panicky", func(args []any) (any, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	_, err = rt.EvalInt("panicky()")
	if err == nil {
		t.Fatalf("calling a panicking native function did not surface an error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error %v does not mention the panic value", err)
	}
	if !strings.Contains(err.Error(), errs.ErrPanic.Error()) {
		t.Fatalf("error %v does not mention %v", err, errs.ErrPanic)
	}

	// The VM itself must still be usable afterward.
	n, err := rt.EvalInt("1 + 1")
	if err != nil {
		t.Fatalf("EvalInt after recovered panic: %v", err)
	}
	if n != 2 {
		t.Fatalf("EvalInt(1+1) after recovered panic = %d, want 2", n)
	}
}

func TestSetGlobalIsVisibleToScript(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if err := rt.SetGlobal("answer", 42); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	n, err := rt.EvalInt("answer")
	if err != nil {
		t.Fatalf("EvalInt: %v", err)
	}
	if n != 42 {
		t.Fatalf("EvalInt(answer) = %d, want 42", n)
	}
}

func TestNewResolverResolveSettlesThePromise(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	resolver, err := rt.NewResolver("__test_promise")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if err := resolver.Resolve(7); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rt.RunMicrotasks()

	if err := rt.Eval(`globalThis.__seen = null; __test_promise.then(function(v) { __seen = v; });`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	rt.RunMicrotasks()

	n, err := rt.EvalInt("__seen")
	if err != nil {
		t.Fatalf("EvalInt: %v", err)
	}
	if n != 7 {
		t.Fatalf("__seen = %d, want 7", n)
	}
}

func TestResolverSettleTwiceFails(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	resolver, err := rt.NewResolver("__test_promise2")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if err := resolver.Resolve("first"); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := resolver.Resolve("second"); err == nil {
		t.Fatalf("second Resolve on an already-settled resolver did not fail")
	}
}
