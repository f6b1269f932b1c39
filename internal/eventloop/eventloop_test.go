package eventloop

import (
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/reactor"
	"github.com/kestrel-run/kestrel/internal/resources"
	"github.com/kestrel-run/kestrel/internal/workqueue"
)

type fakeEngine struct {
	microtaskRuns int
}

func (f *fakeEngine) Eval(js string) error                   { return nil }
func (f *fakeEngine) EvalString(js string) (string, error)   { return "", nil }
func (f *fakeEngine) EvalBool(js string) (bool, error)        { return false, nil }
func (f *fakeEngine) EvalInt(js string) (int, error)          { return 0, nil }
func (f *fakeEngine) RegisterFunc(name string, fn engine.FunctionCallback) error { return nil }
func (f *fakeEngine) SetGlobal(name string, value any) error { return nil }
func (f *fakeEngine) RunMicrotasks()                          { f.microtaskRuns++ }
func (f *fakeEngine) NewResolver(name string) (engine.Resolver, error) {
	return nil, nil
}
func (f *fakeEngine) Close() {}

type fakeNative struct{}

func (fakeNative) StartDeinit(onDone func()) { onDone() }

func TestShouldTerminateWhenNoWindowsRemain(t *testing.T) {
	res := resources.New(1)
	d := New(&fakeEngine{}, res, nil, nil)

	if !d.ShouldTerminate(false) {
		t.Fatalf("ShouldTerminate() = false with zero windows, want true")
	}
}

func TestShouldTerminateOnUncaughtExceptionOutsideDevMode(t *testing.T) {
	res := resources.New(1)
	res.Create(resources.TagWindow, fakeNative{})
	d := New(&fakeEngine{}, res, nil, nil)
	d.SetUncaughtException()

	if !d.ShouldTerminate(false) {
		t.Fatalf("ShouldTerminate(devMode=false) after uncaught exception = false, want true")
	}
	if d.ShouldTerminate(true) {
		t.Fatalf("ShouldTerminate(devMode=true) after uncaught exception = true, want false")
	}
}

func TestShouldTerminateOnDevRestartRegardlessOfDevMode(t *testing.T) {
	res := resources.New(1)
	res.Create(resources.TagWindow, fakeNative{})
	d := New(&fakeEngine{}, res, nil, nil)
	d.RequestDevRestart()

	if !d.ShouldTerminate(true) {
		t.Fatalf("ShouldTerminate after RequestDevRestart = false, want true")
	}
}

func TestDispatchEventsInvokesCallbackForEachEvent(t *testing.T) {
	res := resources.New(1)
	d := New(&fakeEngine{}, res, nil, nil)

	events := []WindowEvent{
		{WindowID: 1, Kind: EventClose},
		{WindowID: 2, Kind: EventResize},
	}
	var seen []WindowEvent
	d.DispatchEvents(events, func(ev WindowEvent) { seen = append(seen, ev) })

	if len(seen) != 2 || seen[0].Kind != EventClose || seen[1].Kind != EventResize {
		t.Fatalf("seen = %+v, want both events dispatched in order", seen)
	}
}

func TestRunFrameComputesMinimumDelayAcrossWindows(t *testing.T) {
	res := resources.New(1)
	idFast, _ := res.Create(resources.TagWindow, fakeNative{})
	idSlow, _ := res.Create(resources.TagWindow, fakeNative{})
	d := New(&fakeEngine{}, res, nil, nil)

	start := time.Unix(0, 0)
	calls := 0
	restore := stubNow(func() time.Time {
		calls++
		// Fast window: ~0 elapsed. Slow window: consumes most of the budget.
		if calls <= 3 {
			return start
		}
		return start.Add(90 * time.Millisecond)
	})
	defer restore()

	windows := map[int]*resources.Window{
		idFast: resources.NewWindow("native-fast", func() {}, func(any) {}),
		idSlow: resources.NewWindow("native-slow", func() {}, func(any) {}),
	}

	result := d.RunFrame(10, windows) // budget = 100ms
	if result.NextDelay > 10*time.Millisecond {
		t.Fatalf("NextDelay = %v, want close to 0 (slow window ate the budget)", result.NextDelay)
	}
}

func TestRunFrameSkipsOnUpdateInJSErrorState(t *testing.T) {
	res := resources.New(1)
	id, _ := res.Create(resources.TagWindow, fakeNative{})
	d := New(&fakeEngine{}, res, nil, nil)
	d.SetJSErrorState()

	called := false
	windows := map[int]*resources.Window{
		id: resources.NewWindow("native", func() { called = true }, func(any) {}),
	}

	d.RunFrame(10, windows)
	if called {
		t.Fatalf("RunFrame called on_update while in JS-error state")
	}

	d.ClearJSErrorState()
	d.RunFrame(10, windows)
	if !called {
		t.Fatalf("RunFrame did not call on_update after ClearJSErrorState")
	}
}

func stubNow(fn func() time.Time) func() {
	prev := nowFunc
	nowFunc = fn
	return func() { nowFunc = prev }
}

func TestProcessMainEventLoopAlwaysRunsMicrotasksAndDrainsQueue(t *testing.T) {
	res := resources.New(1)
	eng := &fakeEngine{}
	q := workqueue.New(1, nil)
	defer q.Close()

	done := make(chan struct{})
	if err := q.Submit(func() (any, error) { return "ok", nil }, func(any) { close(done) }, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !q.HasPending() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for completion")
		}
		time.Sleep(time.Millisecond)
	}

	d := New(eng, res, nil, q)
	processed := d.ProcessMainEventLoop(false)
	<-done

	if processed != 1 {
		t.Fatalf("ProcessMainEventLoop returned %d, want 1", processed)
	}
	if eng.microtaskRuns != 1 {
		t.Fatalf("microtaskRuns = %d, want 1", eng.microtaskRuns)
	}
}

func TestPollerSignaledConsumesExactlyOneReadySignal(t *testing.T) {
	p := reactor.New(10 * time.Millisecond)
	defer p.Close()

	p.Notify()
	// Give the backend goroutine a moment to observe the wake and publish
	// a ready signal (best-effort on unsupported platforms: the stub
	// backend never reports ready, so this assertion only requires that
	// PollerSignaled doesn't panic and is idempotent-safe to call twice).
	time.Sleep(50 * time.Millisecond)

	d := New(&fakeEngine{}, resources.New(1), p, nil)
	first := d.PollerSignaled()
	second := d.PollerSignaled()
	if first && second {
		t.Fatalf("PollerSignaled returned true twice for a single signal")
	}
}
