// Package kestrel is the Runtime Context: it owns the script engine, the
// resource table, the weak handle table, the promise registry, the
// module loader, and the event loop driver, and exposes the
// enter/exit/run/deinit lifecycle the CLI drives. Grounded on
// cryguy-worker/engine.go's Engine struct, the closest analog of a
// component that owns pools and sequences setup/execute/shutdown.
package kestrel

import (
	"fmt"
	"log"
	"time"

	"github.com/kestrel-run/kestrel/internal/bridge"
	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/eventloop"
	"github.com/kestrel-run/kestrel/internal/modcache"
	"github.com/kestrel-run/kestrel/internal/modloader"
	"github.com/kestrel-run/kestrel/internal/promise"
	"github.com/kestrel-run/kestrel/internal/reactor"
	"github.com/kestrel-run/kestrel/internal/resources"
	"github.com/kestrel-run/kestrel/internal/weakhandle"
	"github.com/kestrel-run/kestrel/internal/workqueue"
)

// nextRuntimeID hands out distinct ids so External back-pointers remain
// unambiguous if more than one Runtime is ever constructed in-process
// (e.g. under test).
var nextRuntimeID uint64

// Runtime is the process-singleton owner of every other component (spec
// §3, §5: "the main thread owns all script-engine state, all resource
// and weak-handle tables, and the promise registry"). Only the goroutine
// that called Init may call any other Runtime method — this is the
// "main thread" of the concurrency model.
type Runtime struct {
	id     uint64
	config RuntimeConfig

	Engine     engine.Engine
	Resources  *resources.Table
	Weak       *weakhandle.Table
	Promises   *promise.Registry
	Rejections *promise.RejectionTracker
	Loader     *modloader.Loader
	Driver     *eventloop.Driver

	reactor *reactor.Poller
	queue   *workqueue.Queue
	cache   *modcache.Cache

	windows map[int]*resources.Window

	devMode           bool
	watcher           *devWatcher
	restartC          chan struct{}
	preservedWindowID int
}

// Init builds every component and wires them together. eng must already
// be constructed (internal/engine/v8 or internal/engine/quickjs's New).
func Init(cfg RuntimeConfig, eng engine.Engine) (*Runtime, error) {
	id := nextRuntimeID
	nextRuntimeID++

	rt := &Runtime{
		id:        id,
		config:    cfg,
		Engine:    eng,
		Resources:  resources.New(id),
		Weak:       weakhandle.New(),
		Promises:   promise.New(),
		Rejections: promise.NewRejectionTracker(),
		windows:    make(map[int]*resources.Window),
		devMode:   cfg.DevMode,
		restartC:  make(chan struct{}, 1),
	}

	rt.queue = workqueue.New(cfg.WorkerPoolSize, rt.wakeMain)
	rt.reactor = reactor.New(time.Duration(cfg.MainWakeupTimeoutMS) * time.Millisecond)
	if err := rt.reactor.Unsupported(); err != nil {
		log.Printf("kestrel: reactor backend unavailable, falling back to timeout-only polling: %v", err)
	}
	rt.Driver = eventloop.New(eng, rt.Resources, rt.reactor, rt.queue)

	if cfg.ModuleCachePath != "" {
		cache, err := modcache.Open(cfg.ModuleCachePath)
		if err != nil {
			log.Printf("kestrel: module cache disabled: %v", err)
		} else {
			rt.cache = cache
		}
	}

	loader, err := modloader.New(eng, rt.cache)
	if err != nil {
		return nil, fmt.Errorf("kestrel: init module loader: %w", err)
	}
	rt.Loader = loader

	if err := rt.installHostBindings(); err != nil {
		return nil, err
	}

	return rt, nil
}

// wakeMain is passed to the work queue as its completion-notify callback
// ("signal the main reactor via a dummy async event").
func (rt *Runtime) wakeMain() {
	rt.reactor.Notify()
}

// installHostBindings registers the minimal native surface every script
// needs regardless of which script API bindings a concrete app wires up:
// a console.log-equivalent, stack trace capture depth, unhandled promise
// rejection tracking, and the weak-handle finalizer. Windows are opened
// and closed from Go (OpenWindow/CloseWindow), not through a script
// binding registered here. Concrete script APIs
// beyond this (the out-of-scope bindings DESIGN.md lists as dropped
// teacher modules) are the embedding application's responsibility.
func (rt *Runtime) installHostBindings() error {
	if err := rt.Engine.RegisterFunc("__kestrel_log", func(args []any) (any, error) {
		if len(args) > 0 {
			log.Println(fmt.Sprint(args[0]))
		}
		return nil, nil
	}); err != nil {
		return err
	}
	if err := rt.Engine.Eval(`globalThis.console = globalThis.console || { log: function(v) { __kestrel_log(String(v)); } };`); err != nil {
		return err
	}
	// Error.stackTraceLimit is a V8-ism; QuickJS ignores the assignment
	// (guarded by try/catch so it is a no-op there rather than a failure).
	// Microtask scheduling policy stays at the engine's own default
	// (V8's kAuto), so it needs no corresponding call here.
	if err := rt.Engine.Eval(`try { Error.stackTraceLimit = 10; } catch (e) {}`); err != nil {
		return err
	}
	if err := promise.InstallUnhandledRejectionTracking(rt.Engine, rt.Rejections); err != nil {
		return err
	}
	return rt.installWeakHandleFinalizer()
}

// installWeakHandleFinalizer wires the Weak Handle Table's release to the
// script engine's own GC finalizer (the design note: "the engine
// calls back on GC" rather than an intrusive-list walk). __kestrel_weak_destroy
// fully frees the slot; script code never calls it directly — the
// FinalizationRegistry shim does, once the wrapper object it was
// registered against becomes unreachable.
func (rt *Runtime) installWeakHandleFinalizer() error {
	if err := rt.Engine.RegisterFunc("__kestrel_weak_destroy", func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		id, ok := args[0].(int)
		if !ok {
			if f, ok := args[0].(float64); ok {
				id = int(f)
			} else {
				return nil, nil
			}
		}
		_ = rt.Weak.Destroy(id)
		return nil, nil
	}); err != nil {
		return err
	}
	return rt.Engine.Eval(`globalThis.__kestrel_weak_registry = new FinalizationRegistry(function(id) {
  __kestrel_weak_destroy(id);
});`)
}

// OpenWindow registers a resource-table window handle for an externally
// created platform window; the platform backend itself is out of scope.
func (rt *Runtime) OpenWindow(native any, onUpdate func(), closeFn func(any)) (id int, ext *resources.External) {
	w := resources.NewWindow(native, onUpdate, closeFn)
	id, ext = rt.Resources.Create(resources.TagWindow, w)
	rt.windows[id] = w
	return id, ext
}

// CloseWindow runs the resource table's two-phase release for a window
// handle (start_deinit now; Destroy later, from the script finalizer).
func (rt *Runtime) CloseWindow(id int) error {
	return rt.Resources.StartDeinit(id)
}

// Load evaluates the main script as a module.
func (rt *Runtime) Load(scriptPath string) error {
	return rt.Loader.Load(scriptPath)
}

// Run enters the frame loop and blocks until a termination
// condition is reached (window_count==0, an uncaught exception outside
// dev mode, or a dev-mode restart request). Returns nil on normal
// termination; the caller (CLI) decides how to interpret a dev restart
// request vs. quiescent exit by checking RestartRequested after return.
func (rt *Runtime) Run() error {
	for {
		events := rt.drainPlatformEvents()
		terminate, frame := rt.Driver.Step(rt.devMode, rt.config.FrameTargetFPS, rt.windows, events, rt.dispatchWindowEvent)
		if terminate {
			return nil
		}
		time.Sleep(frame.NextDelay)
	}
}

// drainPlatformEvents is a seam for the out-of-scope platform window
// backend to feed already-translated events in; Kestrel itself has no
// events to originate absent that backend.
var drainPlatformEventsHook func() []eventloop.WindowEvent

func (rt *Runtime) drainPlatformEvents() []eventloop.WindowEvent {
	if drainPlatformEventsHook == nil {
		return nil
	}
	return drainPlatformEventsHook()
}

// requestDevRestart is called by devWatcher on a file change; it flips
// both the Driver's termination condition and the CLI-visible flag Run's
// caller consults after Run returns.
func (rt *Runtime) requestDevRestart() {
	rt.Driver.RequestDevRestart()
	select {
	case rt.restartC <- struct{}{}:
	default:
	}
}

func (rt *Runtime) dispatchWindowEvent(ev eventloop.WindowEvent) {
	if ev.Kind == eventloop.EventClose {
		_ = rt.CloseWindow(ev.WindowID)
		return
	}
	if rt.Driver.InJSErrorState() {
		// A failed dev-mode reload leaves no script state to dispatch
		// into; windows stay open, but events are dropped until the
		// next successful restart clears the JS-error state.
		return
	}
	// Other event kinds route through the Value Bridge to whatever
	// per-window script callback the embedding application registered;
	// that registry is owned by the application layer, not the runtime
	// core, so Kestrel only guarantees the conversion primitive exists.
	_, _ = bridge.ToScript(ev.Payload)
}

// EnterJSErrorState is called by the CLI's dev-mode restart loop when
// Load fails: windows stay open at target FPS but stop receiving
// on_update calls and dispatched events until the next successful
// restart calls ExitJSErrorState.
func (rt *Runtime) EnterJSErrorState() { rt.Driver.SetJSErrorState() }

// ExitJSErrorState resumes normal dispatch after a successful reload.
func (rt *Runtime) ExitJSErrorState() { rt.Driver.ClearJSErrorState() }

// RestartRequested reports whether Run returned because dev mode asked
// for a restart rather than because all windows closed.
func (rt *Runtime) RestartRequested() bool {
	select {
	case <-rt.restartC:
		return true
	default:
		return false
	}
}
