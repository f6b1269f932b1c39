// Package eventloop implements the Event Loop Driver: the per-iteration
// coordination of window events, termination checks, the frame step, and
// the drain of worker completions / reactor / microtasks. Grounded on
// cryguy-worker/internal/eventloop/eventloop.go's Drain
// (timer + pending-fetch draining loop), generalized from "per-request
// timers and fetches" to "per-process worker completions plus reactor
// plus microtasks", and on engine.go's awaitValueWithLoop drain ordering
// (pump microtasks, then the event loop, then re-check).
package eventloop

import (
	"time"

	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/reactor"
	"github.com/kestrel-run/kestrel/internal/resources"
	"github.com/kestrel-run/kestrel/internal/workqueue"
)

// WindowEvent is a translated platform event dispatched to a window's
// callback via the Value Bridge (the run loop). Kestrel itself does
// not poll the platform (that backend is out of scope); Driver.Step
// accepts already-translated events from whatever black-box collaborator
// produces them.
type WindowEvent struct {
	WindowID int
	Kind     WindowEventKind
	// Payload carries kind-specific data (resize dims, key code, mouse
	// position) already in Value-Bridge-ready shape.
	Payload any
}

type WindowEventKind int

const (
	EventClose WindowEventKind = iota
	EventResize
	EventKeyDown
	EventKeyUp
	EventMouseDown
	EventMouseUp
	EventMouseMove
)

// Driver coordinates one full run-step iteration.
type Driver struct {
	eng       engine.Engine
	resources *resources.Table
	reactorP  *reactor.Poller
	queue     *workqueue.Queue

	uncaughtException bool
	devRestart        bool
	jsErrorState      bool
}

func New(eng engine.Engine, res *resources.Table, poller *reactor.Poller, queue *workqueue.Queue) *Driver {
	return &Driver{eng: eng, resources: res, reactorP: poller, queue: queue}
}

// SetUncaughtException is called by the runtime's uncaught-exception
// handler; it flips the termination condition checked in step 2.
func (d *Driver) SetUncaughtException() { d.uncaughtException = true }

// RequestDevRestart is called by the dev-mode file watcher; it flips the
// other non-window termination condition (the run loop, §4.9).
func (d *Driver) RequestDevRestart() { d.devRestart = true }

// SetJSErrorState is called when the main script failed to load in dev
// mode. Windows stay open but stop receiving on_update calls and
// dispatched events until ClearJSErrorState is called on the next
// successful restart.
func (d *Driver) SetJSErrorState() { d.jsErrorState = true }

// ClearJSErrorState resumes normal dispatch after a successful reload.
func (d *Driver) ClearJSErrorState() { d.jsErrorState = false }

// InJSErrorState reports whether the driver is currently withholding
// on_update/event dispatch because the last script load failed in dev
// mode.
func (d *Driver) InJSErrorState() bool { return d.jsErrorState }

// ShouldTerminate implements the run loop's termination conditions.
// devMode suppresses the uncaught-exception condition (dev mode reports
// the error in-window instead of exiting, ).
func (d *Driver) ShouldTerminate(devMode bool) bool {
	if d.resources.WindowCount() == 0 {
		return true
	}
	if d.uncaughtException && !devMode {
		return true
	}
	if d.devRestart {
		return true
	}
	return false
}

// DispatchEvents implements step 1: translate and dispatch already
// platform-translated events through their window's callback. Dispatch
// itself is out of this package's purview (the caller holds the Value
// Bridge conversion and the actual per-window callback registry); Driver
// only enforces single-thread serialization by being called exclusively
// from the main goroutine.
func (d *Driver) DispatchEvents(events []WindowEvent, dispatch func(WindowEvent)) {
	for _, ev := range events {
		dispatch(ev)
	}
}

// FrameResult reports how long to wait before the next frame, matching
// the run loop's "use the minimum frame delay across windows" rule
// for the multi-window case.
type FrameResult struct {
	NextDelay time.Duration
}

// RunFrame implements step 3: call on_update for each window (serialized,
// single window is just the n==1 case of the same loop), then compute the
// minimum next-frame delay across all of them for FPS limiting.
func (d *Driver) RunFrame(targetFPS int, windows map[int]*resources.Window) FrameResult {
	frameBudget := time.Second / time.Duration(max(targetFPS, 1))
	minDelay := frameBudget

	for _, id := range d.resources.Windows() {
		w, ok := windows[id]
		if !ok || w.OnUpdate == nil {
			continue
		}
		if d.jsErrorState {
			continue
		}
		started := nowFunc()
		w.OnUpdate()
		elapsed := nowFunc().Sub(started)
		remaining := frameBudget - elapsed
		if remaining < 0 {
			remaining = 0
		}
		if remaining < minDelay {
			minDelay = remaining
		}
	}
	return FrameResult{NextDelay: minDelay}
}

// nowFunc is indirected so tests can substitute a deterministic clock.
var nowFunc = time.Now

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ProcessMainEventLoop implements step 4: drain worker completions in
// FIFO order, run the reactor once in non-blocking mode, then drain
// script microtasks to a fixed point. reactorSignaled must come from a
// single consuming read of Ready() (see PollerSignaled) — this method
// does not read the channel itself, so callers can gate step 4 on the
// same signal they observed without a second, signal-eating receive.
// Returns the number of work-queue completions processed.
func (d *Driver) ProcessMainEventLoop(reactorSignaled bool) int {
	processed := d.queue.ProcessDone()

	if reactorSignaled {
		// one reactor drain per wake-up, 's ordering rule;
		// the actual I/O completion dispatch (none, in Kestrel's
		// self-wake-only reactor) would happen here for a backend with
		// real event sources.
	}

	d.eng.RunMicrotasks()
	return processed
}

// Step runs one full iteration of the four-step run loop:
// dispatch translated window events, check termination, run the frame,
// and — if the reactor signaled — drain completions/reactor/microtasks.
// terminate reports whether the caller should stop the run loop after
// this iteration.
func (d *Driver) Step(devMode bool, targetFPS int, windows map[int]*resources.Window, events []WindowEvent, dispatch func(WindowEvent)) (terminate bool, frame FrameResult) {
	d.DispatchEvents(events, dispatch)

	if d.ShouldTerminate(devMode) {
		return true, FrameResult{}
	}

	frame = d.RunFrame(targetFPS, windows)

	if d.PollerSignaled() {
		d.ProcessMainEventLoop(true)
	}
	return false, frame
}

// PollerSignaled performs the single consuming read of the reactor's
// Ready channel for this iteration, gating whether the reactor-driven
// path runs this step. Its result must be passed to ProcessMainEventLoop
// rather than re-checked.
func (d *Driver) PollerSignaled() bool {
	select {
	case <-d.reactorP.Ready():
		return true
	default:
		return false
	}
}
