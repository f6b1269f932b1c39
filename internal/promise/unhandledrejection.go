package promise

import (
	"fmt"
	"sync"

	"github.com/kestrel-run/kestrel/internal/engine"
)

// unhandledRejectionJS patches the global Promise so that a rejection
// with no .then/.catch handler attached by the end of the current
// microtask checkpoint is reported to Go. Adapted from
// cryguy-worker/unhandledrejection.go's __trackRejection polyfill: that
// version only fires when script manually calls __trackRejection (its
// own tests note "automatic tracking depends on engine-level hooks").
// This version reaches the same pending/microtask bookkeeping
// automatically by patching the Promise constructor's reject path and
// .then/.catch themselves, so it works the same way on both the V8 and
// QuickJS backends without needing an engine-level unhandled-rejection
// hook.
const unhandledRejectionJS = `
(function() {
	var Native = globalThis.Promise;
	var pending = new Map();
	var nextId = 1;

	function track(promise, reason) {
		var id = nextId++;
		try {
			Object.defineProperty(promise, '__krId', { value: id, configurable: true });
		} catch (e) {
			return;
		}
		pending.set(id, reason);
		queueMicrotask(function() {
			if (pending.has(id)) {
				pending.delete(id);
				try {
					__kestrel_report_unhandled_rejection(String(reason));
				} catch (e) {}
			}
		});
	}

	function clear(promise) {
		var id = promise.__krId;
		if (id !== undefined) {
			pending.delete(id);
		}
	}

	var origThen = Native.prototype.then;
	Native.prototype.then = function(onFulfilled, onRejected) {
		if (typeof onRejected === 'function') {
			clear(this);
		}
		return origThen.call(this, onFulfilled, onRejected);
	};

	var origCatch = Native.prototype.catch;
	Native.prototype.catch = function(onRejected) {
		clear(this);
		return origCatch.call(this, onRejected);
	};

	function TrackedPromise(executor) {
		var self = new Native(function(resolve, reject) {
			executor(resolve, function(reason) {
				track(self, reason);
				reject(reason);
			});
		});
		return self;
	}
	TrackedPromise.prototype = Native.prototype;
	TrackedPromise.resolve = Native.resolve.bind(Native);
	TrackedPromise.all = Native.all.bind(Native);
	TrackedPromise.race = Native.race.bind(Native);
	TrackedPromise.allSettled = Native.allSettled ? Native.allSettled.bind(Native) : undefined;
	TrackedPromise.reject = function(reason) {
		var p = Native.reject(reason);
		track(p, reason);
		return p;
	};

	globalThis.Promise = TrackedPromise;
})();
`

// RejectionTracker records unhandled promise rejections reported by the
// script engine's patched Promise, keyed by arrival order. Retrieving
// them with Reasons (as Shutdown does) does not clear them. It is a small
// sibling of Registry: both hold state the main thread alone mutates,
// so a plain mutex-guarded slice is enough (no id reuse needed, unlike
// Registry's resolver slots).
type RejectionTracker struct {
	mu      sync.Mutex
	reasons []string
}

func NewRejectionTracker() *RejectionTracker {
	return &RejectionTracker{}
}

// record appends reason to the tracker. Called only from the native
// callback InstallUnhandledRejectionTracking registers.
func (t *RejectionTracker) record(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reasons = append(t.reasons, reason)
}

// Reasons returns every unhandled rejection reason recorded so far, in
// arrival order, as a stringified value (spec S4: "shutdown prints one
// report containing the stringified value").
func (t *RejectionTracker) Reasons() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.reasons))
	copy(out, t.reasons)
	return out
}

// InstallUnhandledRejectionTracking registers the native report callback
// and evaluates the Promise-patching polyfill against eng. Call once,
// early, before any script that constructs promises runs.
func InstallUnhandledRejectionTracking(eng engine.Engine, tracker *RejectionTracker) error {
	if err := eng.RegisterFunc("__kestrel_report_unhandled_rejection", func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		tracker.record(fmt.Sprint(args[0]))
		return nil, nil
	}); err != nil {
		return fmt.Errorf("registering unhandled rejection reporter: %w", err)
	}
	if err := eng.Eval(unhandledRejectionJS); err != nil {
		return fmt.Errorf("evaluating unhandled rejection polyfill: %w", err)
	}
	return nil
}
