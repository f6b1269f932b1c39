package kestrel

import (
	"fmt"
	"log"
)

// Shutdown runs the ordered teardown sequence exactly, to avoid a
// deadlock where a worker or the reactor blocks waiting on a signal that
// a later step would have sent:
//
//  1. Signal the reactor poller's close flag, send it a wake, and spin
//     until it acknowledges — reactor.Poller.Close() already does all
//     three sub-steps in that order.
//  2. Set the work queue's closed flag and stop accepting new work.
//  3. (The reactor has no other live handles to walk in Kestrel's
//     self-wake-only backend — see DESIGN.md's note on out-of-scope
//     platform I/O backends — so this step is a no-op here beyond step 1's
//     close.)
//  4. Wait for every worker to acknowledge, then drain any remaining
//     completions.
//
// Once torn down, it prints one report per unhandled promise rejection
// the script left behind, each as its stringified value.
func (rt *Runtime) Shutdown() error {
	rt.reactor.Close()
	rt.queue.Close()
	rt.queue.ProcessDone()
	rt.reportUnhandledRejections()
	return nil
}

func (rt *Runtime) reportUnhandledRejections() {
	for _, reason := range rt.Rejections.Reasons() {
		log.Printf("kestrel: unhandled promise rejection: %s", reason)
	}
}

// Deinit releases the Runtime's own resources after Shutdown. When
// skipChromeWindowDestroy is true (the dev-restart path deinits the
// runtime but skips destruction of the chrome window's native resource),
// the chrome window is only removed from the runtime's window map; it is
// not destroyed in the resource table, so its close callback never runs.
// Deinit also stops the dev-mode file watcher if one is running.
func (rt *Runtime) Deinit(skipChromeWindowDestroy bool) error {
	rt.StopDevWatch()
	for id := range rt.windows {
		if skipChromeWindowDestroy && id == rt.preservedWindowID {
			delete(rt.windows, id)
			continue
		}
		_ = rt.Resources.Destroy(id)
		delete(rt.windows, id)
	}

	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			return fmt.Errorf("kestrel: closing module cache: %w", err)
		}
	}
	rt.Engine.Close()
	return nil
}
