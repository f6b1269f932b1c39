package resources

// Window is the resource-table-side representative of a platform window.
// The graphics/window backend itself is a black box treated as out of
// scope — this type only holds what the Resource Table needs: an opaque
// native handle and the black box's own close function, plus the
// per-frame update callback the Event Loop Driver invokes.
type Window struct {
	// Native is the opaque platform window handle, owned by the external
	// black-box backend. Kestrel never dereferences it.
	Native any

	// OnUpdate is called once per frame for this window from the Event
	// Loop Driver, already serialized on the main thread.
	OnUpdate func()

	// close is supplied by the black-box backend at construction; it
	// must be idempotent and non-blocking.
	close func(native any)
}

// NewWindow wraps an already-created native window handle. Kestrel does
// not create the handle itself (that's the out-of-scope backend's job) —
// it only registers it.
func NewWindow(native any, onUpdate func(), closeFn func(native any)) *Window {
	return &Window{Native: native, OnUpdate: onUpdate, close: closeFn}
}

// StartDeinit implements resources.Native. Window teardown is
// synchronous: the backend's close is expected to return once the
// native window is actually destroyed, so onDone fires before
// StartDeinit returns — satisfying Table.StartDeinit's
// re-election-before-async-wait ordering.
func (w *Window) StartDeinit(onDone func()) {
	if w.close != nil {
		w.close(w.Native)
	}
	onDone()
}
