// Package resources implements the Resource Table: two intrusive
// singly-linked lists (windows, generic) of native handles with a
// sentinel Dummy head each, two-phase deinit, and active-window
// re-election. No example repo ships an id-linked intrusive list in
// this exact shape; grounded instead on cryguy-worker/engine.go's own
// two-phase teardown discipline (the keepWorker/pool.put vs
// w.vm.Close() branching in Engine.Execute) for the "deinited flag,
// slot stays live" pattern.
package resources

import "fmt"

// Tag discriminates the native type a Handle wraps.
type Tag int

const (
	TagDummy Tag = iota
	TagWindow
	TagHttpServer
)

func (t Tag) String() string {
	switch t {
	case TagWindow:
		return "Window"
	case TagHttpServer:
		return "HttpServer"
	default:
		return "Dummy"
	}
}

// External is the stable back-pointer struct handed to the script engine
// as finalizer/weak-callback context. Its address must outlive the
// script-side wrapper object, so it is heap-allocated once per resource
// and never moved.
type External struct {
	RuntimeID  uint64
	ResourceID int
}

// Native is anything a resource handle wraps: the tag-specific teardown
// logic lives behind this interface so the table itself stays generic.
type Native interface {
	// StartDeinit performs tag-specific teardown. For synchronous
	// resources (windows) this fully tears down before returning. For
	// asynchronous resources (HttpServer) this only requests teardown;
	// onDone must be called exactly once, from any goroutine, when the
	// underlying native object has actually closed.
	StartDeinit(onDone func())
}

// Handle is a resource slot — the record
// {ptr, tag, external, deinited, on_deinit}.
type Handle struct {
	id       int
	tag      Tag
	native   Native
	external *External
	deinited bool
	onDeinit func()

	// list linkage (singly linked via slot ids, tail-insert, scan-remove).
	next int // id of next handle in this handle's list, -1 if none
}

// list is one of the two intrusive lists (windows, generic). A sentinel
// Dummy head id (always present) means list maintenance never
// special-cases the empty-list case.
type list struct {
	headID int
	lastID int
	count  int // non-Dummy members not yet deinited
}

// Table owns both resource lists and the id->Handle map. Invariant:
// every live id maps to a handle whose external.resource_id equals that
// id.
type Table struct {
	runtimeID uint64
	handles   map[int]*Handle
	nextID    int

	windows list
	generic list

	activeWindow int // id of the active window, -1 if none
}

// New creates a Table with both lists seeded by a Dummy sentinel head.
func New(runtimeID uint64) *Table {
	t := &Table{
		runtimeID:    runtimeID,
		handles:      make(map[int]*Handle),
		activeWindow: -1,
	}
	t.windows.headID = t.newDummy()
	t.windows.lastID = t.windows.headID
	t.generic.headID = t.newDummy()
	t.generic.lastID = t.generic.headID
	return t
}

func (t *Table) newDummy() int {
	id := t.nextID
	t.nextID++
	t.handles[id] = &Handle{id: id, tag: TagDummy, next: -1}
	return id
}

func (t *Table) listFor(tag Tag) *list {
	if tag == TagWindow {
		return &t.windows
	}
	return &t.generic
}

// Create appends a new handle of the given tag to its list (tail insert,
// O(1) via the remembered last id) and returns its id and external
// back-pointer.
func (t *Table) Create(tag Tag, native Native) (id int, ext *External) {
	if tag == TagDummy {
		panic("resources: cannot Create a Dummy-tagged handle")
	}
	id = t.nextID
	t.nextID++
	ext = &External{RuntimeID: t.runtimeID, ResourceID: id}
	h := &Handle{id: id, tag: tag, native: native, external: ext, next: -1}
	t.handles[id] = h

	l := t.listFor(tag)
	t.handles[l.lastID].next = id
	l.lastID = id
	l.count++

	if tag == TagWindow && t.activeWindow == -1 {
		t.activeWindow = id
	}
	return id, ext
}

// StartDeinit runs the tag-specific teardown for id. After this call
// deinited=true and the handle no longer counts toward its list's count;
// the slot remains until Destroy. For windows, deinit is synchronous and
// re-elects the active window immediately; for other tags it may be
// asynchronous (native calls onDone later).
func (t *Table) StartDeinit(id int) error {
	h, ok := t.handles[id]
	if !ok || h.tag == TagDummy {
		return fmt.Errorf("resources: unknown handle %d", id)
	}
	if h.deinited {
		return nil
	}
	h.deinited = true
	t.listFor(h.tag).count--

	if h.tag == TagWindow && t.activeWindow == id {
		t.reelectActiveWindow()
	}

	done := make(chan struct{})
	var once bool
	h.native.StartDeinit(func() {
		if once {
			return
		}
		once = true
		close(done)
	})
	select {
	case <-done:
	default:
		// Asynchronous teardown (e.g. HttpServer graceful shutdown,
		// ): StartDeinit returns immediately; Destroy is what
		// actually frees the slot once onDone eventually fires.
	}
	return nil
}

// reelectActiveWindow walks the window list and picks the first
// non-Dummy, non-deinited handle; clears activeWindow if none remain.
func (t *Table) reelectActiveWindow() {
	t.activeWindow = -1
	for id := t.handles[t.windows.headID].next; id != -1; id = t.handles[id].next {
		h := t.handles[id]
		if h.tag != TagDummy && !h.deinited {
			t.activeWindow = id
			return
		}
	}
}

// Destroy is invoked from the script-engine finalizer path. Invariant: a
// resource slot is freed only from that path, never from explicit
// deinit. If not yet deinited, it runs
// StartDeinit first. It fires onDeinit, unlinks the slot (fixing the
// list's last pointer if needed), and frees the external back-pointer.
func (t *Table) Destroy(id int) error {
	h, ok := t.handles[id]
	if !ok || h.tag == TagDummy {
		return fmt.Errorf("resources: unknown handle %d", id)
	}
	if !h.deinited {
		if err := t.StartDeinit(id); err != nil {
			return err
		}
	}
	if h.onDeinit != nil {
		h.onDeinit()
	}

	l := t.listFor(h.tag)
	t.unlink(l, id)

	h.external = nil
	delete(t.handles, id)
	return nil
}

// unlink removes id from l by linear scan for its predecessor (list is
// singly linked with no back-pointers; acceptable because resources are
// few), fixing last if id was the tail.
func (t *Table) unlink(l *list, id int) {
	predID := l.headID
	for {
		pred := t.handles[predID]
		if pred.next == id {
			target := t.handles[id]
			pred.next = target.next
			if l.lastID == id {
				l.lastID = predID
			}
			return
		}
		if pred.next == -1 {
			return // not found; already unlinked
		}
		predID = pred.next
	}
}

// OnDeinit registers a callback fired exactly once when id is Destroyed —
// used by tests to verify property 10 (create+destroy => exactly one call).
func (t *Table) OnDeinit(id int, fn func()) error {
	h, ok := t.handles[id]
	if !ok {
		return fmt.Errorf("resources: unknown handle %d", id)
	}
	h.onDeinit = fn
	return nil
}

// ActiveWindow returns the active window's id, or -1 if none.
func (t *Table) ActiveWindow() int { return t.activeWindow }

// WindowCount returns the number of window handles not yet deinited.
func (t *Table) WindowCount() int { return t.windows.count }

// IsDeinited reports whether id has been deinited (two-phase release).
func (t *Table) IsDeinited(id int) (bool, error) {
	h, ok := t.handles[id]
	if !ok {
		return false, fmt.Errorf("resources: unknown handle %d", id)
	}
	return h.deinited, nil
}

// External returns the back-pointer for id, or nil if unknown/freed.
func (t *Table) External(id int) *External {
	h, ok := t.handles[id]
	if !ok {
		return nil
	}
	return h.external
}

// Windows returns the live window ids in list order, for the frame loop
// to iterate (the run loop).
func (t *Table) Windows() []int {
	var ids []int
	for id := t.handles[t.windows.headID].next; id != -1; id = t.handles[id].next {
		if t.handles[id].tag != TagDummy {
			ids = append(ids, id)
		}
	}
	return ids
}
