// Package weakhandle implements the Weak Handle Table: a flat slot
// allocator for native objects whose release is ultimately driven by the
// script engine's own finalizer/FinalizationRegistry callback rather
// than by an intrusive list walk, because weak handles have no
// enumeration need (unlike resources.Table's windows/generic lists).
// The flat-slice-plus-freelist allocator shape is borrowed from
// cryguy-worker/internal/v8engine/pool.go's id-keyed worker slots.
package weakhandle

import (
	"sync"

	"github.com/kestrel-run/kestrel/internal/errs"
)

// Tag discriminates the native type behind a weak handle. TagNull marks
// an explicitly-deinited slot — the invariant that lookups past
// deinit must fail with HandleExpired.
type Tag int

const TagNull Tag = 0

// entry is the record {ptr, tag, script_object}.
type entry struct {
	ptr          any
	tag          Tag
	scriptObject any // the persistent script-side wrapper reference
	inUse        bool
}

// Table is the flat slot allocator. A freelist of released slot indices
// lets Create reuse ids instead of growing unboundedly, matching
// "compact slot allocator keyed by id."
type Table struct {
	mu       sync.Mutex
	slots    []entry
	freelist []int
}

func New() *Table {
	return &Table{}
}

// Create allocates a slot for a native object and its persistent script
// wrapper reference, returning its id.
func (t *Table) Create(tag Tag, ptr any, scriptObject any) int {
	if tag == TagNull {
		panic("weakhandle: cannot Create with TagNull")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.freelist); n > 0 {
		id := t.freelist[n-1]
		t.freelist = t.freelist[:n-1]
		t.slots[id] = entry{ptr: ptr, tag: tag, scriptObject: scriptObject, inUse: true}
		return id
	}
	id := len(t.slots)
	t.slots = append(t.slots, entry{ptr: ptr, tag: tag, scriptObject: scriptObject, inUse: true})
	return id
}

// Lookup validates the tag and returns the native ptr, or HandleExpired if
// the slot was explicitly deinited (tag==Null) or never existed.
func (t *Table) Lookup(id int) (ptr any, tag Tag, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse || t.slots[id].tag == TagNull {
		return nil, TagNull, errs.ErrHandleExpired
	}
	e := t.slots[id]
	return e.ptr, e.tag, nil
}

// Deinit is the explicit native-side deinit path : it marks
// the slot expired (tag=Null) but does NOT remove it yet — the slot must
// survive until the script engine's finalizer eventually calls Destroy,
// since a script-side wrapper object may still exist and reference it.
func (t *Table) Deinit(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return errs.ErrHandleExpired
	}
	t.slots[id].tag = TagNull
	t.slots[id].ptr = nil
	return nil
}

// Destroy is invoked from the script engine's finalizer callback once the
// script-side wrapper is garbage collected. It frees the slot for reuse
// regardless of whether Deinit was already called — a handle may be
// finalized before or after its native-side deinit.
func (t *Table) Destroy(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return errs.ErrHandleExpired
	}
	t.slots[id] = entry{}
	t.freelist = append(t.freelist, id)
	return nil
}

// ScriptObject returns the persistent script-side wrapper reference for
// id, regardless of whether the slot has been deinited (a finalizer
// still needs this to clean up its own side, even after HandleExpired
// applies to native lookups).
func (t *Table) ScriptObject(id int) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return nil, false
	}
	return t.slots[id].scriptObject, true
}
