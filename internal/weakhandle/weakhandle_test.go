package weakhandle

import (
	"errors"
	"testing"

	"github.com/kestrel-run/kestrel/internal/errs"
)

func TestLookupReturnsRegisteredPointer(t *testing.T) {
	tbl := New()
	type payload struct{ n int }
	id := tbl.Create(1, &payload{n: 7}, "script-wrapper")

	ptr, tag, err := tbl.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if tag != 1 {
		t.Fatalf("tag = %v, want 1", tag)
	}
	if ptr.(*payload).n != 7 {
		t.Fatalf("ptr = %+v, want n=7", ptr)
	}
}

func TestDeinitExpiresHandleButKeepsScriptObject(t *testing.T) {
	tbl := New()
	id := tbl.Create(1, "native", "wrapper")

	if err := tbl.Deinit(id); err != nil {
		t.Fatalf("Deinit: %v", err)
	}

	_, _, err := tbl.Lookup(id)
	if !errors.Is(err, errs.ErrHandleExpired) {
		t.Fatalf("Lookup after Deinit = %v, want ErrHandleExpired", err)
	}

	obj, ok := tbl.ScriptObject(id)
	if !ok || obj != "wrapper" {
		t.Fatalf("ScriptObject after Deinit = (%v, %v), want (wrapper, true)", obj, ok)
	}
}

func TestDestroyFreesSlotForReuse(t *testing.T) {
	tbl := New()
	id := tbl.Create(1, "native", "wrapper")
	if err := tbl.Destroy(id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, _, err := tbl.Lookup(id); !errors.Is(err, errs.ErrHandleExpired) {
		t.Fatalf("Lookup after Destroy = %v, want ErrHandleExpired", err)
	}

	next := tbl.Create(1, "native2", "wrapper2")
	if next != id {
		t.Fatalf("Create after Destroy did not reuse freed slot: got %d, want %d", next, id)
	}
}

func TestDestroyWithoutPriorDeinitStillExpiresSlot(t *testing.T) {
	tbl := New()
	id := tbl.Create(1, "native", "wrapper")
	if err := tbl.Destroy(id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, _, err := tbl.Lookup(id); !errors.Is(err, errs.ErrHandleExpired) {
		t.Fatalf("Lookup after direct Destroy = %v, want ErrHandleExpired", err)
	}
}
