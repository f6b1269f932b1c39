package promise

import (
	"errors"
	"testing"

	"github.com/kestrel-run/kestrel/internal/errs"
)

type fakeResolver struct {
	resolved, rejected any
}

func (f *fakeResolver) Resolve(v any) error { f.resolved = v; return nil }
func (f *fakeResolver) Reject(v any) error  { f.rejected = v; return nil }

type codedErr struct{ code int }

func (e codedErr) Error() string { return "boom" }
func (e codedErr) Code() int     { return e.code }

func TestResolveConsumesSlotExactlyOnce(t *testing.T) {
	reg := New()
	r := &fakeResolver{}
	id := reg.Add(r)

	if err := reg.Resolve(id, "hello"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.resolved != "hello" {
		t.Fatalf("resolver got %v, want hello", r.resolved)
	}

	if err := reg.Resolve(id, "again"); !errors.Is(err, errs.ErrPromiseNotFound) {
		t.Fatalf("second Resolve = %v, want ErrPromiseNotFound", err)
	}
}

func TestRejectWithCodedErrorProducesStructuredPayload(t *testing.T) {
	reg := New()
	r := &fakeResolver{}
	id := reg.Add(r)

	if err := reg.Reject(id, codedErr{code: 42}); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	payload, ok := r.rejected.(map[string]any)
	if !ok {
		t.Fatalf("rejected = %#v, want map[string]any", r.rejected)
	}
	if payload["message"] != "boom" || payload["code"] != 42 {
		t.Fatalf("payload = %+v, want message=boom code=42", payload)
	}
}

func TestRejectWithRealCodedErrorProducesStructuredPayload(t *testing.T) {
	reg := New()
	r := &fakeResolver{}
	id := reg.Add(r)

	if err := reg.Reject(id, errs.Coded(errs.ErrHandleExpired, errs.CodeHandleExpired)); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	payload, ok := r.rejected.(map[string]any)
	if !ok {
		t.Fatalf("rejected = %#v, want map[string]any", r.rejected)
	}
	if payload["code"] != errs.CodeHandleExpired {
		t.Fatalf("payload = %+v, want code=%d", payload, errs.CodeHandleExpired)
	}
}

func TestRejectWithPlainErrorStringifies(t *testing.T) {
	reg := New()
	r := &fakeResolver{}
	id := reg.Add(r)

	if err := reg.Reject(id, errors.New("plain failure")); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if r.rejected != "plain failure" {
		t.Fatalf("rejected = %v, want stringified message", r.rejected)
	}
}

func TestPendingCountTracksOutstandingPromises(t *testing.T) {
	reg := New()
	id1 := reg.Add(&fakeResolver{})
	reg.Add(&fakeResolver{})

	if got := reg.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
	_ = reg.Resolve(id1, nil)
	if got := reg.Pending(); got != 1 {
		t.Fatalf("Pending() after one resolution = %d, want 1", got)
	}
}
