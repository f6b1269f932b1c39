// Package promise implements the Promise Registry: an indexed table of
// outstanding script-side resolvers, referenced by integer id from
// native tasks (typically Work Queue completions). The id-keyed
// map-with-counter shape follows internal/weakhandle's flat allocator
// style, since both are "native holds an opaque handle, the slot is
// consumed exactly once."
package promise

import (
	"fmt"
	"sync"

	"github.com/kestrel-run/kestrel/internal/bridge"
	"github.com/kestrel-run/kestrel/internal/engine"
	"github.com/kestrel-run/kestrel/internal/errs"
)

// CodedError is a known error enum: rejection with one of these produces
// a script error object carrying both a human-readable message and a
// numeric code property, instead of a plain stringified message.
type CodedError interface {
	error
	Code() int
}

// Registry owns the id->Resolver map. Only the main thread may call
// Resolve/Reject (the main thread owns the promise registry).
type Registry struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]engine.Resolver
}

func New() *Registry {
	return &Registry{entries: make(map[uint32]engine.Resolver)}
}

// Add stores resolver under a fresh 32-bit id and returns it.
func (r *Registry) Add(resolver engine.Resolver) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.entries[id] = resolver
	return id
}

// take removes and returns the resolver for id, consuming the slot.
func (r *Registry) take(id uint32) (engine.Resolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resolver, ok := r.entries[id]
	if !ok {
		return nil, errs.ErrPromiseNotFound
	}
	delete(r.entries, id)
	return resolver, nil
}

// Resolve converts value through the Value Bridge and fulfills the
// promise at id, releasing the slot.
func (r *Registry) Resolve(id uint32, value any) error {
	resolver, err := r.take(id)
	if err != nil {
		return err
	}
	converted, err := bridge.ToScript(value)
	if err != nil {
		return err
	}
	return resolver.Resolve(converted)
}

// Reject rejects the promise at id with valueOrErr, releasing the slot.
// A CodedError produces {message, code}; any other error (or arbitrary
// native value) is stringified 
func (r *Registry) Reject(id uint32, valueOrErr any) error {
	resolver, err := r.take(id)
	if err != nil {
		return err
	}

	if coded, ok := valueOrErr.(CodedError); ok {
		return resolver.Reject(map[string]any{
			"message": coded.Error(),
			"code":    coded.Code(),
		})
	}
	if e, ok := valueOrErr.(error); ok {
		return resolver.Reject(e.Error())
	}
	return resolver.Reject(fmt.Sprint(valueOrErr))
}

// Pending reports the number of outstanding (unresolved) promises — used
// by shutdown-quiescence checks and tests.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
