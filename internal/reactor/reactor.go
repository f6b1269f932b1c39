// Package reactor implements the Reactor Poller: a dedicated OS thread
// that blocks on a backend descriptor so the single-threaded script
// engine never has to. The actual wait syscall is platform-specific (see
// reactor_epoll.go, reactor_kqueue.go, reactor_other.go); this file holds
// the shared close lifecycle: signal close, wake the backend, spin until
// ack.
package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// backend is the minimal platform-specific contract: block until the
// descriptor is ready for read or the timeout elapses, or report that the
// platform has no real implementation.
type backend interface {
	// wait blocks until ready, timeout, or wake() is called. Returns
	// ready=true if the descriptor became readable.
	wait(timeout time.Duration) (ready bool, err error)
	// wake forces an in-progress wait to return early (used by Close and
	// by Notify, so a goroutine adding I/O work doesn't have to wait out
	// a long poll timeout).
	wake()
	// close releases OS resources. Idempotent.
	close()
}

// Poller runs backend.wait on a dedicated goroutine and signals readiness
// via a buffered channel the Event Loop Driver can select on.
type Poller struct {
	be backend

	closing atomic.Bool
	done    chan struct{}

	ready chan struct{} // buffered(1): "reactor has events, drain it"

	wg sync.WaitGroup
}

// New creates a Poller bound to a platform backend and starts its
// dedicated goroutine. defaultTimeout bounds each blocking wait so a
// periodic liveness check still runs even when no shorter timeout is
// advertised by the reactor itself.
func New(defaultTimeout time.Duration) *Poller {
	p := &Poller{
		be:    newBackend(),
		done:  make(chan struct{}),
		ready: make(chan struct{}, 1),
	}
	p.wg.Add(1)
	go p.loop(defaultTimeout)
	return p
}

func (p *Poller) loop(timeout time.Duration) {
	defer p.wg.Done()
	defer close(p.done)
	for {
		if p.closing.Load() {
			return
		}
		ready, err := p.be.wait(timeout)
		if p.closing.Load() {
			return
		}
		if err != nil {
			// A transient wait error (e.g. EINTR handled internally by the
			// backend already); treat as a non-event and retry.
			continue
		}
		if ready {
			select {
			case p.ready <- struct{}{}:
			default:
			}
		}
	}
}

// Ready is signaled whenever the backend descriptor became readable. The
// Event Loop Driver drains exactly one signal per wake-up.
func (p *Poller) Ready() <-chan struct{} { return p.ready }

// Unsupported reports the platform-init error when no real backend could
// be constructed, so the runtime can log it once at startup instead of
// silently degrading.
func (p *Poller) Unsupported() error {
	if u, ok := p.be.(*unsupportedBackend); ok {
		return u.err
	}
	return nil
}

// Notify wakes a blocked wait without closing the poller — used when a
// worker or native call registers new reactor-visible work.
func (p *Poller) Notify() { p.be.wake() }

// Close is the poller's shutdown step: set the close flag, wake the
// backend, and spin until the poller goroutine has acknowledged exit.
func (p *Poller) Close() {
	p.closing.Store(true)
	p.be.wake()
	<-p.done
	p.be.close()
	p.wg.Wait()
}
