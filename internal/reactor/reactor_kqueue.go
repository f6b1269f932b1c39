//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueBackend implements backend for BSD-family kernels: wait on the
// backend fd with a converted timeout, retrying on interrupt. Kestrel
// uses kqueue (the Go-idiomatic equivalent here) rather than raw select,
// watching a self-pipe that Notify/wake writes a byte into.
type kqueueBackend struct {
	kq      int
	readFd  *os.File
	writeFd *os.File
}

func newBackend() backend {
	kq, err := unix.Kqueue()
	if err != nil {
		return &unsupportedBackend{err: fmt.Errorf("kqueue: %w", err)}
	}
	r, w, err := os.Pipe()
	if err != nil {
		unix.Close(kq)
		return &unsupportedBackend{err: fmt.Errorf("pipe: %w", err)}
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(r.Fd()),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(kq)
		r.Close()
		w.Close()
		return &unsupportedBackend{err: fmt.Errorf("kevent register: %w", err)}
	}
	return &kqueueBackend{kq: kq, readFd: r, writeFd: w}
}

func (b *kqueueBackend) wait(timeout time.Duration) (bool, error) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	events := make([]unix.Kevent_t, 1)
	n, err := unix.Kevent(b.kq, nil, events, &ts)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	buf := make([]byte, 64)
	_, _ = b.readFd.Read(buf)
	return true, nil
}

func (b *kqueueBackend) wake() {
	_, _ = b.writeFd.Write([]byte{0})
}

func (b *kqueueBackend) close() {
	unix.Close(b.kq)
	b.readFd.Close()
	b.writeFd.Close()
}
