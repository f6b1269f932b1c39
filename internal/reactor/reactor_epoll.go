//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend implements backend for epoll-capable OSes: register the
// backend fd for level-triggered read, then epoll_wait with the reactor
// timeout. Kestrel has no native reactor fd of its own, so this backend
// polls an eventfd that Notify/wake writes to — a dummy async event used
// to wake the poller deterministically.
type epollBackend struct {
	epfd    int
	eventfd int
}

func newBackend() backend {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return &unsupportedBackend{err: fmt.Errorf("epoll_create1: %w", err)}
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return &unsupportedBackend{err: fmt.Errorf("eventfd: %w", err)}
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd),
	}); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return &unsupportedBackend{err: fmt.Errorf("epoll_ctl: %w", err)}
	}
	return &epollBackend{epfd: epfd, eventfd: efd}
}

func (b *epollBackend) wait(timeout time.Duration) (bool, error) {
	var events [1]unix.EpollEvent
	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(b.epfd, events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	// Drain the eventfd counter so level-triggered readiness doesn't
	// immediately re-fire.
	var buf [8]byte
	_, _ = unix.Read(b.eventfd, buf[:])
	return true, nil
}

func (b *epollBackend) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(b.eventfd, buf[:])
}

func (b *epollBackend) close() {
	unix.Close(b.eventfd)
	unix.Close(b.epfd)
}
