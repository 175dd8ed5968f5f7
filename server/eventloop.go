// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package server implements the control-plane daemon: spec.md §4.1's
// event-driven dispatch loop, per-request lifecycle, ongoing-request
// tracking, orderly shutdown, and self-replacement.
package server

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/google/cuttlefish/cvderrors"
)

var log = logrus.WithField("subsystem", "server")

// Callback is invoked once, on whatever worker goroutine popped the
// readiness event, for the descriptor it was registered against. A
// callback that returns a non-nil error is not re-registered (spec.md
// §4.1 "Registration contract").
type Callback func(fd int, events uint32) error

// EventLoop is a one-shot epoll-backed readiness multiplexer shared by a
// fixed pool of worker goroutines. Registering a callback for fd is the
// serialization mechanism that prevents two workers from concurrently
// reading from the same client socket: epoll's EPOLLONESHOT ensures the
// kernel will not report fd again until it is re-armed, and this package
// additionally removes the Go-side callback entry before invoking it so a
// callback must explicitly re-register to keep receiving events.
type EventLoop struct {
	epfd int

	mu        sync.Mutex
	callbacks map[int]Callback

	// selfPipe is written to by wake() to unblock a worker blocked in
	// EpollWait when the server is stopping (spec.md §4.1 "a self-wakeup
	// trick posts an event-fd write so blocked workers see the flag").
	selfPipe int
}

// NewEventLoop creates an epoll instance and registers its own wakeup
// eventfd.
func NewEventLoop() (*EventLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to create epoll instance")
	}

	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to create wakeup eventfd")
	}

	el := &EventLoop{
		epfd:      epfd,
		callbacks: make(map[int]Callback),
		selfPipe:  efd,
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(efd)
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to register wakeup eventfd")
	}
	return el, nil
}

// Close releases the epoll instance and wakeup eventfd.
func (el *EventLoop) Close() error {
	unix.Close(el.selfPipe)
	return unix.Close(el.epfd)
}

// Register arms fd for events and associates callback with it. It fails if
// a callback is already registered for fd (spec.md §4.1).
func (el *EventLoop) Register(fd int, events uint32, cb Callback) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, exists := el.callbacks[fd]; exists {
		return cvderrors.Newf(cvderrors.KindInvariant, "fd %d already has a registered callback", fd)
	}

	op := unix.EPOLL_CTL_ADD
	ev := &unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(el.epfd, op, fd, ev); err != nil {
		return cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to register fd %d", fd)
	}
	el.callbacks[fd] = cb
	return nil
}

// Rearm re-registers callback for fd after a one-shot delivery, while fd is
// still in the epoll set (EPOLL_CTL_MOD). It fails for an fd that was never
// registered or has been removed; use Register for those.
func (el *EventLoop) Rearm(fd int, events uint32, cb Callback) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, exists := el.callbacks[fd]; exists {
		return cvderrors.Newf(cvderrors.KindInvariant, "fd %d already has a registered callback", fd)
	}
	ev := &unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(el.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to rearm fd %d", fd)
	}
	el.callbacks[fd] = cb
	return nil
}

// Remove removes both the OS-level registration and the callback table
// entry for fd.
func (el *EventLoop) Remove(fd int) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	delete(el.callbacks, fd)
	if err := unix.EpollCtl(el.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to remove fd %d", fd)
	}
	return nil
}

// HandleEvent blocks for one readiness event, moves its callback out of
// the table (so it will not be invoked twice concurrently), and invokes
// it. It returns nil if the wakeup eventfd fired (the caller should check
// its own stop condition) or if epoll_wait was interrupted by a signal.
func (el *EventLoop) HandleEvent() error {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(el.epfd, events[:], -1)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "epoll_wait failed")
	}
	if n == 0 {
		return nil
	}

	fd := int(events[0].Fd)
	if fd == el.selfPipe {
		drainEventfd(el.selfPipe)
		return nil
	}

	el.mu.Lock()
	cb, ok := el.callbacks[fd]
	if ok {
		delete(el.callbacks, fd)
	}
	el.mu.Unlock()

	if !ok {
		// Raced with a Remove; nothing to do.
		return nil
	}

	if err := cb(fd, events[0].Events); err != nil {
		log.WithError(err).WithField("fd", fd).Debug("callback returned error; not re-registering")
	}
	return nil
}

// Wake unblocks every worker currently inside EpollWait by writing to the
// shared wakeup eventfd.
func (el *EventLoop) Wake() {
	buf := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	if _, err := unix.Write(el.selfPipe, buf); err != nil {
		log.WithError(err).Debug("failed to write wakeup eventfd")
	}
}

func drainEventfd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
