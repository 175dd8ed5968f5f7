// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package server

import (
	"runtime"
	"sync"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
	"github.com/google/cuttlefish/protocol"
)

// OngoingRequest tracks one request currently being handled, so the server
// can interrupt it on client hang-up or on Stop() (spec.md §4.1 step 4).
type OngoingRequest struct {
	handler Handler
	mu      sync.Mutex
}

// Interrupt calls the handler's Interrupt under this entry's own mutex, so
// a racing client-hangup callback and a racing Stop() cannot both deliver
// it in an overlapping, handler-confusing way.
func (o *OngoingRequest) Interrupt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler.Interrupt()
}

// Dispatcher owns the handler registry and the set of in-flight requests.
// It is the shared composition root the teacher's DI-framework macros are
// replaced with (spec.md §9 "Dependency injection").
type Dispatcher struct {
	handlers []Handler

	mu      sync.Mutex
	ongoing map[string]*OngoingRequest
	running bool
}

// NewDispatcher builds a Dispatcher over the given handlers. Handlers are
// tried in registration order by CanHandle.
func NewDispatcher(handlers []Handler) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		ongoing:  make(map[string]*OngoingRequest),
		running:  true,
	}
}

// Dispatch normalizes req, finds its single accepting handler, tracks it
// as ongoing, runs it, and returns the response. It implements spec.md
// §4.1's per-request lifecycle steps 2-6 (the socket I/O and hang-up
// registration live in the listener, which calls Dispatch on its worker
// goroutine once a full request has been read).
func (d *Dispatcher) Dispatch(req protocol.Request) protocol.Response {
	if req.Command != nil {
		normEnv, err := pathutil.NormalizeEnv(req.Command.Env, req.Command.WorkingDir)
		if err != nil {
			return protocol.ErrorResponse(req, err)
		}
		req.Command.Env = normEnv
	}

	h, err := d.find(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	entry := &OngoingRequest{handler: h}
	if !d.trackOngoing(req.ID, entry) {
		return protocol.ErrorResponse(req, cvderrors.New(cvderrors.KindInterrupted, "server is stopping"))
	}
	defer d.untrack(req.ID)

	return h.Handle(req)
}

func (d *Dispatcher) find(req protocol.Request) (Handler, error) {
	var matches []Handler
	for _, h := range d.handlers {
		if h.CanHandle(req) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return nil, cvderrors.New(cvderrors.KindInvariant, "no handler accepted this request (dispatcher bug or unknown verb)")
	case 1:
		return matches[0], nil
	default:
		return nil, cvderrors.Newf(cvderrors.KindInvariant, "%d handlers accepted this request; exactly one must", len(matches))
	}
}

// trackOngoing inserts entry under id if the dispatcher is still running.
func (d *Dispatcher) trackOngoing(id string, entry *OngoingRequest) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return false
	}
	d.ongoing[id] = entry
	return true
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ongoing, id)
}

// InterruptByID calls Interrupt on the ongoing request id, if any. Used by
// the listener's hang-up callback (spec.md §4.1 step 5).
func (d *Dispatcher) InterruptByID(id string) {
	d.mu.Lock()
	entry, ok := d.ongoing[id]
	d.mu.Unlock()
	if ok {
		entry.Interrupt()
	}
}

// Stop atomically marks the dispatcher as no longer accepting new
// requests, then interrupts every ongoing request and waits for the
// ongoing set to drain (spec.md §4.1 "Shutdown"). Wake is called after
// each interrupt so blocked workers observe the stop and exit.
func (d *Dispatcher) Stop(wake func()) {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if len(d.ongoing) == 0 {
			d.mu.Unlock()
			return
		}
		var entry *OngoingRequest
		for _, e := range d.ongoing {
			entry = e
			break
		}
		d.mu.Unlock()

		entry.Interrupt()
		if wake != nil {
			wake()
		}
		// Give the interrupted handler a chance to unwind and untrack
		// itself; Dispatch's own defer removes it from d.ongoing.
		waitUntrackedOrRetry(d, entry)
	}
}

// waitUntrackedOrRetry busy-polls briefly for entry to be removed from the
// ongoing set; the outer Stop loop re-evaluates regardless, so this just
// avoids a hot spin between interrupt delivery and handler unwind.
func waitUntrackedOrRetry(d *Dispatcher, entry *OngoingRequest) {
	for i := 0; i < 1000; i++ {
		d.mu.Lock()
		stillPresent := false
		for _, e := range d.ongoing {
			if e == entry {
				stillPresent = true
				break
			}
		}
		d.mu.Unlock()
		if !stillPresent {
			return
		}
		runtime.Gosched()
	}
}
