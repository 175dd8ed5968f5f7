// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package server

import (
	"encoding/json"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

// WorkerCount is the fixed size of the worker pool (spec.md §4.1
// "Parallel worker threads (fixed pool, ~10)").
const WorkerCount = 10

// Config wires a Server's dependencies together; this is the explicit
// composition root spec.md §9 asks for in place of a DI framework.
type Config struct {
	SocketPath string
	Handlers   []Handler
	DB         *instancedb.DB
}

// Server owns the event loop, the listening socket, the handler registry,
// and the ongoing-request set. It is the control-plane daemon of spec.md
// §4.1.
type Server struct {
	loop       *EventLoop
	dispatcher *Dispatcher
	db         *instancedb.DB
	socketPath string
	listenFD   int

	wg      sync.WaitGroup
	stopped chan struct{}
}

// New constructs a Server from cfg. If INTERNAL_server_fd is present among
// os.Args (the self-replacement exec-handoff flag, spec.md §6), the
// existing listening socket is adopted instead of creating a new one.
func New(cfg Config) (*Server, error) {
	loop, err := NewEventLoop()
	if err != nil {
		return nil, err
	}

	listenFD, adoptedFromCarryover, err := resolveListenFD(cfg.SocketPath)
	if err != nil {
		loop.Close()
		return nil, err
	}

	if adoptedFromCarryover {
		if err := RestoreFromCarryover(cfg.DB); err != nil {
			loop.Close()
			return nil, err
		}
	}

	s := &Server{
		loop:       loop,
		dispatcher: NewDispatcher(cfg.Handlers),
		db:         cfg.DB,
		socketPath: cfg.SocketPath,
		listenFD:   listenFD,
		stopped:    make(chan struct{}),
	}

	if adoptedFromCarryover {
		if err := s.finishCarryoverHandshake(); err != nil {
			log.WithError(err).Warn("carryover handshake failed")
		}
	}

	return s, nil
}

// Serve starts the worker pool and the accept loop and blocks until Stop
// is called.
func (s *Server) Serve() error {
	if err := s.loop.Register(s.listenFD, unix.EPOLLIN, s.onListenerReadable); err != nil {
		return err
	}

	for i := 0; i < WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) workerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopped:
			return
		default:
		}
		if err := s.loop.HandleEvent(); err != nil {
			log.WithError(err).Warn("event loop error")
		}
	}
}

// onListenerReadable accepts one client and re-arms the listener for the
// next connection; it then registers a read callback for the new client.
func (s *Server) onListenerReadable(fd int, _ uint32) error {
	defer func() {
		_ = s.loop.Rearm(s.listenFD, unix.EPOLLIN, s.onListenerReadable)
	}()

	c, err := acceptClient(s.listenFD)
	if err != nil {
		log.WithError(err).Debug("accept failed")
		return nil
	}

	return s.loop.Register(c.fd, unix.EPOLLIN, s.makeClientCallback(c))
}

// makeClientCallback returns a Callback that reads one request from c,
// dispatches it, writes the response, then re-registers itself for the
// client's next request (spec.md §4.1 per-request lifecycle).
func (s *Server) makeClientCallback(c *client) Callback {
	return func(fd int, _ uint32) error {
		req, err := readRequest(c)
		if err != nil {
			s.closeClient(c)
			return err
		}

		// Handler execution below blocks synchronously, so the client
		// fd carries no read registration for its duration. Register a
		// one-shot hang-up watcher for that window so a mid-request
		// disconnect still interrupts the handler (spec.md §4.1 step 5,
		// §8 "Client hang-up mid-subprocess"). The watcher is removed
		// again once Dispatch returns, whether or not it fired.
		if err := s.loop.Rearm(c.fd, unix.EPOLLHUP, s.makeHangupCallback(req.ID)); err != nil {
			log.WithError(err).Debug("failed to register hang-up watcher")
		}

		resp := s.dispatcher.Dispatch(req)
		_ = s.loop.Remove(c.fd)

		if err := writeResponseToClient(c, resp); err != nil {
			log.WithError(err).Debug("failed to write response")
			s.closeClient(c)
			return err
		}

		if err := s.loop.Register(c.fd, unix.EPOLLIN, s.makeClientCallback(c)); err != nil {
			s.closeClient(c)
			return err
		}
		return nil
	}
}

// makeHangupCallback returns a one-shot Callback that interrupts the
// request named by id if the client fd reports EPOLLHUP while that request
// is still being dispatched (spec.md §4.1 step 5).
func (s *Server) makeHangupCallback(id string) Callback {
	return func(fd int, _ uint32) error {
		s.dispatcher.InterruptByID(id)
		return nil
	}
}

func (s *Server) closeClient(c *client) {
	_ = s.loop.Remove(c.fd)
	c.closeStdio()
	unix.Close(c.fd)
}

func writeResponseToClient(c *client, resp protocol.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to marshal response")
	}
	frame := make([]byte, 4+len(body))
	frame[0] = byte(len(body) >> 24)
	frame[1] = byte(len(body) >> 16)
	frame[2] = byte(len(body) >> 8)
	frame[3] = byte(len(body))
	copy(frame[4:], body)
	_, err = unix.Write(c.fd, frame)
	return err
}

// Stop performs an orderly shutdown (spec.md §4.1 "Shutdown"): it stops
// accepting the dispatcher's work, interrupts every ongoing request, wakes
// blocked workers, and waits for all of them to observe the stop flag and
// return.
func (s *Server) Stop() {
	s.dispatcher.Stop(s.loop.Wake)
	close(s.stopped)
	s.loop.Wake()
	s.wg.Wait()
	_ = s.loop.Remove(s.listenFD)
	unix.Close(s.listenFD)
	s.loop.Close()
}

// resolveListenFD either creates a fresh listening socket at path, or, if
// the process was exec'd as part of self-replacement (spec.md §4.1
// "Self-replacement"), adopts the inherited fd named by
// --INTERNAL_server_fd.
func resolveListenFD(path string) (fd int, adopted bool, err error) {
	if n, ok := findIntFlag(os.Args, "--INTERNAL_server_fd"); ok {
		return n, true, nil
	}
	fd, err = listen(path)
	return fd, false, err
}

func findIntFlag(args []string, name string) (int, bool) {
	prefix := name + "="
	for _, a := range args {
		if len(a) > len(prefix) && a[:len(prefix)] == prefix {
			n := 0
			for _, r := range a[len(prefix):] {
				if r < '0' || r > '9' {
					return 0, false
				}
				n = n*10 + int(r-'0')
			}
			return n, true
		}
	}
	return 0, false
}
