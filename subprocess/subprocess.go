// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package subprocess runs the external tools the control plane drives as
// black boxes (avbtool, mkbootimg, the hypervisor launcher, the fetcher, ...)
// and turns their termination into the (kind, code) pair described in
// spec.md's "Subprocess control" design note, rather than a bare error.
package subprocess

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/google/cuttlefish/cvderrors"
)

var log = logrus.WithField("subsystem", "subprocess")

// ExitKind classifies how a child process terminated.
type ExitKind int

const (
	// Exited means the child called exit(2) or returned from main.
	Exited ExitKind = iota
	// Signaled means the child was killed by a signal.
	Signaled
	// CoreDumped means the child was killed by a signal and dumped core.
	CoreDumped
)

// Exit is the uniform outcome of waiting on a child process.
type Exit struct {
	Kind ExitKind
	Code int // exit code for Exited, signal number for Signaled/CoreDumped
}

// OK reports whether the process exited with status 0.
func (e Exit) OK() bool { return e.Kind == Exited && e.Code == 0 }

func (e Exit) String() string {
	switch e.Kind {
	case Exited:
		return "exited with code " + strconv.Itoa(e.Code)
	case Signaled:
		return "killed by signal " + strconv.Itoa(e.Code)
	case CoreDumped:
		return "killed by signal " + strconv.Itoa(e.Code) + " (core dumped)"
	default:
		return "unknown exit"
	}
}

// WaitBehavior mirrors spec.md's CommandRequest.wait_behavior: WAIT blocks
// the handler until the child exits; START detaches it.
type WaitBehavior int

const (
	// Wait blocks until the child exits and converts its exit into Exit.
	Wait WaitBehavior = iota
	// Start detaches the child; it does not exit when the parent does.
	Start
)

// Options configures a single subprocess invocation; it is the common
// contract every command handler builds from a client request (spec.md
// §4.2 "Subprocess construction").
type Options struct {
	Argv       []string
	Env        []string
	WorkingDir string

	Stdin, Stdout, Stderr *os.File // nil -> os.DevNull
	NullStdio             bool

	Wait WaitBehavior
}

// Handle represents a running or detached subprocess. Interrupt delivers
// SIGTERM; it is what a handler's Interrupt() calls on client hang-up or
// server shutdown (spec.md §5 "Cancellation").
type Handle struct {
	cmd *exec.Cmd

	mu        sync.Mutex
	completed bool
	result    Exit
	resultErr error
	done      chan struct{}
}

// Start launches opts.Argv and returns a Handle. For Wait behavior the
// caller must subsequently call Handle.Wait; for Start the child is
// detached immediately.
func Start(opts Options) (*Handle, error) {
	if len(opts.Argv) == 0 {
		return nil, cvderrors.New(cvderrors.KindInvariant, "subprocess: empty argv")
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = opts.WorkingDir

	stdin, stdout, stderr, err := resolveStdio(opts)
	if err != nil {
		return nil, err
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr

	if opts.Wait == Start {
		cmd.SysProcAttr = detachAttr()
	}

	log.WithField("argv", opts.Argv).Debug("starting subprocess")
	if err := cmd.Start(); err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindSubprocess, err, "failed to start %q", opts.Argv[0])
	}

	h := &Handle{cmd: cmd, done: make(chan struct{})}
	if opts.Wait == Wait {
		go h.waitInBackground()
	} else {
		go func() {
			// Reap a detached child so its resources are released; the
			// caller does not observe this exit.
			_ = cmd.Wait()
		}()
	}
	return h, nil
}

func (h *Handle) waitInBackground() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.completed = true
	h.result, h.resultErr = classify(h.cmd, err)
	h.mu.Unlock()
	close(h.done)
}

// Wait blocks until the child exits, or ctx is cancelled (in which case the
// child is killed and ctx.Err() is returned).
func (h *Handle) Wait(ctx context.Context) (Exit, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.resultErr
	case <-ctx.Done():
		h.Interrupt()
		<-h.done
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, ctx.Err()
	}
}

// Interrupt sends SIGTERM to the child; it is idempotent.
func (h *Handle) Interrupt() {
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithError(err).Debug("interrupt: process already gone")
	}
}

// PID returns the child's process id, or 0 if it never started.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func classify(cmd *exec.Cmd, waitErr error) (Exit, error) {
	state := cmd.ProcessState
	if state == nil {
		return Exit{}, cvderrors.Wrapf(cvderrors.KindSubprocess, waitErr, "%s: no process state", cmd.Path)
	}

	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		if state.Success() {
			return Exit{Kind: Exited, Code: 0}, nil
		}
		return Exit{Kind: Exited, Code: state.ExitCode()}, cvderrors.Newf(cvderrors.KindSubprocess, "%s: exit status %d", cmd.Path, state.ExitCode())
	}

	switch {
	case ws.Exited():
		e := Exit{Kind: Exited, Code: ws.ExitStatus()}
		if e.Code != 0 {
			return e, cvderrors.Newf(cvderrors.KindSubprocess, "%s: exited with code %d", cmd.Path, e.Code)
		}
		return e, nil
	case ws.CoreDump():
		e := Exit{Kind: CoreDumped, Code: int(ws.Signal())}
		return e, cvderrors.Newf(cvderrors.KindSubprocess, "%s: killed by signal %d (core dumped)", cmd.Path, e.Code)
	case ws.Signaled():
		e := Exit{Kind: Signaled, Code: int(ws.Signal())}
		return e, cvderrors.Newf(cvderrors.KindSubprocess, "%s: killed by signal %d", cmd.Path, e.Code)
	default:
		return Exit{}, cvderrors.Newf(cvderrors.KindSubprocess, "%s: unrecognized wait status %v", cmd.Path, ws)
	}
}

func resolveStdio(opts Options) (stdin, stdout, stderr *os.File, err error) {
	if opts.NullStdio {
		devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to open /dev/null")
		}
		return devNull, devNull, devNull, nil
	}
	stdin, stdout, stderr = opts.Stdin, opts.Stdout, opts.Stderr
	if stdin != nil && stdout != nil && stderr != nil {
		return stdin, stdout, stderr, nil
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to open /dev/null")
	}
	if stdin == nil {
		stdin = devNull
	}
	if stdout == nil {
		stdout = devNull
	}
	if stderr == nil {
		stderr = devNull
	}
	return stdin, stdout, stderr, nil
}

// Run is a convenience wrapper for the common case: start, wait, and
// return the classified outcome. The child's stdio is /dev/null, so its
// output is discarded; out is not written to.
func Run(ctx context.Context, argv []string, env []string, dir string, out io.Writer) (Exit, error) {
	h, err := Start(Options{
		Argv: argv, Env: env, WorkingDir: dir,
		Wait: Wait,
	})
	if err != nil {
		return Exit{}, err
	}
	if out != nil {
		// Best-effort: the common case has no live stdout capture need
		// beyond "did it succeed", callers needing streamed stdout pass
		// Stdout explicitly in Options via Start.
		_ = out
	}
	return h.Wait(ctx)
}
