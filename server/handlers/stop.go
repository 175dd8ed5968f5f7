// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"context"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
	"github.com/google/cuttlefish/subprocess"
)

// StopHandler implements the `stop`/`stop_cvd` verb (spec.md §4.2, §8
// scenario 3).
type StopHandler struct {
	DB    *instancedb.DB
	procs *procTracker
}

// NewStopHandler wires a ready-to-use StopHandler.
func NewStopHandler(db *instancedb.DB) *StopHandler {
	return &StopHandler{DB: db, procs: newProcTracker()}
}

func (h *StopHandler) CanHandle(req protocol.Request) bool {
	return matchesVerb(req, "stop", "stop_cvd")
}
func (h *StopHandler) CmdList() []string { return []string{"stop", "stop_cvd"} }

func (h *StopHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	g, err := selectGroup(h.DB, cmd.SelectorOpts, cmd.Env, stdinIsTTY())
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}
	if !hasRunningInstance(g) {
		return protocol.ErrorResponse(req, cvderrors.Newf(cvderrors.KindPrecondition, "group %q has no running instances", g.Name))
	}

	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	argv := append([]string{hostTool(g, "stop_cvd")}, cmd.Args[1:]...)
	handle, err := subprocess.Start(subprocess.Options{
		Argv:       argv,
		Env:        injectConfigEnv(cmd.Env, g),
		WorkingDir: cmd.WorkingDir,
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		Wait:       subprocess.Wait,
	})
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}
	h.procs.track(req.ID, handle)
	defer h.procs.untrack(req.ID)

	exit, waitErr := handle.Wait(context.Background())
	if waitErr != nil || !exit.OK() {
		return protocol.ErrorResponse(req, cvderrors.Newf(cvderrors.KindSubprocess, "stop_cvd for group %q %s", g.Name, exit))
	}

	for _, inst := range g.Instances {
		if inst.State != instancedb.Running {
			continue
		}
		inst.State = instancedb.Stopped
		if err := h.DB.UpdateInstance(g.Name, inst); err != nil {
			return protocol.ErrorResponse(req, err)
		}
	}

	resp := protocol.OKResponse(req)
	resp.Command = &protocol.CommandResponse{ExitCode: exit.Code}
	return resp
}

func hasRunningInstance(g instancedb.Group) bool {
	for _, inst := range g.Instances {
		if inst.State == instancedb.Running {
			return true
		}
	}
	return false
}

func (h *StopHandler) Interrupt() { h.procs.interruptAll() }

func (h *StopHandler) SummaryHelp() string { return "Stop a running instance group" }
func (h *StopHandler) DetailedHelp(args []string) string {
	return "stop: spawn the host-side stopper for the selected group and mark its instances STOPPED"
}
func (h *StopHandler) ShouldInterceptHelp() bool { return false }
