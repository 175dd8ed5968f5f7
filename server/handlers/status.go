// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"context"
	"strings"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
	"github.com/google/cuttlefish/subprocess"
)

// StatusHandler implements the `status`/`cvd_status` verb (spec.md §4.2):
// spawn the host-side status tool against every group the selector
// matches, rather than requiring it to narrow to exactly one.
type StatusHandler struct {
	DB    *instancedb.DB
	procs *procTracker
}

// NewStatusHandler wires a ready-to-use StatusHandler.
func NewStatusHandler(db *instancedb.DB) *StatusHandler {
	return &StatusHandler{DB: db, procs: newProcTracker()}
}

func (h *StatusHandler) CanHandle(req protocol.Request) bool {
	return matchesVerb(req, "status", "cvd_status")
}
func (h *StatusHandler) CmdList() []string { return []string{"status", "cvd_status"} }

func (h *StatusHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	q := buildSelectorQuery(cmd.SelectorOpts, cmd.Env)
	groups := h.DB.FindGroups(q)
	if len(groups) == 0 {
		return protocol.ErrorResponse(req, cvderrors.New(cvderrors.KindNotFound, "no instance group matches the given selector"))
	}

	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	var failures []string
	for _, g := range groups {
		argv := append([]string{hostTool(g, "cvd_status")}, cmd.Args[1:]...)
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
			failures = append(failures, g.Name+": "+err.Error())
			continue
		}
		h.procs.track(req.ID+"/"+g.Name, handle)
		exit, waitErr := handle.Wait(context.Background())
		h.procs.untrack(req.ID + "/" + g.Name)
		if waitErr != nil || !exit.OK() {
			failures = append(failures, g.Name+": "+exit.String())
		}
	}

	if len(failures) > 0 {
		return protocol.ErrorResponse(req, cvderrors.Newf(cvderrors.KindSubprocess, "status failed for: %s", strings.Join(failures, "; ")))
	}
	return protocol.OKResponse(req)
}

func (h *StatusHandler) Interrupt() { h.procs.interruptAll() }

func (h *StatusHandler) SummaryHelp() string { return "Query instance status" }
func (h *StatusHandler) DetailedHelp(args []string) string {
	return "status: spawn the host-side status tool against every group the selector matches"
}
func (h *StatusHandler) ShouldInterceptHelp() bool { return false }
