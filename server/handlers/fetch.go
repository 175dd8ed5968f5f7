// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"context"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/protocol"
	"github.com/google/cuttlefish/subprocess"
)

// FetchHandler implements the `fetch`/`fetch_cvd` verb (spec.md §4.2):
// spawn the artifact fetcher with the request's own argv, with no group
// selection since fetching artifacts precedes any group existing.
type FetchHandler struct {
	procs *procTracker
}

// NewFetchHandler wires a ready-to-use FetchHandler.
func NewFetchHandler() *FetchHandler { return &FetchHandler{procs: newProcTracker()} }

func (h *FetchHandler) CanHandle(req protocol.Request) bool {
	return matchesVerb(req, "fetch", "fetch_cvd")
}
func (h *FetchHandler) CmdList() []string { return []string{"fetch", "fetch_cvd"} }

func (h *FetchHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	argv := append([]string{"fetch_cvd"}, cmd.Args[1:]...)
	handle, err := subprocess.Start(subprocess.Options{
		Argv:       argv,
		Env:        cmd.Env,
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
		return protocol.ErrorResponse(req, cvderrors.Newf(cvderrors.KindSubprocess, "fetch_cvd %s", exit))
	}

	resp := protocol.OKResponse(req)
	resp.Command = &protocol.CommandResponse{ExitCode: exit.Code}
	return resp
}

func (h *FetchHandler) Interrupt() { h.procs.interruptAll() }

func (h *FetchHandler) SummaryHelp() string { return "Fetch device build artifacts" }
func (h *FetchHandler) DetailedHelp(args []string) string {
	return "fetch: spawn the artifact fetcher with this request's own arguments"
}
func (h *FetchHandler) ShouldInterceptHelp() bool { return true }
