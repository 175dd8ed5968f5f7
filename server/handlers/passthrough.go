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

// GroupToolHandler implements a family of verbs that select a group and
// then pass the remaining arguments through to one of that group's
// host-artifacts binaries (spec.md §4.2: `host_bugreport`/
// `cvd_host_bugreport`, `display`, `env`).
type GroupToolHandler struct {
	DB    *instancedb.DB
	Verbs []string // CmdList(); Verbs[0] is also the host tool's name unless ToolName is set
	ToolName string
	Summary  string
	Detail   string
	procs    *procTracker
}

// NewGroupToolHandler wires a ready-to-use GroupToolHandler.
func NewGroupToolHandler(db *instancedb.DB, verbs []string, toolName, summary, detail string) *GroupToolHandler {
	return &GroupToolHandler{DB: db, Verbs: verbs, ToolName: toolName, Summary: summary, Detail: detail, procs: newProcTracker()}
}

func (h *GroupToolHandler) CanHandle(req protocol.Request) bool { return matchesVerb(req, h.Verbs...) }
func (h *GroupToolHandler) CmdList() []string                   { return h.Verbs }

func (h *GroupToolHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	g, err := selectGroup(h.DB, cmd.SelectorOpts, cmd.Env, stdinIsTTY())
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	argv := append([]string{hostTool(g, h.ToolName)}, cmd.Args[1:]...)
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
		return protocol.ErrorResponse(req, cvderrors.Newf(cvderrors.KindSubprocess, "%s %s", h.ToolName, exit))
	}
	resp := protocol.OKResponse(req)
	resp.Command = &protocol.CommandResponse{ExitCode: exit.Code}
	return resp
}

func (h *GroupToolHandler) Interrupt() { h.procs.interruptAll() }

func (h *GroupToolHandler) SummaryHelp() string               { return h.Summary }
func (h *GroupToolHandler) DetailedHelp(args []string) string { return h.Detail }
func (h *GroupToolHandler) ShouldInterceptHelp() bool          { return false }

// SystemToolHandler implements verbs that pass straight through to a
// system utility with no group selection at all (spec.md §4.2: `mkdir`,
// `ln`).
type SystemToolHandler struct {
	Verbs []string
	Path  string // absolute path or bare name resolved via PATH
	Summary, Detail string
	procs *procTracker
}

// NewSystemToolHandler wires a ready-to-use SystemToolHandler.
func NewSystemToolHandler(verbs []string, path, summary, detail string) *SystemToolHandler {
	return &SystemToolHandler{Verbs: verbs, Path: path, Summary: summary, Detail: detail, procs: newProcTracker()}
}

func (h *SystemToolHandler) CanHandle(req protocol.Request) bool { return matchesVerb(req, h.Verbs...) }
func (h *SystemToolHandler) CmdList() []string                   { return h.Verbs }

func (h *SystemToolHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	argv := append([]string{h.Path}, cmd.Args[1:]...)
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
		return protocol.ErrorResponse(req, cvderrors.Newf(cvderrors.KindSubprocess, "%s %s", h.Path, exit))
	}
	resp := protocol.OKResponse(req)
	resp.Command = &protocol.CommandResponse{ExitCode: exit.Code}
	return resp
}

func (h *SystemToolHandler) Interrupt() { h.procs.interruptAll() }

func (h *SystemToolHandler) SummaryHelp() string               { return h.Summary }
func (h *SystemToolHandler) DetailedHelp(args []string) string { return h.Detail }
func (h *SystemToolHandler) ShouldInterceptHelp() bool          { return false }
