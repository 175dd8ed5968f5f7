// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

// ShutdownHandler implements the `shutdown` verb (spec.md §4.2, §8
// scenarios 1-2): refuse while groups are tracked, unless the request asks
// to clear them first.
type ShutdownHandler struct {
	DB    *instancedb.DB
	Clear *ClearHandler

	// StopServer terminates the daemon after a successful shutdown. It
	// runs on its own goroutine so Handle can return (and the dispatcher
	// can untrack this request) before Server.Stop blocks waiting for the
	// ongoing-request set to drain (spec.md §4.1 "Shutdown").
	StopServer func()
}

func (h *ShutdownHandler) CanHandle(req protocol.Request) bool { return matchesVerb(req, "shutdown") }
func (h *ShutdownHandler) CmdList() []string                   { return []string{"shutdown"} }

func (h *ShutdownHandler) Handle(req protocol.Request) protocol.Response {
	clear := req.Shutdown != nil && req.Shutdown.Clear

	if !clear && len(h.DB.AllGroups()) > 0 {
		return protocol.ErrorResponse(req, cvderrors.New(cvderrors.KindPrecondition,
			"devices are being tracked; shut down or clear them first"))
	}

	if clear {
		clearResp := h.Clear.Handle(req)
		if clearResp.Status.Code != protocol.OK {
			return clearResp
		}
	}

	if h.StopServer != nil {
		go h.StopServer()
	}

	resp := protocol.OKResponse(req)
	resp.Shutdown = &protocol.ShutdownResponse{}
	return resp
}

func (h *ShutdownHandler) Interrupt() {}

func (h *ShutdownHandler) SummaryHelp() string { return "Terminate the daemon" }
func (h *ShutdownHandler) DetailedHelp(args []string) string {
	return "shutdown: terminate the daemon if no groups exist (or after clearing, with clear=true)"
}
func (h *ShutdownHandler) ShouldInterceptHelp() bool { return true }
