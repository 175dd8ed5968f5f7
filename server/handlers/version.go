// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"fmt"

	"github.com/google/cuttlefish/protocol"
)

// BuildVersion is set at link time (-ldflags "-X ...BuildVersion=...");
// "dev" otherwise.
var BuildVersion = "dev"

// VersionHandler implements the `version` verb (spec.md §4.2).
type VersionHandler struct{}

func (h *VersionHandler) CanHandle(req protocol.Request) bool {
	return matchesVerb(req, "version")
}
func (h *VersionHandler) CmdList() []string { return []string{"version"} }

func (h *VersionHandler) Handle(req protocol.Request) protocol.Response {
	resp := protocol.OKResponse(req)
	resp.Status.Message = fmt.Sprintf("cvd_server %s", BuildVersion)
	return resp
}

func (h *VersionHandler) Interrupt()                     {}
func (h *VersionHandler) SummaryHelp() string             { return "Print the server version" }
func (h *VersionHandler) DetailedHelp(args []string) string {
	return "version: print the cvd_server build version and exit"
}
func (h *VersionHandler) ShouldInterceptHelp() bool { return true }

// matchesVerb is shared by every handler's CanHandle: accept req iff its
// first argument is one of verbs.
func matchesVerb(req protocol.Request, verbs ...string) bool {
	if req.Command == nil || len(req.Command.Args) == 0 {
		return false
	}
	first := req.Command.Args[0]
	for _, v := range verbs {
		if v == first {
			return true
		}
	}
	return false
}
