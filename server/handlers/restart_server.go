// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"os"

	"github.com/google/cuttlefish/protocol"
)

// RestartServer terminates the current process image via the self-exec
// handoff (spec.md §4.1 "Self-replacement"). It is a function value rather
// than a server.Server reference directly, so this package never imports
// package server (mirroring HelpHandler's HelpSource seam).
type RestartServer func(newBinary string, carryoverClientFD int) error

// RestartServerHandler implements the `restart-server` verb (spec.md §4.1,
// §8 scenario 6).
type RestartServerHandler struct {
	Restart RestartServer
}

func (h *RestartServerHandler) CanHandle(req protocol.Request) bool {
	return matchesVerb(req, "restart-server")
}
func (h *RestartServerHandler) CmdList() []string { return []string{"restart-server"} }

func (h *RestartServerHandler) Handle(req protocol.Request) protocol.Response {
	args := req.Command.Args[1:]
	newBinary := currentExecutable()
	for _, a := range args {
		if a != "reuse-server" {
			newBinary = a
		}
	}

	// Restart only returns here on failure before exec (spec.md §4.1
	// "Failure at any step before exec is reported to the carry-over
	// client"); success replaces this process image entirely.
	if err := h.Restart(newBinary, req.ClientFD); err != nil {
		return protocol.ErrorResponse(req, err)
	}
	return protocol.OKResponse(req)
}

func currentExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

func (h *RestartServerHandler) Interrupt() {}

func (h *RestartServerHandler) SummaryHelp() string { return "Replace the running server process" }
func (h *RestartServerHandler) DetailedHelp(args []string) string {
	return "restart-server [reuse-server|<binary>]: serialize state, exec a new server process, and hand it the carry-over client"
}
func (h *RestartServerHandler) ShouldInterceptHelp() bool { return false }
