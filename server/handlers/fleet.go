// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

// FleetHandler implements the `fleet` verb (spec.md §4.2): a structured
// listing of every group and instance, as a JSON array by default; a
// tabular rendering is returned instead only when the request passes
// --json=false and the daemon's own stdin is a terminal.
type FleetHandler struct {
	DB *instancedb.DB
}

func (h *FleetHandler) CanHandle(req protocol.Request) bool { return matchesVerb(req, "fleet") }
func (h *FleetHandler) CmdList() []string                   { return []string{"fleet"} }

func (h *FleetHandler) Handle(req protocol.Request) protocol.Response {
	groups := h.DB.AllGroups()

	flags := parseFlags(req.Command.Args[1:])
	if flags["json"] == "false" && stdinIsTTY() {
		resp := protocol.OKResponse(req)
		resp.Status.Message = renderFleetTable(groups)
		return resp
	}

	body, err := json.Marshal(groups)
	if err != nil {
		return protocol.ErrorResponse(req, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to marshal fleet listing"))
	}
	resp := protocol.OKResponse(req)
	resp.Status.Message = string(body)
	return resp
}

func renderFleetTable(groups []instancedb.Group) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-6s %-10s %s\n", "GROUP", "ID", "STATE", "HOME")
	for _, g := range groups {
		for _, inst := range g.Instances {
			fmt.Fprintf(&b, "%-16s %-6d %-10s %s\n", g.Name, inst.ID, inst.State, g.HomeDir)
		}
	}
	return b.String()
}

func (h *FleetHandler) Interrupt() {}

func (h *FleetHandler) SummaryHelp() string { return "List instance groups" }
func (h *FleetHandler) DetailedHelp(args []string) string {
	return "fleet: list every instance group and instance as a JSON array"
}
func (h *FleetHandler) ShouldInterceptHelp() bool { return true }
