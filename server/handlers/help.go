// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"strings"

	"github.com/google/cuttlefish/protocol"
)

// HelpHandler implements the `help` verb (spec.md §4.2): a bare `help`
// prints a one-line summary per registered verb; `help <verb>` defers to
// that verb's own DetailedHelp.
type HelpHandler struct {
	All []HelpSource
}

// HelpSource is the subset of server.Handler the help verb needs; kept
// separate from server.Handler to avoid handlers importing server.
type HelpSource interface {
	CmdList() []string
	SummaryHelp() string
	DetailedHelp(args []string) string
}

func (h *HelpHandler) CanHandle(req protocol.Request) bool { return matchesVerb(req, "help") }
func (h *HelpHandler) CmdList() []string                   { return []string{"help"} }

func (h *HelpHandler) Handle(req protocol.Request) protocol.Response {
	resp := protocol.OKResponse(req)
	args := req.Command.Args[1:]
	if len(args) == 0 {
		resp.Status.Message = h.summary()
		return resp
	}

	verb := args[0]
	for _, src := range h.All {
		for _, v := range src.CmdList() {
			if v == verb {
				resp.Status.Message = src.DetailedHelp(args[1:])
				return resp
			}
		}
	}
	resp.Status.Message = "unknown verb: " + verb
	return resp
}

func (h *HelpHandler) summary() string {
	var b strings.Builder
	b.WriteString("cvd: Cuttlefish virtual device orchestrator\n\n")
	seen := map[string]bool{}
	for _, src := range h.All {
		verbs := src.CmdList()
		if len(verbs) == 0 || seen[verbs[0]] {
			continue
		}
		seen[verbs[0]] = true
		b.WriteString("  ")
		b.WriteString(strings.Join(verbs, ", "))
		b.WriteString("\t")
		b.WriteString(src.SummaryHelp())
		b.WriteString("\n")
	}
	return b.String()
}

func (h *HelpHandler) Interrupt()                          {}
func (h *HelpHandler) SummaryHelp() string                  { return "Print usage information" }
func (h *HelpHandler) DetailedHelp(args []string) string    { return "help [verb]: print a summary, or detailed help for one verb" }
func (h *HelpHandler) ShouldInterceptHelp() bool            { return true }
