// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package server

import (
	"github.com/google/cuttlefish/protocol"
)

// Handler is the contract every command handler implements (spec.md §4.2).
type Handler interface {
	// CanHandle reports whether this handler accepts req. Dispatch
	// requires exactly one handler to accept each request.
	CanHandle(req protocol.Request) bool

	// CmdList returns the verbs this handler accepts, for help text and
	// invocation-parser routing.
	CmdList() []string

	// Handle executes req and returns the response to send. It runs on
	// the worker goroutine that popped the request's readiness event,
	// and must not return until the work (or its cancellation) completes.
	Handle(req protocol.Request) protocol.Response

	// Interrupt asks an in-flight Handle call to terminate early. It is
	// called from a different goroutine than Handle and must be safe to
	// call concurrently with it, and safe to call multiple times.
	Interrupt()

	// SummaryHelp is a one-line description shown by the bare `help` verb.
	SummaryHelp() string

	// DetailedHelp is the full help text shown by `help <verb>`.
	DetailedHelp(args []string) string

	// ShouldInterceptHelp reports whether the server should answer
	// --help locally (true) or forward it to the underlying tool for
	// authoritative text (false).
	ShouldInterceptHelp() bool
}
