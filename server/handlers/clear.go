// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"context"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
	"github.com/google/cuttlefish/subprocess"
)

// ClearHandler implements the `clear` verb (spec.md §4.2): stop every
// group, release its locks, empty the database, and remove the per-group
// home artifacts.
type ClearHandler struct {
	DB    *instancedb.DB
	Locks *LockRegistry
}

func (h *ClearHandler) CanHandle(req protocol.Request) bool { return matchesVerb(req, "clear") }
func (h *ClearHandler) CmdList() []string                   { return []string{"clear"} }

func (h *ClearHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}

	groups := h.DB.Clear()

	// Every group is torn down regardless of an earlier one's failure; the
	// accumulated errors are reported together rather than abandoning the
	// remaining groups half-cleared.
	var result *multierror.Error
	for _, g := range groups {
		argv := []string{hostTool(g, "stop_cvd"), "--clear_instance_dirs"}
		handle, startErr := subprocess.Start(subprocess.Options{
			Argv:       argv,
			Env:        injectConfigEnv(cmd.Env, g),
			WorkingDir: cmd.WorkingDir,
			Stdin:      stdin,
			Stdout:     stdout,
			Stderr:     stderr,
			Wait:       subprocess.Wait,
		})
		if startErr != nil {
			result = multierror.Append(result, cvderrors.Wrapf(cvderrors.KindSubprocess, startErr, "group %q: failed to spawn stopper", g.Name))
		} else if _, waitErr := handle.Wait(context.Background()); waitErr != nil {
			result = multierror.Append(result, cvderrors.Wrapf(cvderrors.KindSubprocess, waitErr, "group %q: stopper exited non-zero", g.Name))
		}

		for _, inst := range g.Instances {
			h.Locks.Release(inst.ID)
		}
		if g.HomeDir != "" {
			if err := os.RemoveAll(g.HomeDir); err != nil {
				result = multierror.Append(result, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "group %q: failed to remove home %q", g.Name, g.HomeDir))
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return protocol.ErrorResponse(req, cvderrors.Wrap(cvderrors.KindFilesystem, err, "clear did not fully succeed"))
	}
	return protocol.OKResponse(req)
}

func (h *ClearHandler) Interrupt() {}

func (h *ClearHandler) SummaryHelp() string { return "Stop and remove every instance group" }
func (h *ClearHandler) DetailedHelp(args []string) string {
	return "clear: stop every group, release its locks, and remove its home artifacts"
}
func (h *ClearHandler) ShouldInterceptHelp() bool { return false }
