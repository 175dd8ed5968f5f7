// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"strconv"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/instancelock"
	"github.com/google/cuttlefish/protocol"
	"github.com/google/cuttlefish/subprocess"
)

// defaultLockScan bounds how far TryAcquireUnusedLock searches when the
// caller did not pin an instance id (spec.md §4.4 scans "lowest-first");
// real device fleets never approach this, so it is a practical bound, not
// the theoretical [1, 2^31) range instancelock.MaxInstanceID allows.
const defaultLockScan = 64

// Pipeline runs the disk assembly pipeline for a freshly-inserted group,
// returning an error if image assembly fails (spec.md §4.5). It is
// injected rather than constructed here so StartHandler stays testable
// without real boot/vendor-boot/vbmeta inputs; the composition root wires
// the actual assembly.Runner invocation.
type Pipeline func(g instancedb.Group) error

// StartHandler implements the `start`/`launch_cvd` verb (spec.md §4.2).
type StartHandler struct {
	DB       *instancedb.DB
	Locks    *LockRegistry
	Pipeline Pipeline // may be nil: no assembly step is run
}

// NewStartHandler wires a ready-to-use StartHandler.
func NewStartHandler(db *instancedb.DB, locks *LockRegistry, pipeline Pipeline) *StartHandler {
	return &StartHandler{DB: db, Locks: locks, Pipeline: pipeline}
}

func (h *StartHandler) CanHandle(req protocol.Request) bool {
	return matchesVerb(req, "start", "launch_cvd")
}
func (h *StartHandler) CmdList() []string { return []string{"start", "launch_cvd"} }

func (h *StartHandler) Handle(req protocol.Request) protocol.Response {
	cmd := req.Command
	flags := parseFlags(cmd.Args[1:])

	holder, err := h.acquireLock(flags)
	if err != nil {
		return protocol.ErrorResponse(req, err)
	}
	if err := holder.SetStatus(instancelock.Acquired); err != nil {
		holder.Release()
		return protocol.ErrorResponse(req, err)
	}

	home := lookupEnv(cmd.Env, "HOME")
	hostOut := lookupEnv(cmd.Env, "ANDROID_HOST_OUT")

	instName := strconv.Itoa(holder.ID())
	g := instancedb.Group{
		Name:             flags["group_name"],
		HomeDir:          home,
		HostArtifactsDir: hostOut,
		Instances:        []instancedb.Instance{{ID: holder.ID(), Name: instName, State: instancedb.Starting}},
	}

	stored, err := h.DB.AddGroup(g)
	if err != nil {
		holder.Release()
		return protocol.ErrorResponse(req, err)
	}
	h.Locks.Track(holder)

	if h.Pipeline != nil {
		if err := h.Pipeline(stored); err != nil {
			h.rollback(stored.Name, holder.ID())
			return protocol.ErrorResponse(req, err)
		}
	}

	if err := h.launch(req, stored); err != nil {
		h.rollback(stored.Name, holder.ID())
		return protocol.ErrorResponse(req, err)
	}

	if err := h.DB.UpdateInstance(stored.Name, instancedb.Instance{ID: holder.ID(), Name: instName, State: instancedb.Running}); err != nil {
		return protocol.ErrorResponse(req, err)
	}

	return protocol.OKResponse(req)
}

func (h *StartHandler) acquireLock(flags map[string]string) (*instancelock.Holder, error) {
	if raw, ok := flags["instance_num"]; ok {
		id, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return nil, cvderrors.Newf(cvderrors.KindInvariant, "invalid --instance_num %q", raw)
		}
		return instancelock.TryAcquireLock(id)
	}
	return instancelock.TryAcquireUnusedLock(defaultLockScan)
}

// launch spawns the per-group hypervisor-side launcher, stdio pointed at
// the client (spec.md §4.2 "spawn the hypervisor-side launcher with stdio
// pointed at the client"). The launcher is long-lived for the device's
// entire session, so it is always detached: start only reports whether it
// came up, not how it eventually exits.
func (h *StartHandler) launch(req protocol.Request, g instancedb.Group) error {
	stdin, stdout, stderr, err := clientStdio(req)
	if err != nil {
		return err
	}

	argv := append([]string{hostTool(g, "launch_cvd")}, req.Command.Args[1:]...)
	_, err = subprocess.Start(subprocess.Options{
		Argv:       argv,
		Env:        injectConfigEnv(req.Command.Env, g),
		WorkingDir: req.Command.WorkingDir,
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		Wait:       subprocess.Start,
	})
	return err
}

func (h *StartHandler) rollback(groupName string, lockID int) {
	h.DB.RemoveGroup(groupName)
	h.Locks.Release(lockID)
}

// Interrupt is a no-op: start's own work (lock acquire, db insert, launch)
// completes quickly and synchronously, and the launched hypervisor outlives
// the request that spawned it.
func (h *StartHandler) Interrupt() {}

func (h *StartHandler) SummaryHelp() string {
	return "Start a new instance group"
}
func (h *StartHandler) DetailedHelp(args []string) string {
	return "start: allocate instance ids, build images if necessary, and launch the hypervisor"
}
func (h *StartHandler) ShouldInterceptHelp() bool { return false }
