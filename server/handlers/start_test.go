// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

// withIsolatedRuntimeDir points instancelock's lockfile directory at a
// fresh temp dir, so start/stop tests never contend over real
// /tmp/cuttlefish_user_<uid> state left by other test runs.
func withIsolatedRuntimeDir(t *testing.T) {
	t.Helper()
	old, hadOld := os.LookupEnv("XDG_RUNTIME_DIR")
	require.NoError(t, os.Setenv("XDG_RUNTIME_DIR", t.TempDir()))
	t.Cleanup(func() {
		if hadOld {
			os.Setenv("XDG_RUNTIME_DIR", old)
		} else {
			os.Unsetenv("XDG_RUNTIME_DIR")
		}
	})
}

func TestStartHandlerAcquiresLockAndInsertsGroup(t *testing.T) {
	withIsolatedRuntimeDir(t)

	db := instancedb.New()
	locks := NewLockRegistry()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "launch_cvd", 0)
	home := t.TempDir()

	h := NewStartHandler(db, locks, nil)
	req := noStdioRequest(protocol.CommandRequest{
		Args: []string{"start", "--group_name=cvd-1"},
		Env:  []string{"HOME=" + home, "ANDROID_HOST_OUT=" + hostDir},
	})

	resp := h.Handle(req)
	require.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)

	groups := db.FindGroups(instancedb.Query{GroupName: "cvd-1"})
	require.Len(t, groups, 1)
	assert.Equal(t, instancedb.Running, groups[0].Instances[0].State)
	assert.Equal(t, home, groups[0].HomeDir)
}

func TestStartHandlerRollsBackOnPipelineFailure(t *testing.T) {
	withIsolatedRuntimeDir(t)

	db := instancedb.New()
	locks := NewLockRegistry()

	h := NewStartHandler(db, locks, func(g instancedb.Group) error {
		return assert.AnError
	})
	req := noStdioRequest(protocol.CommandRequest{
		Args: []string{"start", "--group_name=cvd-2"},
		Env:  []string{"HOME=" + t.TempDir()},
	})

	resp := h.Handle(req)
	assert.NotEqual(t, protocol.OK, resp.Status.Code)
	assert.Empty(t, db.FindGroups(instancedb.Query{GroupName: "cvd-2"}))
}
