// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

func TestShutdownRefusesWhileGroupsTracked(t *testing.T) {
	db := instancedb.New()
	_, err := db.AddGroup(instancedb.Group{Name: "cvd-1", HomeDir: t.TempDir()})
	require.NoError(t, err)

	h := &ShutdownHandler{DB: db, Clear: &ClearHandler{DB: db, Locks: NewLockRegistry()}}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"shutdown"}})
	resp := h.Handle(req)

	assert.Equal(t, protocol.FailedPrecondition, resp.Status.Code)
	assert.True(t, strings.Contains(resp.Status.Message, "devices are being tracked"))
}

func TestShutdownWithClearStopsServer(t *testing.T) {
	db := instancedb.New()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "stop_cvd", 0)
	_, err := db.AddGroup(instancedb.Group{Name: "cvd-1", HomeDir: t.TempDir(), HostArtifactsDir: hostDir})
	require.NoError(t, err)

	stopped := make(chan struct{})
	h := &ShutdownHandler{
		DB:    db,
		Clear: &ClearHandler{DB: db, Locks: NewLockRegistry()},
		StopServer: func() {
			close(stopped)
		},
	}

	req := noStdioRequest(protocol.CommandRequest{Args: []string{"shutdown"}})
	req.Shutdown = &protocol.ShutdownRequest{Clear: true}

	resp := h.Handle(req)
	require.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)
	require.NotNil(t, resp.Shutdown)
	assert.Empty(t, db.AllGroups())

	select {
	case <-stopped:
	case <-timeoutAfterShort():
		t.Fatal("StopServer was not invoked")
	}
}
