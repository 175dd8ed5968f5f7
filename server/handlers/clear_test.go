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

func TestClearHandlerRemovesGroupsAndHomes(t *testing.T) {
	db := instancedb.New()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "stop_cvd", 0)
	home := t.TempDir()

	_, err := db.AddGroup(instancedb.Group{
		Name:             "cvd-1",
		HomeDir:          home,
		HostArtifactsDir: hostDir,
		Instances:        []instancedb.Instance{{ID: 1, Name: "1", State: instancedb.Running}},
	})
	require.NoError(t, err)

	h := &ClearHandler{DB: db, Locks: NewLockRegistry()}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"clear"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)
	assert.Empty(t, db.AllGroups())
	_, statErr := os.Stat(home)
	assert.True(t, os.IsNotExist(statErr))
}

func TestClearHandlerAccumulatesFailuresAcrossGroups(t *testing.T) {
	db := instancedb.New()
	badHost := t.TempDir()
	writeFakeTool(t, badHost, "stop_cvd", 1)
	goodHost := t.TempDir()
	writeFakeTool(t, goodHost, "stop_cvd", 0)

	_, err := db.AddGroup(instancedb.Group{
		Name: "cvd-bad", HomeDir: t.TempDir(), HostArtifactsDir: badHost,
		Instances: []instancedb.Instance{{ID: 1, Name: "1", State: instancedb.Running}},
	})
	require.NoError(t, err)
	_, err = db.AddGroup(instancedb.Group{
		Name: "cvd-good", HomeDir: t.TempDir(), HostArtifactsDir: goodHost,
		Instances: []instancedb.Instance{{ID: 2, Name: "2", State: instancedb.Running}},
	})
	require.NoError(t, err)

	h := &ClearHandler{DB: db, Locks: NewLockRegistry()}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"clear"}})
	resp := h.Handle(req)

	// Both groups are torn down regardless of the first's failure.
	assert.Empty(t, db.AllGroups())
	assert.NotEqual(t, protocol.OK, resp.Status.Code)
}
