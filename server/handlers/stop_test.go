// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

func seedRunningGroup(t *testing.T, db *instancedb.DB, name, hostArtifacts string) instancedb.Group {
	t.Helper()
	g, err := db.AddGroup(instancedb.Group{
		Name:             name,
		HomeDir:          t.TempDir(),
		HostArtifactsDir: hostArtifacts,
		Instances:        []instancedb.Instance{{ID: 1, Name: "1", State: instancedb.Running}},
	})
	require.NoError(t, err)
	return g
}

func TestStopHandlerStopsRunningGroup(t *testing.T) {
	db := instancedb.New()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "stop_cvd", 0)
	seedRunningGroup(t, db, "cvd-1", hostDir)

	h := NewStopHandler(db)
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"stop"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "cvd-1"},
	})

	resp := h.Handle(req)
	require.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)

	groups := db.FindGroups(instancedb.Query{GroupName: "cvd-1"})
	require.Len(t, groups, 1)
	assert.Equal(t, instancedb.Stopped, groups[0].Instances[0].State)
}

func TestStopHandlerRejectsGroupWithNoRunningInstance(t *testing.T) {
	db := instancedb.New()
	_, err := db.AddGroup(instancedb.Group{
		Name:      "cvd-2",
		HomeDir:   t.TempDir(),
		Instances: []instancedb.Instance{{ID: 2, Name: "2", State: instancedb.Stopped}},
	})
	require.NoError(t, err)

	h := NewStopHandler(db)
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"stop"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "cvd-2"},
	})

	resp := h.Handle(req)
	assert.Equal(t, protocol.FailedPrecondition, resp.Status.Code)
}

func TestStopHandlerPropagatesToolFailure(t *testing.T) {
	db := instancedb.New()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "stop_cvd", 1)
	seedRunningGroup(t, db, "cvd-3", hostDir)

	h := NewStopHandler(db)
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"stop"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "cvd-3"},
	})

	resp := h.Handle(req)
	assert.Equal(t, protocol.Internal, resp.Status.Code)

	groups := db.FindGroups(instancedb.Query{GroupName: "cvd-3"})
	require.Len(t, groups, 1)
	assert.Equal(t, instancedb.Running, groups[0].Instances[0].State)
}
