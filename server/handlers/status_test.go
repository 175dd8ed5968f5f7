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

func TestStatusHandlerQueriesEveryMatchingGroup(t *testing.T) {
	db := instancedb.New()
	hostA, hostB := t.TempDir(), t.TempDir()
	writeFakeTool(t, hostA, "cvd_status", 0)
	writeFakeTool(t, hostB, "cvd_status", 0)
	seedRunningGroup(t, db, "cvd-a", hostA)
	// Instance ids are unique across groups, so the second group uses id 2.
	_, err := db.AddGroup(instancedb.Group{
		Name:             "cvd-b",
		HomeDir:          t.TempDir(),
		HostArtifactsDir: hostB,
		Instances:        []instancedb.Instance{{ID: 2, Name: "2", State: instancedb.Running}},
	})
	require.NoError(t, err)

	h := NewStatusHandler(db)
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"status"}})
	resp := h.Handle(req)

	assert.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)
}

func TestStatusHandlerReportsNoMatch(t *testing.T) {
	db := instancedb.New()
	h := NewStatusHandler(db)
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"status"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "missing"},
	})

	resp := h.Handle(req)
	require.Equal(t, protocol.FailedPrecondition, resp.Status.Code)
}
