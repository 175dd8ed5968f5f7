// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

func TestFleetHandlerListsGroupsAsJSON(t *testing.T) {
	db := instancedb.New()
	_, err := db.AddGroup(instancedb.Group{
		Name:      "cvd-1",
		HomeDir:   t.TempDir(),
		Instances: []instancedb.Instance{{ID: 1, Name: "1", State: instancedb.Running}},
	})
	require.NoError(t, err)

	h := &FleetHandler{DB: db}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"fleet"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code)
	var groups []instancedb.Group
	require.NoError(t, json.Unmarshal([]byte(resp.Status.Message), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "cvd-1", groups[0].Name)
}

func TestFleetHandlerEmpty(t *testing.T) {
	db := instancedb.New()
	h := &FleetHandler{DB: db}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"fleet"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code)
	var groups []instancedb.Group
	require.NoError(t, json.Unmarshal([]byte(resp.Status.Message), &groups))
	assert.Empty(t, groups)
}
