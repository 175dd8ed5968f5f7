// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
)

func TestGroupToolHandlerRunsHostBinary(t *testing.T) {
	db := instancedb.New()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "cvd_host_bugreport", 0)
	seedRunningGroup(t, db, "cvd-1", hostDir)

	h := NewGroupToolHandler(db, []string{"host_bugreport", "cvd_host_bugreport"}, "cvd_host_bugreport", "collect a bugreport", "collect a bugreport for a group")
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"host_bugreport"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "cvd-1"},
	})

	resp := h.Handle(req)
	require.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)
}

func TestGroupToolHandlerPropagatesToolFailure(t *testing.T) {
	db := instancedb.New()
	hostDir := t.TempDir()
	writeFakeTool(t, hostDir, "cvd_host_bugreport", 1)
	seedRunningGroup(t, db, "cvd-1", hostDir)

	h := NewGroupToolHandler(db, []string{"host_bugreport", "cvd_host_bugreport"}, "cvd_host_bugreport", "collect a bugreport", "collect a bugreport for a group")
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"host_bugreport"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "cvd-1"},
	})

	resp := h.Handle(req)
	assert.Equal(t, protocol.Internal, resp.Status.Code)
}

func TestGroupToolHandlerFailsWithNoMatchingGroup(t *testing.T) {
	db := instancedb.New()

	h := NewGroupToolHandler(db, []string{"display"}, "cvd_display", "manage displays", "manage displays for a group")
	req := noStdioRequest(protocol.CommandRequest{
		Args:         []string{"display"},
		SelectorOpts: protocol.SelectorOpts{GroupName: "missing"},
	})

	resp := h.Handle(req)
	assert.NotEqual(t, protocol.OK, resp.Status.Code)
}

func TestGroupToolHandlerCanHandle(t *testing.T) {
	db := instancedb.New()
	h := NewGroupToolHandler(db, []string{"env"}, "cvd_env", "print env", "print env for a group")

	assert.True(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"env"}})))
	assert.False(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"display"}})))
}

func TestSystemToolHandlerRunsBareUtility(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "mkdir", 0)

	h := NewSystemToolHandler([]string{"mkdir"}, filepath.Join(dir, "bin", "mkdir"), "make a directory", "make a directory")
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"mkdir", "-p", filepath.Join(t.TempDir(), "sub")}})

	resp := h.Handle(req)
	require.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)
	require.NotNil(t, resp.Command)
	assert.Equal(t, 0, resp.Command.ExitCode)
}

func TestSystemToolHandlerPropagatesToolFailure(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "ln", 1)

	h := NewSystemToolHandler([]string{"ln"}, filepath.Join(dir, "bin", "ln"), "create a link", "create a link")
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"ln", "-s", "a", "b"}})

	resp := h.Handle(req)
	assert.Equal(t, protocol.Internal, resp.Status.Code)
}

func TestSystemToolHandlerCanHandle(t *testing.T) {
	h := NewSystemToolHandler([]string{"mkdir"}, "/bin/mkdir", "make a directory", "make a directory")
	assert.True(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"mkdir"}})))
	assert.False(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"ln"}})))
}
