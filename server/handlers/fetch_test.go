// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/protocol"
)

func TestFetchHandlerRunsFetchCvdFromPath(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fetch_cvd")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0755))

	oldPath := os.Getenv("PATH")
	require.NoError(t, os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath))
	defer os.Setenv("PATH", oldPath)

	h := NewFetchHandler()
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"fetch"}})
	resp := h.Handle(req)

	assert.Equal(t, protocol.OK, resp.Status.Code, resp.Status.Message)
}

func TestFetchHandlerCanHandleBothVerbs(t *testing.T) {
	h := NewFetchHandler()
	assert.True(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"fetch"}})))
	assert.True(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"fetch_cvd"}})))
	assert.False(t, h.CanHandle(noStdioRequest(protocol.CommandRequest{Args: []string{"start"}})))
}
