// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/protocol"
)

func TestRestartServerHandlerReportsPreExecFailure(t *testing.T) {
	called := false
	h := &RestartServerHandler{
		Restart: func(newBinary string, carryoverClientFD int) error {
			called = true
			assert.Equal(t, 7, carryoverClientFD)
			return assert.AnError
		},
	}

	req := noStdioRequest(protocol.CommandRequest{Args: []string{"restart-server"}})
	req.ClientFD = 7

	resp := h.Handle(req)
	require.True(t, called)
	assert.NotEqual(t, protocol.OK, resp.Status.Code)
}

func TestRestartServerHandlerPassesExplicitBinary(t *testing.T) {
	var got string
	h := &RestartServerHandler{
		Restart: func(newBinary string, carryoverClientFD int) error {
			got = newBinary
			return nil
		},
	}

	req := noStdioRequest(protocol.CommandRequest{Args: []string{"restart-server", "/opt/cvd_server_new"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code)
	assert.Equal(t, "/opt/cvd_server_new", got)
}
