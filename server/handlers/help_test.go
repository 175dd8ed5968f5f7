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

func TestHelpHandlerSummarizesEveryRegisteredVerb(t *testing.T) {
	h := &HelpHandler{All: []HelpSource{&VersionHandler{}, &HelpHandler{}}}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"help"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code)
	assert.Contains(t, resp.Status.Message, "version")
	assert.Contains(t, resp.Status.Message, "help")
}

func TestHelpHandlerDetailsOneVerb(t *testing.T) {
	h := &HelpHandler{All: []HelpSource{&VersionHandler{}}}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"help", "version"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code)
	assert.Equal(t, (&VersionHandler{}).DetailedHelp(nil), resp.Status.Message)
}

func TestHelpHandlerReportsUnknownVerb(t *testing.T) {
	h := &HelpHandler{All: []HelpSource{&VersionHandler{}}}
	req := noStdioRequest(protocol.CommandRequest{Args: []string{"help", "nonesuch"}})
	resp := h.Handle(req)

	require.Equal(t, protocol.OK, resp.Status.Code)
	assert.Contains(t, resp.Status.Message, "nonesuch")
}
