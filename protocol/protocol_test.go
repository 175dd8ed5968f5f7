// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/cvderrors"
)

func TestFrameRoundTrip(t *testing.T) {
	req := NewCommandRequest(CommandRequest{
		Args:         []string{"start", "--instance_num=1"},
		Env:          []string{"HOME=/H"},
		WorkingDir:   "/cwd",
		WaitBehavior: WaitBehaviorWait,
	})

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, req, got)
}

func TestErrorResponseMapsPreconditionToFailedPrecondition(t *testing.T) {
	req := NewCommandRequest(CommandRequest{Args: []string{"shutdown"}})
	err := cvderrors.New(cvderrors.KindPrecondition, "devices are being tracked")

	resp := ErrorResponse(req, err)
	assert.Equal(t, FailedPrecondition, resp.Status.Code)
	assert.Contains(t, resp.Status.Message, "devices are being tracked")
}

func TestErrorResponseMapsSubprocessToInternal(t *testing.T) {
	req := NewCommandRequest(CommandRequest{Args: []string{"stop"}})
	err := cvderrors.New(cvderrors.KindSubprocess, "stop_cvd exited with code 1")

	resp := ErrorResponse(req, err)
	assert.Equal(t, Internal, resp.Status.Code)
}

func TestReadFrameRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // huge length prefix
	buf.Write(lenBuf[:])

	var got Request
	err := ReadFrame(&buf, &got)
	require.Error(t, err)
}
