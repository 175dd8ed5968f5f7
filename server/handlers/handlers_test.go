// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package handlers

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/protocol"
)

// timeoutAfterShort bounds a test's wait for an asynchronous effect (e.g.
// a goroutine-invoked callback) without hanging the suite forever.
func timeoutAfterShort() <-chan time.Time {
	return time.After(2 * time.Second)
}

// writeFakeTool writes an executable shell script standing in for a
// host-artifacts binary, so tests can exercise a handler's subprocess
// plumbing without a real hypervisor toolchain installed.
func writeFakeTool(t *testing.T, dir, name string, exitCode int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))
	script := []byte("#!/bin/sh\nexit " + strconv.Itoa(exitCode) + "\n")
	path := filepath.Join(dir, "bin", name)
	require.NoError(t, os.WriteFile(path, script, 0755))
}

// noStdioRequest builds a Request whose ancillary descriptors are all
// "absent" (-1), so clientStdio substitutes /dev/null instead of
// reinterpreting the zero value as fd 0.
func noStdioRequest(cmd protocol.CommandRequest) protocol.Request {
	req := protocol.NewCommandRequest(cmd)
	req.Stdin, req.Stdout, req.Stderr, req.Extra = -1, -1, -1, -1
	req.ClientFD = -1
	return req
}
