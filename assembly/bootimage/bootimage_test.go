// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package bootimage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteKernelModuleCmdline(t *testing.T) {
	in := "console=ttyS0 kernel.foo=bar kernel.baz=qux androidboot.x=1"
	got := RewriteKernelModuleCmdline(in)
	assert.Equal(t, "console=ttyS0 foo=bar baz=qux androidboot.x=1", got)
}

func TestRewriteKernelModuleCmdlineNoMatches(t *testing.T) {
	in := "console=ttyS0 androidboot.x=1"
	assert.Equal(t, in, RewriteKernelModuleCmdline(in))
}

func TestReadCmdlineMissingFileIsEmpty(t *testing.T) {
	got, err := readCmdline(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestReadCmdlineTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("console=ttyS0\n"), 0640))

	got, err := readCmdline(path)
	require.NoError(t, err)
	assert.Equal(t, "console=ttyS0", got)
}
