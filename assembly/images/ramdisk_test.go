// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package images

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeekHeadDetectsCpioMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive")
	require.NoError(t, os.WriteFile(path, []byte("070701rest-of-archive"), 0640))

	head, err := peekHead(path)
	require.NoError(t, err)
	require.True(t, bytes.Equal(head, cpioMagic))
}

func TestPeekHeadRejectsNonCpioPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive")
	require.NoError(t, os.WriteFile(path, []byte("\x04\x22M\x18not-cpio"), 0640))

	head, err := peekHead(path)
	require.NoError(t, err)
	require.False(t, bytes.Equal(head, cpioMagic))
}

func TestPeekHeadShortFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(path, []byte{}, 0640))

	_, err := peekHead(path)
	require.Error(t, err)
}
