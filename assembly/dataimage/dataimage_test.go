// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package dataimage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/cvderrors"
)

func TestUseExistingFailsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "misc.img")
	_, _, err := Generate(context.Background(), Config{Path: path, Policy: UseExisting})
	require.Error(t, err)
	assert.Equal(t, cvderrors.KindPrecondition, cvderrors.GetKind(err))
}

func TestUseExistingSucceedsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "misc.img")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0640))

	got, changed, err := Generate(context.Background(), Config{Path: path, Policy: UseExisting})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.False(t, changed)
}

func TestCreateIfMissingSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.img")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0640))

	got, changed, err := Generate(context.Background(), Config{Path: path, Policy: CreateIfMissing, SizeBytes: 4096})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.False(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestCreateIfMissingCreatesBlankWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frp.img")

	got, changed, err := Generate(context.Background(), Config{Path: path, Policy: CreateIfMissing, SizeBytes: 4096, Format: FormatNone})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.True(t, changed)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, fi.Size())
}

func TestResizeUpToRejectsShrink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "userdata.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0640))
	require.NoError(t, os.Truncate(path, 8192))

	_, _, err := Generate(context.Background(), Config{Path: path, Policy: ResizeUpToPolicy, SizeBytes: 4096, Format: FormatNone})
	require.Error(t, err)
	assert.Equal(t, cvderrors.KindPrecondition, cvderrors.GetKind(err))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 8192, fi.Size(), "file must be left unchanged on rejection")
}

func TestResizeUpToNoOpWhenAlreadyTargetSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "userdata.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0640))

	got, changed, err := Generate(context.Background(), Config{Path: path, Policy: ResizeUpToPolicy, SizeBytes: 4096, Format: FormatNone})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.False(t, changed)
}

func TestBuildMBRSetsBootSignatureAndPartitionType(t *testing.T) {
	mbr := buildMBR(1<<20, 10<<20)
	assert.Equal(t, byte(0x55), mbr[510])
	assert.Equal(t, byte(0xAA), mbr[511])
	assert.Equal(t, byte(0x0C), mbr[446+4])
}
