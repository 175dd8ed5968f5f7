// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package vbmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/assembly/avb"
)

func TestMinimumSizeNodePadsUndersizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbmeta_system.img")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0640))

	n := &MinimumSizeNode{Path: path, NodeName: "vbmeta_system_min_size"}
	gotPath, changed, err := n.Generate()
	require.NoError(t, err)
	require.Equal(t, path, gotPath)
	require.False(t, changed) // this node never reports itself as the canonical producer

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, avb.MaxVbmetaSize, fi.Size())
}

func TestMinimumSizeNodeDependsOnGivenDeps(t *testing.T) {
	n := &MinimumSizeNode{NodeName: "x", Deps: []string{"a", "b"}}
	require.Equal(t, []string{"a", "b"}, n.DependsOn())
}
