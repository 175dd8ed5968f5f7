// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package assembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/config"
)

func TestBuildGroupPipelineOrdersBootDiskLast(t *testing.T) {
	dir := t.TempDir()
	r, err := BuildGroupPipeline(GroupPipelineConfig{
		InstanceHomeDir:     dir,
		ScratchDir:          dir,
		ProductOutDir:       dir,
		DataImageSizeBytes:  1 << 20,
		BootconfigSupported: true,
	})
	require.NoError(t, err)
	require.NotNil(t, r)

	last := r.order[len(r.order)-1]
	assert.Equal(t, "boot_disk", last)

	pos := make(map[string]int, len(r.order))
	for i, name := range r.order {
		pos[name] = i
	}
	for _, dep := range r.nodes["boot_disk"].DependsOn() {
		assert.Less(t, pos[dep], pos["boot_disk"], "dependency %q must run before boot_disk", dep)
	}
}

func TestBuildGroupPipelineRejectsNothingAtConstructionTime(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildGroupPipeline(GroupPipelineConfig{
		InstanceHomeDir: dir,
		ScratchDir:      dir,
		ProductOutDir:   dir,
	})
	assert.NoError(t, err)
}

func TestGroupPipelineFromConfigAdaptsPersistedConfig(t *testing.T) {
	dir := t.TempDir()
	gc := config.GroupConfig{
		GroupName:           "cvd-1",
		HomeDir:             dir,
		HostArtifactsDir:    dir,
		ProductOutDir:       dir,
		InstanceIDs:         []int{1},
		Flow:                "android",
		Hypervisor:          "crosvm",
		BootconfigSupported: true,
		DataImageSizeBytes:  4 * 1024 * 1024 * 1024,
	}

	r, err := GroupPipelineFromConfig(gc, dir)
	require.NoError(t, err)
	assert.Contains(t, r.nodes, "boot_disk")
}
