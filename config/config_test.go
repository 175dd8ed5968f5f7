// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeAcceptsHumanReadableUnits(t *testing.T) {
	n, err := ParseSize("512M")
	require.NoError(t, err)
	assert.EqualValues(t, 512*1024*1024, n)
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := ParseSize("not-a-size")
	assert.Error(t, err)
}

func TestGroupConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cuttlefish_config.json")

	want := GroupConfig{
		GroupName:           "cvd-1",
		HomeDir:             dir,
		HostArtifactsDir:    "/h",
		InstanceIDs:         []int{1, 2},
		Flow:                "android",
		Hypervisor:          "crosvm",
		BootconfigSupported: true,
		DataImageSizeBytes:  4 * 1024 * 1024 * 1024,
	}
	require.NoError(t, want.Write(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
