// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package composite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUpToDateFalseWhenNoStampExists(t *testing.T) {
	dir := t.TempDir()
	n := &Node{Cfg: Config{OutPath: filepath.Join(dir, "composite.img"), ConfigSerial: []byte(`{"a":1}`)}}

	upToDate, err := n.isUpToDate()
	require.NoError(t, err)
	assert.False(t, upToDate)
}

func TestIsUpToDateTrueWhenConfigUnchangedAndNewer(t *testing.T) {
	dir := t.TempDir()
	component := filepath.Join(dir, "boot_a.img")
	require.NoError(t, os.WriteFile(component, []byte("x"), 0640))

	out := filepath.Join(dir, "composite.img")
	require.NoError(t, os.WriteFile(out, []byte("composite"), 0640))
	require.NoError(t, os.Chtimes(out, time.Now().Add(time.Hour), time.Now().Add(time.Hour)))

	stamp := filepath.Join(dir, ".composite_config.json")
	require.NoError(t, os.WriteFile(stamp, []byte(`{"a":1}`), 0640))

	n := &Node{Cfg: Config{
		OutPath:      out,
		ConfigSerial: []byte(`{   "a" : 1   }`),
		Partitions:   []Partition{{Label: "boot_a", Path: component}},
	}}

	upToDate, err := n.isUpToDate()
	require.NoError(t, err)
	assert.True(t, upToDate)
}

func TestIsUpToDateFalseWhenConfigChanged(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "composite.img")
	require.NoError(t, os.WriteFile(out, []byte("composite"), 0640))

	stamp := filepath.Join(dir, ".composite_config.json")
	require.NoError(t, os.WriteFile(stamp, []byte(`{"a":1}`), 0640))

	n := &Node{Cfg: Config{OutPath: out, ConfigSerial: []byte(`{"a":2}`)}}

	upToDate, err := n.isUpToDate()
	require.NoError(t, err)
	assert.False(t, upToDate)
}

func TestWantsOverlayQEMUAlwaysBuilds(t *testing.T) {
	n := &Node{Cfg: Config{Hypervisor: HypervisorQEMU, OverlayPath: "/x/overlay.qcow2"}}
	assert.True(t, n.wantsOverlay())
}

func TestWantsOverlayOtherHypervisorRequiresFlag(t *testing.T) {
	n := &Node{Cfg: Config{Hypervisor: HypervisorCrosvm, OverlayPath: "/x/overlay.qcow2"}}
	assert.False(t, n.wantsOverlay())

	n.Cfg.BuildOverlay = true
	assert.True(t, n.wantsOverlay())
}

func TestWantsOverlayFalseWithoutPath(t *testing.T) {
	n := &Node{Cfg: Config{Hypervisor: HypervisorQEMU}}
	assert.False(t, n.wantsOverlay())
}
