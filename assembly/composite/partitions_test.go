// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsOf(parts []Partition) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Label
	}
	return out
}

func bootDiskLabels(t *testing.T, opts BootDiskOptions) []string {
	t.Helper()
	parts, err := BootDiskPartitions(opts)
	require.NoError(t, err)
	return labelsOf(parts)
}

func TestBootDiskPartitionsAndroidMinimal(t *testing.T) {
	got := bootDiskLabels(t, BootDiskOptions{Flow: FlowAndroid})
	assert.Equal(t, []string{
		"misc", "boot_a", "boot_b",
		"vendor_boot_a", "vendor_boot_b",
		"vbmeta_a", "vbmeta_b", "vbmeta_system_a", "vbmeta_system_b",
		"super", "userdata", "metadata",
	}, got)
}

func TestBootDiskPartitionsAndroidEFILoaderPrependsESP(t *testing.T) {
	got := bootDiskLabels(t, BootDiskOptions{Flow: FlowAndroidEFILoader})
	assert.Equal(t, "android_esp", got[0])
}

func TestBootDiskPartitionsChromeOSAndLinuxAndFuchsiaLeadWithESP(t *testing.T) {
	assert.Equal(t, "chromeos_esp", bootDiskLabels(t, BootDiskOptions{Flow: FlowChromeOS})[0])
	assert.Equal(t, "esp", bootDiskLabels(t, BootDiskOptions{Flow: FlowLinux})[0])
	assert.Equal(t, "esp", bootDiskLabels(t, BootDiskOptions{Flow: FlowFuchsia})[0])
}

func TestBootDiskPartitionsAndroidWithOptionalSlots(t *testing.T) {
	got := bootDiskLabels(t, BootDiskOptions{
		Flow:                FlowAndroid,
		HasInitBoot:         true,
		HasVbmetaVendorDlkm: true,
		HasHibernation:      true,
		CustomPartitionCount: 2,
	})
	assert.Contains(t, got, "init_boot_a")
	assert.Contains(t, got, "init_boot_b")
	assert.Contains(t, got, "vbmeta_vendor_dlkm_a")
	assert.Contains(t, got, "hibernation")
	assert.Contains(t, got, "custom")
	assert.Contains(t, got, "custom_1")
	assert.NotContains(t, got, "custom_2")
}

func TestBootDiskPartitionsDeterministicAcrossCalls(t *testing.T) {
	opts := BootDiskOptions{Flow: FlowAndroid, HasInitBoot: true}
	first := bootDiskLabels(t, opts)
	second := bootDiskLabels(t, opts)
	assert.Equal(t, first, second)
}

func TestPersistentPartitionsIncludesBootconfigOnlyWhenPresent(t *testing.T) {
	without := labelsOf(PersistentPartitions(false, nil))
	assert.Equal(t, []string{"uboot_env", "vbmeta", "frp"}, without)

	with := labelsOf(PersistentPartitions(true, nil))
	assert.Equal(t, []string{"uboot_env", "vbmeta", "frp", "bootconfig"}, with)
}

func TestAPPartitionsOmitsESPWhenAbsent(t *testing.T) {
	assert.Equal(t, []string{"ap_rootfs"}, labelsOf(APPartitions(false, nil)))
	assert.Equal(t, []string{"ap_esp", "ap_rootfs"}, labelsOf(APPartitions(true, nil)))
}
