// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package composite implements spec.md §4.5.9: assembling the ordered
// partition list for a boot flow and building the composite disk (a
// generated GPT plus the listed component images) that the hypervisor
// boots from.
package composite

import (
	"strconv"

	"github.com/google/cuttlefish/assembly/esp"
	"github.com/google/cuttlefish/cvderrors"
)

// Flow selects which deterministic partition list BootDiskPartitions
// builds (spec.md §4.5.9).
type Flow int

const (
	FlowAndroid Flow = iota
	FlowAndroidEFILoader
	FlowChromeOS
	FlowLinux
	FlowFuchsia
)

// Partition is one entry of a composite disk's ordered partition list.
type Partition struct {
	Label string
	Path  string
	Type  string // GPT partition type hint; "" uses the builder's default
}

// BootDiskOptions carries the per-instance knobs that vary which optional
// partitions appear (spec.md §4.5.9).
type BootDiskOptions struct {
	Flow Flow

	HasInitBoot          bool
	HasVbmetaVendorDlkm  bool
	HasVbmetaSystemDlkm  bool
	HasHibernation       bool
	HasVVMTruststore     bool
	CustomPartitionCount int

	Paths map[string]string // label -> path, populated by upstream nodes

	// ESP, when non-nil, is built here via the esp package's own node
	// rather than expected pre-populated in Paths: its Flow field is
	// overwritten with the composite.Flow's corresponding esp.Flow
	// (spec.md §4.5.8, §4.5.9's "android_esp"/"esp"/"chromeos_esp" entry).
	ESP *esp.Config
}

// BootDiskPartitions implements spec.md §4.5.9's deterministic, per-flow
// partition-list assembly (invariant 6 of spec.md §8: no dependence on
// filesystem enumeration order — this function only ever consults the
// fixed Go slice literals below and the caller-supplied boolean flags).
// It returns an error only if building an ESP image (when opts.ESP is set)
// fails; list assembly itself cannot fail.
func BootDiskPartitions(opts BootDiskOptions) ([]Partition, error) {
	paths := opts.Paths

	var labels []string
	if espLabel, needsESP := espLabelFor(opts.Flow); needsESP {
		labels = append(labels, espLabel)
		if opts.ESP != nil {
			cfg := *opts.ESP
			cfg.Flow = espFlow(opts.Flow)
			path, _, err := (&esp.Node{Cfg: cfg}).Generate()
			if err != nil {
				return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to build %q image", espLabel)
			}
			paths = withPath(paths, espLabel, path)
		}
	}

	switch opts.Flow {
	case FlowAndroid, FlowAndroidEFILoader:
		labels = append(labels, "misc", "boot_a", "boot_b")
		if opts.HasInitBoot {
			labels = append(labels, "init_boot_a", "init_boot_b")
		}
		labels = append(labels, "vendor_boot_a", "vendor_boot_b",
			"vbmeta_a", "vbmeta_b", "vbmeta_system_a", "vbmeta_system_b")
		if opts.HasVbmetaVendorDlkm {
			labels = append(labels, "vbmeta_vendor_dlkm_a", "vbmeta_vendor_dlkm_b")
		}
		if opts.HasVbmetaSystemDlkm {
			labels = append(labels, "vbmeta_system_dlkm_a", "vbmeta_system_dlkm_b")
		}
		labels = append(labels, "super", "userdata", "metadata")
		if opts.HasHibernation {
			labels = append(labels, "hibernation")
		}
		if opts.HasVVMTruststore {
			labels = append(labels, "vvmtruststore")
		}
		for i := 0; i < opts.CustomPartitionCount; i++ {
			labels = append(labels, customLabel(i))
		}

	case FlowChromeOS:
		labels = append(labels, "kernel_a", "kernel_b", "root_a", "root_b", "state")

	case FlowLinux:
		labels = append(labels, "root")

	case FlowFuchsia:
		labels = append(labels, "zircon_a", "zircon_b", "vbmeta_a", "vbmeta_b", "fvm")
	}

	out := make([]Partition, 0, len(labels))
	for _, l := range labels {
		out = append(out, Partition{Label: l, Path: paths[l]})
	}
	return out, nil
}

// espLabelFor reports the partition label a flow's ESP entry takes, and
// whether the flow has one at all (spec.md §4.5.9).
func espLabelFor(f Flow) (string, bool) {
	switch f {
	case FlowAndroidEFILoader:
		return "android_esp", true
	case FlowChromeOS:
		return "chromeos_esp", true
	case FlowLinux, FlowFuchsia:
		return "esp", true
	default:
		return "", false
	}
}

// withPath returns a copy of base with label mapped to path, leaving base
// itself untouched.
func withPath(base map[string]string, label, path string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[label] = path
	return out
}

// customLabel implements the "custom, custom_1, ..." naming spec.md
// §4.5.9 lists for additional user-supplied partitions.
func customLabel(index int) string {
	if index == 0 {
		return "custom"
	}
	return "custom_" + strconv.Itoa(index)
}

// PersistentPartitions implements spec.md §4.5.9's per-instance
// persistent composite: `uboot_env, vbmeta, frp, [bootconfig]`.
func PersistentPartitions(hasBootconfig bool, paths map[string]string) []Partition {
	labels := []string{"uboot_env", "vbmeta", "frp"}
	if hasBootconfig {
		labels = append(labels, "bootconfig")
	}
	out := make([]Partition, 0, len(labels))
	for _, l := range labels {
		out = append(out, Partition{Label: l, Path: paths[l]})
	}
	return out
}

// APPartitions implements spec.md §4.5.9's AP-only composite:
// `[ap_esp], ap_rootfs`.
func APPartitions(hasESP bool, paths map[string]string) []Partition {
	var labels []string
	if hasESP {
		labels = append(labels, "ap_esp")
	}
	labels = append(labels, "ap_rootfs")
	out := make([]Partition, 0, len(labels))
	for _, l := range labels {
		out = append(out, Partition{Label: l, Path: paths[l]})
	}
	return out
}

// espFlow bridges composite.Flow to esp.Flow for every flow; a flow without
// its own esp variant maps to esp.FlowLinux.
func espFlow(f Flow) esp.Flow {
	switch f {
	case FlowChromeOS:
		return esp.FlowChromeOS
	case FlowFuchsia:
		return esp.FlowFuchsia
	case FlowAndroidEFILoader:
		return esp.FlowAndroidEFI
	default:
		return esp.FlowLinux
	}
}
