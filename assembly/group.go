// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package assembly

import (
	"path/filepath"

	"github.com/google/cuttlefish/assembly/avb"
	"github.com/google/cuttlefish/assembly/bootenv"
	"github.com/google/cuttlefish/assembly/bootimage"
	"github.com/google/cuttlefish/assembly/composite"
	"github.com/google/cuttlefish/assembly/dataimage"
	"github.com/google/cuttlefish/assembly/superimage"
	"github.com/google/cuttlefish/assembly/vbmeta"
	"github.com/google/cuttlefish/config"
)

// GroupPipelineConfig carries the paths BuildGroupPipeline needs beyond
// what instancedb.Group itself tracks: the product-out tree a freshly
// started group's images are sourced from, and the sizes its growable
// partitions should target (spec.md §4.5, §6 per-group on-disk layout).
type GroupPipelineConfig struct {
	InstanceHomeDir string
	ScratchDir      string
	ProductOutDir   string

	DataImageSizeBytes uint64
	BootconfigSupported bool
}

// BuildGroupPipeline assembles the android-flow dependency graph for one
// instance (spec.md §4.5.9's FlowAndroid partition list): boot and
// vendor-boot repack, the persistent vbmeta, the super image, the misc and
// userdata partitions, and finally the composite boot disk built from
// their outputs. It mirrors how StartHandler's injected Pipeline hook is
// meant to be satisfied by a real caller rather than a test double.
func BuildGroupPipeline(gc GroupPipelineConfig) (*Runner, error) {
	signer := avb.NewSigner()

	boot := &bootimage.Node{
		Signer: signer,
		Cfg: bootimage.Config{
			SourceImg:       filepath.Join(gc.ProductOutDir, "boot.img"),
			ScratchDir:      gc.ScratchDir,
			InstanceHomeDir: gc.InstanceHomeDir,
			BootconfigSupported: gc.BootconfigSupported,
		},
	}

	vendorBoot := &bootimage.VendorBootNode{
		Signer: signer,
		Cfg: bootimage.VendorBootConfig{
			Config: bootimage.Config{
				SourceImg:           filepath.Join(gc.ProductOutDir, "vendor_boot.img"),
				ScratchDir:          gc.ScratchDir,
				InstanceHomeDir:     gc.InstanceHomeDir,
				BootconfigSupported: gc.BootconfigSupported,
			},
			VendorRamdiskSegments: []string{filepath.Join(gc.ProductOutDir, "vendor_ramdisk.img")},
		},
	}

	env := &bootenv.Node{
		Signer: signer,
		Cfg: bootenv.Config{
			InstanceHomeDir: gc.InstanceHomeDir,
			ScratchDir:      gc.ScratchDir,
			Flow:            bootenv.FlowAndroid,
		},
	}

	persistentVbmeta := &vbmeta.PersistentNode{
		Signer: signer,
		Cfg: vbmeta.PersistentConfig{
			InstanceHomeDir: gc.InstanceHomeDir,
			HasBootconfig:   gc.BootconfigSupported,
		},
	}

	super := &superimage.Node{
		Signer: signer,
		Cfg: superimage.Config{
			DefaultTargetFilesZip: filepath.Join(gc.ProductOutDir, "target_files.zip"),
			ScratchDir:            gc.ScratchDir,
			InstanceHomeDir:       gc.InstanceHomeDir,
		},
	}

	userdata := &dataimage.Node{
		NodeName: "userdata",
		Cfg: dataimage.Config{
			Path:          filepath.Join(gc.InstanceHomeDir, "userdata.img"),
			SizeBytes:     int64(gc.DataImageSizeBytes),
			Policy:        dataimage.CreateIfMissing,
			Format:        dataimage.FormatExt4,
			PartitionName: "userdata",
		},
	}

	misc := &dataimage.Node{
		NodeName: "misc",
		Cfg: dataimage.Config{
			Path:      filepath.Join(gc.InstanceHomeDir, "misc.img"),
			SizeBytes: 1 << 20,
			Policy:    dataimage.CreateIfMissing,
			Format:    dataimage.FormatNone,
		},
	}

	disk := &composite.Node{
		NodeName: "boot_disk",
		Deps:     []string{"boot_repacked", "vendor_boot_repacked", "uboot_env", "persistent_vbmeta", "super_image", "userdata", "misc"},
		Cfg: composite.Config{
			OutPath:    filepath.Join(gc.InstanceHomeDir, "boot_disk.img"),
			Hypervisor: composite.HypervisorCrosvm,
			Partitions: []composite.Partition{
				{Label: "misc", Path: misc.Cfg.Path},
				{Label: "boot_a", Path: filepath.Join(gc.InstanceHomeDir, "boot_repacked.img")},
				{Label: "boot_b", Path: filepath.Join(gc.InstanceHomeDir, "boot_repacked.img")},
				{Label: "vendor_boot_a", Path: filepath.Join(gc.InstanceHomeDir, "vendor_boot_repacked.img")},
				{Label: "vendor_boot_b", Path: filepath.Join(gc.InstanceHomeDir, "vendor_boot_repacked.img")},
				{Label: "vbmeta_a", Path: filepath.Join(gc.InstanceHomeDir, "vbmeta.img")},
				{Label: "vbmeta_b", Path: filepath.Join(gc.InstanceHomeDir, "vbmeta.img")},
				{Label: "super", Path: filepath.Join(gc.InstanceHomeDir, "super.img")},
				{Label: "userdata", Path: userdata.Cfg.Path},
			},
		},
	}

	return NewRunner([]Node{boot, vendorBoot, env, persistentVbmeta, super, userdata, misc, disk})
}

// GroupPipelineFromConfig adapts a config.GroupConfig (the persisted
// per-group configuration handlers read back from disk) into the inputs
// BuildGroupPipeline needs.
func GroupPipelineFromConfig(gc config.GroupConfig, scratchDir string) (*Runner, error) {
	return BuildGroupPipeline(GroupPipelineConfig{
		InstanceHomeDir:      gc.HomeDir,
		ScratchDir:           scratchDir,
		ProductOutDir:        gc.ProductOutDir,
		DataImageSizeBytes:   gc.DataImageSizeBytes,
		BootconfigSupported:  gc.BootconfigSupported,
	})
}
