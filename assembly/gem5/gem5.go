// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package gem5 implements spec.md §4.5.10: unpacking the repacked boot and
// vendor-boot images into gem5's expected directory layout, and
// synthesizing the ad-hoc initrd gem5 boots from (since it cannot drive a
// bootloader itself).
package gem5

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/google/cuttlefish/assembly/images"
	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
)

// bootconfigPreamble is the fixed prefix spec.md §4.5.10 specifies ahead
// of the unpacked bootconfig's own contents.
const bootconfigPreamble = "androidboot.slot_suffix=_a\n" +
	"androidboot.force_normal_boot=1\n" +
	"androidboot.verifiedbootstate=orange\n"

// bootconfigTrailer is the literal magic string terminating a bootconfig
// blob, per the Android bootconfig format.
const bootconfigTrailer = "#BOOTCONFIG\n"

// Config describes one instance's gem5 directory inputs.
type Config struct {
	RepackedBootImg       string
	RepackedVendorBootImg string
	KernelPath            string // raw vmlinux
	BootloaderPath        string
	BootconfigPath        string // unpacked bootconfig blob, may be absent

	GemDir     string // the shared directory gem5 reads from
	ScratchDir string
}

// Node populates Cfg.GemDir (spec.md §4.5.10).
type Node struct {
	Cfg Config
}

func (n *Node) Name() string        { return "gem5_layout" }
func (n *Node) DependsOn() []string { return []string{"boot_repacked", "vendor_boot_repacked"} }

func (n *Node) Generate() (string, bool, error) {
	ctx := context.Background()
	binariesDir := filepath.Join(n.Cfg.GemDir, "binaries")
	if err := pathutil.EnsureDir(binariesDir); err != nil {
		return "", false, err
	}

	if err := copyFile(n.Cfg.KernelPath, filepath.Join(binariesDir, filepath.Base(n.Cfg.KernelPath))); err != nil {
		return "", false, err
	}
	if err := copyFile(n.Cfg.BootloaderPath, filepath.Join(binariesDir, filepath.Base(n.Cfg.BootloaderPath))); err != nil {
		return "", false, err
	}
	// gem5's loader looks for a sibling "boot.arm" regardless of arch.
	if err := copyFile(n.Cfg.BootloaderPath, filepath.Join(n.Cfg.GemDir, "boot.arm")); err != nil {
		return "", false, err
	}

	bootRamdiskDir := filepath.Join(n.Cfg.ScratchDir, "gem5_boot_ramdisk")
	vendorRamdiskDir := filepath.Join(n.Cfg.ScratchDir, "gem5_vendor_ramdisk")
	if err := unpackBootAndVendor(ctx, n.Cfg, bootRamdiskDir, vendorRamdiskDir); err != nil {
		return "", false, err
	}

	bootconfig, err := readBootconfig(n.Cfg.BootconfigPath)
	if err != nil {
		return "", false, err
	}

	initrd := BuildInitrd(bootRamdiskDir+"/ramdisk", vendorRamdiskDir+"/ramdisk", bootconfig)
	initrdPath := filepath.Join(n.Cfg.GemDir, "initrd.img")
	if err := os.WriteFile(initrdPath, initrd, pathutil.FileMode); err != nil {
		return "", false, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", initrdPath)
	}

	return n.Cfg.GemDir, true, nil
}

func unpackBootAndVendor(ctx context.Context, cfg Config, bootDir, vendorDir string) error {
	if err := pathutil.EnsureDir(bootDir); err != nil {
		return err
	}
	if err := pathutil.EnsureDir(vendorDir); err != nil {
		return err
	}
	if err := images.UnpackRamdisk(ctx, cfg.RepackedBootImg, bootDir); err != nil {
		return err
	}
	return images.UnpackRamdisk(ctx, cfg.RepackedVendorBootImg, vendorDir)
}

func readBootconfig(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read %q", path)
	}
	return bytes.TrimRight(data, "\x00"), nil
}

// BuildInitrd implements spec.md §4.5.10's ad-hoc initrd format:
// concatenated boot-ramdisk, vendor-ramdisk, then a bootconfig section
// made of the fixed preamble plus the (NUL-trimmed) bootconfig contents,
// a 32-bit little-endian length of that section, a 32-bit checksum (sum
// of its bytes), and the literal "#BOOTCONFIG\n" trailer.
//
// A missing ramdisk path contributes nothing; this lets tests exercise the
// bootconfig framing without real boot/vendor-boot images on disk.
func BuildInitrd(bootRamdisk, vendorRamdisk string, bootconfig []byte) []byte {
	var out bytes.Buffer
	out.Write(readOrEmpty(bootRamdisk))
	out.Write(readOrEmpty(vendorRamdisk))

	section := append([]byte(bootconfigPreamble), bootconfig...)
	out.Write(section)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(section)))
	out.Write(lenBuf[:])

	var checksum uint32
	for _, b := range section {
		checksum += uint32(b)
	}
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], checksum)
	out.Write(sumBuf[:])

	out.WriteString(bootconfigTrailer)
	return out.Bytes()
}

func readOrEmpty(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read %q", src)
	}
	if err := os.WriteFile(dst, data, pathutil.FileMode); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", dst)
	}
	return nil
}
