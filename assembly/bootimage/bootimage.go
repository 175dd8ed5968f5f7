// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package bootimage implements spec.md §4.5.1: unpacking a source boot (or
// vendor-boot) image, substituting a replacement kernel and/or ramdisk,
// repacking, and sizing an AVB hash footer against the original partition.
package bootimage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/google/cuttlefish/assembly/avb"
	"github.com/google/cuttlefish/assembly/images"
	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
	"github.com/google/cuttlefish/subprocess"
)

var log = logrus.WithField("subsystem", "bootimage")

// Config is the shared input every variant of the repack node needs.
type Config struct {
	SourceImg string

	ReplacementKernel    string // "" keeps the source kernel
	ReplacementInitramfs string // "" keeps the source ramdisk

	ScratchDir            string
	InstanceHomeDir       string
	OriginalPartitionSize int64
	BootconfigSupported   bool
}

// Node repacks a plain boot.img (spec.md §4.5.1's primary variant).
type Node struct {
	Cfg    Config
	Signer avb.Signer
}

func (n *Node) Name() string        { return "boot_repacked" }
func (n *Node) DependsOn() []string { return nil }

// Generate implements spec.md §4.5.1: unpack, substitute, repack, and
// foot with an AVB descriptor sized to the original partition (or 0 if
// the repacked image exceeds that size).
func (n *Node) Generate() (string, bool, error) {
	ctx := context.Background()
	final := filepath.Join(n.Cfg.InstanceHomeDir, "boot_repacked.img")

	unpackDir := filepath.Join(n.Cfg.ScratchDir, "boot_unpacked")
	if err := pathutil.EnsureDir(unpackDir); err != nil {
		return "", false, err
	}
	unpacked, err := unpackBootimg(ctx, n.Cfg.SourceImg, unpackDir)
	if err != nil {
		return "", false, err
	}

	kernel := unpacked.kernel
	if n.Cfg.ReplacementKernel != "" {
		kernel = n.Cfg.ReplacementKernel
	}
	ramdisk := unpacked.ramdisk
	if n.Cfg.ReplacementInitramfs != "" {
		ramdisk = n.Cfg.ReplacementInitramfs
	}

	tmp := final + ".tmp"
	if err := mkbootimg(ctx, mkbootimgArgs{
		Kernel:  kernel,
		Ramdisk: ramdisk,
		Cmdline: unpacked.cmdline,
		Out:     tmp,
	}); err != nil {
		return "", false, err
	}
	if err := footer(n.Signer, tmp, "boot", n.Cfg.OriginalPartitionSize); err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}

	changed, err := pathutil.ReplaceIfChanged(tmp, final)
	if err != nil {
		return "", false, err
	}
	log.WithField("changed", changed).Debug("boot image repacked")
	return final, changed, nil
}

// footer implements spec.md §4.5.1's AVB-footer sizing rule: the repacked
// image gets a footer sized to the original partition when it still fits,
// or sized to 0 (unenforced) when it has grown past that size.
func footer(signer avb.Signer, path, partitionName string, originalSize int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to stat %q", path)
	}
	size := originalSize
	if fi.Size() > originalSize {
		size = 0
	}
	return signer.AddHashFooter(context.Background(), path, partitionName, size)
}

type unpackedBoot struct {
	kernel, ramdisk, cmdline string
}

// unpackBootimg shells out to the AOSP `unpack_bootimg` tool, which writes
// out_dir/kernel and out_dir/ramdisk; the cmdline is read from
// out_dir/cmdline and is empty when that file is absent.
func unpackBootimg(ctx context.Context, img, outDir string) (unpackedBoot, error) {
	h, err := subprocess.Start(subprocess.Options{
		Argv: []string{"unpack_bootimg", "--boot_img", img, "--out", outDir},
		Wait: subprocess.Wait,
	})
	if err != nil {
		return unpackedBoot{}, err
	}
	exit, waitErr := h.Wait(ctx)
	if ctx.Err() != nil {
		return unpackedBoot{}, ctx.Err()
	}
	if !exit.OK() {
		return unpackedBoot{}, cvderrors.Newf(cvderrors.KindSubprocess, "unpack_bootimg: %s", exit.String())
	}
	_ = waitErr

	cmdline, err := readCmdline(filepath.Join(outDir, "cmdline"))
	if err != nil {
		return unpackedBoot{}, err
	}
	return unpackedBoot{
		kernel:  filepath.Join(outDir, "kernel"),
		ramdisk: filepath.Join(outDir, "ramdisk"),
		cmdline: cmdline,
	}, nil
}

func readCmdline(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read %q", path)
	}
	return strings.TrimSpace(string(data)), nil
}

type mkbootimgArgs struct {
	Kernel, Ramdisk, Cmdline, Out string
}

func mkbootimg(ctx context.Context, a mkbootimgArgs) error {
	argv := []string{"mkbootimg", "--kernel", a.Kernel, "--output", a.Out}
	if a.Ramdisk != "" {
		argv = append(argv, "--ramdisk", a.Ramdisk)
	}
	if a.Cmdline != "" {
		argv = append(argv, "--cmdline", a.Cmdline)
	}
	exit, err := subprocess.Run(ctx, argv, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "mkbootimg: %s", exit.String())
	}
	return nil
}

// RewriteKernelModuleCmdline applies the `kernel.<k>=<v>` -> `<k>=<v>`
// rewrite spec.md §9 flags as an unresolved open question: it is applied
// here whenever bootconfig is unsupported, matching the narrower of the
// two conditions the original applies it under until product owners
// confirm the wider one.
func RewriteKernelModuleCmdline(cmdline string) string {
	fields := strings.Fields(cmdline)
	for i, f := range fields {
		if rest, ok := strings.CutPrefix(f, "kernel."); ok {
			fields[i] = rest
		}
	}
	return strings.Join(fields, " ")
}

// VendorBootConfig extends Config with the vendor-boot variant's extra
// inputs (spec.md §4.5.1 "Vendor-boot variant").
type VendorBootConfig struct {
	Config
	VendorRamdiskSegments []string // concatenated in order
	KernelModulesRamdisk  string   // "" if none
}

// VendorBootNode repacks a vendor_boot.img.
type VendorBootNode struct {
	Cfg    VendorBootConfig
	Signer avb.Signer
}

func (n *VendorBootNode) Name() string        { return "vendor_boot_repacked" }
func (n *VendorBootNode) DependsOn() []string { return nil }

func (n *VendorBootNode) Generate() (string, bool, error) {
	ctx := context.Background()
	final := filepath.Join(n.Cfg.InstanceHomeDir, "vendor_boot_repacked.img")

	unpackDir := filepath.Join(n.Cfg.ScratchDir, "vendor_boot_unpacked")
	if err := pathutil.EnsureDir(unpackDir); err != nil {
		return "", false, err
	}
	if _, err := unpackBootimg(ctx, n.Cfg.SourceImg, unpackDir); err != nil {
		return "", false, err
	}

	combined, err := n.combinedRamdisk(ctx, unpackDir)
	if err != nil {
		return "", false, err
	}

	cmdline, err := readCmdline(filepath.Join(unpackDir, "vendor_cmdline"))
	if err != nil {
		return "", false, err
	}
	if !n.Cfg.BootconfigSupported {
		cmdline = RewriteKernelModuleCmdline(cmdline)
	}

	tmp := final + ".tmp"
	if err := mkbootimg(ctx, mkbootimgArgs{
		Ramdisk: combined,
		Cmdline: cmdline,
		Out:     tmp,
	}); err != nil {
		return "", false, err
	}
	if err := footer(n.Signer, tmp, "vendor_boot", n.Cfg.OriginalPartitionSize); err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}

	changed, err := pathutil.ReplaceIfChanged(tmp, final)
	if err != nil {
		return "", false, err
	}
	return final, changed, nil
}

// combinedRamdisk implements spec.md §4.5.1's "concatenates all
// vendor_ramdisk* segments ... optionally prepends a stripped-of-
// lib/modules copy of a kernel-modules ramdisk".
func (n *VendorBootNode) combinedRamdisk(ctx context.Context, scratchDir string) (string, error) {
	segments := append([]string{}, n.Cfg.VendorRamdiskSegments...)

	if n.Cfg.KernelModulesRamdisk != "" {
		stripped, err := stripLibModules(ctx, n.Cfg.KernelModulesRamdisk, scratchDir)
		if err != nil {
			return "", err
		}
		segments = append([]string{stripped}, segments...)
	}

	out := filepath.Join(scratchDir, "vendor_ramdisk_combined")
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create %q", out)
	}
	defer f.Close()

	for _, seg := range segments {
		data, err := os.ReadFile(seg)
		if err != nil {
			return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read ramdisk segment %q", seg)
		}
		if _, err := f.Write(data); err != nil {
			return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", out)
		}
	}
	return out, nil
}

func stripLibModules(ctx context.Context, ramdisk, scratchDir string) (string, error) {
	extractDir := filepath.Join(scratchDir, "kmod_ramdisk_extract")
	if err := pathutil.EnsureDir(extractDir); err != nil {
		return "", err
	}
	if err := images.UnpackRamdisk(ctx, ramdisk, extractDir); err != nil {
		return "", err
	}
	if err := os.RemoveAll(filepath.Join(extractDir, "lib", "modules")); err != nil {
		return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to strip lib/modules")
	}

	out := filepath.Join(scratchDir, "kmod_ramdisk_stripped.img")
	if err := images.PackRamdisk(ctx, extractDir, out); err != nil {
		return "", err
	}
	return out, nil
}
