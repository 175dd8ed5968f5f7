// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package bootenv implements spec.md §4.5.3: the U-Boot environment image
// the first-stage loader reads, and the rollup to a roundup'd AVB footer.
package bootenv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/cuttlefish/assembly/avb"
	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
	"github.com/google/cuttlefish/subprocess"
)

// BootFlow selects the entrypoint command U-Boot chains into after
// applying cmdline overrides (spec.md §4.5.3).
type BootFlow int

const (
	FlowAndroid BootFlow = iota
	FlowAndroidEFI
	FlowChromeOS
	FlowChromeOSDisk
	FlowLinux
	FlowFuchsia
)

// efiPartitionNumber returns the flow's fixed ESP partition number, or
// ok=false for flows that have none (entrypoint then searches partitions
// 1 through 8).
func (f BootFlow) efiPartitionNumber() (int, bool) {
	switch f {
	case FlowAndroidEFI:
		return 1, true
	case FlowChromeOS:
		return 2, true
	case FlowChromeOSDisk:
		return 12, true
	default:
		return 0, false
	}
}

func (f BootFlow) efiLoaderGlob() string {
	// Architecture-specific loader path; the arch is resolved by the
	// caller and substituted into %s.
	return "efi/boot/boot%s.efi"
}

// kMaxAvbMetadataSize mirrors the fixed constant the AVB footer sizing
// rule in spec.md §4.5.3 rounds up against.
const kMaxAvbMetadataSize = 69632 // 68 KiB, AVB's own compiled-in ceiling.

// partitionSizeShift is the power-of-two granularity bootenv images are
// rounded up to (spec.md §4.5.3 "roundup(..., 2^PARTITION_SIZE_SHIFT)").
const partitionSizeShift = 20 // 1 MiB

// Config describes one instance's bootenv inputs.
type Config struct {
	InstanceHomeDir string
	ScratchDir      string

	Flow              BootFlow
	Arch              string // "aa64", "x64", "ia32", "riscv64"
	KernelCmdline     string
	PauseInBootloader bool
}

// Node builds `<instance_home>/uboot_env.img`.
type Node struct {
	Cfg    Config
	Signer avb.Signer
}

func (n *Node) Name() string        { return "uboot_env" }
func (n *Node) DependsOn() []string { return nil }

func (n *Node) Generate() (string, bool, error) {
	final := filepath.Join(n.Cfg.InstanceHomeDir, "uboot_env.img")
	plaintext := buildEnvText(n.Cfg)

	plaintextPath := filepath.Join(n.Cfg.ScratchDir, "uboot_env.txt")
	if err := os.WriteFile(plaintextPath, []byte(plaintext), pathutil.FileMode); err != nil {
		return "", false, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", plaintextPath)
	}

	tmp := final + ".tmp"
	if err := mkenvimageSlim(context.Background(), plaintextPath, tmp); err != nil {
		return "", false, err
	}

	size := roundUp(kMaxAvbMetadataSize+4096, 1<<partitionSizeShift)
	if err := n.Signer.AddHashFooter(context.Background(), tmp, "uboot_env", size); err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}

	changed, err := pathutil.ReplaceIfChanged(tmp, final)
	if err != nil {
		return "", false, err
	}
	return final, changed, nil
}

// roundUp rounds n up to the next multiple of mult (mult a power of two).
func roundUp(n, mult int64) int64 {
	return (n + mult - 1) &^ (mult - 1)
}

// entrypoint resolves the boot flow's U-Boot command (spec.md §4.5.3).
func entrypoint(cfg Config) string {
	if cfg.Flow == FlowAndroid {
		return "run bootcmd_android"
	}

	part, ok := cfg.Flow.efiPartitionNumber()
	loader := fmt.Sprintf(cfg.Flow.efiLoaderGlob(), cfg.Arch)
	if !ok {
		// Linux/Fuchsia: no fixed partition number, so search partitions
		// 1 through 8 in turn.
		return fmt.Sprintf("for p in 1 2 3 4 5 6 7 8; do efi_search $p %s; done", loader)
	}
	return fmt.Sprintf("efi_search %d %s", part, loader)
}

// buildEnvText renders the null-terminated variable list described by
// spec.md §4.5.3.
func buildEnvText(cfg Config) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "ethprime=eth1\x00")

	entry := entrypoint(cfg)
	if cfg.PauseInBootloader {
		entry = fmt.Sprintf("if test $paused -ne 1; then paused=1; else %s; fi", entry)
	}

	fmt.Fprintf(&b, "uenvcmd=setenv bootargs \"$cbootargs %s\" && %s\x00", cfg.KernelCmdline, entry)
	return b.String()
}

func mkenvimageSlim(ctx context.Context, in, out string) error {
	exit, err := subprocess.Run(ctx, []string{"mkenvimage_slim", "-o", out, in}, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "mkenvimage_slim: %s", exit.String())
	}
	return nil
}
