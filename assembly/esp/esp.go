// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package esp implements spec.md §4.5.8: building an EFI System Partition
// image whose kernel cmdline, root device, and loader layout depend on the
// boot flow (Linux, ChromeOS, Fuchsia, Android-EFI-loader).
package esp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/subprocess"
)

// Flow selects the ESP variant.
type Flow int

const (
	FlowLinux Flow = iota
	FlowChromeOS
	FlowFuchsia
	FlowAndroidEFI
)

// rootDevice implements spec.md §4.5.8's "root device (/dev/vda2 for
// Linux, /dev/vda3 for ChromeOS)" rule. spec.md §9 flags the ChromeOS
// offset as possibly stale against the composite builder's GPT layout;
// preserved as specified pending confirmation.
func (f Flow) rootDevice() string {
	switch f {
	case FlowChromeOS:
		return "/dev/vda3"
	default:
		return "/dev/vda2"
	}
}

// Config describes one instance's ESP inputs.
type Config struct {
	Flow            Flow
	Arch            string // "arm64", "x86_64", ...
	KernelPath      string
	InitrdPath      string // "" if none
	InstanceHomeDir string
	ScratchDir      string
	ESPSizeBytes    int64
}

// Node builds `<instance_home>/esp.img`.
type Node struct {
	Cfg Config
}

func (n *Node) Name() string        { return "esp" }
func (n *Node) DependsOn() []string { return nil }

func (n *Node) Generate() (string, bool, error) {
	final := filepath.Join(n.Cfg.InstanceHomeDir, "esp.img")
	cmdline := cmdlineFor(n.Cfg)

	if err := buildESPImage(context.Background(), n.Cfg, final, cmdline); err != nil {
		return "", false, err
	}
	// The ESP is always fully rewritten; the runner's dependents key off
	// the returned path, not a change flag, for staleness.
	return final, true, nil
}

// cmdlineFor implements spec.md §4.5.8's per-flow cmdline assembly.
func cmdlineFor(cfg Config) string {
	root := cfg.Flow.rootDevice()
	switch cfg.Flow {
	case FlowChromeOS:
		return fmt.Sprintf("console=hvc0 %s init=/sbin/init boot=local rootwait noresume root=%s",
			archConsole(cfg.Arch), root)
	case FlowLinux:
		return fmt.Sprintf("console=hvc0 %s panic=-1 noefi root=%s", archConsole(cfg.Arch), root)
	case FlowFuchsia:
		return fmt.Sprintf("console=hvc0 %s panic=-1 noefi", archConsole(cfg.Arch))
	case FlowAndroidEFI:
		return fmt.Sprintf("console=hvc0 %s panic=-1 noefi androidboot.hardware=cutf_cvm", archConsole(cfg.Arch))
	default:
		return "console=hvc0"
	}
}

func archConsole(arch string) string {
	switch arch {
	case "arm64", "aarch64":
		return "console=ttyAMA0"
	case "riscv64":
		return "console=ttyS0"
	default:
		return "console=ttyS0"
	}
}

func buildESPImage(ctx context.Context, cfg Config, out, cmdline string) error {
	if err := mkfsVfat(ctx, out, cfg.ESPSizeBytes); err != nil {
		return err
	}
	if err := mcopy(ctx, out, cfg.KernelPath, "::/vmlinuz"); err != nil {
		return err
	}
	if cfg.InitrdPath != "" {
		if err := mcopy(ctx, out, cfg.InitrdPath, "::/initrd.img"); err != nil {
			return err
		}
	}
	return writeGrubCfg(ctx, out, cmdline)
}

func mkfsVfat(ctx context.Context, path string, size int64) error {
	if err := truncate(path, size); err != nil {
		return err
	}
	return run(ctx, "mkfs.vfat", "-F", "32", "-n", "ESP", path)
}

func truncate(path string, size int64) error {
	exit, err := subprocess.Run(context.Background(), []string{"truncate", "-s", fmt.Sprintf("%d", size), path}, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "truncate: %s", exit.String())
	}
	return nil
}

func mcopy(ctx context.Context, image, src, dest string) error {
	return run(ctx, "mcopy", "-i", image, src, dest)
}

func writeGrubCfg(ctx context.Context, image, cmdline string) error {
	cfg := fmt.Sprintf("linux /vmlinuz %s\ninitrd /initrd.img\nboot\n", cmdline)
	tmp, err := writeTempFile(cfg)
	if err != nil {
		return err
	}
	return mcopy(ctx, image, tmp, "::/grub.cfg")
}

func writeTempFile(contents string) (string, error) {
	f, err := os.CreateTemp("", "grub-cfg-*")
	if err != nil {
		return "", cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to create grub.cfg scratch file")
	}
	defer f.Close()
	if _, err := f.WriteString(contents); err != nil {
		return "", cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to write grub.cfg scratch file")
	}
	return f.Name(), nil
}

func run(ctx context.Context, argv ...string) error {
	exit, err := subprocess.Run(ctx, argv, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "%s: %s", argv[0], exit.String())
	}
	return nil
}
