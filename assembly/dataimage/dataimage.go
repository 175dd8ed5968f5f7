// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package dataimage implements spec.md §4.5.7: the family of blank or
// reused fixed-size partition images (misc, metadata, FRP, pstore,
// access-kregistry, hwcomposer-pmem, SD-card, and the growable data
// image), each governed by one of four creation policies.
package dataimage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
	"github.com/google/cuttlefish/subprocess"
)

// Policy governs whether/how an existing image is reused or (re)created.
type Policy int

const (
	// UseExisting fails if the image is missing.
	UseExisting Policy = iota
	// AlwaysCreate overwrites any existing image.
	AlwaysCreate
	// CreateIfMissing creates the image only when absent.
	CreateIfMissing
	// ResizeUpToPolicy grows an existing image up to a target size,
	// refusing to shrink it (spec.md §4.5.7, §8 boundary behavior).
	ResizeUpToPolicy
)

// Format is the filesystem (if any) an image is formatted with.
type Format int

const (
	FormatNone Format = iota // zero-filled, no filesystem
	FormatExt4
	FormatF2FS
	FormatSDCard // FAT32 wrapped in an MBR reserving the first 1 MiB
)

// Config describes one image's target state.
type Config struct {
	Path          string
	SizeBytes     int64
	Policy        Policy
	Format        Format
	PartitionName string // used as the mkfs volume label where applicable
}

// Node produces or reuses one fixed-purpose partition image.
type Node struct {
	Cfg      Config
	NodeName string
	Deps     []string
}

func (n *Node) Name() string        { return n.NodeName }
func (n *Node) DependsOn() []string { return n.Deps }

func (n *Node) Generate() (string, bool, error) {
	return Generate(context.Background(), n.Cfg)
}

// Generate implements the policy table of spec.md §4.5.7.
func Generate(ctx context.Context, cfg Config) (string, bool, error) {
	exists, size, err := statOrZero(cfg.Path)
	if err != nil {
		return "", false, err
	}

	switch cfg.Policy {
	case UseExisting:
		if !exists {
			return "", false, cvderrors.Newf(cvderrors.KindPrecondition, "%q does not exist and policy is use_existing", cfg.Path)
		}
		return cfg.Path, false, nil

	case CreateIfMissing:
		if exists {
			return cfg.Path, false, nil
		}
		if err := createBlank(ctx, cfg); err != nil {
			return "", false, err
		}
		return cfg.Path, true, nil

	case AlwaysCreate:
		if err := createBlank(ctx, cfg); err != nil {
			return "", false, err
		}
		return cfg.Path, true, nil

	case ResizeUpToPolicy:
		if !exists {
			if err := createBlank(ctx, cfg); err != nil {
				return "", false, err
			}
			return cfg.Path, true, nil
		}
		if size > cfg.SizeBytes {
			return "", false, cvderrors.Newf(cvderrors.KindPrecondition,
				"refusing to shrink %q from %d to %d bytes", cfg.Path, size, cfg.SizeBytes)
		}
		if size == cfg.SizeBytes {
			return cfg.Path, false, nil
		}
		if err := resizeUp(ctx, cfg); err != nil {
			return "", false, err
		}
		return cfg.Path, true, nil

	default:
		return "", false, cvderrors.Newf(cvderrors.KindInvariant, "unknown data image policy %d", cfg.Policy)
	}
}

func statOrZero(path string) (exists bool, size int64, err error) {
	fi, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, 0, nil
		}
		return false, 0, cvderrors.Wrapf(cvderrors.KindFilesystem, statErr, "failed to stat %q", path)
	}
	return true, fi.Size(), nil
}

func createBlank(ctx context.Context, cfg Config) error {
	if err := pathutil.EnsureDir(filepath.Dir(cfg.Path)); err != nil {
		return err
	}
	if err := truncateSparse(cfg.Path, cfg.SizeBytes); err != nil {
		return err
	}
	return formatImage(ctx, cfg)
}

func truncateSparse(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pathutil.FileMode)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create %q", path)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to size %q to %d bytes", path, size)
	}
	return nil
}

// formatImage runs the filesystem-specific formatting tool. spec.md
// §4.5.7 calls out that the SD-card MBR must be written *after*
// formatting, since mkfs tools do not preserve prior contents.
func formatImage(ctx context.Context, cfg Config) error {
	switch cfg.Format {
	case FormatNone:
		return nil
	case FormatExt4:
		return run(ctx, "mkfs.ext4", "-F", "-L", cfg.PartitionName, cfg.Path)
	case FormatF2FS:
		return run(ctx, "mkfs.f2fs", "-f", "-l", cfg.PartitionName, cfg.Path)
	case FormatSDCard:
		// 2048 sectors of 512 bytes: the 1 MiB writeSDCardMBR reserves.
		if err := run(ctx, "mkfs.vfat", "-F", "32", "--offset", "2048", cfg.Path); err != nil {
			return err
		}
		return writeSDCardMBR(cfg.Path)
	default:
		return cvderrors.Newf(cvderrors.KindInvariant, "unknown image format %d", cfg.Format)
	}
}

// writeSDCardMBR writes a single-partition MBR reserving the first 1 MiB
// ahead of the FAT32 filesystem mkfs.vfat already wrote starting there.
func writeSDCardMBR(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q for MBR write", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to stat %q", path)
	}

	const reserved = 1 << 20 // 1 MiB
	mbr := buildMBR(reserved, fi.Size()-reserved)
	if _, err := f.WriteAt(mbr, 0); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write MBR to %q", path)
	}
	return nil
}

// buildMBR returns a minimal 512-byte MBR with one FAT32-LBA partition
// entry starting at startByte and spanning sizeBytes, plus the boot
// signature.
func buildMBR(startByte, sizeBytes int64) []byte {
	const sectorSize = 512
	buf := make([]byte, sectorSize)

	startLBA := uint32(startByte / sectorSize)
	sectors := uint32(sizeBytes / sectorSize)

	const partEntryOffset = 446
	buf[partEntryOffset+0] = 0x00 // status: not bootable
	buf[partEntryOffset+4] = 0x0C // type: FAT32 LBA
	putLE32(buf[partEntryOffset+8:], startLBA)
	putLE32(buf[partEntryOffset+12:], sectors)

	buf[510] = 0x55
	buf[511] = 0xAA
	return buf
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// resizeUp grows an existing image: extend it in place, fsck, run the
// filesystem-specific grow tool, fsck again (spec.md §4.5.7). Growing must
// extend the file rather than recreate it, since the filesystem the resize
// tool operates on lives in the bytes already present.
func resizeUp(ctx context.Context, cfg Config) error {
	if err := fsck(ctx, cfg); err != nil {
		return err
	}
	if err := os.Truncate(cfg.Path, cfg.SizeBytes); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to extend %q to %d bytes", cfg.Path, cfg.SizeBytes)
	}
	if err := resizeTool(ctx, cfg); err != nil {
		return err
	}
	return fsck(ctx, cfg)
}

func fsck(ctx context.Context, cfg Config) error {
	switch cfg.Format {
	case FormatExt4:
		return run(ctx, "e2fsck", "-fy", cfg.Path)
	case FormatF2FS:
		return run(ctx, "fsck.f2fs", "-f", cfg.Path)
	default:
		return nil
	}
}

func resizeTool(ctx context.Context, cfg Config) error {
	switch cfg.Format {
	case FormatExt4:
		return run(ctx, "resize2fs", cfg.Path)
	case FormatF2FS:
		return run(ctx, "resize.f2fs", cfg.Path)
	default:
		return nil
	}
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
