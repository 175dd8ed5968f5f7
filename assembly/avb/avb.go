// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package avb wraps avbtool invocations shared by the boot-image repack,
// bootloader-environment, and vbmeta nodes (spec.md §4.5.1, §4.5.3,
// §4.5.4, §4.5.5).
package avb

import (
	"context"
	"fmt"
	"os"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/subprocess"
)

// TestKeyPath is the fixed signing key every node uses; spec.md §4.5.4
// describes vbmeta signing as "both signed with a fixed test key".
const TestKeyPath = "testkey_rsa4096.pem"

// MaxVbmetaSize is the fixed size every vbmeta image is padded or
// truncated up to (spec.md §4.5.4, §4.5.5).
const MaxVbmetaSize = 64 * 1024

// Signer runs avbtool. A struct (rather than bare functions) so tests can
// substitute a fake that records invocations instead of shelling out.
type Signer struct {
	AvbtoolPath string
}

// NewSigner returns a Signer invoking the "avbtool" found on PATH.
func NewSigner() Signer { return Signer{AvbtoolPath: "avbtool"} }

// AddHashFooter appends an AVB hash footer to image, sized to
// partitionSize (spec.md §4.5.1: "sized to either the original partition
// size or 0 if the new image exceeds original size").
func (s Signer) AddHashFooter(ctx context.Context, image, partitionName string, partitionSize int64) error {
	argv := []string{
		s.AvbtoolPath, "add_hash_footer",
		"--image", image,
		"--partition_name", partitionName,
		"--partition_size", fmt.Sprintf("%d", partitionSize),
		"--key", TestKeyPath,
		"--algorithm", "SHA256_RSA4096",
	}
	return s.run(ctx, argv)
}

// ChainPartition describes one partition a vbmeta image chains to
// (spec.md §4.5.4).
type ChainPartition struct {
	Name          string
	RollbackIndex int
	PublicKeyPath string
}

// MakeVbmetaImage builds out chaining every entry in chains, then pads or
// truncates it to MaxVbmetaSize (spec.md §4.5.4, §4.5.5).
func (s Signer) MakeVbmetaImage(ctx context.Context, out string, chains []ChainPartition) error {
	argv := []string{
		s.AvbtoolPath, "make_vbmeta_image",
		"--output", out,
		"--key", TestKeyPath,
		"--algorithm", "SHA256_RSA4096",
	}
	for _, c := range chains {
		argv = append(argv, "--chain_partition",
			fmt.Sprintf("%s:%d:%s", c.Name, c.RollbackIndex, c.PublicKeyPath))
	}
	if err := s.run(ctx, argv); err != nil {
		return err
	}
	return padOrTruncate(out, MaxVbmetaSize)
}

// EnforceMinimumSize pads path up to MaxVbmetaSize if it is smaller, and
// leaves it untouched otherwise (spec.md §4.5.5).
func EnforceMinimumSize(path string) error {
	return padOrTruncate(path, MaxVbmetaSize)
}

// padOrTruncate grows path to size with trailing zeros (ftruncate
// semantics); it never shrinks an existing, larger file, since every
// caller here only ever needs to pad up to a fixed maximum.
func padOrTruncate(path string, size int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to stat %q", path)
	}
	if fi.Size() >= size {
		return nil
	}
	if err := os.Truncate(path, size); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to pad %q to %d bytes", path, size)
	}
	return nil
}

func (s Signer) run(ctx context.Context, argv []string) error {
	exit, err := subprocess.Run(ctx, argv, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "%s: %s", argv[0], exit.String())
	}
	return nil
}
