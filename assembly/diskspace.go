// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package assembly

import (
	"golang.org/x/sys/unix"

	"github.com/docker/go-units"

	"github.com/google/cuttlefish/cvderrors"
)

// DataImagePaths is the pair of candidate data-image paths the guard
// checks, falling back to the "new" data image when the primary has zero
// sparse and on-disk size (spec.md §4.5 "Disk-space guard").
type DataImagePaths struct {
	Primary string
	New     string
}

// sizer abstracts stat-ing a sparse file's apparent and on-disk size, so
// tests can substitute a fake without touching the real filesystem.
type sizer interface {
	SparseAndDiskSize(path string) (sparse, disk int64, err error)
}

type statSizer struct{}

func (statSizer) SparseAndDiskSize(path string) (int64, int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if err == unix.ENOENT {
			// Nothing to grow yet (e.g. a group's first start, before its
			// data image node has run): treat as zero-size rather than
			// failing, matching the guard's own zero/zero fallback rule.
			return 0, 0, nil
		}
		return 0, 0, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to stat %q", path)
	}
	// st.Blocks is always in 512-byte units regardless of st.Blksize.
	return st.Size, st.Blocks * 512, nil
}

// availableBytes reports how much free space the filesystem containing
// path has.
func availableBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to statfs %q", path)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// CheckDiskSpace implements spec.md §4.5's disk-space guard: resolve the
// data-image path, compute sparse_size - disk_size, and fail before any
// mutation if the filesystem holding it has fewer bytes available than
// that difference.
func CheckDiskSpace(paths DataImagePaths) error {
	return checkDiskSpace(paths, statSizer{})
}

func checkDiskSpace(paths DataImagePaths, sz sizer) error {
	path := paths.Primary
	sparse, disk, err := sz.SparseAndDiskSize(path)
	if err != nil {
		return err
	}
	if sparse == 0 && disk == 0 {
		path = paths.New
		sparse, disk, err = sz.SparseAndDiskSize(path)
		if err != nil {
			return err
		}
	}

	needed := sparse - disk
	if needed <= 0 {
		return nil
	}

	avail, err := availableBytes(path)
	if err != nil {
		return err
	}

	if avail < needed {
		return cvderrors.Newf(cvderrors.KindInvariant,
			"not enough space to grow %q: need %s, only %s available",
			path, units.BytesSize(float64(needed)), units.BytesSize(float64(avail)))
	}
	return nil
}
