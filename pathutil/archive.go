// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package pathutil

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/cuttlefish/cvderrors"
)

// ExtractZipEntries copies the named entries (paths inside the archive,
// e.g. "IMAGES/boot.img") out of zipPath into destDir, preserving their
// base names. It is the primitive the super-image rebuilder (spec.md
// §4.5.6) uses to pull specific images and META files out of a
// target-files zip without unpacking the whole archive.
func ExtractZipEntries(zipPath string, entries []string, destDir string) (map[string]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open target-files zip %q", zipPath)
	}
	defer r.Close()

	want := make(map[string]bool, len(entries))
	for _, e := range entries {
		want[e] = true
	}

	if err := EnsureDir(destDir); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "/")
		if !want[name] {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(name))
		if err := extractOne(f, dest); err != nil {
			return nil, err
		}
		out[name] = dest
	}

	for _, e := range entries {
		if _, ok := out[e]; !ok {
			return nil, cvderrors.Newf(cvderrors.KindNotFound, "entry %q not found in %q", e, zipPath)
		}
	}
	return out, nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open zip entry %q", f.Name)
	}
	defer rc.Close()

	w, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create %q", dest)
	}
	defer w.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to extract %q", f.Name)
	}
	return nil
}
