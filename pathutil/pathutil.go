// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package pathutil holds the filesystem primitives shared by the server's
// dispatcher and the assembly pipeline: atomic file
// replacement under the content-equivalence rule (spec.md §3.4), directory
// creation, and expansion of the handful of path-valued environment
// variables the daemon normalizes per request (spec.md §4.1 step 2).
package pathutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/google/cuttlefish/cvderrors"
)

// DirMode is the permission used for every directory this repo creates.
const DirMode = os.FileMode(0750)

// FileMode is the permission used for every regular file this repo creates.
const FileMode = os.FileMode(0640)

// PathEnvVars are the environment variables the server rewrites to an
// absolute path relative to the client's working directory (spec.md §6).
var PathEnvVars = []string{
	"HOME",
	"ANDROID_HOST_OUT",
	"ANDROID_SOONG_HOST_OUT",
	"ANDROID_PRODUCT_OUT",
}

// NormalizeEnv rewrites every PathEnvVars entry in env to an absolute path
// resolved against workingDir. A leading "~" is rejected: the server has no
// way to know the client's home directory.
func NormalizeEnv(env []string, workingDir string) ([]string, error) {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		if !isPathEnvVar(k) {
			out = append(out, kv)
			continue
		}
		if strings.HasPrefix(v, "~") {
			return nil, cvderrors.Newf(cvderrors.KindPrecondition, "%s may not start with '~': the server cannot resolve the client's home directory", k)
		}
		if v != "" && !filepath.IsAbs(v) {
			v = filepath.Join(workingDir, v)
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}

func isPathEnvVar(k string) bool {
	for _, c := range PathEnvVars {
		if c == k {
			return true
		}
	}
	return false
}

// EnsureDir creates dir (and parents) with DirMode if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create directory %q", dir)
	}
	return nil
}

// ReplaceIfChanged implements the content-equivalence rule of spec.md §3.4:
// tmpPath is compared byte-for-byte against finalPath. If they are equal,
// tmpPath is removed and finalPath's mtime is left untouched (so downstream
// "up to date" decisions are undisturbed). Otherwise tmpPath atomically
// replaces finalPath. Returns true if finalPath's content changed.
//
// This used to be named the way the teacher's helper with the same dual
// behavior was — "DeleteTmpFileIfNotChanged" — which undersold what it does
// on the "different" branch; renamed here per spec.md §9's open question
// about that helper, behavior preserved.
func ReplaceIfChanged(tmpPath, finalPath string) (changed bool, err error) {
	same, err := filesEqual(tmpPath, finalPath)
	if err != nil {
		return false, err
	}
	if same {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return false, cvderrors.Wrapf(cvderrors.KindFilesystem, rmErr, "failed to remove stale temp file %q", tmpPath)
		}
		return false, nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return false, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to replace %q with %q", finalPath, tmpPath)
	}
	return true, nil
}

func filesEqual(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q", a)
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q", b)
	}
	defer fb.Close()

	sa, err := fa.Stat()
	if err != nil {
		return false, errors.WithStack(err)
	}
	sb, err := fb.Stat()
	if err != nil {
		return false, errors.WithStack(err)
	}
	if sa.Size() != sb.Size() {
		return false, nil
	}

	const chunk = 64 * 1024
	bufA := make([]byte, chunk)
	bufB := make([]byte, chunk)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA == io.EOF && errB == io.EOF {
			return true, nil
		}
		if errA != nil && errA != io.ErrUnexpectedEOF && errA != io.EOF {
			return false, errors.WithStack(errA)
		}
		if errB != nil && errB != io.ErrUnexpectedEOF && errB != io.EOF {
			return false, errors.WithStack(errB)
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return errB == io.EOF || errB == io.ErrUnexpectedEOF, nil
		}
	}
}

// MTimeNotOlderThan reports whether the file at path has an mtime >= every
// entry in inputs' mtimes (the composite-disk staleness check, spec.md
// §3.5). A missing path is treated as "older than everything".
func MTimeNotOlderThan(path string, inputs []string) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}
	for _, in := range inputs {
		ist, err := os.Stat(in)
		if err != nil {
			return false, errors.WithStack(err)
		}
		if ist.ModTime().After(st.ModTime()) {
			return false, nil
		}
	}
	return true, nil
}
