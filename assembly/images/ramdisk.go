// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package images holds the ramdisk pack/unpack codec shared by the
// boot-image repack node, the vendor-boot variant, and the gem5 initrd
// synthesizer (spec.md §4.5.2).
package images

import (
	"bytes"
	"context"
	"os"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/subprocess"
)

// cpioMagic is the first six bytes of a "new ASCII" cpio archive.
var cpioMagic = []byte("070701")

// PackRamdisk implements spec.md §4.5.2: `mkbootfs dir | lz4 -12
// --favor-decSpeed > out`.
func PackRamdisk(ctx context.Context, dir, out string) error {
	outFile, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q", out)
	}
	defer outFile.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindFilesystem, err, "failed to create mkbootfs pipe")
	}
	defer pr.Close()
	defer pw.Close()

	mkbootfs, err := subprocess.Start(subprocess.Options{
		Argv:   []string{"mkbootfs", dir},
		Stdout: pw,
		Wait:   subprocess.Wait,
	})
	if err != nil {
		return err
	}
	lz4, err := subprocess.Start(subprocess.Options{
		Argv:   []string{"lz4", "-12", "--favor-decSpeed"},
		Stdin:  pr,
		Stdout: outFile,
		Wait:   subprocess.Wait,
	})
	if err != nil {
		mkbootfs.Interrupt()
		return err
	}
	// The children hold their own copies of the pipe; closing the parent's
	// ends lets lz4 see end-of-input once mkbootfs exits.
	pr.Close()
	pw.Close()

	if _, err := mkbootfs.Wait(ctx); err != nil {
		lz4.Interrupt()
		return err
	}
	if _, err := lz4.Wait(ctx); err != nil {
		return err
	}
	return nil
}

// UnpackRamdisk implements spec.md §4.5.2 and carries forward the open
// question of spec.md §9 about the repeated-cpio-extraction loop: it
// preserves the "keep extracting until one fails" behavior rather than
// collapsing it to a single extraction, without resolving whether that was
// the original intent.
func UnpackRamdisk(ctx context.Context, in, dir string) error {
	head, err := peekHead(in)
	if err != nil {
		return err
	}

	if bytes.Equal(head, cpioMagic) {
		return extractCpioLoop(ctx, in, dir)
	}

	decoded, err := lz4Decode(ctx, in)
	if err != nil {
		return err
	}
	return cpioExtractAll(ctx, decoded, dir)
}

func peekHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q", path)
	}
	defer f.Close()
	buf := make([]byte, len(cpioMagic))
	n, err := f.Read(buf)
	if err != nil && n < len(cpioMagic) {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read %q header", path)
	}
	return buf[:n], nil
}

func lz4Decode(ctx context.Context, in string) (string, error) {
	inFile, err := os.Open(in)
	if err != nil {
		return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q", in)
	}
	defer inFile.Close()

	tmp, err := os.CreateTemp("", "ramdisk-decoded-*.cpio")
	if err != nil {
		return "", cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create decode scratch file")
	}
	defer tmp.Close()

	h, err := subprocess.Start(subprocess.Options{
		Argv:   []string{"lz4", "-d"},
		Stdin:  inFile,
		Stdout: tmp,
		Wait:   subprocess.Wait,
	})
	if err != nil {
		return "", err
	}
	if _, err := h.Wait(ctx); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

// extractCpioLoop runs `cpio -idu` against in repeatedly, the do-while
// loop spec.md §9 flags: each iteration feeds the same archive file to a
// fresh `cpio -idu` in dir; a non-zero exit ends the loop rather than
// failing it, since that exit is this loop's own termination condition.
func extractCpioLoop(ctx context.Context, in, dir string) error {
	for {
		exit, startErr := cpioExtractOnce(ctx, in, dir)
		if startErr != nil {
			return startErr
		}
		if !exit.OK() {
			return nil
		}
	}
}

func cpioExtractAll(ctx context.Context, archive, dir string) error {
	exit, err := cpioExtractOnce(ctx, archive, dir)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "cpio -idu: %s", exit.String())
	}
	return nil
}

// cpioExtractOnce runs one `cpio -idu` invocation and returns its exit
// outcome. Only a failure to start the process (or a context cancellation)
// is surfaced as an error; a non-zero exit code is reported through Exit
// so callers can decide what it means for them.
func cpioExtractOnce(ctx context.Context, archive, dir string) (subprocess.Exit, error) {
	archiveFile, err := os.Open(archive)
	if err != nil {
		return subprocess.Exit{}, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open %q", archive)
	}
	defer archiveFile.Close()

	h, err := subprocess.Start(subprocess.Options{
		Argv:       []string{"cpio", "-idu"},
		Stdin:      archiveFile,
		WorkingDir: dir,
		Wait:       subprocess.Wait,
	})
	if err != nil {
		return subprocess.Exit{}, err
	}
	exit, waitErr := h.Wait(ctx)
	if ctx.Err() != nil {
		return exit, ctx.Err()
	}
	_ = waitErr // classify() errors on non-zero exit too; Exit.OK() is authoritative here.
	return exit, nil
}
