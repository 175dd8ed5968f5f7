// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package server

import (
	"io"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/protocol"
)

// memCarryoverFlag, serverFDFlag, and carryoverClientFlag are the exec-handoff
// flags of spec.md §6.
const (
	serverFDFlag       = "--INTERNAL_server_fd"
	carryoverClientFlag = "--INTERNAL_carryover_client_fd"
	memCarryoverFlag    = "--INTERNAL_memory_carryover_fd"
)

// Restart implements spec.md §4.1 "Self-replacement (restart-server)":
// serialize the database into an anonymous, exec-surviving memory file,
// stop the server, duplicate the listening socket and the carryover
// client's socket across exec, and replace the process image with
// newBinary. On success this call never returns; on failure before exec it
// returns an error the caller reports to the carryover client, per spec.
func (s *Server) Restart(newBinary string, carryoverClientFD int) error {
	memFD, err := serializeDBToMemFD(s.db)
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to serialize instance database for restart")
	}

	s.Stop()

	// Clear FD_CLOEXEC on everything that must survive exec.
	for _, fd := range []int{s.listenFD, carryoverClientFD, memFD} {
		if err := clearCloexec(fd); err != nil {
			return cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to prepare fd %d for exec handoff", fd)
		}
	}

	argv := append([]string{}, os.Args...)
	argv = append(argv,
		serverFDFlag+"="+strconv.Itoa(s.listenFD),
		carryoverClientFlag+"="+strconv.Itoa(carryoverClientFD),
		memCarryoverFlag+"="+strconv.Itoa(memFD),
	)

	if err := syscall.Exec(newBinary, argv, os.Environ()); err != nil {
		// Stop() already ran; the old process is no longer serving but
		// remains alive to report this failure (spec.md §4.1 "Failure
		// at exec leaves the old process alive").
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "exec of new server binary failed")
	}
	panic("unreachable: syscall.Exec only returns on error")
}

// RestoreFromCarryover loads db from the memory file named by
// --INTERNAL_memory_carryover_fd, if present among os.Args. It is a no-op
// (not an error) on a fresh, non-handoff start.
func RestoreFromCarryover(db interface{ LoadFromJSON([]byte) error }) error {
	fd, ok := findIntFlag(os.Args, memCarryoverFlag)
	if !ok {
		return nil
	}
	f := os.NewFile(uintptr(fd), "carryover-state")
	defer f.Close()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to seek carryover state fd")
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to read carryover state")
	}
	return db.LoadFromJSON(data)
}

// finishCarryoverHandshake sends an OK response to the carryover client
// named by --INTERNAL_carryover_client_fd, then resumes accepting it as a
// normal client connection (spec.md §4.1 step 6).
func (s *Server) finishCarryoverHandshake() error {
	fd, ok := findIntFlag(os.Args, carryoverClientFlag)
	if !ok {
		return nil
	}

	resp := protocol.Response{Status: protocol.Status{Code: protocol.OK}}
	c := &client{fd: fd, stdin: -1, stdout: -1, stderr: -1, extra: -1}
	if err := writeResponseToClient(c, resp); err != nil {
		return err
	}
	return s.loop.Register(fd, unix.EPOLLIN, s.makeClientCallback(c))
}

func serializeDBToMemFD(db interface{ Serialize() ([]byte, error) }) (int, error) {
	data, err := db.Serialize()
	if err != nil {
		return -1, err
	}

	fd, err := unix.MemfdCreate("cuttlefish-server-state", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, cvderrors.Wrap(cvderrors.KindInvariant, err, "memfd_create failed")
	}
	if err := unix.Ftruncate(fd, int64(len(data))); err != nil {
		unix.Close(fd)
		return -1, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to size carryover state file")
	}
	if _, err := unix.Write(fd, data); err != nil {
		unix.Close(fd)
		return -1, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to write carryover state")
	}
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		unix.Close(fd)
		return -1, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to rewind carryover state fd")
	}
	return fd, nil
}

func clearCloexec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags &^ unix.FD_CLOEXEC)
	return err
}
