// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package instancelock implements spec.md §4.4: numbered advisory locks on
// sentinel files, one per instance id, whose state token gates whether an
// id is free for a new group to claim.
package instancelock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/google/cuttlefish/cvderrors"
)

var log = logrus.WithField("subsystem", "instancelock")

// State is the token stored inside a lock's sentinel file (spec.md §3.3).
type State int

const (
	// NotInUse means the id is free for any caller to acquire.
	NotInUse State = iota
	// Acquired means the id is reserved for a candidate group that has not
	// yet finished starting.
	Acquired
	// InUse means the id belongs to an active, running device.
	InUse
)

func (s State) String() string {
	switch s {
	case NotInUse:
		return "not_in_use"
	case Acquired:
		return "acquired"
	case InUse:
		return "in_use"
	default:
		return "unknown"
	}
}

// MaxInstanceID is the exclusive upper bound for instance ids (spec.md §3.2: [1, 2^31)).
const MaxInstanceID = 1 << 31

// runtimeDir returns the per-user runtime directory lockfiles live under,
// grounded on the teacher's persist/fs RunStoragePath convention
// ($XDG_RUNTIME_DIR/cuttlefish, falling back to /tmp/cuttlefish_user_<uid>).
func runtimeDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return filepath.Join(d, "cuttlefish")
	}
	return fmt.Sprintf("/tmp/cuttlefish_user_%d", os.Getuid())
}

func lockPath(id int) string {
	return filepath.Join(runtimeDir(), "instances", fmt.Sprintf("%d.lock", id))
}

// Holder is a live advisory lock on one instance id. Its destruction (via
// Release) releases the OS-level flock and allows another TryAcquireLock to
// succeed.
type Holder struct {
	id   int
	file *os.File

	mu    sync.Mutex
	state State
}

// ID returns the instance id this holder guards.
func (h *Holder) ID() int { return h.id }

// Status returns the current state token without releasing the lock.
func (h *Holder) Status() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetStatus updates the state token while the lock is held, persisting it
// to the sentinel file.
func (h *Holder) SetStatus(s State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := writeState(h.file, s); err != nil {
		return err
	}
	h.state = s
	return nil
}

// Release drops the flock and closes the sentinel file. After Release, the
// id can be acquired by another caller.
func (h *Holder) Release() error {
	if err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN); err != nil {
		log.WithError(err).WithField("id", h.id).Warn("failed to unlock instance lockfile")
	}
	if err := h.SetStatus(NotInUse); err != nil {
		log.WithError(err).WithField("id", h.id).Warn("failed to reset lock state on release")
	}
	return h.file.Close()
}

// TryAcquireLock performs a non-blocking advisory acquire on the sentinel
// file for id. It fails if another process currently holds the flock.
func TryAcquireLock(id int) (*Holder, error) {
	if id <= 0 || id >= MaxInstanceID {
		return nil, cvderrors.Newf(cvderrors.KindInvariant, "instance id %d out of range [1, %d)", id, MaxInstanceID)
	}

	path := lockPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create lock directory for instance %d", id)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open lockfile for instance %d", id)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, cvderrors.Wrapf(cvderrors.KindInvariant, err, "instance %d is already locked", id)
	}

	state, err := readState(f)
	if err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}

	return &Holder{id: id, file: f, state: state}, nil
}

// TryAcquireUnusedLock scans instance ids lowest-first, starting at 1, and
// returns the first one whose flock is acquirable and whose state token is
// NotInUse (spec.md §4.4).
func TryAcquireUnusedLock(maxScan int) (*Holder, error) {
	for id := 1; id < maxScan; id++ {
		h, err := TryAcquireLock(id)
		if err != nil {
			continue
		}
		if h.Status() != NotInUse {
			h.Release()
			continue
		}
		return h, nil
	}
	return nil, cvderrors.New(cvderrors.KindPrecondition, "no unused instance id available")
}

func readState(f *os.File) (State, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return NotInUse, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to seek lockfile")
	}
	var buf [16]byte
	n, err := f.Read(buf[:])
	if err != nil && n == 0 {
		return NotInUse, nil
	}
	switch string(buf[:n]) {
	case "acquired":
		return Acquired, nil
	case "in_use":
		return InUse, nil
	default:
		return NotInUse, nil
	}
}

func writeState(f *os.File, s State) error {
	if err := f.Truncate(0); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to truncate lockfile")
	}
	if _, err := f.Seek(0, 0); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to seek lockfile")
	}
	if _, err := f.WriteString(s.String()); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write lockfile state")
	}
	return f.Sync()
}
