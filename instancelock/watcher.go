// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package instancelock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/google/cuttlefish/cvderrors"
)

// Watcher keeps a cache of instance ids known to have a lockfile on disk,
// refreshed by filesystem events rather than repeated directory listings.
// Grounded on the same fsnotify-driven cache-sync pattern the teacher's
// kata-monitor sandbox watcher uses for its pod cache.
type Watcher struct {
	fsw *fsnotify.Watcher
	ids map[int]bool
}

// NewWatcher starts watching the lockfile directory for creation and
// removal of "<id>.lock" sentinel files.
func NewWatcher() (*Watcher, error) {
	dir := filepath.Join(runtimeDir(), "instances")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to create lock directory %q", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to create lockfile watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to watch %q", dir)
	}

	w := &Watcher{fsw: fsw, ids: make(map[int]bool)}
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if id, ok := idFromLockName(e.Name()); ok {
				w.ids[id] = true
			}
		}
	}
	return w, nil
}

// Run processes filesystem events until the watcher is closed. It is meant
// to run on its own goroutine; KnownIDs reflects events already processed.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			id, ok := idFromLockName(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			switch {
			case ev.Op&fsnotify.Create != 0:
				w.ids[id] = true
			case ev.Op&fsnotify.Remove != 0:
				delete(w.ids, id)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("lockfile watcher error")
		}
	}
}

// KnownIDs returns the instance ids this watcher has observed a lockfile
// for, in no particular order.
func (w *Watcher) KnownIDs() []int {
	out := make([]int, 0, len(w.ids))
	for id := range w.ids {
		out = append(out, id)
	}
	return out
}

// Close stops watching.
func (w *Watcher) Close() error { return w.fsw.Close() }

func idFromLockName(name string) (int, bool) {
	if !strings.HasSuffix(name, ".lock") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(name, ".lock"))
	if err != nil {
		return 0, false
	}
	return n, true
}
