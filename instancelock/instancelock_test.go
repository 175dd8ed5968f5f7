// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package instancelock

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempRuntimeDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old, had := os.LookupEnv("XDG_RUNTIME_DIR")
	require.NoError(t, os.Setenv("XDG_RUNTIME_DIR", dir))
	t.Cleanup(func() {
		if had {
			os.Setenv("XDG_RUNTIME_DIR", old)
		} else {
			os.Unsetenv("XDG_RUNTIME_DIR")
		}
	})
}

func TestTryAcquireLockRejectsConcurrentHolder(t *testing.T) {
	withTempRuntimeDir(t)

	h1, err := TryAcquireLock(5)
	require.NoError(t, err)
	defer h1.Release()

	_, err = TryAcquireLock(5)
	assert.Error(t, err, "a second acquire on the same id must fail while the first is held")
}

func TestReleaseAllowsReacquire(t *testing.T) {
	withTempRuntimeDir(t)

	h1, err := TryAcquireLock(7)
	require.NoError(t, err)
	require.NoError(t, h1.Release())

	h2, err := TryAcquireLock(7)
	require.NoError(t, err)
	defer h2.Release()
}

func TestSetStatusPersists(t *testing.T) {
	withTempRuntimeDir(t)

	h, err := TryAcquireLock(9)
	require.NoError(t, err)
	require.NoError(t, h.SetStatus(InUse))
	assert.Equal(t, InUse, h.Status())
	h.Release()
}

func TestTryAcquireUnusedLockSkipsHeld(t *testing.T) {
	withTempRuntimeDir(t)

	held, err := TryAcquireLock(1)
	require.NoError(t, err)
	require.NoError(t, held.SetStatus(InUse))
	defer held.Release()

	free, err := TryAcquireUnusedLock(10)
	require.NoError(t, err)
	defer free.Release()
	assert.NotEqual(t, 1, free.ID())
}

func TestTryAcquireLockRejectsOutOfRange(t *testing.T) {
	withTempRuntimeDir(t)
	_, err := TryAcquireLock(0)
	assert.Error(t, err)
	_, err = TryAcquireLock(MaxInstanceID)
	assert.Error(t, err)
}
