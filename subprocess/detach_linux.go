// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package subprocess

import "syscall"

// detachAttr puts a Start-behavior child in its own session so it survives
// the parent's exit, matching wait_behavior=START in spec.md §3.6.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
