// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package esp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootDeviceChromeOSUsesVda3(t *testing.T) {
	assert.Equal(t, "/dev/vda3", FlowChromeOS.rootDevice())
	assert.Equal(t, "/dev/vda2", FlowLinux.rootDevice())
	assert.Equal(t, "/dev/vda2", FlowFuchsia.rootDevice())
}

func TestCmdlineForLinuxIncludesNoefiAndRoot(t *testing.T) {
	cmdline := cmdlineFor(Config{Flow: FlowLinux, Arch: "x86_64"})
	assert.Contains(t, cmdline, "noefi")
	assert.Contains(t, cmdline, "root=/dev/vda2")
	assert.Contains(t, cmdline, "console=ttyS0")
}

func TestCmdlineForChromeOSIncludesInitAndBootLocal(t *testing.T) {
	cmdline := cmdlineFor(Config{Flow: FlowChromeOS, Arch: "x86_64"})
	assert.Contains(t, cmdline, "init=/sbin/init")
	assert.Contains(t, cmdline, "boot=local")
	assert.Contains(t, cmdline, "root=/dev/vda3")
}

func TestArchConsoleArm64(t *testing.T) {
	assert.Equal(t, "console=ttyAMA0", archConsole("arm64"))
}
