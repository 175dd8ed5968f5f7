// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package bootenv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildEnvTextAndroidFlow(t *testing.T) {
	text := buildEnvText(Config{Flow: FlowAndroid, KernelCmdline: "console=hvc0"})
	assert.Contains(t, text, "ethprime=eth1\x00")
	assert.Contains(t, text, "run bootcmd_android")
	assert.Contains(t, text, `$cbootargs console=hvc0`)
}

func TestBuildEnvTextPauseInBootloaderWraps(t *testing.T) {
	text := buildEnvText(Config{Flow: FlowAndroid, PauseInBootloader: true})
	assert.True(t, strings.Contains(text, "if test $paused -ne 1; then paused=1; else run bootcmd_android; fi"))
}

func TestEntrypointEFIFlowsUseFixedPartitionNumbers(t *testing.T) {
	assert.Contains(t, entrypoint(Config{Flow: FlowAndroidEFI, Arch: "x64"}), "efi_search 1 ")
	assert.Contains(t, entrypoint(Config{Flow: FlowChromeOS, Arch: "x64"}), "efi_search 2 ")
	assert.Contains(t, entrypoint(Config{Flow: FlowChromeOSDisk, Arch: "x64"}), "efi_search 12 ")
}

func TestRoundUpToPartitionSizeShift(t *testing.T) {
	assert.EqualValues(t, 1<<20, roundUp(1, 1<<20))
	assert.EqualValues(t, 1<<20, roundUp(1<<20, 1<<20))
	assert.EqualValues(t, 2<<20, roundUp(1<<20+1, 1<<20))
}
