// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package gem5

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInitrdTrailerFraming(t *testing.T) {
	out := BuildInitrd("", "", []byte("bootconfig-body\n"))

	require.True(t, len(out) >= len(bootconfigTrailer))
	trailer := string(out[len(out)-len(bootconfigTrailer):])
	assert.Equal(t, bootconfigTrailer, trailer)

	section := append([]byte(bootconfigPreamble), []byte("bootconfig-body\n")...)

	checksumOffset := len(out) - len(bootconfigTrailer) - 4
	lengthOffset := checksumOffset - 4

	gotLen := binary.LittleEndian.Uint32(out[lengthOffset:checksumOffset])
	assert.EqualValues(t, len(section), gotLen)

	var wantChecksum uint32
	for _, b := range section {
		wantChecksum += uint32(b)
	}
	gotChecksum := binary.LittleEndian.Uint32(out[checksumOffset : checksumOffset+4])
	assert.Equal(t, wantChecksum, gotChecksum)
}

func TestBuildInitrdIncludesPreambleEvenWithoutBootconfig(t *testing.T) {
	out := BuildInitrd("", "", nil)
	assert.Contains(t, string(out), bootconfigPreamble)
}
