/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sig

import (
	"testing"
	"unsafe"

	"github.com/sisungo/mactux/structures"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	buf := make([]byte, frameSize+16)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	f := stackFrame{
		RetAddr: 0xdeadbeef,
		Info:    structures.SigInfo{Signo: int32(SIGSEGV), Code: 1},
		UContext: structures.UContext{
			GRegs:       [23]uint64{1, 2, 3},
			WasEmulated: true,
		},
		PrevInEmulated: 1,
	}
	writeFrame(addr, f)
	got := readFrame(addr)
	require.Equal(t, f, got)
}

func TestFrameOffsetsAreMonotonic(t *testing.T) {
	require.Equal(t, unsafe.Sizeof(uintptr(0)), infoOffset)
	require.Greater(t, ucontextOffset, infoOffset)
	require.Greater(t, frameSize, ucontextOffset)
}
