/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package mmregion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullRegion(t *testing.T) {
	r := NullRegion()
	require.Equal(t, uintptr(0), r.Addr())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close()) // idempotent
}

func TestBuildAnonymousAutoRelease(t *testing.T) {
	b := NewBuilder(4096).Protect(ProtRead | ProtWrite).AutoRelease(true)
	r, err := b.Build()
	require.NoError(t, err)
	require.NotZero(t, r.Addr())
	require.EqualValues(t, 4096, r.Len())
	require.NoError(t, r.Close())
}

func TestBuildExecutableImpliesWritable(t *testing.T) {
	b := NewBuilder(4096).Protect(ProtRead | ProtExec).AutoRelease(true)
	require.EqualValues(t, ProtRead|ProtExec, b.prot)
	r, err := b.Build()
	require.NoError(t, err)
	defer r.Close()
	// the region was built with PROT_WRITE added even though the caller
	// only asked for read+exec (hostProt is exercised indirectly here;
	// the explicit assertion on b.prot above shows the caller-facing
	// value is untouched, only the host mapping call gets the extra bit).
}

func TestDisownPreventsRelease(t *testing.T) {
	b := NewBuilder(4096).Protect(ProtRead).AutoRelease(true)
	r, err := b.Build()
	require.NoError(t, err)
	r.Disown()
	require.NoError(t, r.Close())
	// manually unmap to avoid leaking the page for the duration of the test run
	require.NoError(t, rawMunmap(r.Addr(), r.Len()))
}
