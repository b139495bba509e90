/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package emuctx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnterLeaveEmulatedTogglesFlag(t *testing.T) {
	pub := &PubCtx{nativeBase: 0xdeadbeef}
	pub.setEmulatedGSBase(0xcafef00d)

	EnterEmulated(pub, pub.emulatedGSBase())
	require.True(t, pub.InEmulated())

	LeaveEmulated(pub)
	require.False(t, pub.InEmulated())
}

func TestRegistryRoundTrip(t *testing.T) {
	ctx := EnterThread(12345)
	require.Same(t, ctx, Lookup(12345))
	ExitThread(12345)
	require.Nil(t, Lookup(12345))
}

func TestMayForkResetsRegistryOnChild(t *testing.T) {
	tid := 999
	pub := EnterThread(tid)
	defer ExitThread(tid)

	otherTid := 1000
	EnterThread(otherTid)
	defer ExitThread(otherTid)

	isChild := true
	result := MayFork(tid, pub, func() bool { return true }, func(v bool) bool { return v == isChild })
	require.True(t, result)
	require.Nil(t, Lookup(otherTid), "every other thread vanished in the child")
	require.NotNil(t, Lookup(tid))
}
