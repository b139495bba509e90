/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package rtenv

import (
	"testing"

	"github.com/sisungo/mactux/structures"
	"github.com/stretchr/testify/require"
)

func TestCwdRoundTrip(t *testing.T) {
	p := Context()
	p.SetCwd("/srv/app")
	require.Equal(t, "/srv/app", p.Cwd())
}

func TestSigActionRoundTrip(t *testing.T) {
	p := Context()
	act := structures.SigAction{Handler: 0x1000, Flags: structures.SAFlagSigInfo}
	old := p.SetSigAction(11, act)
	require.Equal(t, structures.SigAction{}, old)
	require.Equal(t, act, p.SigAction(11))
}

func TestImportantFdTracking(t *testing.T) {
	p := Context()
	p.MarkImportantFd(42)
	require.True(t, p.IsImportantFd(42))
	p.UnmarkImportantFd(42)
	require.False(t, p.IsImportantFd(42))
}

func TestPidMappingIsIdentity(t *testing.T) {
	p := Context()
	lx := p.PidNativeToLinux(777)
	require.EqualValues(t, 777, lx)
	native, ok := p.PidLinuxToNative(lx)
	require.True(t, ok)
	require.EqualValues(t, 777, native)
}
