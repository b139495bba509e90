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

	"github.com/stretchr/testify/require"
)

func TestToAppleRoundTrip(t *testing.T) {
	apple, ok := ToApple(SIGSEGV)
	require.True(t, ok)
	linux, ok := FromApple(apple)
	require.True(t, ok)
	require.Equal(t, SIGSEGV, linux)
}

func TestToAppleLinuxOnlyFails(t *testing.T) {
	_, ok := ToApple(SIGSTKFLT)
	require.False(t, ok)
	_, ok = ToApple(SIGRTMIN)
	require.False(t, ok)
}

func TestSigpollAliasesSigio(t *testing.T) {
	apple, ok := ToApple(SIGPOLL)
	require.True(t, ok)
	linux, ok := FromApple(apple)
	require.True(t, ok)
	require.Equal(t, SIGPOLL, linux)
}

func TestEveryHandledSignalHasALinuxNumber(t *testing.T) {
	for apple := range handledSignals {
		_, ok := FromApple(apple)
		require.True(t, ok, "handled apple signal %d has no linux mapping", apple)
	}
}
