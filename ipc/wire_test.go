/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello, mactux")
	require.NoError(t, writeFrame(&buf, payload))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, nil))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestHandshakeResponseValid(t *testing.T) {
	resp := NewHandshakeResponse()
	require.True(t, resp.Valid())

	resp.Version = "0"
	require.False(t, resp.Valid())
}

func TestRequestResponseJSONRoundTrip(t *testing.T) {
	req := Request{Kind: ReqVfdRead, Vfd: 7, Count: 128}
	payload, err := marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, unmarshal(payload, &decoded))
	require.Equal(t, req.Kind, decoded.Kind)
	require.Equal(t, req.Vfd, decoded.Vfd)
	require.Equal(t, req.Count, decoded.Count)
}
