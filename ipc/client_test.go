/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ipc

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (*net.UnixListener, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "mactux.sock")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	require.NoError(t, err)
	lst, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	return lst, sockPath
}

// serveOneHandshake accepts a single connection, replies to the handshake,
// and — if resp is non-nil — answers exactly one subsequent Invoke with
// resp.
func serveOneHandshake(t *testing.T, lst *net.UnixListener, resp *Response) {
	t.Helper()
	conn, err := lst.Accept()
	require.NoError(t, err)
	defer conn.Close()

	frame, err := readFrame(conn)
	require.NoError(t, err)
	var hsReq HandshakeRequest
	require.NoError(t, unmarshal(frame, &hsReq))
	require.Equal(t, HandshakeMagic, hsReq.Magic)

	hsResp, err := marshal(NewHandshakeResponse())
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, hsResp))

	if resp == nil {
		return
	}
	reqFrame, err := readFrame(conn)
	require.NoError(t, err)
	var req Request
	require.NoError(t, unmarshal(reqFrame, &req))

	respPayload, err := marshal(*resp)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, respPayload))
}

func TestDialHandshakeSucceeds(t *testing.T) {
	lst, sockPath := listen(t)
	defer lst.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOneHandshake(t, lst, nil)
	}()

	c, err := Dial(sockPath)
	require.NoError(t, err)
	defer c.Close()
	<-done
}

func TestInvokeRoundTrip(t *testing.T) {
	lst, sockPath := listen(t)
	defer lst.Close()

	want := Response{Kind: RespLength, Length: 42}
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOneHandshake(t, lst, &want)
	}()

	c, err := Dial(sockPath)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Invoke(Request{Kind: ReqVfdRead, Vfd: 1, Count: 16})
	require.NoError(t, err)
	require.Equal(t, want.Kind, got.Kind)
	require.Equal(t, want.Length, got.Length)
	<-done
}

func TestInvokeErrorResponse(t *testing.T) {
	lst, sockPath := listen(t)
	defer lst.Close()

	want := Response{Kind: RespError, Error: 9}
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOneHandshake(t, lst, &want)
	}()

	c, err := Dial(sockPath)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Invoke(Request{Kind: ReqVfdClose, Vfd: 1})
	require.NoError(t, err)
	lx, ok := got.AsError()
	require.True(t, ok)
	require.EqualValues(t, 9, lx)
	<-done
}
