/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ipc

import (
	"fmt"
	"io"
	"net"
)

// InterruptibleClient is a transient connection opened for exactly one
// CallInterruptible request (spec.md §4.H/§5): the server holds the
// connection open until either the awaited condition is satisfied or the
// client writes the one-byte interrupt marker, at which point it reads
// the final Response and closes.
type InterruptibleClient struct {
	conn *net.UnixConn
}

// BeginInterruptible dials sockPath, performs the handshake, sends req as
// a CallInterruptible request, and returns a client the caller can Wait()
// or Interrupt() — it does not itself block for the response.
func BeginInterruptible(sockPath string, req InterruptibleRequest) (*InterruptibleClient, error) {
	c, err := Dial(sockPath)
	if err != nil {
		return nil, err
	}
	payload, err := marshal(Request{Kind: ReqCallInterruptible, Interruptible: req})
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := writeFrame(c.conn, payload); err != nil {
		c.Close()
		return nil, fmt.Errorf("ipc: interruptible send: %w", err)
	}
	return &InterruptibleClient{conn: c.conn}, nil
}

// Wait blocks until the server closes the connection with a final
// Response (its being-satisfied path), reading to EOF exactly as the
// original InterruptibleClient::wait does rather than going through the
// regular length-prefixed frame reader — the server's "satisfied" path
// writes the response and immediately half-closes.
func (ic *InterruptibleClient) Wait() (Response, error) {
	raw, err := io.ReadAll(ic.conn)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: interruptible wait: %w", err)
	}
	var resp Response
	if err := unmarshal(raw, &resp); err != nil {
		return Response{}, &ErrProtocolViolation{Reason: "malformed interruptible response"}
	}
	return resp, nil
}

// Interrupt writes the one-byte interrupt marker, which the server
// interprets as a request to abandon the wait and reply immediately
// (e.g. for a signal delivered while blocked in poll/read), then closes
// the connection.
func (ic *InterruptibleClient) Interrupt() {
	_, _ = ic.conn.Write([]byte{0})
	_ = ic.conn.Close()
}

// Close releases the connection without signalling interruption — used
// when the caller already consumed a Wait() response.
func (ic *InterruptibleClient) Close() error {
	return ic.conn.Close()
}
