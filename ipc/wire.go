/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ipc implements the MacTux client/server wire protocol (spec.md
// §4.H): a length-prefixed request/response exchange over a Unix domain
// socket, guarded by a one-time magic+version handshake.
//
// Payloads are encoded with goccy/go-json rather than the original's
// postcard binary codec — the example corpus's own IPC-shaped code
// (gravwell's ingest wire protocol) leans on JSON for its entry payloads,
// so this mirrors that choice rather than hand-rolling a binary codec.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ProtocolVersion is advertised by both sides during the handshake; a
// mismatch is a hard failure, never a negotiation.
const ProtocolVersion = "9999"

// HandshakeMagic / handshakeReplyMagic identify the two handshake frames.
var (
	HandshakeMagic      = [8]byte{'M', 'A', 'C', 'T', 'U', 'X', 'H', 'Q'}
	handshakeReplyMagic = [8]byte{'M', 'A', 'C', 'T', 'U', 'X', 'H', 'S'}
)

// HandshakeRequest is the first frame a client sends on a fresh connection.
type HandshakeRequest struct {
	Magic [8]byte `json:"magic"`
}

// NewHandshakeRequest returns the only valid handshake request.
func NewHandshakeRequest() HandshakeRequest {
	return HandshakeRequest{Magic: HandshakeMagic}
}

// HandshakeResponse is the server's reply to a HandshakeRequest.
type HandshakeResponse struct {
	Magic   [8]byte `json:"magic"`
	Version string  `json:"version"`
}

// NewHandshakeResponse returns the handshake response for this build.
func NewHandshakeResponse() HandshakeResponse {
	return HandshakeResponse{Magic: handshakeReplyMagic, Version: ProtocolVersion}
}

// Valid reports whether resp matches the magic and protocol version this
// build expects.
func (resp HandshakeResponse) Valid() bool {
	return resp.Magic == handshakeReplyMagic && resp.Version == ProtocolVersion
}

// writeFrame writes a length-prefixed (little-endian uint64 byte count)
// frame to w.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// marshal encodes v as the JSON payload carried inside one frame.
func marshal(v any) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal: %w", err)
	}
	return buf, nil
}

// unmarshal decodes a frame payload produced by marshal.
func unmarshal(buf []byte, v any) error {
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("ipc: unmarshal: %w", err)
	}
	return nil
}
