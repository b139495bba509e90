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
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ErrProtocolViolation is returned (and, per spec.md §7, panicked with
// where the caller has no way to recover meaningfully) whenever a server
// reply cannot be decoded, matching the original runtime's ipc_fail().
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("ipc: protocol violation: %s", e.Reason)
}

// Client is one uninterruptible MacTux IPC connection, grounded on
// ingestConnection.go's IngestConnection: dial, handshake once, then
// exchange framed request/response pairs for the lifetime of the
// connection.
type Client struct {
	conn *net.UnixConn
}

// Dial connects to the server's Unix domain socket at sockPath and
// performs the mandatory handshake, matching
// IngestConnection.IdentifyIngester/IngestOK's fatal-on-mismatch
// behavior.
func Dial(sockPath string) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolve %q: %w", sockPath, err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %q: %w", sockPath, err)
	}
	c := &Client{conn: conn}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// FromFd adopts an already-open, already-handshaken socket fd as a
// Client — the --init-sock-fd path an exec'd emulator takes to inherit
// its predecessor's connection instead of dialing a fresh one (spec.md
// §6, process::exec's un-CLOEXEC'd fd handoff).
func FromFd(fd int32) (*Client, error) {
	file := os.NewFile(uintptr(fd), "mactux-ipc")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("ipc: adopt fd %d: %w", fd, err)
	}
	uconn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("ipc: fd %d is not a unix socket", fd)
	}
	return &Client{conn: uconn}, nil
}

func (c *Client) handshake() error {
	payload, err := marshal(NewHandshakeRequest())
	if err != nil {
		return err
	}
	if err := writeFrame(c.conn, payload); err != nil {
		return fmt.Errorf("ipc: handshake send: %w", err)
	}
	reply, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("ipc: handshake recv: %w", err)
	}
	var resp HandshakeResponse
	if err := unmarshal(reply, &resp); err != nil {
		return &ErrProtocolViolation{Reason: "malformed handshake response"}
	}
	if !resp.Valid() {
		return fmt.Errorf(
			"ipc: server protocol version %q does not match client version %q",
			resp.Version, ProtocolVersion,
		)
	}
	return nil
}

// Fd returns the underlying socket's host file descriptor, tracked by the
// caller's important-fds set (spec.md §3) the way the original Client's
// Drop impl removes it on close.
func (c *Client) Fd() (int32, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int32
	cerr := raw.Control(func(ptr uintptr) { fd = int32(ptr) })
	if cerr != nil {
		return -1, cerr
	}
	return fd, nil
}

// EnableCloexec / DisableCloexec toggle FD_CLOEXEC on the client socket,
// used around fork (enable, so the child doesn't inherit it) and exec
// (disable, so the next image's client can adopt it via --init-sock-fd).
func (c *Client) EnableCloexec() error  { return c.setCloexec(true) }
func (c *Client) DisableCloexec() error { return c.setCloexec(false) }

func (c *Client) setCloexec(on bool) error {
	fd, err := c.Fd()
	if err != nil {
		return err
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	if on {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags)
	return err
}

// Invoke sends req and blocks for the matching response — the
// uninterruptible call path (spec.md §4.H), mirroring Client::invoke's
// without_signals-guarded single request/response round trip. Every
// asynchronous signal is blocked on the calling thread for the duration,
// so a handler entered mid-round-trip (e.g. one that itself performs I/O
// routed through this same thread-local client) can never reenter the
// framing and scramble it.
func (c *Client) Invoke(req Request) (resp Response, err error) {
	withoutSignals(func() {
		resp, err = c.invokeLocked(req)
	})
	return
}

func (c *Client) invokeLocked(req Request) (Response, error) {
	payload, err := marshal(req)
	if err != nil {
		return Response{}, err
	}
	if err := writeFrame(c.conn, payload); err != nil {
		return Response{}, fmt.Errorf("ipc: send: %w", err)
	}
	raw, err := readFrame(c.conn)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: recv: %w", err)
	}
	var resp Response
	if err := unmarshal(raw, &resp); err != nil {
		return Response{}, &ErrProtocolViolation{Reason: "malformed response: " + err.Error()}
	}
	return resp, nil
}

// withoutSignals runs f with every signal blocked on the calling thread,
// restoring the prior mask afterward. Grounded on sig.withoutSignals'
// identical PthreadSigmask/SigFillset discipline; duplicated here rather
// than imported to avoid a sig -> rtenv -> ipc -> sig import cycle.
func withoutSignals(f func()) {
	var full, old unix.Sigset_t
	unix.SigFillset(&full)
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &full, &old); err != nil {
		f()
		return
	}
	f()
	_ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
