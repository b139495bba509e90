/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package netx implements the networking runtime service (spec.md §4.G
// "net"): Linux-to-host sockaddr layout conversion, plus the AF_LOCAL
// special case where a guest path must first be resolved against the
// server (it owns the mapping from Linux abstract/filesystem socket
// paths to host paths).
package netx

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/rtenv/fs"
	"github.com/sisungo/mactux/structures"
	"golang.org/x/sys/unix"
)

// Linux sa_family_t values this module translates; only the handful the
// shim layer actually constructs sockaddrs for.
const (
	AfUnspec uint16 = 0
	AfLocal  uint16 = 1
	AfInet   uint16 = 2
	AfInet6  uint16 = 10
)

// ResolveLocalPath asks the server to map a guest AF_LOCAL path onto a
// host filesystem path. Abstract-namespace paths (leading NUL byte, a
// Linux-only concept with no host equivalent) are remapped onto a
// per-process unique path under the host temp directory, named with a
// fresh UUID so concurrent abstract sockets never collide — the one
// place this module needs randomness beyond what raw AF_LOCAL path
// translation requires.
func ResolveLocalPath(client *ipc.Client, guestPath []byte, forBind bool) (string, structures.LxErrno) {
	if len(guestPath) > 0 && guestPath[0] == 0 {
		return fmt.Sprintf("/tmp/mactux-abstract-%s.sock", uuid.NewString()), 0
	}
	return fs.GetSockPath(client, guestPath, forBind)
}

// ToHostSockaddrIn converts a Linux struct sockaddr_in (port, IPv4 addr)
// into a host unix.SockaddrInet4 — the layouts agree field-for-field, so
// this is a pure reinterpretation rather than a real translation.
func ToHostSockaddrIn(port uint16, addr [4]byte) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(port), Addr: addr}
}

// ToHostSockaddrIn6 is ToHostSockaddrIn's IPv6 counterpart.
func ToHostSockaddrIn6(port uint16, addr [16]byte, scopeID uint32) *unix.SockaddrInet6 {
	return &unix.SockaddrInet6{Port: int(port), Addr: addr, ZoneId: scopeID}
}
