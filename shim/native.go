/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"golang.org/x/sys/unix"

	"github.com/sisungo/mactux/structures"
)

// linuxToHostOpenFlags translates open(2)'s Linux bit encoding to the
// host's — the two don't share a numeric encoding beyond the low
// O_RDONLY/O_WRONLY/O_RDWR access-mode bits, so every other flag is
// translated bit-by-bit. O_DIRECT, O_DSYNC and O_PATH have no host
// equivalent and are silently dropped: the host open still succeeds, just
// without the stronger guarantee those flags ask for, which is the same
// class of documented simplification as the rest of this emulator's
// host-doesn't-have-that gaps.
func linuxToHostOpenFlags(flags uint64) int {
	var out int
	switch flags & 0o3 {
	case oWronly:
		out |= unix.O_WRONLY
	case oRdwr:
		out |= unix.O_RDWR
	default:
		out |= unix.O_RDONLY
	}
	if flags&oCreat != 0 {
		out |= unix.O_CREAT
	}
	if flags&oExcl != 0 {
		out |= unix.O_EXCL
	}
	if flags&oNoctty != 0 {
		out |= unix.O_NOCTTY
	}
	if flags&oTrunc != 0 {
		out |= unix.O_TRUNC
	}
	if flags&oAppend != 0 {
		out |= unix.O_APPEND
	}
	if flags&oNonblock != 0 {
		out |= unix.O_NONBLOCK
	}
	if flags&oDirectory != 0 {
		out |= unix.O_DIRECTORY
	}
	if flags&oNofollow != 0 {
		out |= unix.O_NOFOLLOW
	}
	if flags&oCloexec != 0 {
		out |= unix.O_CLOEXEC
	}
	return out
}

// openNative performs the actual host open(2) for a path the server
// resolved to a native (host-filesystem-backed) location.
func openNative(path string, how structures.OpenHow) (int32, structures.LxErrno) {
	fd, err := unix.Open(path, linuxToHostOpenFlags(how.Flags), uint32(how.Mode))
	if err != nil {
		return -1, structures.FromHostErrno(err)
	}
	return int32(fd), 0
}

// devNullOpen mints a fresh host fd over /dev/null, the stand-in vfd.Table
// uses for host descriptors that actually refer to server-side objects.
func devNullOpen(cloexec bool) (int32, error) {
	flags := unix.O_RDONLY
	if cloexec {
		flags |= unix.O_CLOEXEC
	}
	fd, err := unix.Open("/dev/null", flags, 0)
	if err != nil {
		return -1, err
	}
	return int32(fd), nil
}
