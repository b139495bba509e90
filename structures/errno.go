/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package structures holds the wire/data-model shapes shared between the
// trap dispatcher, the syscall shims, the runtime services layer and the
// IPC client: Linux errno codes, stat/dirent layouts, signal structures
// and the small value types that travel over the IPC wire.
package structures

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LxErrno is a Linux errno number, distinct from the host's own errno
// space. Shims never propagate a host errno to the guest without passing
// it through FromHostErrno first.
type LxErrno int

const (
	EPERM   LxErrno = 1
	ENOENT  LxErrno = 2
	ESRCH   LxErrno = 3
	EINTR   LxErrno = 4
	EIO     LxErrno = 5
	ENXIO   LxErrno = 6
	E2BIG   LxErrno = 7
	EBADF   LxErrno = 9
	ECHILD  LxErrno = 10
	EAGAIN  LxErrno = 11
	ENOMEM  LxErrno = 12
	EACCES  LxErrno = 13
	EFAULT  LxErrno = 14
	EBUSY   LxErrno = 16
	EEXIST  LxErrno = 17
	EXDEV   LxErrno = 18
	ENODEV  LxErrno = 19
	ENOTDIR LxErrno = 20
	EISDIR  LxErrno = 21
	EINVAL  LxErrno = 22
	ENFILE  LxErrno = 23
	EMFILE  LxErrno = 24
	ENOTTY  LxErrno = 25
	EFBIG   LxErrno = 27
	ENOSPC  LxErrno = 28
	ESPIPE  LxErrno = 29
	EROFS   LxErrno = 30
	EMLINK  LxErrno = 31
	EPIPE   LxErrno = 32
	ENOSYS  LxErrno = 38
	ENOTEMPTY LxErrno = 39
	ELOOP   LxErrno = 40
	ERANGE  LxErrno = 34
	ENODATA LxErrno = 61
	ENOTSUP LxErrno = 95
	ENOTSOCK LxErrno = 88
	EPROTONOSUPPORT LxErrno = 93
	EAFNOSUPPORT LxErrno = 97
	ECONNREFUSED LxErrno = 111
	ETIMEDOUT LxErrno = 110
)

func (e LxErrno) Error() string {
	return fmt.Sprintf("errno %d", int(e))
}

// hostToLinux maps macOS (BSD) errno values onto their Linux counterparts.
// Not every macOS errno has a Linux twin; anything missing here falls back
// to EIO, per spec.md §7.
var hostToLinux = map[unix.Errno]LxErrno{
	unix.EPERM:    EPERM,
	unix.ENOENT:   ENOENT,
	unix.ESRCH:    ESRCH,
	unix.EINTR:    EINTR,
	unix.EIO:      EIO,
	unix.ENXIO:    ENXIO,
	unix.E2BIG:    E2BIG,
	unix.EBADF:    EBADF,
	unix.ECHILD:   ECHILD,
	unix.EAGAIN:   EAGAIN,
	unix.ENOMEM:   ENOMEM,
	unix.EACCES:   EACCES,
	unix.EFAULT:   EFAULT,
	unix.EBUSY:    EBUSY,
	unix.EEXIST:   EEXIST,
	unix.EXDEV:    EXDEV,
	unix.ENODEV:   ENODEV,
	unix.ENOTDIR:  ENOTDIR,
	unix.EISDIR:   EISDIR,
	unix.EINVAL:   EINVAL,
	unix.ENFILE:   ENFILE,
	unix.EMFILE:   EMFILE,
	unix.ENOTTY:   ENOTTY,
	unix.EFBIG:    EFBIG,
	unix.ENOSPC:   ENOSPC,
	unix.ESPIPE:   ESPIPE,
	unix.EROFS:    EROFS,
	unix.EMLINK:   EMLINK,
	unix.EPIPE:    EPIPE,
	unix.ENOSYS:   ENOSYS,
	unix.ENOTEMPTY: ENOTEMPTY,
	unix.ELOOP:    ELOOP,
	unix.ERANGE:   ERANGE,
	unix.ENODATA:  ENODATA,
	unix.ENOTSUP:  ENOTSUP,
	unix.ENOTSOCK: ENOTSOCK,
	unix.EPROTONOSUPPORT: EPROTONOSUPPORT,
	unix.EAFNOSUPPORT: EAFNOSUPPORT,
	unix.ECONNREFUSED: ECONNREFUSED,
	unix.ETIMEDOUT: ETIMEDOUT,
}

// FromHostErrno converts a host (macOS) error into a Linux errno, falling
// back to EIO when there is no direct mapping.
func FromHostErrno(err error) LxErrno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if e, ok := err.(unix.Errno); ok {
		errno = e
	} else {
		return EIO
	}
	if lx, ok := hostToLinux[errno]; ok {
		return lx
	}
	return EIO
}

// Negated returns the two's-complement encoding a syscall shim writes into
// RAX on failure: the Linux errno negated and reinterpreted as uintptr.
func (e LxErrno) Negated() uintptr {
	return uintptr(-int64(e))
}
