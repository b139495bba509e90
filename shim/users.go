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
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

// This group forwards identity syscalls straight to the host: MacTux runs
// the guest as whatever host user invoked it, with no separate UID/GID
// namespace of its own (spec.md's Non-goals exclude user namespaces), so
// the host's own notion of uid/gid IS the guest's.
func init() {
	trap.RegisterShim(sysnum.Getuid, shimGetuid)
	trap.RegisterShim(sysnum.Getgid, shimGetgid)
	trap.RegisterShim(sysnum.Setuid, shimSetuid)
	trap.RegisterShim(sysnum.Setgid, shimSetgid)
	trap.RegisterShim(sysnum.Geteuid, shimGeteuid)
	trap.RegisterShim(sysnum.Getegid, shimGetegid)
	trap.RegisterShim(sysnum.Getgroups, shimGetgroups)
}

func shimGetuid(ctx trap.Context) {
	ctx.SetReturn(uintptr(unix.Getuid()))
}

func shimGetgid(ctx trap.Context) {
	ctx.SetReturn(uintptr(unix.Getgid()))
}

func shimGeteuid(ctx trap.Context) {
	ctx.SetReturn(uintptr(unix.Geteuid()))
}

func shimGetegid(ctx trap.Context) {
	ctx.SetReturn(uintptr(unix.Getegid()))
}

func shimSetuid(ctx trap.Context) {
	retErr(ctx, structures.FromHostErrno(unix.Setuid(int(ctx.Arg0()))))
}

func shimSetgid(ctx trap.Context) {
	retErr(ctx, structures.FromHostErrno(unix.Setgid(int(ctx.Arg0()))))
}

func shimGetgroups(ctx trap.Context) {
	n := int(ctx.Arg0())
	groups, err := unix.Getgroups()
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	if n == 0 {
		ctx.SetReturn(uintptr(len(groups)))
		return
	}
	if n < len(groups) {
		retErr(ctx, structures.EINVAL)
		return
	}
	for i, g := range groups {
		writeAt(ctx.Arg1()+uintptr(i)*4, uint32(g))
	}
	ctx.SetReturn(uintptr(len(groups)))
}
