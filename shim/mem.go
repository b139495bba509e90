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

	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.Mmap, shimMmap)
	trap.RegisterShim(sysnum.Mprotect, shimMprotect)
	trap.RegisterShim(sysnum.Munmap, shimMunmap)
	trap.RegisterShim(sysnum.Brk, shimBrk)
	trap.RegisterShim(sysnum.Mremap, shimMremap)
	trap.RegisterShim(sysnum.Msync, shimMsync)
	trap.RegisterShim(sysnum.Mincore, shimMincore)
	trap.RegisterShim(sysnum.Madvise, shimMadvise)
}

// linuxMmapFlagsToHost translates Linux's MAP_* bits (linuxabi.go) to
// darwin's — the two encodings do not line up bit-for-bit, so every flag
// is translated explicitly rather than forwarded as-is.
func linuxMmapFlagsToHost(flags uint64) int {
	var out int
	if flags&mapShared != 0 {
		out |= unix.MAP_SHARED
	}
	if flags&mapPrivate != 0 {
		out |= unix.MAP_PRIVATE
	}
	if flags&mapFixed != 0 {
		out |= unix.MAP_FIXED
	}
	if flags&mapAnonymous != 0 {
		out |= unix.MAP_ANON
	}
	return out
}

// shimMmap issues the host mmap(2) directly (rather than through
// mmregion, which is the ELF loader's own higher-level abstraction for
// segment placement): a guest's own mmap(2) calls just need a raw
// placement primitive with no auto-release bookkeeping attached.
func shimMmap(ctx trap.Context) {
	addr := ctx.Arg0()
	length := ctx.Arg1()
	prot := int(ctx.Arg2())
	flags := linuxMmapFlagsToHost(uint64(ctx.Arg3()))
	fd := int(int32(ctx.Arg4()))
	offset := int64(ctx.Arg5())

	if flags&unix.MAP_ANON == 0 {
		if _, ok := vfdFor(int32(fd)); ok {
			retErr(ctx, structures.ENODEV)
			return
		}
	}

	mapped, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		retErr(ctx, structures.FromHostErrno(errno))
		return
	}
	ctx.SetReturn(mapped)
}

func shimMprotect(ctx trap.Context) {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, ctx.Arg0(), ctx.Arg1(), ctx.Arg2())
	retErr(ctx, structures.FromHostErrno(errno))
}

func shimMunmap(ctx trap.Context) {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, ctx.Arg0(), ctx.Arg1(), 0)
	retErr(ctx, structures.FromHostErrno(errno))
}

// shimBrk mirrors Linux's no-fail brk(2) ABI: the return value is always
// the resulting break, never a negated errno, since glibc's own
// sbrk-on-top-of-brk wrapper reads failure from "the break didn't move"
// rather than from any error encoding.
func shimBrk(ctx trap.Context) {
	requested := ctx.Arg0()
	p := rtenv.Context()
	if requested == 0 {
		ctx.SetReturn(p.Brk())
		return
	}
	ctx.SetReturn(p.SetBrk(requested))
}

// shimMremap has no host syscall to forward to: darwin has no mremap(2)
// at all. Instead this allocates a fresh anonymous mapping of the new
// size, copies over the overlapping prefix, and releases the old
// mapping — a faithful emulation of the common (non-MREMAP_FIXED,
// non-in-place-growth) case, though it always relocates even when the
// kernel could have grown the mapping in place.
func shimMremap(ctx trap.Context) {
	oldAddr := ctx.Arg0()
	oldLen := ctx.Arg1()
	newLen := ctx.Arg2()

	newAddr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, newLen, uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(unix.MAP_PRIVATE|unix.MAP_ANON), ^uintptr(0), 0)
	if errno != 0 {
		retErr(ctx, structures.FromHostErrno(errno))
		return
	}
	copyLen := oldLen
	if newLen < copyLen {
		copyLen = newLen
	}
	copy(bytesAt(newAddr, copyLen), bytesAt(oldAddr, copyLen))
	unix.Syscall(unix.SYS_MUNMAP, oldAddr, oldLen, 0)
	ctx.SetReturn(newAddr)
}

func shimMsync(ctx trap.Context) {
	_, _, errno := unix.Syscall(unix.SYS_MSYNC, ctx.Arg0(), ctx.Arg1(), ctx.Arg2())
	retErr(ctx, structures.FromHostErrno(errno))
}

func shimMincore(ctx trap.Context) {
	_, _, errno := unix.Syscall(unix.SYS_MINCORE, ctx.Arg0(), ctx.Arg1(), ctx.Arg2())
	retErr(ctx, structures.FromHostErrno(errno))
}

// Linux's MADV_* numbering does not line up with darwin's; only the
// handful of advice values guest libcs actually issue in practice
// (free/dontneed/willneed/normal) are translated, everything else is a
// silent success since advice is just a hint either side is free to
// ignore.
func linuxMadviseToHost(advice int) (int, bool) {
	switch advice {
	case 0:
		return unix.MADV_NORMAL, true
	case 3:
		return unix.MADV_WILLNEED, true
	case 4:
		return unix.MADV_DONTNEED, true
	case 8, 9:
		return unix.MADV_FREE, true
	default:
		return 0, false
	}
}

func shimMadvise(ctx trap.Context) {
	advice, ok := linuxMadviseToHost(int(ctx.Arg2()))
	if !ok {
		ctx.SetReturn(0)
		return
	}
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, ctx.Arg0(), ctx.Arg1(), uintptr(advice))
	retErr(ctx, structures.FromHostErrno(errno))
}
