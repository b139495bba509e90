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

	"github.com/sisungo/mactux/sig"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.RtSigaction, shimRtSigaction)
	trap.RegisterShim(sysnum.RtSigprocmask, shimRtSigprocmask)
	trap.RegisterShim(sysnum.RtSigreturn, shimRtSigreturn)
}

// guestSigaction mirrors the Linux x86_64 struct kernel_sigaction layout
// a libc's rt_sigaction(2) wrapper actually reads/writes.
type guestSigaction struct {
	Handler  uintptr
	Flags    uint64
	Restorer uintptr
	Mask     uint64
}

func shimRtSigaction(ctx trap.Context) {
	signum := int(ctx.Arg0())
	newAddr := ctx.Arg1()
	oldAddr := ctx.Arg2()

	var lx structures.LxErrno
	var old structures.SigAction
	if newAddr != 0 {
		ga := readAt[guestSigaction](newAddr)
		old, lx = sig.SetSigAction(signum, structures.SigAction{
			Handler:  ga.Handler,
			Flags:    ga.Flags,
			Restorer: ga.Restorer,
			Mask:     ga.Mask,
		})
	} else {
		old, lx = sig.SigAction(signum)
	}
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	if oldAddr != 0 {
		writeAt(oldAddr, guestSigaction{
			Handler:  old.Handler,
			Flags:    old.Flags,
			Restorer: old.Restorer,
			Mask:     old.Mask,
		})
	}
	ctx.SetReturn(0)
}

// linuxSigsetToHost/hostSigsetToLinux convert between a Linux sigset_t's
// bit numbering (bit n-1 means signal n, Linux's own numbers) and the
// host unix.Sigset_t used by pthread_sigmask, translating every set bit
// through sig.ToApple/FromApple individually since the two numbering
// spaces share no arithmetic relationship.
func linuxSigsetToHost(bits uint64) *unix.Sigset_t {
	var set unix.Sigset_t
	unix.SigEmptySet(&set)
	for linuxSig := 1; linuxSig <= 64; linuxSig++ {
		if bits&(1<<uint(linuxSig-1)) == 0 {
			continue
		}
		if appleSig, ok := sig.ToApple(linuxSig); ok {
			unix.SigAddset(&set, appleSig)
		}
	}
	return &set
}

func hostSigsetToLinux(set unix.Sigset_t) uint64 {
	var bits uint64
	for appleSig := 1; appleSig <= 32; appleSig++ {
		if !unix.SigIsmember(&set, appleSig) {
			continue
		}
		if linuxSig, ok := sig.FromApple(appleSig); ok {
			bits |= 1 << uint(linuxSig-1)
		}
	}
	return bits
}

// linuxHowtoToHost translates rt_sigprocmask's Linux SIG_BLOCK/SIG_UNBLOCK/
// SIG_SETMASK (0/1/2) to the host's own encoding (1/2/3, one higher each)
// for pthread_sigmask.
func linuxHowtoToHost(linuxHowto int) int {
	switch linuxHowto {
	case 0:
		return unix.SIG_BLOCK
	case 1:
		return unix.SIG_UNBLOCK
	default:
		return unix.SIG_SETMASK
	}
}

func shimRtSigprocmask(ctx trap.Context) {
	howto := linuxHowtoToHost(int(ctx.Arg0()))
	setAddr := ctx.Arg1()
	oldAddr := ctx.Arg2()

	var set *unix.Sigset_t
	if setAddr != 0 {
		set = linuxSigsetToHost(readAt[uint64](setAddr))
	}
	old, lx := sig.Mask(howto, set)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	if oldAddr != 0 {
		writeAt(oldAddr, hostSigsetToLinux(old))
	}
	ctx.SetReturn(0)
}

func shimRtSigreturn(ctx trap.Context) {
	sig.Sigreturn(ctx)
}
