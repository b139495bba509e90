/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"time"
	"unsafe"

	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/proc"
	rtsync "github.com/sisungo/mactux/rtenv/sync"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.Futex, shimFutex)
	trap.RegisterShim(sysnum.SetRobustList, shimSetRobustList)
	trap.RegisterShim(sysnum.SetTidAddress, shimSetTidAddress)
}

// Linux FUTEX_* operation numbers (the low bits; FUTEX_PRIVATE_FLAG and
// FUTEX_CLOCK_REALTIME are masked off since this emulator has no
// cross-process futex case to distinguish PRIVATE from shared, and no
// second clock source worth honoring).
const (
	futexWait   = 0
	futexWake   = 1
	futexLockPI = 6
	futexWakeOp = 5
	futexOpMask = 0x7f
)

func shimFutex(ctx trap.Context) {
	addr := (*uint32)(unsafe.Pointer(ctx.Arg0()))
	op := int(ctx.Arg1()) & futexOpMask
	val := uint32(ctx.Arg2())

	switch op {
	case futexWait:
		var timeout *time.Duration
		if ctx.Arg3() != 0 {
			spec := readAt[linuxTimespec](ctx.Arg3())
			d := time.Duration(spec.Sec)*time.Second + time.Duration(spec.Nsec)*time.Nanosecond
			timeout = &d
		}
		retErr(ctx, rtsync.Wait(addr, val, timeout))
	case futexWake:
		ctx.SetReturn(uintptr(rtsync.Wake(addr, int(val))))
	case futexWakeOp:
		addr2 := (*uint32)(unsafe.Pointer(ctx.Arg4()))
		ctx.SetReturn(uintptr(rtsync.WakeOp(addr, int(ctx.Arg3()), addr2, int(ctx.Arg5()), val)))
	case futexLockPI:
		// Priority-inheriting futexes have no analogue in the
		// single-process wait-queue substitution rtenv/sync builds on
		// sync.Cond; reported unsupported per spec.md §4.G.
		retErr(ctx, structures.ENOSYS)
	default:
		retErr(ctx, structures.ENOSYS)
	}
}

func shimSetRobustList(ctx trap.Context) {
	tc := threadCtx()
	tc.RobustHead = ctx.Arg0()
	tc.RobustLen = ctx.Arg1()
	ctx.SetReturn(0)
}

// shimSetTidAddress returns the calling thread's tid. This emulator maps
// guest tids onto native tids 1:1 with no thread-group indirection (the
// same simplification process.go's tkill-as-kill documents), and clone(2)
// never creates a second real OS thread (no CLONE_VM support), so in
// practice this is always the process's own pid.
func shimSetTidAddress(ctx trap.Context) {
	tc := threadCtx()
	tc.ClearChildTID = ctx.Arg0()
	ctx.SetReturn(uintptr(rtenv.Context().PidNativeToLinux(proc.Pid())))
}
