/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"runtime"

	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.SchedYield, shimSchedYield)
	trap.RegisterShim(sysnum.SchedSetaffinity, shimSchedSetaffinity)
	trap.RegisterShim(sysnum.SchedGetaffinity, shimSchedGetaffinity)
}

// shimSchedYield has no host syscall counterpart worth forwarding to
// (darwin's yield is a libc-level pthread_yield_np, not a raw syscall
// this emulator can issue directly) — runtime.Gosched gives up the
// current goroutine's slice the same way, which is the only observable
// effect sched_yield(2) actually promises.
func shimSchedYield(ctx trap.Context) {
	runtime.Gosched()
	ctx.SetReturn(0)
}

// shimSchedSetaffinity is a no-op success: darwin exposes no per-thread
// CPU-set API comparable to Linux's cpu_set_t (thread_policy_set's
// affinity tag is an advisory hint to a different subsystem entirely),
// so there is nothing to apply. Reporting success rather than ENOSYS
// matches the common guest expectation that affinity pinning is merely a
// performance hint it may not get.
func shimSchedSetaffinity(ctx trap.Context) {
	ctx.SetReturn(0)
}

// shimSchedGetaffinity reports every host CPU as available, the only
// truthful answer this emulator can give in the absence of a real
// affinity mechanism underneath it.
func shimSchedGetaffinity(ctx trap.Context) {
	setAddr := ctx.Arg2()
	setSize := int(ctx.Arg1())
	if setAddr == 0 || setSize <= 0 {
		retErr(ctx, structures.EINVAL)
		return
	}
	dst := bytesAt(setAddr, uintptr(setSize))
	for i := range dst {
		dst[i] = 0
	}
	n := runtime.NumCPU()
	for cpu := 0; cpu < n && cpu/8 < len(dst); cpu++ {
		dst[cpu/8] |= 1 << uint(cpu%8)
	}
	ctx.SetReturn(uintptr(setSize))
}
