/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build darwin && amd64

package emuctx

import "golang.org/x/sys/unix"

// thread_fastpath syscall numbers used by XNU's x86_64 libsyscall to set
// and query the per-thread TSD base register (gs: on this platform).
// These are private host primitives, not public Linux-ABI syscalls —
// spec.md §4.D calls this "the private host primitive that sets the TSD
// base to the guest-chosen value".
const (
	sysThreadSelfID     = 372
	sysThreadSetTSDBase = 0x3000003 // thread_fast_set_cthread_self trap, BSD syscall class
)

// setTSDBase installs base into the gs: segment-base register for the
// calling thread.
func setTSDBase(base uintptr) {
	unix.Syscall(sysThreadSetTSDBase, base, 0, 0)
}

// currentGSBase reads the gs: segment-base register macOS assigned this
// thread at creation, captured once at EnterThread and never touched
// again except by LeaveEmulated restoring it. The original Rust runtime
// reads this through a Mach thread_info(THREAD_IDENTIFIER_INFO) call; this
// port takes the simpler path of re-invoking the same private set-TSD-base trap with a zero argument,
// which XNU defines to return the thread's current base rather than
// changing it.
func currentGSBase() uintptr {
	addr, _, errno := unix.Syscall(sysThreadSetTSDBase, 0, 0, 0)
	if errno != 0 {
		return 0
	}
	return addr
}

// threadSelfID returns the native Linux-distinct host thread identifier
// (spec.md: "Linux TID (distinct from host thread id)") used to key the
// process-wide PubCtx registry.
func threadSelfID() int {
	id, _, _ := unix.Syscall(sysThreadSelfID, 0, 0, 0)
	return int(id)
}
