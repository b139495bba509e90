/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build darwin && amd64

package trap

import (
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// darwin's struct sigaction, not exposed by x/sys/unix for this platform
// (unlike linux): { sa_handler/sa_sigaction (union, one word), sa_mask
// (32-bit sigset_t), sa_flags (int32) }.
type sigactionT struct {
	handler uintptr
	mask    uint32
	flags   int32
}

const (
	saSigInfo = 0x0040
	saNodefer = 0x0010
	saOnStack = 0x0001
)

func sigsysEntry()

// Install registers sigsysGo as the SIGSYS handler (spec.md §4.E): guest
// `syscall` instructions raise SIGSYS on this platform, and the handler
// runs with SA_SIGINFO (full siginfo_t + ucontext_t) and SA_NODEFER (a
// nested SIGSYS — e.g. a pseudo-syscall invoked from within the handler's
// own indirect-syscall trampoline — must not be blocked).
func Install() error {
	entry := reflect.ValueOf(sigsysEntry).Pointer()
	act := sigactionT{
		handler: uintptr(entry),
		flags:   saSigInfo | saNodefer,
	}
	_, _, errno := unix.Syscall(unix.SYS_SIGACTION, uintptr(unix.SIGSYS), uintptr(unsafe.Pointer(&act)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
