/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build darwin && amd64

package sig

import (
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// darwin's struct sigaction — duplicated from package trap's own copy
// rather than exported and shared, since the two packages install
// handlers for entirely different reasons (syscall trapping vs. actual
// Linux signal emulation) and keeping trap's signal-context code free of
// outside imports matters more than avoiding nineteen bytes of repetition.
type sigactionT struct {
	handler uintptr
	mask    uint32
	flags   int32
}

const (
	saSigInfo = 0x0040
	saOnStack = 0x0001
	saRestart = 0x0002
)

func sigsegvEntry()
func sigabrtEntry()
func genericEntry()
func linuxRestore()

// installHandler installs entry as the host sa_sigaction for signum.
func installHandler(signum int, entry uintptr) error {
	act := sigactionT{
		handler: entry,
		flags:   saSigInfo | saRestart,
	}
	_, _, errno := unix.Syscall(unix.SYS_SIGACTION, uintptr(signum), uintptr(unsafe.Pointer(&act)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Install registers the fixed SIGSEGV/SIGABRT handlers (spec.md §4.J):
// both always run under this emulator's own logic regardless of what
// sigaction the guest later installs, since both carry emulator-internal
// meaning a generic re-raise can't express (the fs:/gs: rewrite for
// SIGSEGV, the synchronous-vs-asynchronous fast-fail split for SIGABRT).
func Install() error {
	if err := installHandler(unix.SIGSEGV, reflect.ValueOf(sigsegvEntry).Pointer()); err != nil {
		return err
	}
	if err := installHandler(unix.SIGABRT, reflect.ValueOf(sigabrtEntry).Pointer()); err != nil {
		return err
	}
	return nil
}

// installGeneric points signum's host disposition at the shared
// generic trampoline — called from SetSigAction whenever the guest
// installs a real handler (not SIG_DFL/SIG_IGN/SIG_HOLD) for a signal in
// handledSignals.
func installGeneric(appleSignum int) error {
	return installHandler(appleSignum, reflect.ValueOf(genericEntry).Pointer())
}

// restorerAddr is linuxRestore's address, used as the default
// SA_RESTORER when the guest sigaction didn't provide one.
func restorerAddr() uintptr {
	return reflect.ValueOf(linuxRestore).Pointer()
}
