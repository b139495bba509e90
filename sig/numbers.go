/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sig implements the signal-emulation runtime service (spec.md
// §4.J): translating between Linux's signal numbering/ABI and the host's,
// building the sigframe a guest handler runs against, and the
// rt_sigreturn/SIGSEGV/SIGABRT special cases that only make sense once a
// process is actually bouncing between native and emulated mode.
package sig

import "golang.org/x/sys/unix"

// NSIG is Linux's highest signal number (SIGRTMAX); this emulator tracks
// a sigaction slot for every signal from 1 through NSIG.
const NSIG = 64

// Linux x86_64 signal numbers, named the way uapi/asm-generic/signal.h
// does. Values with no host counterpart (SIGSTKFLT, SIGPWR and the
// real-time range) are Linux-only: they can be delivered internally
// (kill(2) against this same process) but never arise from a trapped host
// signal and never round-trip through ToApple.
const (
	SIGHUP    = 1
	SIGINT    = 2
	SIGQUIT   = 3
	SIGILL    = 4
	SIGTRAP   = 5
	SIGABRT   = 6
	SIGBUS    = 7
	SIGFPE    = 8
	SIGKILL   = 9
	SIGUSR1   = 10
	SIGSEGV   = 11
	SIGUSR2   = 12
	SIGPIPE   = 13
	SIGALRM   = 14
	SIGTERM   = 15
	SIGSTKFLT = 16
	SIGCHLD   = 17
	SIGCONT   = 18
	SIGSTOP   = 19
	SIGTSTP   = 20
	SIGTTIN   = 21
	SIGTTOU   = 22
	SIGURG    = 23
	SIGXCPU   = 24
	SIGXFSZ   = 25
	SIGVTALRM = 26
	SIGPROF   = 27
	SIGWINCH  = 28
	SIGPOLL   = 29
	SIGIO     = SIGPOLL
	SIGPWR    = 30
	SIGSYS    = 31
	SIGRTMIN  = 32
	SIGRTMAX  = NSIG
)

// linuxToApple maps a Linux signal number onto the host's own numbering
// (macOS's differs from Linux's for nearly every signal above SIGILL).
// SIGPOLL is the one explicit alias: Linux folds SIGIO/SIGPOLL onto the
// same number, and the host name for it is SIGIO.
var linuxToApple = map[int]int{
	SIGHUP:    unix.SIGHUP,
	SIGINT:    unix.SIGINT,
	SIGQUIT:   unix.SIGQUIT,
	SIGILL:    unix.SIGILL,
	SIGTRAP:   unix.SIGTRAP,
	SIGABRT:   unix.SIGABRT,
	SIGBUS:    unix.SIGBUS,
	SIGFPE:    unix.SIGFPE,
	SIGKILL:   unix.SIGKILL,
	SIGUSR1:   unix.SIGUSR1,
	SIGSEGV:   unix.SIGSEGV,
	SIGUSR2:   unix.SIGUSR2,
	SIGPIPE:   unix.SIGPIPE,
	SIGALRM:   unix.SIGALRM,
	SIGTERM:   unix.SIGTERM,
	SIGCHLD:   unix.SIGCHLD,
	SIGCONT:   unix.SIGCONT,
	SIGSTOP:   unix.SIGSTOP,
	SIGTSTP:   unix.SIGTSTP,
	SIGTTIN:   unix.SIGTTIN,
	SIGTTOU:   unix.SIGTTOU,
	SIGURG:    unix.SIGURG,
	SIGXCPU:   unix.SIGXCPU,
	SIGXFSZ:   unix.SIGXFSZ,
	SIGVTALRM: unix.SIGVTALRM,
	SIGPROF:   unix.SIGPROF,
	SIGWINCH:  unix.SIGWINCH,
	SIGPOLL:   unix.SIGIO,
	SIGSYS:    unix.SIGSYS,
}

var appleToLinux map[int]int

func init() {
	appleToLinux = make(map[int]int, len(linuxToApple))
	for lx, ap := range linuxToApple {
		appleToLinux[ap] = lx
	}
}

// ToApple converts a Linux signal number into the host's; ok is false for
// a Linux-only signal (SIGSTKFLT, SIGPWR, any real-time signal) or an
// out-of-range number.
func ToApple(linux int) (apple int, ok bool) {
	apple, ok = linuxToApple[linux]
	return
}

// FromApple converts a host signal number into its Linux counterpart.
func FromApple(apple int) (linux int, ok bool) {
	linux, ok = appleToLinux[apple]
	return
}

// handledSignals is every host signal this emulator installs its own
// sa_sigaction trampoline for when the guest requests a non-default,
// non-ignored disposition. SIGKILL/SIGSTOP can't be caught on any POSIX
// system; SIGSEGV/SIGABRT/SIGSYS get their own fixed handlers (installed
// once at startup, regardless of the guest's sigaction) since they carry
// emulator-internal meaning (fault translation, abort-vs-fastfail,
// syscall trapping) the generic path can't express.
var handledSignals = map[int]bool{
	unix.SIGHUP:    true,
	unix.SIGINT:    true,
	unix.SIGQUIT:   true,
	unix.SIGILL:    true,
	unix.SIGTRAP:   true,
	unix.SIGFPE:    true,
	unix.SIGBUS:    true,
	unix.SIGPIPE:   true,
	unix.SIGALRM:   true,
	unix.SIGTERM:   true,
	unix.SIGURG:    true,
	unix.SIGTSTP:   true,
	unix.SIGCHLD:   true,
	unix.SIGTTIN:   true,
	unix.SIGTTOU:   true,
	unix.SIGIO:     true,
	unix.SIGXCPU:   true,
	unix.SIGXFSZ:   true,
	unix.SIGVTALRM: true,
	unix.SIGPROF:   true,
	unix.SIGWINCH:  true,
	unix.SIGUSR1:   true,
	unix.SIGUSR2:   true,
}
