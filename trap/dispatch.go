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
	"sync/atomic"
	"unsafe"

	"github.com/sisungo/mactux/sysnum"
)

// ShimFunc handles one syscall number: it decodes its six arguments from
// ctx, performs the operation, and writes a return value (or a negated
// errno) back into ctx before returning.
type ShimFunc func(ctx Context)

var table [sysnum.MaxSyscall + 1]ShimFunc

// RegisterShim installs fn as the handler for num. Called from package
// shim's init() functions, one group of syscalls at a time — never from
// signal context.
func RegisterShim(num sysnum.Num, fn ShimFunc) {
	table[num] = fn
}

// InvalidPolicy selects what happens when the guest issues a syscall
// number with no registered shim (spec.md §4.E "Invalid syscall
// policy").
type InvalidPolicy int32

const (
	// PolicyLogAndENOSYS logs the offending number and returns ENOSYS,
	// letting the guest decide how to cope (the default: most guests
	// already handle ENOSYS for optional syscalls).
	PolicyLogAndENOSYS InvalidPolicy = iota
	// PolicyFastFail prints registers and terminates — useful when
	// debugging a specific guest binary where a silent ENOSYS would
	// mask a gap worth fixing.
	PolicyFastFail
)

var invalidPolicy atomic.Int32

// SetInvalidPolicy configures the process-wide invalid-syscall policy.
func SetInvalidPolicy(p InvalidPolicy) { invalidPolicy.Store(int32(p)) }

// linuxENOSYS is Linux's ENOSYS value (38), duplicated here rather than
// imported from package structures to keep trap's imports of the rest
// of the module to sysnum and emuctx — trap is deliberately low in the
// dependency graph since it runs in signal context.
const linuxENOSYS = 38

func invalidShim(ctx Context) {
	if InvalidPolicy(invalidPolicy.Load()) == PolicyFastFail {
		FastFail(ctx)
		return
	}
	ctx.SetReturnErrno(linuxENOSYS)
}

// Perform looks up and invokes the shim for the syscall number recorded
// in ctx (spec.md §4.E steps 2-4).
func Perform(ctx Context) {
	n := ctx.Sysno()
	if n > sysnum.MaxSyscall || table[n] == nil {
		invalidShim(ctx)
		return
	}
	table[n](ctx)
}

// darwin siginfo_t's head: si_signo, si_errno, si_code (all int32) are
// the only fields IsAsync needs.
type sigInfoHead struct {
	Signo int32
	Errno int32
	Code  int32
}

// siCodeUser is the si_code IsAsync takes to mean a SIGSYS raised via
// kill()/raise() — the asynchronous case spec.md §4.E step 1 says must
// fast-fail. Any other code is treated as the synchronous trap of the
// guest's `syscall` instruction.
const siCodeUser = 0 // SI_USER

// IsAsync reports whether the SIGSYS delivery was asynchronous (sent via
// kill(2) rather than raised synchronously by the trapping instruction).
func IsAsync(infoPtr unsafe.Pointer) bool {
	info := (*sigInfoHead)(infoPtr)
	return info.Code == siCodeUser
}

// sigsysGo is the Go-side continuation of the assembly trampoline
// installed by Install(): it receives the raw (sig, info, uctx) triple
// exactly as the host handed them to sa_sigaction, decides fast-fail vs.
// dispatch (spec.md §4.E step 1), and unwraps uctx down to the mcontext
// pointer Context wraps.
//
//go:nosplit
func sigsysGo(sig int32, infoPtr, uctxPtr unsafe.Pointer) {
	if IsAsync(infoPtr) {
		// No Context is safely constructible without a synchronous
		// trap's saved register file; print what little we can and
		// fail fast.
		unixFastFailNoContext()
		return
	}

	Perform(ContextFromUcontext(uctxPtr))
}

func unixFastFailNoContext() {
	// An asynchronously delivered SIGSYS in emulated mode is
	// unrecoverable (spec.md §4.E step 1); there is no guest register
	// file worth printing.
	FastFailMinimal()
}
