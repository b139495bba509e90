/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build darwin && amd64

package trap

import "unsafe"

// x86ThreadState mirrors XNU's __darwin_x86_thread_state64, the register
// save area a ucontext_t's mcontext points at. Field order and width must
// match the host struct exactly since Context casts a raw pointer handed
// to the signal handler onto this type.
type x86ThreadState struct {
	RAX, RBX, RCX, RDX uint64
	RDI, RSI           uint64
	RBP, RSP           uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP                uint64
	RFlags             uint64
	CS, FS, GS         uint64
}

// mcontext64 mirrors __darwin_mcontext64's head (exception state is
// skipped over via the Reserved padding; this module never reads it).
type mcontext64 struct {
	reserved  [48]byte // es (exception state) — unused here
	ss        x86ThreadState
	// fs (floating point state) follows; not represented, never touched.
}

// Context wraps a pointer to the thread state inside the saved ucontext,
// implementing the Linux syscall ABI register accessors (spec.md §4.E
// step 4): RDI/RSI/RDX/R10/R8/R9 for arguments, RAX for syscall number
// and return value.
type Context struct {
	mc *mcontext64
}

// NewContext wraps the mcontext pointer the host handed the SIGSYS
// handler (the uc_mcontext of the ucontext_t a SA_SIGINFO handler's
// third argument points at, as extracted by ContextFromUcontext).
func NewContext(ptr unsafe.Pointer) Context {
	return Context{mc: (*mcontext64)(ptr)}
}

// rawUcontext64 mirrors the head of darwin's ucontext_t far enough to
// reach uc_mcontext: six reserved words (onstack flag, signal mask, stack_t)
// followed by the mcontext pointer.
type rawUcontext64 struct {
	_        [6]uint64
	mcontext *mcontext64
}

// ContextFromUcontext builds a Context from the raw ucontext_t pointer a
// SA_SIGINFO handler's third argument points at — used by dispatch.go's
// sigsysGo, and exported for package sig's own
// SIGSEGV/SIGABRT/generic handlers to reuse rather than re-deriving
// darwin's ucontext_t layout a second time.
func ContextFromUcontext(uctxPtr unsafe.Pointer) Context {
	uc := (*rawUcontext64)(uctxPtr)
	return NewContext(unsafe.Pointer(uc.mcontext))
}

func (c Context) Sysno() uintptr  { return uintptr(c.mc.ss.RAX) }
func (c Context) Arg0() uintptr   { return uintptr(c.mc.ss.RDI) }
func (c Context) Arg1() uintptr   { return uintptr(c.mc.ss.RSI) }
func (c Context) Arg2() uintptr   { return uintptr(c.mc.ss.RDX) }
func (c Context) Arg3() uintptr   { return uintptr(c.mc.ss.R10) }
func (c Context) Arg4() uintptr   { return uintptr(c.mc.ss.R8) }
func (c Context) Arg5() uintptr   { return uintptr(c.mc.ss.R9) }
func (c Context) IP() uintptr     { return uintptr(c.mc.ss.RIP) }

// SetReturn writes value into RAX, the register the guest's syscall
// instruction reads its return value from once the handler returns.
func (c Context) SetReturn(value uintptr) {
	c.mc.ss.RAX = uint64(value)
}

// SetReturnErrno writes the negated Linux errno (two's-complement, per
// spec.md §4.F's encoding convention) as the return value.
func (c Context) SetReturnErrno(errno int) {
	c.SetReturn(uintptr(int64(-errno)))
}

// SetRIP retargets the instruction pointer — used by the indirect-syscall
// mechanism (package trap's trampoline) and by signal-frame construction
// (package sig).
func (c Context) SetRIP(addr uintptr) { c.mc.ss.RIP = uint64(addr) }

// SetRDI sets RDI directly — the indirect trampoline's calling convention
// for handing the heap-saved context to __impl (spec.md §4.E).
func (c Context) SetRDI(v uintptr) { c.mc.ss.RDI = uint64(v) }

// SetRSI / SetRDX set the second/third argument registers directly — used
// by package sig to point a guest signal handler at the siginfo_t/ucontext_t
// it builds on the guest stack.
func (c Context) SetRSI(v uintptr) { c.mc.ss.RSI = uint64(v) }
func (c Context) SetRDX(v uintptr) { c.mc.ss.RDX = uint64(v) }

// RSP / SetRSP read and retarget the stack pointer — package sig walks it
// down to push a signal frame, and restores it on rt_sigreturn.
func (c Context) RSP() uintptr      { return uintptr(c.mc.ss.RSP) }
func (c Context) SetRSP(v uintptr)  { c.mc.ss.RSP = uint64(v) }

// FSBase / SetFSBase expose the saved %fs base — Linux's arch_prctl(2)
// ARCH_SET_FS/ARCH_GET_FS read and write exactly this, since x86_64 Linux
// always addresses thread-local storage through %fs.
func (c Context) FSBase() uintptr     { return uintptr(c.mc.ss.FS) }
func (c Context) SetFSBase(v uintptr) { c.mc.ss.FS = uint64(v) }

// linuxGregIndex mirrors glibc's x86_64 REG_* gregset_t indices, the
// canonical "Linux order" structures.UContext.GRegs is documented to use.
const (
	linuxRegR8 = iota
	linuxRegR9
	linuxRegR10
	linuxRegR11
	linuxRegR12
	linuxRegR13
	linuxRegR14
	linuxRegR15
	linuxRegRDI
	linuxRegRSI
	linuxRegRBP
	linuxRegRBX
	linuxRegRDX
	linuxRegRAX
	linuxRegRCX
	linuxRegRSP
	linuxRegRIP
	linuxRegEFL
	linuxRegCSGSFS
	linuxRegErr
	linuxRegTrapno
	linuxRegOldmask
	linuxRegCR2
)

// LinuxGRegs packs the saved register file into glibc's REG_* gregset_t
// order, the shape package sig's ucontext_t frame exposes to the guest.
// Segment-only fields (err, trapno, oldmask, cr2) carry no host-side
// equivalent worth tracking and are left zero.
func (c Context) LinuxGRegs() [23]uint64 {
	ss := &c.mc.ss
	var g [23]uint64
	g[linuxRegR8] = ss.R8
	g[linuxRegR9] = ss.R9
	g[linuxRegR10] = ss.R10
	g[linuxRegR11] = ss.R11
	g[linuxRegR12] = ss.R12
	g[linuxRegR13] = ss.R13
	g[linuxRegR14] = ss.R14
	g[linuxRegR15] = ss.R15
	g[linuxRegRDI] = ss.RDI
	g[linuxRegRSI] = ss.RSI
	g[linuxRegRBP] = ss.RBP
	g[linuxRegRBX] = ss.RBX
	g[linuxRegRDX] = ss.RDX
	g[linuxRegRAX] = ss.RAX
	g[linuxRegRCX] = ss.RCX
	g[linuxRegRSP] = ss.RSP
	g[linuxRegRIP] = ss.RIP
	g[linuxRegEFL] = ss.RFlags
	g[linuxRegCSGSFS] = ss.CS | ss.GS<<16 | ss.FS<<32
	return g
}

// SetFromLinuxGRegs is LinuxGRegs' inverse, applied on rt_sigreturn once
// the guest handler has (possibly) edited its ucontext_t in place.
func (c Context) SetFromLinuxGRegs(g [23]uint64) {
	ss := &c.mc.ss
	ss.R8 = g[linuxRegR8]
	ss.R9 = g[linuxRegR9]
	ss.R10 = g[linuxRegR10]
	ss.R11 = g[linuxRegR11]
	ss.R12 = g[linuxRegR12]
	ss.R13 = g[linuxRegR13]
	ss.R14 = g[linuxRegR14]
	ss.R15 = g[linuxRegR15]
	ss.RDI = g[linuxRegRDI]
	ss.RSI = g[linuxRegRSI]
	ss.RBP = g[linuxRegRBP]
	ss.RBX = g[linuxRegRBX]
	ss.RDX = g[linuxRegRDX]
	ss.RAX = g[linuxRegRAX]
	ss.RCX = g[linuxRegRCX]
	ss.RSP = g[linuxRegRSP]
	ss.RIP = g[linuxRegRIP]
	ss.RFlags = g[linuxRegEFL]
	csgsfs := g[linuxRegCSGSFS]
	ss.CS = csgsfs & 0xffff
	ss.GS = (csgsfs >> 16) & 0xffff
	ss.FS = (csgsfs >> 32) & 0xffff
}

// Raw returns the underlying thread-state pointer for callers (package
// sig) that need to snapshot or restore the full register file rather
// than one field at a time.
func (c Context) Raw() unsafe.Pointer { return unsafe.Pointer(c.mc) }

// Clone returns a heap copy of the full mcontext, used by the indirect
// syscall mechanism to save the pre-dispatch register state before
// retargeting RIP to the trampoline.
func (c Context) Clone() *mcontext64 {
	cp := *c.mc
	return &cp
}

// Restore overwrites *c.mc with a previously Clone()'d snapshot — the
// pseudo-restorectx operation's entire job (spec.md §4.E).
func (c Context) Restore(saved *mcontext64) {
	*c.mc = *saved
}
