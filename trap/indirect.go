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
	"sync"
	"unsafe"

	"github.com/sisungo/mactux/emuctx"
	"github.com/sisungo/mactux/sysnum"
)

// IndirectBody is the effective syscall body for an indirect syscall
// (spec.md §4.E "Indirect syscalls"): it runs outside the signal handler,
// in ordinary thread context, and returns the raw (unsigned, or negated
// errno) value destined for RAX.
type IndirectBody func(saved *mcontext64) uintptr

func trampolineEntry()

func issueRestoreContextAsm(ptr uintptr)

func trampolineAddr() uintptr {
	return reflect.ValueOf(trampolineEntry).Pointer()
}

func issueRestoreContext(savedPtr unsafe.Pointer) {
	issueRestoreContextAsm(uintptr(savedPtr))
}

// RunIndirect defers execution of body to a trampoline: it clones the
// current machine context onto the heap, retargets the saved context so
// that on signal return the thread jumps into trampolineEntry with the
// heap pointer in RDI, and returns — letting the signal handler return
// normally while the real work happens once the thread resumes.
//
// This exists because forking from inside a signal handler leaves the
// child in an undefined state on this host (it dies with SIGTRAP as soon
// as the handler would return) — see spec.md §4.E.
func RunIndirect(ctx Context, body IndirectBody) {
	emuctx.LeaveEmulatedCurrent()
	saved := ctx.Clone()
	indirectBodies.store(saved, body)
	ctx.SetRDI(uintptr(unsafe.Pointer(saved)))
	ctx.SetRIP(trampolineAddr())
	emuctx.EnterEmulatedCurrent()
}

// RunIndirectSimple is RunIndirect for shims (package shim, which cannot
// name the unexported mcontext64 type) that only need the deferred body's
// return value, not direct access to the saved machine context itself —
// fork/vfork/clone all fit this shape since they read their arguments from
// ctx before deferring, not from the saved context afterward.
func RunIndirectSimple(ctx Context, body func() uintptr) {
	RunIndirect(ctx, func(saved *mcontext64) uintptr { return body() })
}

// trampolineBody is invoked by the assembly trampoline once the guest
// thread actually resumes execution at trampolineEntry; it runs the
// deferred body, stores the result into the saved context's RAX, then
// issues the restore-context pseudo-syscall so the real register file
// is put back before control returns to the point the original syscall
// instruction was issued from.
//
//go:nosplit
func trampolineBody(savedPtr unsafe.Pointer) {
	saved := (*mcontext64)(savedPtr)
	body, _ := indirectBodies.take(saved)

	emuctx.LeaveEmulatedCurrent()
	result := body(saved)
	saved.ss.RAX = uint64(result)
	emuctx.EnterEmulatedCurrent()

	issueRestoreContext(savedPtr)
}

// pseudoRestoreContext implements the restore-context pseudo-syscall
// (slot 479): it copies the saved mcontext back over the live one,
// completing the indirect-syscall round trip (spec.md §4.E step 2, last
// sentence).
func pseudoRestoreContext(ctx Context) {
	savedPtr := unsafe.Pointer(ctx.Arg0())
	saved := (*mcontext64)(savedPtr)
	emuctx.LeaveEmulatedCurrent()
	ctx.Restore(saved)
	emuctx.EnterEmulatedCurrent()
}

func init() {
	RegisterShim(sysnum.PseudoRestoreCtx, pseudoRestoreContext)
}

// indirectRegistry keeps the heap-allocated saved contexts reachable from
// Go's perspective between RunIndirect (which allocates them) and
// trampolineBody (which consumes them) — the pointer also travels through
// RDI/RAX across the signal-return/trampoline boundary, which the Go
// garbage collector cannot see, so without this registry a GC running in
// that window could reclaim the block.
//
// Every guest thread is backed by its own host thread (spec.md §5), so
// two threads issuing fork/vfork/clone concurrently store/take distinct
// keys through this same registry; it is backed by sync.Map rather than
// a plain map guarded ad hoc, since a plain map takes a concurrent write
// fatally.
type savedContextRegistry struct {
	entries sync.Map // map[*mcontext64]IndirectBody
}

func (r *savedContextRegistry) store(p *mcontext64, body IndirectBody) {
	r.entries.Store(p, body)
}

func (r *savedContextRegistry) take(p *mcontext64) (IndirectBody, bool) {
	v, ok := r.entries.LoadAndDelete(p)
	if !ok {
		return nil, false
	}
	return v.(IndirectBody), true
}

var indirectBodies = &savedContextRegistry{}
