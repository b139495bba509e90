/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package emuctx implements the emulated/native context switch (spec.md
// §4.D): retargeting the TSD base register (gs: on macOS x86_64) between
// the value the guest installed via arch_prctl(ARCH_SET_FS, …) and the
// value macOS chose for the thread at creation.
//
// Every exported function here must be callable from signal context, so
// none of them may take a lock that ordinary (non-signal) code might be
// holding: state is either atomic, or — for the thread-pubctx registry
// Current()/Lookup() walk — reached through an RCU-style shard table
// whose readers take no lock at all (see registry below). Only
// register/unregister/resetToSingle, called solely at thread entry/exit
// and never from a signal handler, take the registry's mutex.
package emuctx

import (
	"sync"
	"sync/atomic"
)

// PubCtx is a ThreadPubCtx (spec.md §3): public per-thread state reachable
// from the signal path without touching host TLS, which is unsafe while
// in emulated mode (the segment base points at guest memory then).
type PubCtx struct {
	nativeBase    uintptr
	inEmulated    atomic.Bool
	robustHead    uintptr
	robustLen     uintptr
	emulatedBase  atomic.Uintptr
}

func (c *PubCtx) emulatedGSBase() uintptr        { return c.emulatedBase.Load() }
func (c *PubCtx) setEmulatedGSBase(v uintptr)    { c.emulatedBase.Store(v) }

// NativeBase returns the TSD base macOS assigned this thread at creation.
func (c *PubCtx) NativeBase() uintptr { return c.nativeBase }

// InEmulated reports whether this thread is currently in emulated mode.
// Safe to call from signal context.
func (c *PubCtx) InEmulated() bool { return c.inEmulated.Load() }

// RobustList returns the head/length of this thread's robust futex list.
func (c *PubCtx) RobustList() (head, length uintptr) { return c.robustHead, c.robustLen }

// SetRobustList updates the robust futex list registered via
// set_robust_list.
func (c *PubCtx) SetRobustList(head, length uintptr) {
	c.robustHead, c.robustLen = head, length
}

// registryEntry is one (tid, ctx) pair held in a registry shard.
type registryEntry struct {
	tid int
	ctx *PubCtx
}

// registryShards is the shard count for the process-wide thread-pubctx
// table (spec.md §3): "per native-thread-id handle to a ThreadPubCtx,
// addressable from any thread". Each shard holds an atomic pointer to an
// immutable entry slice; a write builds a whole new slice and swaps the
// pointer (RCU), so Lookup never takes a lock — safe to call from a
// signal handler that may have interrupted a register/unregister call on
// another thread, or even the same thread, without risk of deadlock.
const registryShards = 64

type registry struct {
	mu     sync.Mutex // guards only register/unregister/resetToSingle
	shards [registryShards]atomic.Pointer[[]registryEntry]
}

var reg = &registry{}

func shardFor(tid int) int {
	h := tid
	if h < 0 {
		h = -h
	}
	return h % registryShards
}

func (r *registry) register(tid int, ctx *PubCtx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := shardFor(tid)
	old := r.shards[i].Load()
	next := make([]registryEntry, 0, len(derefShard(old))+1)
	for _, e := range derefShard(old) {
		if e.tid != tid {
			next = append(next, e)
		}
	}
	next = append(next, registryEntry{tid: tid, ctx: ctx})
	r.shards[i].Store(&next)
}

func (r *registry) unregister(tid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := shardFor(tid)
	old := derefShard(r.shards[i].Load())
	if old == nil {
		return
	}
	next := make([]registryEntry, 0, len(old))
	for _, e := range old {
		if e.tid != tid {
			next = append(next, e)
		}
	}
	r.shards[i].Store(&next)
}

// resetToSingle clears the registry down to a single (tid, ctx) entry —
// called from the child side of MayFork, since every other thread vanished
// in the child (spec.md §4.D).
func (r *registry) resetToSingle(tid int, ctx *PubCtx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.shards {
		r.shards[i].Store(nil)
	}
	next := []registryEntry{{tid: tid, ctx: ctx}}
	r.shards[shardFor(tid)].Store(&next)
}

func derefShard(p *[]registryEntry) []registryEntry {
	if p == nil {
		return nil
	}
	return *p
}

// Lookup returns the PubCtx registered for a native thread id, or nil.
// Lock-free: safe to call from signal-handler context.
func Lookup(tid int) *PubCtx {
	shard := derefShard(reg.shards[shardFor(tid)].Load())
	for _, e := range shard {
		if e.tid == tid {
			return e.ctx
		}
	}
	return nil
}

// EnterThread registers a fresh PubCtx for the calling OS thread (which
// must have called runtime.LockOSThread — see rtenv/thread) and returns
// the handle, which Lookup(tid) also returns until ExitThread(tid).
func EnterThread(tid int) *PubCtx {
	ctx := &PubCtx{nativeBase: currentGSBase()}
	reg.register(tid, ctx)
	return ctx
}

// ExitThread removes the calling thread's PubCtx from the registry.
func ExitThread(tid int) {
	reg.unregister(tid)
}

// EnterEmulated sets in_emulated=true on pub, then installs the
// guest-chosen TSD base (spec.md §4.D).
func EnterEmulated(pub *PubCtx, emulatedGSBase uintptr) {
	pub.inEmulated.Store(true)
	setTSDBase(emulatedGSBase)
}

// LeaveEmulated fetches the captured native base, clears the flag, and
// installs the native base.
func LeaveEmulated(pub *PubCtx) {
	pub.inEmulated.Store(false)
	setTSDBase(pub.nativeBase)
}

// MayFork wraps a closure that may perform a host fork: it clones pub
// onto the stack, runs fork, and — if isNew reports the result is the
// child — reinitializes the process-wide thread registry to contain only
// tid, repointing it at the fresh PubCtx the child keeps using.
func MayFork[T any](tid int, pub *PubCtx, fork func() T, isNew func(T) bool) T {
	cloned := *pub
	result := fork()
	if isNew(result) {
		fresh := cloned
		reg.resetToSingle(tid, &fresh)
	}
	return result
}

// Current returns the calling OS thread's PubCtx, looked up by its native
// tid. The caller must have called runtime.LockOSThread and EnterThread
// first (rtenv/thread does both on thread startup).
func Current() *PubCtx {
	return Lookup(threadSelfID())
}

// EnterEmulatedCurrent is the no-argument convenience form of
// EnterEmulated for the calling thread, used by the initial stack jump
// (loader.StackInfo.Jump) where only one thread exists yet.
func EnterEmulatedCurrent() {
	pub := Current()
	if pub == nil {
		return
	}
	EnterEmulated(pub, pub.emulatedGSBase())
}

// LeaveEmulatedCurrent is the no-argument convenience form of
// LeaveEmulated for the calling thread.
func LeaveEmulatedCurrent() {
	if pub := Current(); pub != nil {
		LeaveEmulated(pub)
	}
}

// InEmulatedCurrent reports whether the calling thread is in emulated
// mode. Safe to call from the translated signal-delivery path (package
// sig), which must determine this before deciding whether to leave
// emulated mode (spec.md §4.J step 1).
func InEmulatedCurrent() bool {
	if pub := Current(); pub != nil {
		return pub.InEmulated()
	}
	return false
}

// SetEmulatedGSBase records the guest-chosen TSD base for the calling
// thread (from arch_prctl(ARCH_SET_FS, …)); the value takes effect on the
// next EnterEmulated call, per spec.md §4.D.
func SetEmulatedGSBase(pub *PubCtx, newBase uintptr) {
	pub.setEmulatedGSBase(newBase)
}
