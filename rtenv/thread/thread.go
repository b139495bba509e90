/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package thread holds per-OS-thread runtime state (spec.md §4.G
// "thread"): the IPC client, the sigaltstack setting, and the
// clear_child_tid/robust-list bookkeeping set_tid_address and
// set_robust_list record.
//
// Go has no first-class thread-local storage; every goroutine that owns
// one of these contexts must call runtime.LockOSThread for its lifetime
// (spec.md §5's [ADDED] concurrency note), and the context is keyed by
// the emulated native TID the same way package emuctx keys its PubCtx
// registry — both are instances of the same "OS-thread-keyed registry"
// idiom, not a coincidence: a single guest thread needs both a PubCtx
// and a Context, looked up by the same key.
package thread

import (
	"sync"

	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/structures"
)

// Context is the per-thread runtime state a shim reaches through
// Current/EnterCurrent.
type Context struct {
	mu     sync.Mutex
	client *ipc.Client

	ClearChildTID uintptr
	RobustHead    uintptr
	RobustLen     uintptr

	altStackMu sync.Mutex
	altStack   structures.SigAltStack
}

// SigAltStack / SetSigAltStack implement sigaltstack(2)'s per-thread
// get/replace semantics (package sig consults this when building a signal
// frame for a handler installed with SA_ONSTACK).
func (c *Context) SigAltStack() structures.SigAltStack {
	c.altStackMu.Lock()
	defer c.altStackMu.Unlock()
	return c.altStack
}

func (c *Context) SetSigAltStack(s structures.SigAltStack) {
	c.altStackMu.Lock()
	defer c.altStackMu.Unlock()
	c.altStack = s
}

type registry struct {
	mu sync.RWMutex
	m  map[int]*Context
}

var reg = &registry{m: make(map[int]*Context)}

// Enter registers a fresh Context for tid, called once when a goroutine
// locks itself to an OS thread and assumes a guest thread identity.
func Enter(tid int) *Context {
	ctx := &Context{}
	reg.mu.Lock()
	reg.m[tid] = ctx
	reg.mu.Unlock()
	return ctx
}

// Exit removes tid's Context from the registry.
func Exit(tid int) {
	reg.mu.Lock()
	delete(reg.m, tid)
	reg.mu.Unlock()
}

// Lookup returns tid's Context, or nil if it has no thread state yet.
func Lookup(tid int) *Context {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.m[tid]
}

// ClientFactory dials and handshakes a fresh IPC client against the
// configured server socket path — supplied by callers (rather than
// imported directly) so package thread does not need to depend on
// rtenv's process-wide configuration.
type ClientFactory func() (*ipc.Client, error)

// Client returns this thread's lazily-dialed IPC client, creating one via
// makeClient on first use — mirrors make_client()/with_client() from the
// original runtime.
func (c *Context) Client(makeClient ClientFactory) (*ipc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		cl, err := makeClient()
		if err != nil {
			return nil, err
		}
		c.client = cl
	}
	return c.client, nil
}

// SetClient overwrites this thread's client outright — used after fork
// (a fresh client replaces the parent's, since the parent's socket is now
// shared and racy) and after exec (the inherited socket fd is adopted).
func (c *Context) SetClient(cl *ipc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = cl
}
