/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build darwin && amd64

package thread

import "golang.org/x/sys/unix"

// sysThreadSelfID mirrors package emuctx's own copy of this private XNU
// trap number — duplicated rather than imported so package thread does not
// need to depend on emuctx just for one syscall number.
const sysThreadSelfID = 372

func selfTID() int {
	id, _, _ := unix.Syscall(sysThreadSelfID, 0, 0, 0)
	return int(id)
}

// SelfTID exposes the calling OS thread's native tid — the same value
// Current/EnterCurrent key off of — for callers (cmd/mactux's startup
// path) that must register this thread's emuctx.PubCtx independently.
func SelfTID() int {
	return selfTID()
}

// Current returns the calling OS thread's Context, or nil if it has not
// called Enter yet.
func Current() *Context {
	return Lookup(selfTID())
}

// EnterCurrent registers (or returns the already-registered) Context for
// the calling OS thread, keyed by its own native tid.
func EnterCurrent() *Context {
	if ctx := Current(); ctx != nil {
		return ctx
	}
	return Enter(selfTID())
}
