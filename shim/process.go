/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/proc"
	"github.com/sisungo/mactux/sig"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

// signalToApple converts a guest-supplied Linux signal number into the
// host's own numbering, for the handful of shims (kill/tkill) that issue
// a genuine host signal rather than emulating one internally. Signal 0
// (the kill(2) "probe only" convention) passes through unchanged since
// it never is a real signal number.
func signalToApple(lxSignal int) (int, structures.LxErrno) {
	if lxSignal == 0 {
		return 0, 0
	}
	apple, ok := sig.ToApple(lxSignal)
	if !ok {
		return 0, structures.EINVAL
	}
	return apple, 0
}

func init() {
	trap.RegisterShim(sysnum.Getpid, shimGetpid)
	trap.RegisterShim(sysnum.Getppid, shimGetppid)
	trap.RegisterShim(sysnum.Getpgid, shimGetpgid)
	trap.RegisterShim(sysnum.Setpgid, shimSetpgid)
	trap.RegisterShim(sysnum.Getpgrp, shimGetpgrp)
	trap.RegisterShim(sysnum.Execve, shimExecve)
	trap.RegisterShim(sysnum.Fork, shimFork)
	trap.RegisterShim(sysnum.Vfork, shimVfork)
	trap.RegisterShim(sysnum.Clone, shimClone)
	trap.RegisterShim(sysnum.Exit, shimExit)
	trap.RegisterShim(sysnum.ExitGroup, shimExit)
	trap.RegisterShim(sysnum.Wait4, shimWait4)
	trap.RegisterShim(sysnum.Kill, shimKill)
	trap.RegisterShim(sysnum.Tkill, shimTkill)
}

func shimGetpid(ctx trap.Context) {
	ctx.SetReturn(uintptr(rtenv.Context().PidNativeToLinux(proc.Pid())))
}

func shimGetppid(ctx trap.Context) {
	ctx.SetReturn(uintptr(rtenv.Context().PidNativeToLinux(proc.Ppid())))
}

func nativePid(lxPid int32) int32 {
	if lxPid <= 0 {
		return lxPid
	}
	if native, ok := rtenv.Context().PidLinuxToNative(lxPid); ok {
		return native
	}
	return lxPid
}

func shimGetpgid(ctx trap.Context) {
	pgid, lx := proc.Pgid(nativePid(int32(ctx.Arg0())))
	ret(ctx, uintptr(rtenv.Context().PidNativeToLinux(pgid)), lx)
}

func shimGetpgrp(ctx trap.Context) {
	pgid, lx := proc.Pgid(0)
	ret(ctx, uintptr(rtenv.Context().PidNativeToLinux(pgid)), lx)
}

func shimSetpgid(ctx trap.Context) {
	pid := nativePid(int32(ctx.Arg0()))
	pgid := nativePid(int32(ctx.Arg1()))
	retErr(ctx, proc.Setpgid(pid, pgid))
}

func shimExecve(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	argv := cstrArray(ctx.Arg1())
	envp := cstrArray(ctx.Arg2())
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	selfExe, err := os.Executable()
	if err != nil {
		retErr(ctx, structures.EIO)
		return
	}
	lx := proc.Exec(selfExe, proc.ExecArgs{
		Path:      path,
		Argv:      argv,
		Envp:      envp,
		Client:    cl,
		VfdTable:  rtenv.Context().Vfd,
		IsCloexec: func(fd int32) bool { _, _, cloexec := isCloexecFd(fd); return cloexec },
	})
	retErr(ctx, lx)
}

// isCloexecFd reports a host fd's current FD_CLOEXEC bit via fcntl,
// feeding vfd.Table.ExportTable's filter at exec time.
func isCloexecFd(fd int32) (int, error, bool) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return 0, err, false
	}
	return flags, nil, flags&unix.FD_CLOEXEC != 0
}

// forkCommon runs the deferred fork(2) body: real fork always happens
// outside signal-handler context via trap.RunIndirectSimple (spec.md
// §4.E), since this host kills a thread that forks from inside a signal
// handler. The deferred body runs once per post-fork process (twice
// total), and only the child branch does any MacTux-specific rewiring:
// telling the server about the new native PID, and replacing this
// thread's client with a fresh connection (the inherited socket is now
// shared with the parent and unsafe for both sides to drive).
func forkCommon(ctx trap.Context) {
	trap.RunIndirectSimple(ctx, func() uintptr {
		pid, _, errno := unix.RawSyscall(unix.SYS_FORK, 0, 0, 0)
		if errno != 0 {
			return structures.FromHostErrno(errno).Negated()
		}
		if pid != 0 {
			return uintptr(rtenv.Context().PidNativeToLinux(int32(pid)))
		}
		newClient, err := ipc.Dial(rtenv.Context().ServerSockPath())
		if err != nil {
			return 0
		}
		threadCtx().SetClient(newClient)
		proc.PrepareForkedClient(newClient)
		return 0
	})
}

func shimFork(ctx trap.Context) {
	forkCommon(ctx)
}

// shimVfork treats vfork(2) as plain fork(2): true vfork's
// shared-address-space-until-exec-or-exit contract has no safe
// expression on top of the Go runtime's own stack/scheduler, so the
// child gets its own copy of the address space, as with fork.
func shimVfork(ctx trap.Context) {
	forkCommon(ctx)
}

// shimClone only implements the fork-like shape of clone(2) (no
// CLONE_VM): spawning an actual new OS thread sharing this address space
// would need XNU's bsdthread_create plumbing, which this shim does not
// have — that combination reports ENOSYS rather than silently
// mis-behaving.
func shimClone(ctx trap.Context) {
	flags := uint64(ctx.Arg0())
	if flags&cloneVM != 0 {
		retErr(ctx, structures.ENOSYS)
		return
	}
	forkCommon(ctx)
}

func shimExit(ctx trap.Context) {
	unix.Exit(int(ctx.Arg0()))
}

func shimWait4(ctx trap.Context) {
	pid := nativePid(int32(ctx.Arg0()))
	var status unix.WaitStatus
	waited, err := unix.Wait4(int(pid), &status, int(ctx.Arg2()), nil)
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	if ctx.Arg1() != 0 {
		writeAt(ctx.Arg1(), int32(uint32(status)))
	}
	ctx.SetReturn(uintptr(rtenv.Context().PidNativeToLinux(int32(waited))))
}

func shimKill(ctx trap.Context) {
	pid := nativePid(int32(ctx.Arg0()))
	lxSignal := int(ctx.Arg1())
	hostSignal, err := signalToApple(lxSignal)
	if err != 0 {
		retErr(ctx, err)
		return
	}
	retErr(ctx, proc.Kill(pid, hostSignal))
}

func shimTkill(ctx trap.Context) {
	// This emulator maps guest tids onto native tids 1:1 (no separate
	// thread-group indirection), so tkill degenerates to kill.
	shimKill(ctx)
}
