/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package proc implements the process-identity and exec/fork runtime
// service (spec.md §4.G "process"): PID/PPID/PGID (identity-mapped
// absent namespaces), re-entrant exec construction, and the fork
// client-handoff dance.
package proc

import (
	"fmt"
	"os"

	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/vfd"
	"golang.org/x/sys/unix"
)

// Pid / Ppid / Pgid report identity-mapped process identity, since this
// emulator never implements a real PID namespace (spec.md's Non-goals).
func Pid() int32  { return int32(unix.Getpid()) }
func Ppid() int32 { return int32(unix.Getppid()) }

func Pgid(pid int32) (int32, structures.LxErrno) {
	pgid, err := unix.Getpgid(int(pid))
	if err != nil {
		return 0, structures.FromHostErrno(err)
	}
	return int32(pgid), 0
}

func Setpgid(pid, pgid int32) structures.LxErrno {
	if err := unix.Setpgid(int(pid), int(pgid)); err != nil {
		return structures.FromHostErrno(err)
	}
	return 0
}

func Kill(pid int32, hostSignal int) structures.LxErrno {
	if err := unix.Kill(int(pid), unix.Signal(hostSignal)); err != nil {
		return structures.FromHostErrno(err)
	}
	return 0
}

// ExecArgs bundles what Exec needs beyond the guest-visible path/argv: the
// CWD and vfd table, the client to hand off un-CLOEXEC'd, and the
// environment block to re-forward (spec.md §4.G "exec constructs a
// re-entrant command line that runs this emulator again with the new
// target executable, passing the IPC socket fd, CWD, env, vfd-table
// serialization").
type ExecArgs struct {
	Path    string
	Argv    []string
	Envp    []string
	Client  *ipc.Client
	VfdTable *vfd.Table
	IsCloexec vfd.IsCloexecFunc
}

// BuildCommandLine constructs the argv mactux re-execs itself with,
// grounded verbatim on process::exec's flag ordering: --init-sock-fd,
// --cwd, --init-vfd-table, one --env per inherited variable, --arg0 (if
// argv[0] differs from path), the resolved path, "--", then the
// remaining guest argv.
func BuildCommandLine(selfExe string, a ExecArgs) ([]string, error) {
	if err := a.Client.DisableCloexec(); err != nil {
		return nil, err
	}
	fd, err := a.Client.Fd()
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(a.Argv)+2*len(a.Envp)+8)
	args = append(args, "--init-sock-fd", fmt.Sprintf("%d", fd))
	args = append(args, "--cwd", rtenv.Context().Cwd())
	args = append(args, "--init-vfd-table", a.VfdTable.ExportTable(a.IsCloexec))

	for _, env := range a.Envp {
		args = append(args, "--env", env)
	}

	if len(a.Argv) > 0 && a.Argv[0] != a.Path {
		args = append(args, "--arg0", a.Argv[0])
	}
	args = append(args, a.Path, "--")
	if len(a.Argv) > 1 {
		args = append(args, a.Argv[1:]...)
	}
	return args, nil
}

// Exec replaces the current process image with selfExe (always this same
// emulator binary — MacTux never execs the guest binary directly, since
// it must keep running itself as the new target's loader), forwarding
// execArgs per BuildCommandLine. On success it never returns.
func Exec(selfExe string, a ExecArgs) structures.LxErrno {
	args, err := BuildCommandLine(selfExe, a)
	if err != nil {
		return structures.EIO
	}
	argv := append([]string{selfExe}, args...)
	if err := unix.Exec(selfExe, argv, os.Environ()); err != nil {
		return structures.FromHostErrno(err)
	}
	return 0 // unreachable on success
}

// PrepareForkedClient is run on the child side of a fork: it tells the
// server about the new PID over newClient, a connection the child dialed
// after the fork (the parent's original socket is now shared with the
// child and unsafe to keep using from both). Installing newClient as the
// thread's client is left to the caller.
func PrepareForkedClient(newClient *ipc.Client) structures.LxErrno {
	resp, err := newClient.Invoke(ipc.Request{Kind: ipc.ReqAfterFork, Pid: Pid()})
	if err != nil {
		return structures.EIO
	}
	if lx, ok := resp.AsError(); ok {
		return lx
	}
	return 0
}
