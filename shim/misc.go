/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"crypto/rand"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.Uname, shimUname)
	trap.RegisterShim(sysnum.Prctl, shimPrctl)
	trap.RegisterShim(sysnum.ArchPrctl, shimArchPrctl)
	trap.RegisterShim(sysnum.Getrandom, shimGetrandom)
	trap.RegisterShim(sysnum.Sysinfo, shimSysinfo)
	trap.RegisterShim(sysnum.Gettimeofday, shimGettimeofday)
	trap.RegisterShim(sysnum.Getrusage, shimGetrusage)
	trap.RegisterShim(sysnum.Time, shimTime)
	trap.RegisterShim(sysnum.ClockGettime, shimClockGettime)
	trap.RegisterShim(sysnum.Nanosleep, shimNanosleep)
	trap.RegisterShim(sysnum.Alarm, shimAlarm)
	trap.RegisterShim(sysnum.Acct, shimAcct)
	trap.RegisterShim(sysnum.Sethostname, shimSethostname)
	trap.RegisterShim(sysnum.Setdomainname, shimSetdomainname)
	trap.RegisterShim(sysnum.Rseq, shimRseq)
	trap.RegisterShim(sysnum.Prlimit64, shimPrlimit64)
	trap.RegisterShim(sysnum.Umask, shimUmask)
}

// linuxTimespec mirrors Linux x86_64 struct timespec, shared by every
// shim in this package that reads or writes one (futex's timeout,
// clock_gettime, nanosleep).
type linuxTimespec struct {
	Sec  int64
	Nsec int64
}

// linuxTimeval mirrors Linux's struct timeval (gettimeofday).
type linuxTimeval struct {
	Sec  int64
	Usec int64
}

// guestUtsname mirrors Linux's struct utsname: six 65-byte NUL-padded
// fields.
type guestUtsname struct {
	Sysname    [65]byte
	Nodename   [65]byte
	Release    [65]byte
	Version    [65]byte
	Machine    [65]byte
	Domainname [65]byte
}

func putUtsField(dst *[65]byte, s string) {
	n := copy(dst[:64], s)
	dst[n] = 0
}

// shimUname fills in a Linux-looking struct utsname: the hostname and
// domain name come from the server (NetworkNames, spec.md §4.G), since
// those are process-wide facts this emulator's own server process is
// authoritative for, while sysname/release/version/machine are fixed
// constants describing the emulated personality itself rather than
// anything host-specific.
func shimUname(ctx trap.Context) {
	var names structures.NetworkNames
	if cl := client(); cl != nil {
		resp, err := cl.Invoke(ipc.Request{Kind: ipc.ReqGetNetworkNames})
		if err == nil {
			if _, isErr := resp.AsError(); !isErr {
				names = resp.NetworkNames
			}
		}
	}
	if names.Hostname == "" {
		names.Hostname = "mactux"
	}

	var u guestUtsname
	putUtsField(&u.Sysname, "Linux")
	putUtsField(&u.Nodename, names.Hostname)
	putUtsField(&u.Release, "6.1.0-mactux")
	putUtsField(&u.Version, "#1 SMP PREEMPT mactux")
	putUtsField(&u.Machine, "x86_64")
	putUtsField(&u.Domainname, names.Domainname)
	writeAt(ctx.Arg0(), u)
	ctx.SetReturn(0)
}

// Linux prctl(2) option numbers this emulator recognizes; everything
// else reports EINVAL rather than silently no-op'ing, since a caller that
// checks prctl's return value is relying on knowing whether the option
// took effect.
const (
	prSetName = 15
	prGetName = 16
)

// shimPrctl only implements PR_SET_NAME/PR_GET_NAME, forwarded to the
// server's thread-name bookkeeping (spec.md §4.G) since XNU has its own,
// differently-keyed thread-naming API (pthread_setname_np) this emulator
// does not attempt to unify with.
func shimPrctl(ctx trap.Context) {
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	switch int(ctx.Arg0()) {
	case prSetName:
		name, _ := cstring(ctx.Arg1())
		_, err := cl.Invoke(ipc.Request{Kind: ipc.ReqSetThreadName, ThreadName: []byte(name)})
		if err != nil {
			retErr(ctx, structures.EIO)
			return
		}
		ctx.SetReturn(0)
	case prGetName:
		resp, err := cl.Invoke(ipc.Request{Kind: ipc.ReqGetThreadName})
		if err != nil {
			retErr(ctx, structures.EIO)
			return
		}
		if lx, isErr := resp.AsError(); isErr {
			retErr(ctx, lx)
			return
		}
		dst := bytesAt(ctx.Arg1(), 16)
		n := copy(dst[:15], resp.LxPath)
		dst[n] = 0
		ctx.SetReturn(0)
	default:
		retErr(ctx, structures.EINVAL)
	}
}

// Linux arch_prctl(2) codes (asm/prctl.h).
const (
	archSetFS = 0x1002
	archGetFS = 0x1003
)

// shimArchPrctl only implements the FS-base get/set pair: x86_64 Linux
// TLS always goes through %fs, and this is the only pair glibc's own
// startup code and pthread TLS setup actually issue.
func shimArchPrctl(ctx trap.Context) {
	switch int(ctx.Arg0()) {
	case archSetFS:
		ctx.SetFSBase(ctx.Arg1())
		ctx.SetReturn(0)
	case archGetFS:
		writeAt(ctx.Arg1(), uint64(ctx.FSBase()))
		ctx.SetReturn(0)
	default:
		retErr(ctx, structures.ENOSYS)
	}
}

func shimGetrandom(ctx trap.Context) {
	n := int(ctx.Arg1())
	if n <= 0 {
		ctx.SetReturn(0)
		return
	}
	dst := bytesAt(ctx.Arg0(), uintptr(n))
	if _, err := rand.Read(dst); err != nil {
		retErr(ctx, structures.EIO)
		return
	}
	ctx.SetReturn(uintptr(n))
}

func shimSysinfo(ctx trap.Context) {
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	resp, err := cl.Invoke(ipc.Request{Kind: ipc.ReqSysInfo})
	if err != nil {
		retErr(ctx, structures.EIO)
		return
	}
	if lx, isErr := resp.AsError(); isErr {
		retErr(ctx, lx)
		return
	}
	writeAt(ctx.Arg0(), resp.SysInfo)
	ctx.SetReturn(0)
}

func shimGettimeofday(ctx trap.Context) {
	if ctx.Arg0() != 0 {
		now := time.Now()
		writeAt(ctx.Arg0(), linuxTimeval{Sec: now.Unix(), Usec: int64(now.Nanosecond() / 1000)})
	}
	ctx.SetReturn(0)
}

// shimGetrusage forwards straight to the host: resource accounting is a
// host-kernel fact about this very process, with nothing guest-specific
// to translate (struct rusage's field layout is the one place Linux and
// darwin happen to agree closely enough that a field-by-field copy
// suffices for the fields guests actually read — user/system time).
func shimGetrusage(ctx trap.Context) {
	var ru unix.Rusage
	if err := unix.Getrusage(int(int32(ctx.Arg0())), &ru); err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	writeAt(ctx.Arg1(), linuxTimeval{Sec: int64(ru.Utime.Sec), Usec: int64(ru.Utime.Usec)})
	writeAt(ctx.Arg1()+16, linuxTimeval{Sec: int64(ru.Stime.Sec), Usec: int64(ru.Stime.Usec)})
	ctx.SetReturn(0)
}

func shimTime(ctx trap.Context) {
	now := time.Now().Unix()
	if ctx.Arg0() != 0 {
		writeAt(ctx.Arg0(), now)
	}
	ctx.SetReturn(uintptr(now))
}

// Linux clockid_t values this shim answers — CLOCK_REALTIME and
// CLOCK_MONOTONIC are the only two glibc's own timing paths issue in
// practice without a real-time scheduling extension in play.
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

func shimClockGettime(ctx trap.Context) {
	var now time.Time
	switch int(ctx.Arg0()) {
	case clockRealtime, clockMonotonic:
		now = time.Now()
	default:
		retErr(ctx, structures.EINVAL)
		return
	}
	writeAt(ctx.Arg1(), linuxTimespec{Sec: now.Unix(), Nsec: int64(now.Nanosecond())})
	ctx.SetReturn(0)
}

func shimNanosleep(ctx trap.Context) {
	req := readAt[linuxTimespec](ctx.Arg0())
	time.Sleep(time.Duration(req.Sec)*time.Second + time.Duration(req.Nsec)*time.Nanosecond)
	ctx.SetReturn(0)
}

func shimAlarm(ctx trap.Context) {
	// alarm(2) via SIGALRM delivery has no safe expression atop this
	// emulator's own signal-handler-runs-on-the-guest's-behalf model
	// without a dedicated timer thread; reporting "no previous alarm was
	// pending" (0) is the same conservative stance guests already expect
	// from a sandboxed environment that disables real-time alarms.
	ctx.SetReturn(0)
}

func shimAcct(ctx trap.Context) {
	retErr(ctx, structures.EPERM)
}

func shimSethostname(ctx trap.Context) {
	name, _ := cstring(ctx.Arg0())
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	_, err := cl.Invoke(ipc.Request{Kind: ipc.ReqSetNetworkNames, NetworkNames: structures.NetworkNames{Hostname: name}})
	if err != nil {
		retErr(ctx, structures.EIO)
		return
	}
	ctx.SetReturn(0)
}

func shimSetdomainname(ctx trap.Context) {
	name, _ := cstring(ctx.Arg0())
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	_, err := cl.Invoke(ipc.Request{Kind: ipc.ReqSetNetworkNames, NetworkNames: structures.NetworkNames{Domainname: name}})
	if err != nil {
		retErr(ctx, structures.EIO)
		return
	}
	ctx.SetReturn(0)
}

// shimRseq reports ENOSYS unconditionally: restartable sequences need
// kernel-side preemption bookkeeping this emulator has no way to offer,
// and glibc itself treats a failing rseq(2) registration as "the kernel
// doesn't support this" and falls back cleanly.
func shimRseq(ctx trap.Context) {
	retErr(ctx, structures.ENOSYS)
}

func shimPrlimit64(ctx trap.Context) {
	// Only the "query, don't set" shape is supported (new_limit == NULL):
	// this emulator does not track or enforce any guest-adjustable
	// resource limit table beyond what the host process itself already
	// has, so a real RLIM_INFINITY-everywhere answer is both simple and
	// truthful about what this process will actually let the guest do.
	if ctx.Arg2() != 0 {
		retErr(ctx, structures.EPERM)
		return
	}
	if ctx.Arg3() != 0 {
		writeAt(ctx.Arg3(), [2]uint64{^uint64(0), ^uint64(0)})
	}
	ctx.SetReturn(0)
}

func shimUmask(ctx trap.Context) {
	old := unix.Umask(int(ctx.Arg0()))
	ctx.SetReturn(uintptr(old))
}
