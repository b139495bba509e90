/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/io"
	"github.com/sisungo/mactux/rtenv/proc"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

// table.go carries the stragglers: syscalls that don't share enough
// machinery with any other group file (fs/io/process/signal/net/mem/
// sched/users/sync/misc) to belong there, but aren't numerous enough to
// deserve one of their own.
func init() {
	trap.RegisterShim(sysnum.Poll, shimPoll)
	trap.RegisterShim(sysnum.Select, shimSelect)
	trap.RegisterShim(sysnum.Readv, shimReadv)
	trap.RegisterShim(sysnum.Writev, shimWritev)
	trap.RegisterShim(sysnum.Pause, shimPause)
	trap.RegisterShim(sysnum.Flock, shimFlock)
	trap.RegisterShim(sysnum.Fchdir, shimFchdir)
	trap.RegisterShim(sysnum.Gettid, shimGettid)
	trap.RegisterShim(sysnum.Listxattr, shimListxattr)
	trap.RegisterShim(sysnum.Llistxattr, shimLlistxattr)
	trap.RegisterShim(sysnum.Flistxattr, shimFlistxattr)
	trap.RegisterShim(sysnum.Fadvise64, shimFadvise64)
	trap.RegisterShim(sysnum.Pselect6, shimPselect6)
	trap.RegisterShim(sysnum.Ppoll, shimPpoll)
	trap.RegisterShim(sysnum.Syncfs, shimSyncfs)
	trap.RegisterShim(sysnum.CopyFileRange, shimCopyFileRange)
	trap.RegisterShim(sysnum.Statx, shimStatx)
	trap.RegisterShim(sysnum.Uselib, shimUselib)
	trap.RegisterShim(sysnum.Sysfs, shimSysfs)
}

// linuxPollfd mirrors Linux's struct pollfd.
type linuxPollfd struct {
	Fd      int32
	Events  int16
	Revents int16
}

// shimPoll only supports host-backed fds: a vfd-backed fd (server object)
// has no host file descriptor poll(2) can wait on, so one showing up in
// the set is reported back as POLLNVAL rather than attempted.
func shimPoll(ctx trap.Context) {
	nfds := int(ctx.Arg1())
	if nfds == 0 {
		ctx.SetReturn(0)
		return
	}
	fds := make([]unix.PollFd, nfds)
	guest := make([]linuxPollfd, nfds)
	for i := 0; i < nfds; i++ {
		guest[i] = readAt[linuxPollfd](ctx.Arg0() + uintptr(i)*8)
		if _, ok := vfdFor(guest[i].Fd); ok {
			fds[i] = unix.PollFd{Fd: -1, Events: guest[i].Events}
			continue
		}
		fds[i] = unix.PollFd{Fd: guest[i].Fd, Events: guest[i].Events}
	}
	timeout := int(int32(ctx.Arg2()))
	n, err := unix.Poll(fds, timeout)
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	vfdInvalid := int32(0)
	for i := 0; i < nfds; i++ {
		guest[i].Revents = fds[i].Revents
		if fds[i].Fd == -1 {
			guest[i].Revents = 0x20 // POLLNVAL
			vfdInvalid++
		}
		writeAt(ctx.Arg0()+uintptr(i)*8, guest[i])
	}
	ctx.SetReturn(uintptr(n) + uintptr(vfdInvalid))
}

// shimSelect forwards straight to the host: the guest's fd_set layout
// (an array of unsigned long bitmaps) is bit-for-bit identical between
// Linux x86_64 and darwin, so no translation is needed beyond the
// timeout's timeval shape, which the two platforms also already share.
func shimSelect(ctx trap.Context) {
	nfds := int(int32(ctx.Arg0()))
	var timeout *unix.Timeval
	if ctx.Arg4() != 0 {
		tv := readAt[linuxTimeval](ctx.Arg4())
		timeout = &unix.Timeval{Sec: tv.Sec, Usec: tv.Usec}
	}
	n, _, errno := unix.Syscall6(unix.SYS_SELECT, uintptr(nfds), ctx.Arg1(), ctx.Arg2(), ctx.Arg3(), uintptr(unsafe.Pointer(timeout)), 0)
	ret(ctx, n, structures.FromHostErrno(errno))
}

// linuxIovec mirrors Linux's struct iovec (identical shape to darwin's).
type linuxIovec struct {
	Base uintptr
	Len  uint64
}

func shimReadv(ctx trap.Context) {
	fd := int32(ctx.Arg0())
	iovcnt := int(ctx.Arg2())
	total := uintptr(0)
	for i := 0; i < iovcnt; i++ {
		iov := readAt[linuxIovec](ctx.Arg1() + uintptr(i)*16)
		if iov.Len == 0 {
			continue
		}
		dst := bytesAt(iov.Base, uintptr(iov.Len))
		n, err := readOne(fd, dst)
		if err != 0 {
			if total > 0 {
				break
			}
			retErr(ctx, err)
			return
		}
		total += uintptr(n)
		if uint64(n) < iov.Len {
			break
		}
	}
	ctx.SetReturn(total)
}

// readOne is shimReadv's per-iovec primitive, routing through the same
// vfd-or-host split every other I/O shim uses.
func readOne(fd int32, dst []byte) (int, structures.LxErrno) {
	if v, ok := vfdFor(fd); ok {
		cl := client()
		if cl == nil {
			return 0, structures.EIO
		}
		data, lx := io.Read(cl, v, uint64(len(dst)))
		if lx != 0 {
			return 0, lx
		}
		return copy(dst, data), 0
	}
	n, err := unix.Read(int(fd), dst)
	return n, structures.FromHostErrno(err)
}

func shimWritev(ctx trap.Context) {
	fd := int32(ctx.Arg0())
	iovcnt := int(ctx.Arg2())
	total := uintptr(0)
	for i := 0; i < iovcnt; i++ {
		iov := readAt[linuxIovec](ctx.Arg1() + uintptr(i)*16)
		if iov.Len == 0 {
			continue
		}
		src := bytesAt(iov.Base, uintptr(iov.Len))
		n, err := writeOne(fd, src)
		if err != 0 {
			if total > 0 {
				break
			}
			retErr(ctx, err)
			return
		}
		total += uintptr(n)
		if uint64(n) < iov.Len {
			break
		}
	}
	ctx.SetReturn(total)
}

func writeOne(fd int32, src []byte) (int, structures.LxErrno) {
	if v, ok := vfdFor(fd); ok {
		cl := client()
		if cl == nil {
			return 0, structures.EIO
		}
		n, lx := io.Write(cl, v, src)
		return int(n), lx
	}
	n, err := unix.Write(int(fd), src)
	return n, structures.FromHostErrno(err)
}

// shimPause blocks until a signal arrives. darwin has no raw pause(2)
// syscall number, so this uses the textbook substitute: select(2) on an
// empty fd set with no timeout blocks forever, and only returns (EINTR)
// once a signal has been delivered and the guest's own handler (package
// sig) has run and returned — exactly pause(2)'s contract.
func shimPause(ctx trap.Context) {
	_, err := unix.Select(0, nil, nil, nil, nil)
	retErr(ctx, structures.FromHostErrno(err))
}

func shimFlock(ctx trap.Context) {
	fd := int(int32(ctx.Arg0()))
	how := int(ctx.Arg1())
	retErr(ctx, structures.FromHostErrno(unix.Flock(fd, how)))
}

func shimFchdir(ctx trap.Context) {
	fd := int32(ctx.Arg0())
	if _, ok := vfdFor(fd); ok {
		// A vfd never carries a native path to chdir into.
		retErr(ctx, structures.ENOTDIR)
		return
	}
	retErr(ctx, structures.FromHostErrno(unix.Fchdir(int(fd))))
}

// shimGettid reports the Linux-mapped pid as the tid: see process.go's
// tkill-as-kill note — clone(CLONE_VM) always fails ENOSYS (spec.md
// §4.C Non-goals), so every guest "thread" actually is its own process,
// and pid and tid coincide.
func shimGettid(ctx trap.Context) {
	ctx.SetReturn(uintptr(rtenv.Context().PidNativeToLinux(proc.Pid())))
}

// The xattr family has no darwin equivalent this emulator attempts to
// bridge (darwin's extended attributes are a different namespace and
// wire format entirely); every guest path is reported as having no
// extended attributes at all, which is simple, truthful for anything
// this emulator itself ever creates, and lets callers that merely probe
// for xattr support (rather than require it) proceed normally.
func shimListxattr(ctx trap.Context)   { ctx.SetReturn(0) }
func shimLlistxattr(ctx trap.Context)  { ctx.SetReturn(0) }
func shimFlistxattr(ctx trap.Context)  { ctx.SetReturn(0) }

// shimFadvise64 is a no-op success: posix_fadvise's entire contract is
// advisory, and this emulator has no readahead/caching policy of its own
// to tune.
func shimFadvise64(ctx trap.Context) {
	ctx.SetReturn(0)
}

// shimPselect6 ignores the sigmask argument entirely: Linux's sixth
// argument is a pointer to a {sigset_t*, size_t} pair rather than a raw
// sigset_t, and this emulator has no equivalent of select(2)'s atomic
// mask-swap-then-wait to offer regardless; every guest signal is already
// delivered by running its handler inline on this thread (package sig),
// so the narrow race pselect6 exists to close does not arise the same
// way here.
func shimPselect6(ctx trap.Context) {
	nfds := int(int32(ctx.Arg0()))
	var timeout *unix.Timespec
	if ctx.Arg4() != 0 {
		ts := readAt[linuxTimespec](ctx.Arg4())
		timeout = &unix.Timespec{Sec: ts.Sec, Nsec: ts.Nsec}
	}
	n, _, errno := unix.Syscall6(unix.SYS_PSELECT, uintptr(nfds), ctx.Arg1(), ctx.Arg2(), ctx.Arg3(), uintptr(unsafe.Pointer(timeout)), 0)
	ret(ctx, n, structures.FromHostErrno(errno))
}

func shimPpoll(ctx trap.Context) {
	nfds := int(ctx.Arg1())
	if nfds == 0 {
		ctx.SetReturn(0)
		return
	}
	fds := make([]unix.PollFd, nfds)
	guest := make([]linuxPollfd, nfds)
	for i := 0; i < nfds; i++ {
		guest[i] = readAt[linuxPollfd](ctx.Arg0() + uintptr(i)*8)
		if _, ok := vfdFor(guest[i].Fd); ok {
			fds[i] = unix.PollFd{Fd: -1, Events: guest[i].Events}
			continue
		}
		fds[i] = unix.PollFd{Fd: guest[i].Fd, Events: guest[i].Events}
	}
	timeout := -1
	if ctx.Arg2() != 0 {
		ts := readAt[linuxTimespec](ctx.Arg2())
		timeout = int(ts.Sec*1000 + ts.Nsec/1000000)
	}
	n, err := unix.Poll(fds, timeout)
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	for i := 0; i < nfds; i++ {
		guest[i].Revents = fds[i].Revents
		if fds[i].Fd == -1 {
			guest[i].Revents = 0x20
		}
		writeAt(ctx.Arg0()+uintptr(i)*8, guest[i])
	}
	ctx.SetReturn(uintptr(n))
}

// shimSyncfs flushes the whole host filesystem sync(2)-style: darwin has
// no per-filesystem syncfs(2), and this emulator has no per-fd-to-mount
// mapping to narrow the flush to a single filesystem anyway.
func shimSyncfs(ctx trap.Context) {
	unix.Sync()
	ctx.SetReturn(0)
}

// shimCopyFileRange only supports the host-fd case: a vfd-backed fd has
// no host fd a raw byte-range copy could read from, and copy_file_range
// on a vfd has no caller in practice (it is a local-filesystem fast-path
// optimization, not a correctness requirement — plain read+write already
// covers any guest that doesn't get the fast path).
func shimCopyFileRange(ctx trap.Context) {
	fdIn := int(int32(ctx.Arg0()))
	offIn := ctx.Arg1()
	fdOut := int(int32(ctx.Arg2()))
	offOut := ctx.Arg3()
	length := int(ctx.Arg4())

	if _, ok := vfdFor(int32(fdIn)); ok {
		retErr(ctx, structures.EINVAL)
		return
	}
	if _, ok := vfdFor(int32(fdOut)); ok {
		retErr(ctx, structures.EINVAL)
		return
	}

	buf := make([]byte, length)
	var n int
	var err error
	if offIn != 0 {
		off := readAt[int64](offIn)
		n, err = unix.Pread(fdIn, buf, off)
	} else {
		n, err = unix.Read(fdIn, buf)
	}
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	buf = buf[:n]
	if offOut != 0 {
		off := readAt[int64](offOut)
		n, err = unix.Pwrite(fdOut, buf, off)
	} else {
		n, err = unix.Write(fdOut, buf)
	}
	ret(ctx, uintptr(n), structures.FromHostErrno(err))
}

// guestStatx mirrors Linux's struct statx — a superset of struct stat
// with explicit presence masks glibc's own statx(2) wrapper fills in.
type guestStatx struct {
	Mask           uint32
	Blksize        uint32
	Attributes     uint64
	Nlink          uint32
	UID            uint32
	GID            uint32
	Mode           uint16
	_              uint16
	Ino            uint64
	Size           uint64
	Blocks         uint64
	AttributesMask uint64
	AtimeSec       int64
	AtimeNsec      uint32
	AtimePad       int32
	BtimeSec       int64
	BtimeNsec      uint32
	BtimePad       int32
	CtimeSec       int64
	CtimeNsec      uint32
	CtimePad       int32
	MtimeSec       int64
	MtimeNsec      uint32
	MtimePad       int32
	RdevMajor      uint32
	RdevMinor      uint32
	DevMajor       uint32
	DevMinor       uint32
	_              [14]uint64
}

// statxMaskBasic is STATX_BASIC_STATS: every field fetchStatx is able to
// fill in, which covers what this shim reports regardless of the mask
// the guest actually asked for.
const statxMaskBasic = 0x7ff

func shimStatx(ctx trap.Context) {
	dirfd := int32(ctx.Arg0())
	path, ok := cstring(ctx.Arg1())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	flags := uint32(ctx.Arg2())
	var resolved string
	if path == "" && flags&0x1000 != 0 { // AT_EMPTY_PATH: stat dirfd itself
		resolved = ""
	} else {
		var lx structures.LxErrno
		resolved, lx = resolveAt(dirfd, path)
		if lx != 0 {
			retErr(ctx, lx)
			return
		}
	}

	var sx structures.Statx
	var lx structures.LxErrno
	if resolved == "" {
		if v, isVfd := vfdFor(dirfd); isVfd {
			cl := client()
			if cl == nil {
				retErr(ctx, structures.EIO)
				return
			}
			sx, lx = io.Stat(cl, v, 0xfff)
		} else {
			var st unix.Stat_t
			if err := unix.Fstat(int(dirfd), &st); err != nil {
				lx = structures.FromHostErrno(err)
			} else {
				sx = fillStatxFromHost(&st)
			}
		}
	} else {
		follow := flags&atSymlinkNofollow == 0
		sx, lx = fetchStatx(resolved, follow)
	}
	if lx != 0 {
		retErr(ctx, lx)
		return
	}

	gs := guestStatx{
		Mask:      statxMaskBasic,
		Blksize:   uint32(sx.Blksize),
		Nlink:     sx.Nlink,
		UID:       sx.UID,
		GID:       sx.GID,
		Mode:      sx.Mode,
		Ino:       sx.Ino,
		Size:      sx.Size,
		Blocks:    sx.Blocks,
		AtimeSec:  sx.AtimeSec,
		AtimeNsec: sx.AtimeNsec,
		CtimeSec:  sx.CtimeSec,
		CtimeNsec: sx.CtimeNsec,
		MtimeSec:  sx.MtimeSec,
		MtimeNsec: sx.MtimeNsec,
		RdevMajor: sx.RdevMajor,
		RdevMinor: sx.RdevMinor,
		DevMajor:  sx.DevMajor,
		DevMinor:  sx.DevMinor,
	}
	writeAt(ctx.Arg4(), gs)
	ctx.SetReturn(0)
}

// shimUselib always fails: a.out-era shared library loading has had no
// live callers for decades, and this emulator's loader only ever
// understands ELF images.
func shimUselib(ctx trap.Context) {
	retErr(ctx, structures.ENOSYS)
}

// shimSysfs answers only option 3 (count of configured filesystem
// types), the one case a modern glibc's own fallback paths might still
// probe; anything else reports EINVAL, matching a kernel built without
// any of the legacy sysfs(2) table lookups compiled in.
func shimSysfs(ctx trap.Context) {
	if int(ctx.Arg0()) == 3 {
		ctx.SetReturn(0)
		return
	}
	retErr(ctx, structures.EINVAL)
}
