/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"strings"

	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/fs"
	"github.com/sisungo/mactux/rtenv/io"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.Open, shimOpen)
	trap.RegisterShim(sysnum.Openat, shimOpenat)
	trap.RegisterShim(sysnum.Access, shimAccess)
	trap.RegisterShim(sysnum.Faccessat2, shimFaccessat2)
	trap.RegisterShim(sysnum.Unlink, shimUnlink)
	trap.RegisterShim(sysnum.Rmdir, shimRmdir)
	trap.RegisterShim(sysnum.Mkdir, shimMkdir)
	trap.RegisterShim(sysnum.Symlink, shimSymlink)
	trap.RegisterShim(sysnum.Rename, shimRename)
	trap.RegisterShim(sysnum.Readlink, shimReadlink)
	trap.RegisterShim(sysnum.Getcwd, shimGetcwd)
	trap.RegisterShim(sysnum.Chdir, shimChdir)
}

// resolveAt implements the at*(2) family's dirfd convention to the extent
// this emulator supports it: absolute paths ignore dirfd entirely (as
// POSIX requires), and a relative path is only resolved against the
// tracked CWD when dirfd is AT_FDCWD. A relative path against some other
// open directory fd would need per-fd path tracking this emulator's vfd
// table doesn't keep, so that combination reports ENOSYS rather than
// silently resolving against the wrong base.
func resolveAt(dirfd int32, path string) (string, structures.LxErrno) {
	if strings.HasPrefix(path, "/") {
		return path, 0
	}
	if dirfd != atFdcwd {
		return "", structures.ENOSYS
	}
	cwd := fs.Getcwd()
	if cwd == "" {
		return path, 0
	}
	return cwd + "/" + path, 0
}

// registerOpenResult turns an fs.Open outcome into the host fd the guest's
// return value becomes: a direct host open() for a native path, or a
// /dev/null-backed vfd registration otherwise.
func registerOpenResult(res fs.OpenResult, flags uint32) (uintptr, structures.LxErrno) {
	if !res.IsVfd {
		// The server resolved this to a path the host can open directly;
		// the shim's caller already has a native path string here, but
		// by this point the actual host open(2) has to happen — that
		// split is owned by shimOpenPath below, not this helper.
		return 0, structures.EIO
	}
	fd, err := fs.RegisterVfd(rtenv.Context().Vfd, res.Vfd, flags&oCloexec != 0, devNullOpen)
	if err != nil {
		return 0, structures.EIO
	}
	return uintptr(fd), 0
}

func shimOpenPath(ctx trap.Context, path string, how structures.OpenHow) {
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	res, lx := fs.Open(cl, []byte(path), how)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	if res.IsVfd {
		fd, lx := registerOpenResult(res, uint32(how.Flags))
		ret(ctx, fd, lx)
		return
	}
	fd, lx := openNative(res.NativePath, how)
	ret(ctx, uintptr(fd), lx)
}

func shimOpen(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	how := structures.OpenHow{Flags: uint64(ctx.Arg1()), Mode: uint64(ctx.Arg2())}
	shimOpenPath(ctx, path, how)
}

func shimOpenat(ctx trap.Context) {
	path, ok := cstring(ctx.Arg1())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	resolved, lx := resolveAt(int32(ctx.Arg0()), path)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	how := structures.OpenHow{Flags: uint64(ctx.Arg2()), Mode: uint64(ctx.Arg3())}
	shimOpenPath(ctx, resolved, how)
}

func shimAccess(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Access(cl, []byte(path), uint32(ctx.Arg1())))
}

func shimFaccessat2(ctx trap.Context) {
	path, ok := cstring(ctx.Arg1())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	resolved, lx := resolveAt(int32(ctx.Arg0()), path)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Access(cl, []byte(resolved), uint32(ctx.Arg2())))
}

func shimUnlink(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Unlink(cl, []byte(path)))
}

func shimRmdir(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Rmdir(cl, []byte(path)))
}

func shimMkdir(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Mkdir(cl, []byte(path), uint32(ctx.Arg1())))
}

func shimSymlink(ctx trap.Context) {
	target, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	link, ok := cstring(ctx.Arg1())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Symlink(cl, []byte(target), []byte(link)))
}

func shimRename(ctx trap.Context) {
	oldPath, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	newPath, ok := cstring(ctx.Arg1())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	retErr(ctx, fs.Rename(cl, []byte(oldPath), []byte(newPath)))
}

// shimReadlink has no direct server request (package ipc only exposes a
// vfd-keyed readlink); it opens the link O_PATH|O_NOFOLLOW, reads it
// through the resulting vfd, and closes it — the same three-step dance a
// libc built against this emulator would otherwise need the guest to do
// itself.
func shimReadlink(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	cl := client()
	if cl == nil {
		retErr(ctx, structures.EIO)
		return
	}
	res, lx := fs.Open(cl, []byte(path), structures.OpenHow{Flags: oPath | oNofollow})
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	if !res.IsVfd {
		retErr(ctx, structures.EINVAL)
		return
	}
	defer io.Close(cl, res.Vfd)
	target, lx := io.Readlink(cl, res.Vfd)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	bufLen := uintptr(ctx.Arg2())
	dst := bytesAt(ctx.Arg1(), bufLen)
	n := copy(dst, target)
	ctx.SetReturn(uintptr(n))
}

func shimGetcwd(ctx trap.Context) {
	cwd := fs.Getcwd()
	dst := bytesAt(ctx.Arg0(), uintptr(ctx.Arg1()))
	if len(dst) < len(cwd)+1 {
		retErr(ctx, structures.ERANGE)
		return
	}
	n := copy(dst, cwd)
	dst[n] = 0
	ctx.SetReturn(uintptr(n + 1))
}

func shimChdir(ctx trap.Context) {
	path, ok := cstring(ctx.Arg0())
	if !ok {
		retErr(ctx, structures.EFAULT)
		return
	}
	fs.Chdir(path)
	ctx.SetReturn(0)
}
