/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package fs implements the path-resolution runtime service (spec.md
// §4.G "fs"): CWD management and the three execution paths a
// path-accepting syscall can take — ask the server and get back either a
// native path or a vfd, go fully server-side, or answer entirely
// client-side.
package fs

import (
	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/vfd"
)

// Getcwd answers getcwd(2) entirely client-side: the atomically-loaded
// CWD the process singleton tracks.
func Getcwd() string {
	return rtenv.Context().Cwd()
}

// Chdir updates the recorded CWD. Neither Chdir nor its caller shim
// checks that dirPath exists or is a directory; the path is recorded
// as given.
func Chdir(dirPath string) {
	rtenv.Context().SetCwd(dirPath)
}

// OpenResult is what resolving a path for open(2)-class syscalls yields:
// either a native path the shim should hand to a host syscall, or a vfd
// the shim should register and answer with a virtual fd.
type OpenResult struct {
	NativePath string
	Vfd        uint64
	IsVfd      bool
}

// Open asks the server to resolve path (spec.md §4.G path 1): open, or
// tell the client which native path to use, or which vfd now owns it.
func Open(client *ipc.Client, path []byte, how structures.OpenHow) (OpenResult, structures.LxErrno) {
	resp, err := client.Invoke(ipc.Request{Kind: ipc.ReqOpen, Path: path, OpenHow: how})
	if err != nil {
		return OpenResult{}, structures.EIO
	}
	if lx, ok := resp.AsError(); ok {
		return OpenResult{}, lx
	}
	switch resp.Kind {
	case ipc.RespNativePath:
		return OpenResult{NativePath: string(resp.NativePath)}, 0
	case ipc.RespVfd:
		return OpenResult{Vfd: resp.Vfd, IsVfd: true}, 0
	default:
		return OpenResult{}, structures.EIO
	}
}

// RegisterVfd mints a host fd standing in for a server-owned vfd via
// /dev/null, matching vfd.Table.Create's contract.
func RegisterVfd(table *vfd.Table, v uint64, cloexec bool, open vfd.DevNullOpener) (int32, error) {
	return table.Create(v, cloexec, open)
}

// Access asks the server to evaluate access(2)/faccessat2 semantics for
// path — fully server-side (spec.md §4.G path 2), since the server is
// authoritative for any path it owns.
func Access(client *ipc.Client, path []byte, flags uint32) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqAccess, Path: path, AccessFlags: flags})
}

func Unlink(client *ipc.Client, path []byte) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqUnlink, Path: path})
}

func Rmdir(client *ipc.Client, path []byte) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqRmdir, Path: path})
}

func Symlink(client *ipc.Client, target, linkPath []byte) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqSymlink, Path: target, Path2: linkPath})
}

func Rename(client *ipc.Client, oldPath, newPath []byte) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqRename, Path: oldPath, Path2: newPath})
}

func Link(client *ipc.Client, oldPath, newPath []byte) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqLink, Path: oldPath, Path2: newPath})
}

func Mkdir(client *ipc.Client, path []byte, mode uint32) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqMkdir, Path: path, FileMode: mode})
}

func Mknod(client *ipc.Client, path []byte, mode uint32, major, minor uint32) structures.LxErrno {
	return serverSidePath(client, ipc.Request{
		Kind: ipc.ReqMknod, Path: path, FileMode: mode, DeviceMajor: major, DeviceMinor: minor,
	})
}

func Umount(client *ipc.Client, path []byte, flags uint32) structures.LxErrno {
	return serverSidePath(client, ipc.Request{Kind: ipc.ReqUmount, Path: path, UmountFlags: flags})
}

// GetSockPath asks the server to map a guest AF_LOCAL socket path to a
// host path (spec.md §4.G "net").
func GetSockPath(client *ipc.Client, path []byte, forBind bool) (string, structures.LxErrno) {
	resp, err := client.Invoke(ipc.Request{Kind: ipc.ReqGetSockPath, Path: path, Resolved: forBind})
	if err != nil {
		return "", structures.EIO
	}
	if lx, ok := resp.AsError(); ok {
		return "", lx
	}
	return string(resp.NativePath), 0
}

// serverSidePath is the common shape of every fully-server-side path
// operation: send the request, translate Response.Nothing/Response.Error
// into a Linux errno.
func serverSidePath(client *ipc.Client, req ipc.Request) structures.LxErrno {
	resp, err := client.Invoke(req)
	if err != nil {
		return structures.EIO
	}
	if lx, ok := resp.AsError(); ok {
		return lx
	}
	return 0
}
