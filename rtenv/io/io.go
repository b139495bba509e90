/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package io implements the vfd-aware half of the I/O runtime service
// (spec.md §4.G "io"): every operation here assumes the caller already
// consulted the vfd table and found an entry — the host-backed fast path
// (no vfd registered) is a direct host syscall the shim issues itself.
package io

import (
	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/structures"
)

func asErrno(resp ipc.Response, err error) (ipc.Response, structures.LxErrno) {
	if err != nil {
		return ipc.Response{}, structures.EIO
	}
	if lx, ok := resp.AsError(); ok {
		return ipc.Response{}, lx
	}
	return resp, 0
}

func Read(client *ipc.Client, v uint64, count uint64) ([]byte, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdRead, Vfd: v, Count: count}))
	if lx != 0 {
		return nil, lx
	}
	return resp.Bytes, 0
}

func Pread(client *ipc.Client, v uint64, offset int64, count uint64) ([]byte, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdPread, Vfd: v, Offset: offset, Count: count}))
	if lx != 0 {
		return nil, lx
	}
	return resp.Bytes, 0
}

func Write(client *ipc.Client, v uint64, data []byte) (uint64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdWrite, Vfd: v, Data: data}))
	if lx != 0 {
		return 0, lx
	}
	return resp.Length, 0
}

func Pwrite(client *ipc.Client, v uint64, offset int64, data []byte) (uint64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdPwrite, Vfd: v, Offset: offset, Data: data}))
	if lx != 0 {
		return 0, lx
	}
	return resp.Length, 0
}

func Seek(client *ipc.Client, v uint64, whence int32, offset int64) (int64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdSeek, Vfd: v, Whence: whence, Offset: offset}))
	if lx != 0 {
		return 0, lx
	}
	return resp.Offset, 0
}

func IoctlQuery(client *ipc.Client, v uint64, cmd uint64) (structures.LxErrno, uint64, uint64) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdIoctlQuery, Vfd: v, IoctlCmd: cmd}))
	if lx != 0 {
		return lx, 0, 0
	}
	return 0, resp.VfdAvailCtrl.InSize, resp.VfdAvailCtrl.OutSize
}

func Ioctl(client *ipc.Client, v uint64, cmd uint64, in []byte) (int32, []byte, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdIoctl, Vfd: v, IoctlCmd: cmd, Data: in}))
	if lx != 0 {
		return -1, nil, lx
	}
	return resp.CtrlOutput.Status, resp.CtrlOutput.Blob, 0
}

func Fcntl(client *ipc.Client, v uint64, cmd uint64, in []byte) (int32, []byte, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdFcntl, Vfd: v, FcntlCmd: cmd, Data: in}))
	if lx != 0 {
		return -1, nil, lx
	}
	return resp.CtrlOutput.Status, resp.CtrlOutput.Blob, 0
}

func Getdent(client *ipc.Client, v uint64) (structures.Dirent64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdGetdent, Vfd: v}))
	if lx != 0 {
		return structures.Dirent64{}, lx
	}
	return resp.Dirent64, 0
}

func Stat(client *ipc.Client, v uint64, mask uint32) (structures.Statx, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdStat, Vfd: v, StatMask: mask}))
	if lx != 0 {
		return structures.Statx{}, lx
	}
	return resp.Stat, 0
}

func Truncate(client *ipc.Client, v uint64, length uint64) structures.LxErrno {
	_, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdTruncate, Vfd: v, TruncLen: length}))
	return lx
}

func Chown(client *ipc.Client, v uint64, uid, gid uint32) structures.LxErrno {
	_, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdChown, Vfd: v, ChownUID: uid, ChownGID: gid}))
	return lx
}

// Dup asks the server to duplicate v, returning the new vfd; the caller
// (shim/io.go) is responsible for minting a fresh host fd via
// vfd.Table.Create and registering it against the returned vfd.
func Dup(client *ipc.Client, v uint64) (uint64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdDup, Vfd: v}))
	if lx != 0 {
		return 0, lx
	}
	return resp.Vfd, 0
}

func Close(client *ipc.Client, v uint64) structures.LxErrno {
	_, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdClose, Vfd: v}))
	return lx
}

func OrigPath(client *ipc.Client, v uint64) ([]byte, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdOrigPath, Vfd: v}))
	if lx != 0 {
		return nil, lx
	}
	return resp.LxPath, 0
}

func Sync(client *ipc.Client, v uint64) structures.LxErrno {
	_, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdSync, Vfd: v}))
	return lx
}

func Readlink(client *ipc.Client, v uint64) ([]byte, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqVfdReadlink, Vfd: v}))
	if lx != 0 {
		return nil, lx
	}
	return resp.LxPath, 0
}

// EventFd asks the server to mint an eventfd-backed vfd.
func EventFd(client *ipc.Client, initVal uint64, flags uint32) (uint64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqEventFd, EventFdInitVal: initVal, EventFdFlags: flags}))
	if lx != 0 {
		return 0, lx
	}
	return resp.Vfd, 0
}

// InvalidFd asks the server to mint a vfd that answers every operation
// with EBADF — used for flags combinations a real fd can't represent
// (e.g. O_PATH on something the host can't open) while still returning
// a fd number to the guest rather than failing open() outright.
func InvalidFd(client *ipc.Client, openFlags uint32) (uint64, structures.LxErrno) {
	resp, lx := asErrno(client.Invoke(ipc.Request{Kind: ipc.ReqInvalidFd, OpenFlags: openFlags}))
	if lx != 0 {
		return 0, lx
	}
	return resp.Vfd, 0
}
