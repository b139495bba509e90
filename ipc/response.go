/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ipc

import (
	"github.com/sisungo/mactux/structures"
)

// ResponseKind tags which variant of Response is populated.
type ResponseKind string

const (
	RespNothing      ResponseKind = "nothing"
	RespNativePath   ResponseKind = "native_path"
	RespLxPath       ResponseKind = "lx_path"
	RespVfd          ResponseKind = "vfd"
	RespPid          ResponseKind = "pid"
	RespBytes        ResponseKind = "bytes"
	RespLength       ResponseKind = "length"
	RespOffset       ResponseKind = "offset"
	RespCtrlOutput   ResponseKind = "ctrl_output"
	RespVfdAvailCtrl ResponseKind = "vfd_avail_ctrl"
	RespStat         ResponseKind = "stat"
	RespDirent64     ResponseKind = "dirent64"
	RespNetworkNames ResponseKind = "network_names"
	RespSysInfo      ResponseKind = "sys_info"
	RespStatFs       ResponseKind = "stat_fs"
	RespPoll         ResponseKind = "poll"
	RespError        ResponseKind = "error"
)

// CtrlOutput is the result of a VfdIoctl/VfdFcntl call: the host-style
// status value plus whatever output blob the command produced.
type CtrlOutput struct {
	Status int32  `json:"status"`
	Blob   []byte `json:"blob"`
}

// VfdAvailCtrl answers a VfdIoctlQuery: the in/out buffer sizes the server
// expects for a given ioctl command, so the shim knows how much guest
// memory to copy in before issuing the real VfdIoctl.
type VfdAvailCtrl struct {
	InSize  uint64 `json:"in_size"`
	OutSize uint64 `json:"out_size"`
}

// Response is the full Response ADT (spec.md §6). Exactly one group of
// fields is meaningful, selected by Kind.
type Response struct {
	Kind ResponseKind `json:"type"`

	NativePath []byte `json:"native_path,omitempty"`
	LxPath     []byte `json:"lx_path,omitempty"`
	Vfd        uint64 `json:"vfd,omitempty"`
	Pid        int32  `json:"pid,omitempty"`
	Bytes      []byte `json:"bytes,omitempty"`
	Length     uint64 `json:"length,omitempty"`
	Offset     int64  `json:"offset,omitempty"`

	CtrlOutput   CtrlOutput   `json:"ctrl_output,omitempty"`
	VfdAvailCtrl VfdAvailCtrl `json:"vfd_avail_ctrl,omitempty"`

	Stat     structures.Statx   `json:"stat,omitempty"`
	Dirent64 structures.Dirent64 `json:"dirent64,omitempty"`

	NetworkNames structures.NetworkNames `json:"network_names,omitempty"`
	SysInfo      structures.SysInfo      `json:"sys_info,omitempty"`
	StatFs       structures.StatFs       `json:"stat_fs,omitempty"`

	PollVfd    uint64                `json:"poll_vfd,omitempty"`
	PollEvents structures.PollEvents `json:"poll_events,omitempty"`

	Error structures.LxErrno `json:"error,omitempty"`
}

// AsError returns the carried errno and true when resp is an error
// response, so callers can write `if lx, ok := resp.AsError(); ok { ... }`.
func (resp Response) AsError() (structures.LxErrno, bool) {
	if resp.Kind == RespError {
		return resp.Error, true
	}
	return 0, false
}
