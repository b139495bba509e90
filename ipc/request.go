/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ipc

import "github.com/sisungo/mactux/structures"

// RequestKind tags which variant of Request is populated, giving the
// tagged-union shape a `{"type":...,"body":...}` envelope gets when
// marshaled to JSON.
type RequestKind string

// The full set of uninterruptible request variants (spec.md §6: namespace
// ops, path ops, vfd ops, misc).
const (
	ReqSetMntNamespace RequestKind = "set_mnt_namespace"
	ReqSetPidNamespace RequestKind = "set_pid_namespace"
	ReqSetUtsNamespace RequestKind = "set_uts_namespace"

	ReqUmount RequestKind = "umount"

	ReqOpen        RequestKind = "open"
	ReqAccess      RequestKind = "access"
	ReqUnlink      RequestKind = "unlink"
	ReqRmdir       RequestKind = "rmdir"
	ReqSymlink     RequestKind = "symlink"
	ReqRename      RequestKind = "rename"
	ReqLink        RequestKind = "link"
	ReqMkdir       RequestKind = "mkdir"
	ReqMknod       RequestKind = "mknod"
	ReqGetSockPath RequestKind = "get_sock_path"

	ReqVfdRead       RequestKind = "vfd_read"
	ReqVfdPread      RequestKind = "vfd_pread"
	ReqVfdWrite      RequestKind = "vfd_write"
	ReqVfdPwrite     RequestKind = "vfd_pwrite"
	ReqVfdSeek       RequestKind = "vfd_seek"
	ReqVfdIoctlQuery RequestKind = "vfd_ioctl_query"
	ReqVfdIoctl      RequestKind = "vfd_ioctl"
	ReqVfdFcntl      RequestKind = "vfd_fcntl"
	ReqVfdGetdent    RequestKind = "vfd_getdent"
	ReqVfdStat       RequestKind = "vfd_stat"
	ReqVfdTruncate   RequestKind = "vfd_truncate"
	ReqVfdChown      RequestKind = "vfd_chown"
	ReqVfdDup        RequestKind = "vfd_dup"
	ReqVfdClose      RequestKind = "vfd_close"
	ReqVfdOrigPath   RequestKind = "vfd_orig_path"
	ReqVfdSync       RequestKind = "vfd_sync"
	ReqVfdReadlink   RequestKind = "vfd_readlink"

	ReqEventFd  RequestKind = "event_fd"
	ReqInvalidFd RequestKind = "invalid_fd"

	ReqGetNetworkNames RequestKind = "get_network_names"
	ReqSetNetworkNames RequestKind = "set_network_names"
	ReqSysInfo         RequestKind = "sys_info"

	ReqWriteSyslog    RequestKind = "write_syslog"
	ReqReadSyslogAll  RequestKind = "read_syslog_all"

	ReqAfterFork RequestKind = "after_fork"
	ReqAfterExec RequestKind = "after_exec"

	ReqGetThreadName RequestKind = "get_thread_name"
	ReqSetThreadName RequestKind = "set_thread_name"

	ReqPidNativeToLinux RequestKind = "pid_native_to_linux"
	ReqPidLinuxToNative RequestKind = "pid_linux_to_native"

	ReqCallInterruptible RequestKind = "call_interruptible"
)

// InterruptibleKind tags the (currently single-member) interruptible
// request variant.
type InterruptibleKind string

const InterIntVfdPoll InterruptibleKind = "vfd_poll"

// PollWaiter is one (vfd, interest-set) pair of a VfdPoll request.
type PollWaiter struct {
	Vfd    uint64              `json:"vfd"`
	Events structures.PollEvents `json:"events"`
}

// InterruptibleRequest is the payload of Request.CallInterruptible.
type InterruptibleRequest struct {
	Kind InterruptibleKind `json:"kind"`

	VfdPollWaiters []PollWaiter `json:"vfd_poll_waiters,omitempty"`
	VfdPollTimeoutMs int64      `json:"vfd_poll_timeout_ms,omitempty"`
	VfdPollHasTimeout bool      `json:"vfd_poll_has_timeout,omitempty"`
}

// Request is the full uninterruptible request ADT (spec.md §6). Only the
// fields relevant to Kind are populated; everything else is the zero
// value. Variants that take multiple positional arguments in the original
// get one named field each.
type Request struct {
	Kind RequestKind `json:"type"`

	NamespaceID uint64 `json:"namespace_id,omitempty"`

	Path      []byte `json:"path,omitempty"`
	Path2     []byte `json:"path2,omitempty"`
	UmountFlags uint32 `json:"umount_flags,omitempty"`
	OpenHow   structures.OpenHow `json:"open_how,omitempty"`
	AccessFlags uint32 `json:"access_flags,omitempty"`
	FileMode  uint32 `json:"file_mode,omitempty"`
	DeviceMajor uint32 `json:"device_major,omitempty"`
	DeviceMinor uint32 `json:"device_minor,omitempty"`
	Resolved  bool   `json:"resolved,omitempty"`

	Vfd        uint64 `json:"vfd,omitempty"`
	Count      uint64 `json:"count,omitempty"`
	Offset     int64  `json:"offset,omitempty"`
	Data       []byte `json:"data,omitempty"`
	Whence     int32  `json:"whence,omitempty"`
	IoctlCmd   uint64 `json:"ioctl_cmd,omitempty"`
	FcntlCmd   uint64 `json:"fcntl_cmd,omitempty"`
	StatMask   uint32 `json:"stat_mask,omitempty"`
	TruncLen   uint64 `json:"trunc_len,omitempty"`
	ChownUID   uint32 `json:"chown_uid,omitempty"`
	ChownGID   uint32 `json:"chown_gid,omitempty"`

	EventFdInitVal uint64 `json:"event_fd_init_val,omitempty"`
	EventFdFlags   uint32 `json:"event_fd_flags,omitempty"`
	OpenFlags      uint32 `json:"open_flags,omitempty"`

	NetworkNames structures.NetworkNames `json:"network_names,omitempty"`

	LogLevel int32  `json:"log_level,omitempty"`
	LogLine  []byte `json:"log_line,omitempty"`
	SyslogMax uint64 `json:"syslog_max,omitempty"`

	ExitStatus int32 `json:"exit_status,omitempty"`

	ThreadName []byte `json:"thread_name,omitempty"`

	Pid int32 `json:"pid,omitempty"`

	Interruptible InterruptibleRequest `json:"interruptible,omitempty"`
}
