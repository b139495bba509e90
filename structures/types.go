/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package structures

// Statx is the Go shape of Linux's struct statx, filled in by the fs shims
// from either a host unix.Stat_t (native path) or a server Stat response
// (vfd path). Field names mirror the uapi struct directly so the shim that
// marshals this into guest memory does not need a translation table.
type Statx struct {
	Mask           uint32
	Blksize        uint32
	Attributes     uint64
	Nlink          uint32
	UID            uint32
	GID            uint32
	Mode           uint16
	Ino            uint64
	Size           uint64
	Blocks         uint64
	AttributesMask uint64
	AtimeSec       int64
	AtimeNsec      uint32
	BtimeSec       int64
	BtimeNsec      uint32
	CtimeSec       int64
	CtimeNsec      uint32
	MtimeSec       int64
	MtimeNsec      uint32
	RdevMajor      uint32
	RdevMinor      uint32
	DevMajor       uint32
	DevMinor       uint32
}

// Dirent64 is one entry of a getdents64 result, decoded from a server
// Getdent response. Entries are never produced locally: getdents64 on a
// host-backed (non-vfd) directory fd reports ENOTDIR.
type Dirent64 struct {
	Ino    uint64
	Off    int64
	Type   uint8
	Name   string
}

// OpenHow is the decoded argument of openat2 (and the synthesized
// equivalent used internally by plain openat), forwarded to the server
// when a path resolves to a vfd.
type OpenHow struct {
	Flags   uint64
	Mode    uint64
	Resolve uint64
}

// SigAction is one process-wide Linux sigaction table entry (spec.md §3).
// Handler is either a Linux address (guest handler), SIG_DFL (0) or
// SIG_IGN (1); the values follow Linux's own encoding.
type SigAction struct {
	Handler  uintptr
	Flags    uint64
	Restorer uintptr
	Mask     uint64
}

const (
	SigDfl  uintptr = 0
	SigIgn  uintptr = 1
	// SigHold is glibc's SIG_HOLD (sigset/sighold's BSD-compat disposition
	// value): "block this signal" rather than install any handler.
	SigHold uintptr = 2
)

// SAFlag bits relevant to the signal emulator (subset of Linux's SA_*).
const (
	SAFlagSigInfo   uint64 = 0x00000004
	SAFlagRestorer  uint64 = 0x04000000
	SAFlagOnStack   uint64 = 0x08000000
	SAFlagNoDefer   uint64 = 0x40000000
	SAFlagRestart   uint64 = 0x10000000
)

// UContext is the Linux ucontext_t subset the signal emulator builds on the
// guest stack: general purpose registers in Linux's sigcontext order plus
// the signal mask active when the handler runs.
type UContext struct {
	GRegs      [23]uint64 // r8..rip, eflags, cs/gs/fs, etc, Linux order
	OldMask    uint64
	Fpstate    uint64 // pointer to an (unused) fpregs block
	WasEmulated bool
}

// SigInfo is the Linux siginfo_t subset the emulator fills in from the host
// siginfo at delivery time.
type SigInfo struct {
	Signo int32
	Errno int32
	Code  int32
	Pid   int32
	UID   int32
	Addr  uint64
	Status int32
}

// SigAltStack mirrors Linux's struct sigaltstack (stack_t): the alternate
// signal stack a thread registers via sigaltstack(2) for handlers
// installed with SA_ONSTACK.
type SigAltStack struct {
	SP    uintptr
	Flags int32
	Size  uintptr
}

// SigAltStack flag bits relevant to the emulator.
const (
	SSFlagOnStack int32 = 1
	SSFlagDisable int32 = 2
)

// NetworkNames is the server's answer to GetNetworkNames (uname-family
// fields that the server, not the client, is authoritative for).
type NetworkNames struct {
	Hostname string
	Domainname string
}

// SysInfo mirrors Linux's struct sysinfo.
type SysInfo struct {
	Uptime    int64
	Loads     [3]uint64
	TotalRAM  uint64
	FreeRAM   uint64
	SharedRAM uint64
	BufferRAM uint64
	TotalSwap uint64
	FreeSwap  uint64
	Procs     uint16
	TotalHigh uint64
	FreeHigh  uint64
	Mem_unit  uint32
}

// StatFs mirrors Linux's struct statfs64 fields the server reports for a
// vfd-backed filesystem.
type StatFs struct {
	Type    int64
	Bsize   int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen int64
}

// PollEvents is the bitset returned for a vfd entry in an interruptible
// CallInterruptible(Poll) response.
type PollEvents uint32
