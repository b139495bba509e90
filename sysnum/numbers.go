/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sysnum names the Linux x86_64 syscall numbers the dispatch
// table (package trap) and the shims (package shim) are indexed by.
// Grounded on the teacher's enumerated wire-tag style (a dense,
// commented const block), generalized here from one numbering domain
// (entry tag bytes) to another (syscall numbers).
package sysnum

// Num is a Linux x86_64 syscall number.
type Num uint16

// MaxSyscall is the highest syscall number the dispatch table covers;
// anything beyond it (or any gap within it) resolves to the invalid
// stub.
const MaxSyscall = 479

const (
	Read       Num = 0
	Write      Num = 1
	Open       Num = 2
	Close      Num = 3
	Stat       Num = 4
	Fstat      Num = 5
	Lstat      Num = 6
	Poll       Num = 7
	Lseek      Num = 8
	Mmap       Num = 9
	Mprotect   Num = 10
	Munmap     Num = 11
	Brk        Num = 12
	RtSigaction    Num = 13
	RtSigprocmask  Num = 14
	RtSigreturn    Num = 15
	Ioctl      Num = 16
	Pread64    Num = 17
	Pwrite64   Num = 18
	Readv      Num = 19
	Writev     Num = 20
	Access     Num = 21
	Pipe       Num = 22
	Select     Num = 23
	SchedYield Num = 24
	Mremap     Num = 25
	Msync      Num = 26
	Mincore    Num = 27
	Madvise    Num = 28
	Dup        Num = 32
	Dup2       Num = 33
	Pause      Num = 34
	Nanosleep  Num = 35
	Alarm      Num = 37
	Getpid     Num = 39
	Sendfile   Num = 40
	Socket     Num = 41
	Connect    Num = 42
	Accept     Num = 43
	Shutdown   Num = 48
	Bind       Num = 49
	Listen     Num = 50
	Getsockname Num = 51
	Getpeername Num = 52
	Setsockopt Num = 54
	Getsockopt Num = 55
	Clone      Num = 56
	Fork       Num = 57
	Vfork      Num = 58
	Execve     Num = 59
	Exit       Num = 60
	Wait4      Num = 61
	Kill       Num = 62
	Uname      Num = 63
	Fcntl      Num = 72
	Flock      Num = 73
	Fsync      Num = 74
	Fdatasync  Num = 75
	Truncate   Num = 76
	Ftruncate  Num = 77
	Getcwd     Num = 79
	Chdir      Num = 80
	Fchdir     Num = 81
	Rename     Num = 82
	Mkdir      Num = 83
	Rmdir      Num = 84
	Unlink     Num = 87
	Symlink    Num = 88
	Readlink   Num = 89
	Chown      Num = 92
	Fchown     Num = 93
	Umask      Num = 95
	Gettimeofday Num = 96
	Getrusage  Num = 98
	Sysinfo    Num = 99
	Getuid     Num = 102
	Getgid     Num = 104
	Setuid     Num = 105
	Setgid     Num = 106
	Geteuid    Num = 107
	Getegid    Num = 108
	Setpgid    Num = 109
	Getppid    Num = 110
	Getpgrp    Num = 111
	Getgroups  Num = 115
	Getpgid    Num = 121
	Uselib     Num = 134
	Sysfs      Num = 139
	Prctl      Num = 157
	ArchPrctl  Num = 158
	Sync       Num = 162
	Acct       Num = 163
	Sethostname Num = 170
	Setdomainname Num = 171
	Gettid     Num = 186
	Listxattr  Num = 194
	Llistxattr Num = 195
	Flistxattr Num = 196
	Tkill      Num = 200
	Time       Num = 201
	Futex      Num = 202
	SchedSetaffinity Num = 203
	SchedGetaffinity Num = 204
	Getdents64 Num = 217
	SetTidAddress Num = 218
	Fadvise64  Num = 221
	ClockGettime Num = 228
	ExitGroup  Num = 231
	Openat     Num = 257
	Newfstatat Num = 262
	Pselect6   Num = 270
	Ppoll      Num = 271
	SetRobustList Num = 273
	Eventfd    Num = 284
	Accept4    Num = 288
	Eventfd2   Num = 290
	Pipe2      Num = 293
	Prlimit64  Num = 302
	Syncfs     Num = 306
	Getrandom  Num = 318
	CopyFileRange Num = 326
	Statx      Num = 332
	Rseq       Num = 334
	Faccessat2 Num = 439

	// PseudoRestoreCtx is the pseudo-syscall (spec.md §4.E) used only by
	// the indirect-syscall trampoline to hand control back to the saved
	// machine context. It is never issued by guest code directly.
	PseudoRestoreCtx Num = 479
)
