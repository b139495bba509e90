/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

// Linux x86_64 uapi constants the decoders need — open(2)'s flag bits,
// the at*(2) family's dirfd/flag conventions, and fcntl(2)'s duplicate-fd
// commands. Named and valued exactly as uapi/asm-generic/fcntl.h and
// uapi/linux/fcntl.h define them; this emulator's ABI surface is Linux's,
// not the host's, so these are never golang.org/x/sys/unix's (darwin)
// constants.
const (
	oRdonly   = 0o0
	oWronly   = 0o1
	oRdwr     = 0o2
	oCreat    = 0o100
	oExcl     = 0o200
	oNoctty   = 0o400
	oTrunc    = 0o1000
	oAppend   = 0o2000
	oNonblock = 0o4000
	oDsync    = 0o10000
	oDirect   = 0o40000
	oDirectory = 0o200000
	oNofollow = 0o400000
	oCloexec  = 0o2000000
	oPath     = 0o10000000
)

const atFdcwd = -100

const (
	atSymlinkNofollow = 0x100
	atRemovedir       = 0x200
	atEmptyPath       = 0x1000
)

const (
	fDupfd       = 0
	fGetfd       = 1
	fSetfd       = 2
	fGetfl       = 3
	fSetfl       = 4
	fDupfdCloexec = 1030
)

// mmap(2) prot/flags bits.
const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4

	mapShared    = 0x01
	mapPrivate   = 0x02
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

// clone(2)/exit(2) bits this emulator distinguishes.
const (
	cloneVM      = 0x00000100
	cloneVfork   = 0x00004000
	cloneThread  = 0x00010000
	cloneSettls  = 0x00080000
	cloneChildClearTid = 0x00200000
	cloneChildSetTid   = 0x01000000
)
