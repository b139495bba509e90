/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package shim implements the syscall handler table (spec.md §4.F): one
// ShimFunc per supported Linux syscall number, grouped into files by
// subsystem (fs, io, mem, process, signal, net, sync, users, sched,
// misc, table) and wired into package trap's dispatch table by each
// file's own init().
//
// Every shim decodes its six integer arguments from the trap.Context the
// dispatcher hands it, performs the operation (usually by delegating to a
// rtenv subpackage), and writes a return value or negated errno back.
// Since this emulator never leaves the guest's own address space, "guest
// memory" is just this process's memory: pointer arguments are read and
// written directly through unsafe.Pointer rather than through any kind of
// copy-in/copy-out channel.
package shim

import (
	"unsafe"

	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/trap"
)

// cstring reads a NUL-terminated string starting at addr. addr == 0
// returns "", false (the caller decides whether a null pointer is valid
// for its argument).
func cstring(addr uintptr) (string, bool) {
	if addr == 0 {
		return "", false
	}
	const maxLen = 1 << 20
	p := (*byte)(unsafe.Pointer(addr))
	n := 0
	for n < maxLen && *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(n))) != 0 {
		n++
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	return string(buf), true
}

// bytesAt views a guest buffer of length n starting at addr as a Go byte
// slice backed by the same memory (no copy) — used for read/write
// destinations, where the shim and the guest program must observe the
// same bytes.
func bytesAt(addr uintptr, n uintptr) []byte {
	if addr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

// readAt decodes a fixed-size value of type T at addr.
func readAt[T any](addr uintptr) T {
	return *(*T)(unsafe.Pointer(addr))
}

// writeAt stores v at addr.
func writeAt[T any](addr uintptr, v T) {
	*(*T)(unsafe.Pointer(addr)) = v
}

// cstrArray decodes a NUL-terminated, NULL-pointer-terminated array of
// C strings (argv/envp's shape).
func cstrArray(addr uintptr) []string {
	if addr == 0 {
		return nil
	}
	var out []string
	for i := 0; ; i++ {
		entry := readAt[uintptr](addr + uintptr(i)*8)
		if entry == 0 {
			break
		}
		s, _ := cstring(entry)
		out = append(out, s)
	}
	return out
}

// ret writes either a non-negative result or a negated Linux errno into
// ctx, the shape every syscall's return value takes on the Linux x86_64
// ABI (a single signed word, errno encoded as its two's complement).
func ret(ctx trap.Context, value uintptr, lx structures.LxErrno) {
	if lx != 0 {
		ctx.SetReturnErrno(int(lx))
		return
	}
	ctx.SetReturn(value)
}

// retErr is ret's form for operations that only ever report success/
// failure (no payload beyond the status itself).
func retErr(ctx trap.Context, lx structures.LxErrno) {
	ret(ctx, 0, lx)
}
