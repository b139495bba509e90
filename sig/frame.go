/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sig

import (
	"unsafe"

	"github.com/sisungo/mactux/structures"
)

// stackFrame is pushed onto the guest's (stack or sigaltstack) stack
// before jumping into a guest handler: the return address a bare `ret`
// lands on, the siginfo_t/ucontext_t a SA_SIGINFO handler is handed
// pointers to, and one emulator-private bit rt_sigreturn needs back —
// whether the thread was already in emulated mode when the signal hit
// (spec.md §4.J: "restorer pops this frame and flips back to native mode
// only if execution was native at delivery time").
type stackFrame struct {
	RetAddr        uintptr
	Info           structures.SigInfo
	UContext       structures.UContext
	PrevInEmulated uint64 // 0/1, not bool: keeps the layout a flat POD blob
}

var frameSize = unsafe.Sizeof(stackFrame{})

var (
	infoOffset     = unsafe.Offsetof(stackFrame{}.Info)
	ucontextOffset = unsafe.Offsetof(stackFrame{}.UContext)
)

// writeFrame stores f at addr, which must point at guest-readable memory
// (this emulator runs in the guest's own address space, so a plain
// pointer store is all "pushing onto the guest stack" means here).
func writeFrame(addr uintptr, f stackFrame) {
	*(*stackFrame)(unsafe.Pointer(addr)) = f
}

func readFrame(addr uintptr) stackFrame {
	return *(*stackFrame)(unsafe.Pointer(addr))
}
