/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package loader

import (
	"crypto/rand"
	"unsafe"

	"github.com/sisungo/mactux/emuctx"
)

// Linux auxv tags used by this loader (spec.md §4.C).
const (
	atNull    = 0
	atPhdr    = 3
	atPhent   = 4
	atPhnum   = 5
	atEntry   = 9
	atBase    = 7
	atExecFD  = 2
	atRandom  = 25
)

// StackInfo is the fully laid-out initial stack image: argc, argv, envp,
// auxv, in that exact order (spec.md §4.C). It owns the heap copies of
// every argv/envp string until Close runs; a successful Jump leaks them
// deliberately, since the guest now owns that memory.
type StackInfo struct {
	words   []uintptr
	strings [][]byte // kept alive only so the GC doesn't reclaim them before Jump copies the stack image
	closed  bool
}

// AuxInfo carries the fields the auxiliary vector communicates to the
// guest and its interpreter.
type AuxInfo struct {
	ExecFD     int
	PhdrBase   uintptr
	PhdrEntSize uintptr
	PhdrCount  uintptr
	Entry      uintptr
	Base       uintptr
}

// BuildStack lays out argc, argv, envp and the auxiliary vector in the
// exact order spec.md §4.C requires, padding to an even word count so the
// ABI's 16-byte stack alignment holds at entry.
func BuildStack(args, envs [][]byte, aux AuxInfo) (*StackInfo, error) {
	random, err := randomBytes(64)
	if err != nil {
		return nil, err
	}

	si := &StackInfo{}
	si.words = append(si.words, uintptr(len(args)))
	for _, a := range args {
		si.words = append(si.words, si.allocString(a))
	}
	si.words = append(si.words, 0)
	for _, e := range envs {
		si.words = append(si.words, si.allocString(e))
	}
	si.words = append(si.words, 0)

	randomPtr := si.allocString(random)
	// allocString NUL-terminates; AT_RANDOM wants exactly 64 raw bytes,
	// which the NUL terminator doesn't disturb since nothing reads past it.
	si.pushAux(atPhdr, uintptr(aux.PhdrBase))
	si.pushAux(atPhent, aux.PhdrEntSize)
	si.pushAux(atPhnum, aux.PhdrCount)
	si.pushAux(atEntry, uintptr(aux.Entry))
	si.pushAux(atBase, aux.Base)
	si.pushAux(atExecFD, uintptr(aux.ExecFD))
	si.pushAux(atRandom, randomPtr)
	si.pushAux(atNull, 0)

	if len(si.words)%2 != 0 {
		si.words = append(si.words, 0)
	}

	return si, nil
}

func (si *StackInfo) pushAux(tag, value uintptr) {
	si.words = append(si.words, tag, value)
}

// allocString copies s (NUL-terminated) to the heap and pins it so it
// survives until Close or a successful Jump (which leaks it on purpose).
func (si *StackInfo) allocString(s []byte) uintptr {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	si.strings = append(si.strings, buf)
	return uintptr(unsafe.Pointer(&buf[0]))
}

// Close frees the argv/envp heap allocations. It is a no-op if Jump
// already transferred control (the guest owns that memory then).
func (si *StackInfo) Close() {
	si.closed = true
	si.strings = nil // drop our references; GC reclaims them
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Jump transfers control to entry with this stack image installed: it
// enters emulated mode and never returns. Implemented in
// stack_amd64.go via the architecture-specific asm trampoline.
func (si *StackInfo) Jump(entry uintptr) {
	emuctx.EnterEmulatedCurrent()
	jumpAsm(entry, si.words)
}
