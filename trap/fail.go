/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build darwin && amd64

package trap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FastFailMinimal terminates the process without attempting to print
// registers — used when a synchronous Context cannot be constructed (an
// asynchronous SIGSYS delivery carries no meaningful trap register
// file).
func FastFailMinimal() {
	const msg = "mactux: asynchronous SIGSYS delivered in emulated mode, aborting\n"
	_, _ = unix.Write(2, []byte(msg))
	unix.Exit(101)
}

// FastFail prints the saved register file to stderr via the raw write(2)
// primitive (no buffering, no locks — safe to call from signal context)
// and terminates the process immediately with exit status 101, matching
// the setup/load-failure exit code spec.md §6 reserves.
func FastFail(ctx Context) {
	printRegisters(ctx)
	unix.Exit(101)
}

// printRegisters writes the register dump using raw write(2) to fd 2,
// never going through buffered stdio (async-signal-unsafe) or the
// fmt/log packages' own locking.
func printRegisters(ctx Context) {
	ss := &ctx.mc.ss
	lines := []string{
		fmt.Sprintf("  rax=0x%016x, rbx=0x%016x, rcx=0x%016x, rdx=0x%016x\n", ss.RAX, ss.RBX, ss.RCX, ss.RDX),
		fmt.Sprintf("  rdi=0x%016x, rsi=0x%016x, rbp=0x%016x, rsp=0x%016x\n", ss.RDI, ss.RSI, ss.RBP, ss.RSP),
		fmt.Sprintf("   r8=0x%016x,  r9=0x%016x, r10=0x%016x, r11=0x%016x\n", ss.R8, ss.R9, ss.R10, ss.R11),
		fmt.Sprintf("  r12=0x%016x, r13=0x%016x, r14=0x%016x, r15=0x%016x\n", ss.R12, ss.R13, ss.R14, ss.R15),
		fmt.Sprintf("  rip=0x%016x, rfl=0x%016x,  cs=0x%016x,  fs=0x%016x,  gs=0x%016x\n", ss.RIP, ss.RFlags, ss.CS, ss.FS, ss.GS),
	}
	for _, l := range lines {
		_, _ = unix.Write(int(os.Stderr.Fd()), []byte(l))
	}
}
