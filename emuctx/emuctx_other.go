/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build !(darwin && amd64)

package emuctx

// The emulated-context switch depends on an x86_64-specific private host
// primitive; aarch64 (and non-darwin hosts) are explicitly out of scope
// per spec.md §9. These stubs let the rest of the module build elsewhere
// without claiming to support it.

func setTSDBase(base uintptr) {
	panic("emuctx: TSD base switching is only implemented for darwin/amd64")
}

func currentGSBase() uintptr {
	panic("emuctx: TSD base switching is only implemented for darwin/amd64")
}

func threadSelfID() int {
	panic("emuctx: TSD base switching is only implemented for darwin/amd64")
}
