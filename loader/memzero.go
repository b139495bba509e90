/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package loader

import "unsafe"

// zeroBSS clears the BSS tail [vaddr+filesz, vaddr+memsz) of a freshly
// mapped writable segment. The reservation step already zero-filled the
// page via the anonymous mapping, but the subsequent file-backed overlay
// only covers [0, filesz), so anything beyond that inside the same page
// needs an explicit clear.
func zeroBSS(addr uintptr, n uint64) {
	if n == 0 {
		return
	}
	s := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
	for i := range s {
		s[i] = 0
	}
}
