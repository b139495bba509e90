/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package mmregion provides scoped acquisition of virtual-memory regions:
// a Builder accumulates placement, protection and file-backing options,
// Build() issues exactly one host mapping call, and the returned Region
// releases the mapping on Close only if it owns it outright. The ELF
// loader (package loader) relies on the auto-release distinction to let a
// PIE's base reservation own its whole address range while individual
// PT_LOAD segments borrow from it.
package mmregion

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Prot is the bitset of page protections a Region is mapped with.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

func (p Prot) hostProt() int {
	var v int
	if p&ProtRead != 0 {
		v |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		v |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		v |= unix.PROT_EXEC
	}
	return v
}

// Region is a mapped virtual-memory range: (base, length, auto-release).
// auto-release exists because segments reserved inside a PIE's base
// mapping must not be individually released — the base mapping owns the
// whole range (spec.md invariant 4).
type Region struct {
	addr        uintptr
	length      uintptr
	autoRelease bool
	closed      bool
}

// NullRegion is the placeholder used for executables that are not
// position-independent: Addr() reads as 0 and Close is a no-op.
func NullRegion() *Region {
	return &Region{closed: true}
}

// Addr returns the region's base address, or 0 for a NullRegion.
func (r *Region) Addr() uintptr { return r.addr }

// Len returns the region's length in bytes.
func (r *Region) Len() uintptr { return r.length }

// Disown clears the auto-release flag: the caller takes over lifetime
// management of the mapping (used by the loader when a segment borrows a
// sub-range of an already-owned base reservation).
func (r *Region) Disown() { r.autoRelease = false }

// Close releases the mapping if this Region owns it. Safe to call more
// than once.
func (r *Region) Close() error {
	if r.closed || !r.autoRelease || r.length == 0 {
		r.closed = true
		return nil
	}
	r.closed = true
	return rawMunmap(r.addr, r.length)
}

// Builder accumulates the parameters of a single host mapping call.
type Builder struct {
	dest        uintptr // 0 = let the allocator choose, else MAP_FIXED
	length      uintptr
	prot        Prot
	fd          int
	offset      int64
	hasFile     bool
	autoRelease bool
}

// NewBuilder starts a Builder for a mapping of the given length.
func NewBuilder(length uintptr) *Builder {
	return &Builder{length: length, fd: -1}
}

// At requests a fixed placement; 0 lets the host allocator choose.
func (b *Builder) At(dest uintptr) *Builder {
	b.dest = dest
	return b
}

// Protect sets the page protection bits.
func (b *Builder) Protect(p Prot) *Builder {
	b.prot = p
	return b
}

// Backing sets the file descriptor and offset this mapping overlays; if
// never called the mapping is anonymous.
func (b *Builder) Backing(fd int, offset int64) *Builder {
	b.fd = fd
	b.offset = offset
	b.hasFile = true
	return b
}

// AutoRelease marks the resulting Region as owning its mapping: Close will
// call munmap. Segments inside a PIE base reservation must NOT set this.
func (b *Builder) AutoRelease(v bool) *Builder {
	b.autoRelease = v
	return b
}

// Build issues the single host mapping call this Builder describes.
//
// Executable implies writable: this is a deliberate workaround for the
// fs:-to-gs: rewrite trick (package sig) — prefix bytes of a mapped
// instruction stream may need to be mutated in place at runtime.
func (b *Builder) Build() (*Region, error) {
	if b.length == 0 {
		return NullRegion(), nil
	}
	prot := b.prot
	if prot&ProtExec != 0 {
		prot |= ProtWrite
	}
	flags := unix.MAP_PRIVATE
	if b.dest != 0 {
		flags |= unix.MAP_FIXED
	}
	if !b.hasFile {
		flags |= unix.MAP_ANON
		b.fd = -1
		b.offset = 0
	}
	addr, err := rawMmap(b.dest, b.length, prot.hostProt(), flags, b.fd, b.offset)
	if err != nil {
		return nil, fmt.Errorf("mmregion: mmap %d bytes at %#x: %w", b.length, b.dest, err)
	}
	return &Region{addr: addr, length: b.length, autoRelease: b.autoRelease}, nil
}

// rawMmap issues the host mmap(2) syscall directly rather than through
// golang.org/x/sys/unix.Mmap, which only supports anonymous/non-fixed
// mappings returned as a Go []byte. A guest's address space is placed by
// the loader at addresses the host allocator does not own, so MAP_FIXED
// placement at an arbitrary pointer is required.
func rawMmap(dest, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, dest, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}

func rawMunmap(addr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
