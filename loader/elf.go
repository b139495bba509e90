/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package loader implements the ELF64 program loader (spec.md §4.B),
// the initial-stack builder (§4.C), and the "#!" shebang fallback. It is
// the only package that issues mmregion.Builder calls against a guest
// executable's own segments; everything else in the runtime only ever
// sees the resulting Program.
package loader

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sisungo/mactux/mmregion"
)

const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'

	etExec = 2
	etDyn  = 3

	ptLoad   = 1
	ptInterp = 3

	pfX = 1
	pfW = 2
	pfR = 4

	pageSize = 0x1000 // x86_64 only, per spec.md non-goals
)

// ErrorKind classifies why a Program failed to load, per spec.md §7.
type ErrorKind int

const (
	ImageFormat ErrorKind = iota
	ReadImage
	LoadImage
)

// LoadError is the structured error a failed Load/LoadShebang returns.
// All three kinds are fatal to the loader call; cmd/mactux maps them to
// exit code 101.
type LoadError struct {
	Kind ErrorKind
	Err  error
}

func (e *LoadError) Error() string {
	var kind string
	switch e.Kind {
	case ImageFormat:
		kind = "image format"
	case ReadImage:
		kind = "read image"
	case LoadImage:
		kind = "load image"
	default:
		kind = "unknown"
	}
	return fmt.Sprintf("loader: %s: %v", kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func wrapErr(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &LoadError{Kind: kind, Err: err}
}

// ExecFile is the minimal file-like handle the loader needs: seekable
// random-access reads plus the host fd the loader must keep alive for the
// lifetime of the Program (invariant 3, spec.md §3) and hand to the guest
// via AT_EXECFD.
type ExecFile interface {
	io.ReaderAt
	Fd() uintptr
	Close() error
}

type elfHeader struct {
	eType    uint16
	eMachine uint16
	eEntry   uint64
	ePhoff   uint64
	ePhentsize uint16
	ePhnum   uint16
}

type progHeader struct {
	pType   uint32
	pFlags  uint32
	pOffset uint64
	pVaddr  uint64
	pFilesz uint64
	pMemsz  uint64
}

// Program is a loaded Linux program image (spec.md §3): a chain of mapped
// segments, an optional recursively-loaded PT_INTERP program, and the
// auxv fields the initial stack builder needs.
type Program struct {
	execFile ExecFile

	interpreter *Program

	phdr  uintptr
	phent int
	phnum int
	entry uintptr
	highAddr uintptr

	baseMap      *mmregion.Region
	mappedAreas  []*mmregion.Region // only populated for static (ET_EXEC) images
}

// Close releases the executable file handle and every mapped region this
// Program owns, recursively closing any loaded interpreter. Per invariant
// 3, this must not happen before the Program is no longer needed — the
// guest may read its own program headers through exec_fd via /proc/self/exe
// equivalents reached through the server.
func (p *Program) Close() error {
	if p.interpreter != nil {
		p.interpreter.Close()
	}
	for _, m := range p.mappedAreas {
		m.Close()
	}
	p.baseMap.Close()
	return p.execFile.Close()
}

// Entry returns this program's own ELF entry point (not the interpreter's).
func (p *Program) Entry() uintptr { return p.entry }

// Interpreter returns the recursively loaded PT_INTERP program, or nil.
func (p *Program) Interpreter() *Program { return p.interpreter }

// Base returns the address the image was relocated to (0 for ET_EXEC).
func (p *Program) Base() uintptr { return p.baseMap.Addr() }

// Phdr, Phent and Phnum return this program's own program-header table
// address, entry size and entry count — AT_PHDR/AT_PHENT/AT_PHNUM's
// values, per spec.md §4.C.
func (p *Program) Phdr() uintptr { return p.phdr }
func (p *Program) Phent() int    { return p.phent }
func (p *Program) Phnum() int    { return p.phnum }

// BrkBase returns the address immediately past this program's own
// highest PT_LOAD segment (not the interpreter's) — the initial program
// break brk(2) reports before the guest ever calls it with a nonzero
// argument.
func (p *Program) BrkBase() uintptr { return p.highAddr }

// OpenFunc resolves a path (e.g. a PT_INTERP interpreter path) to a host
// file usable by the loader. The caller must reject server-backed virtual
// fds — the interpreter has to live on a host-backed inode — which is why
// OpenFunc returns an extra bool for "this is a vfd, refuse it".
type OpenFunc func(path string) (file ExecFile, isVfd bool, err error)

// Load parses exec as an ELF64 little-endian executable and constructs a
// Program: it maps PT_LOAD segments, recursively loads a PT_INTERP
// interpreter through open, and records the phdr/entry/auxv fields.
func Load(exec ExecFile, open OpenFunc) (*Program, error) {
	hdr, err := readElfHeader(exec)
	if err != nil {
		return nil, wrapErr(ImageFormat, err)
	}
	phdrs, err := readProgramHeaders(exec, hdr)
	if err != nil {
		return nil, wrapErr(ImageFormat, err)
	}

	baseMap, err := mapBase(hdr, phdrs)
	if err != nil {
		return nil, wrapErr(LoadImage, err)
	}

	p := &Program{
		execFile: exec,
		baseMap:  baseMap,
		entry:    baseMap.Addr() + uintptr(hdr.eEntry),
	}

	for _, ph := range phdrs {
		switch ph.pType {
		case ptInterp:
			interp, err := loadInterp(exec, ph, open)
			if err != nil {
				baseMap.Close()
				return nil, err
			}
			p.interpreter = interp
		case ptLoad:
			region, err := mapSegment(ph, int(exec.Fd()), baseMap.Addr())
			if err != nil {
				baseMap.Close()
				return nil, wrapErr(LoadImage, err)
			}
			if baseMap.Addr() == 0 {
				p.mappedAreas = append(p.mappedAreas, region)
			}
		}
	}

	p.phdr = baseMap.Addr() + uintptr(hdr.ePhoff)
	p.phent = int(hdr.ePhentsize)
	p.phnum = int(hdr.ePhnum)

	var maxAddr uint64
	for _, ph := range phdrs {
		if ph.pType != ptLoad {
			continue
		}
		if end := ph.pVaddr + ph.pMemsz; end > maxAddr {
			maxAddr = end
		}
	}
	p.highAddr = baseMap.Addr() + uintptr(maxAddr)

	return p, nil
}

func readElfHeader(f ExecFile) (elfHeader, error) {
	var buf [64]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return elfHeader{}, err
	}
	if buf[0] != elfMagic0 || buf[1] != elfMagic1 || buf[2] != elfMagic2 || buf[3] != elfMagic3 {
		return elfHeader{}, fmt.Errorf("not an ELF image")
	}
	if buf[4] != 2 { // ELFCLASS64
		return elfHeader{}, fmt.Errorf("not ELF64")
	}
	if buf[5] != 1 { // ELFDATA2LSB
		return elfHeader{}, fmt.Errorf("not little-endian")
	}
	le := binary.LittleEndian
	return elfHeader{
		eType:      le.Uint16(buf[16:18]),
		eMachine:   le.Uint16(buf[18:20]),
		eEntry:     le.Uint64(buf[24:32]),
		ePhoff:     le.Uint64(buf[32:40]),
		ePhentsize: le.Uint16(buf[54:56]),
		ePhnum:     le.Uint16(buf[56:58]),
	}, nil
}

func readProgramHeaders(f ExecFile, hdr elfHeader) ([]progHeader, error) {
	out := make([]progHeader, 0, hdr.ePhnum)
	buf := make([]byte, hdr.ePhentsize)
	le := binary.LittleEndian
	for i := 0; i < int(hdr.ePhnum); i++ {
		off := int64(hdr.ePhoff) + int64(i)*int64(hdr.ePhentsize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, err
		}
		out = append(out, progHeader{
			pType:   le.Uint32(buf[0:4]),
			pFlags:  le.Uint32(buf[4:8]),
			pOffset: le.Uint64(buf[8:16]),
			pVaddr:  le.Uint64(buf[16:24]),
			pFilesz: le.Uint64(buf[32:40]),
			pMemsz:  le.Uint64(buf[40:48]),
		})
	}
	return out, nil
}

// mapBase reserves the single large anonymous mapping a PIE (ET_DYN)
// executable needs to choose a free region; individual segments are then
// mapped fixed into it. Static (ET_EXEC) images get a NullRegion — each
// PT_LOAD maps directly at its absolute p_vaddr.
func mapBase(hdr elfHeader, phdrs []progHeader) (*mmregion.Region, error) {
	if hdr.eType != etDyn {
		return mmregion.NullRegion(), nil
	}
	var maxAddr uint64
	found := false
	for _, ph := range phdrs {
		if ph.pType != ptLoad {
			continue
		}
		found = true
		if end := ph.pVaddr + ph.pMemsz; end > maxAddr {
			maxAddr = end
		}
	}
	if !found {
		return nil, fmt.Errorf("image has no PT_LOAD segment")
	}
	if maxAddr == 0 {
		maxAddr = pageSize
	}
	return mmregion.NewBuilder(uintptr(maxAddr)).AutoRelease(true).Build()
}

func loadInterp(exec ExecFile, ph progHeader, open OpenFunc) (*Program, error) {
	path, err := readInterpPath(exec, ph)
	if err != nil {
		return nil, wrapErr(ImageFormat, err)
	}
	file, isVfd, err := open(path)
	if err != nil {
		return nil, wrapErr(ReadImage, err)
	}
	if isVfd {
		file.Close()
		return nil, wrapErr(ReadImage, fmt.Errorf("interpreter %q must live on a host-backed inode, not a virtual fd", path))
	}
	return Load(file, open)
}

func readInterpPath(exec ExecFile, ph progHeader) (string, error) {
	if ph.pFilesz == 0 {
		return "", fmt.Errorf("empty PT_INTERP segment")
	}
	buf := make([]byte, ph.pFilesz)
	if _, err := exec.ReadAt(buf, int64(ph.pOffset)); err != nil {
		return "", err
	}
	// PT_INTERP is NUL-terminated; drop the trailing byte if present.
	if n := len(buf); n > 0 && buf[n-1] == 0 {
		buf = buf[:n-1]
	}
	return string(buf), nil
}

// mapSegment performs the two-step PT_LOAD mapping described in
// spec.md §4.B: an anonymous zero-filled reservation sized to the
// page-aligned slack, then a fixed file-backed overlay, then an explicit
// BSS-tail zero fill when the segment is writable and memsz > filesz.
func mapSegment(ph progHeader, fd int, memBase uintptr) (*mmregion.Region, error) {
	fillAlign := ph.pVaddr % pageSize
	segmentBase := memBase + uintptr(ph.pVaddr) - uintptr(fillAlign)

	prot := segmentProt(ph)

	reserveBuilder := mmregion.NewBuilder(uintptr(ph.pMemsz) + uintptr(fillAlign)).
		At(segmentBase).
		Protect(prot).
		AutoRelease(memBase == 0)
	reserved, err := reserveBuilder.Build()
	if err != nil {
		return nil, err
	}

	overlayBuilder := mmregion.NewBuilder(uintptr(ph.pFilesz) + uintptr(fillAlign)).
		At(segmentBase).
		Protect(prot).
		Backing(fd, int64(ph.pOffset)-int64(fillAlign)).
		AutoRelease(false)
	if _, err := overlayBuilder.Build(); err != nil {
		reserved.Close()
		return nil, err
	}

	if ph.pFlags&pfW != 0 && ph.pMemsz > ph.pFilesz {
		zeroBSS(memBase+uintptr(ph.pVaddr)+uintptr(ph.pFilesz), ph.pMemsz-ph.pFilesz)
	}

	return reserved, nil
}

func segmentProt(ph progHeader) mmregion.Prot {
	var p mmregion.Prot
	if ph.pFlags&pfR != 0 {
		p |= mmregion.ProtRead
	}
	if ph.pFlags&pfW != 0 {
		p |= mmregion.ProtWrite
	}
	if ph.pFlags&pfX != 0 {
		// Executable implies writable: the fs:-to-gs: rewrite trick
		// (package sig) mutates instruction bytes in place.
		p |= mmregion.ProtExec | mmregion.ProtWrite
	}
	return p
}
