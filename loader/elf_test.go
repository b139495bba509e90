/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package loader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalElf writes a tiny static (ET_EXEC) ELF64 image with one
// RW PT_LOAD segment whose memsz exceeds filesz, exercising the BSS-tail
// zero-fill path.
func buildMinimalElf(t *testing.T, vaddr uint64, filesz, memsz uint64) string {
	t.Helper()
	le := binary.LittleEndian
	var hdr [64]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x7f, 'E', 'L', 'F'
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // ELFDATA2LSB
	le.PutUint16(hdr[16:18], etExec)
	le.PutUint16(hdr[18:20], 0x3e) // EM_X86_64
	le.PutUint64(hdr[24:32], vaddr)
	le.PutUint64(hdr[32:40], 64) // e_phoff right after header
	le.PutUint16(hdr[54:56], 56) // e_phentsize
	le.PutUint16(hdr[56:58], 1)  // e_phnum

	var ph [56]byte
	le.PutUint32(ph[0:4], ptLoad)
	le.PutUint32(ph[4:8], pfR|pfW)
	le.PutUint64(ph[8:16], 0) // p_offset
	le.PutUint64(ph[16:24], vaddr)
	le.PutUint64(ph[32:40], filesz)
	le.PutUint64(ph[40:48], memsz)

	path := filepath.Join(t.TempDir(), "hello")
	data := append(hdr[:], ph[:]...)
	// pad file content out to filesz so ReadAt against the segment offset succeeds
	for uint64(len(data)) < filesz {
		data = append(data, 0xAB)
	}
	require.NoError(t, os.WriteFile(path, data, 0755))
	return path
}

func TestLoadStaticExecutable(t *testing.T) {
	path := buildMinimalElf(t, 0x10000000000, 64, 4096)
	f, err := NewOSExecFile(path)
	require.NoError(t, err)

	open := func(p string) (ExecFile, bool, error) {
		t.Fatalf("no PT_INTERP expected, got open(%q)", p)
		return nil, false, nil
	}

	prog, err := Load(f, open)
	require.NoError(t, err)
	defer prog.Close()

	require.Equal(t, uintptr(0), prog.Base(), "ET_EXEC must not relocate")
	require.Nil(t, prog.Interpreter())
	require.Len(t, prog.mappedAreas, 1)
}

func TestReadElfHeaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notelf")
	require.NoError(t, os.WriteFile(path, []byte("not an elf file at all, just junk"), 0644))
	f, err := NewOSExecFile(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = readElfHeader(f)
	require.Error(t, err)
}
