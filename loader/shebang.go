/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package loader

import (
	"bufio"
	"bytes"
	"fmt"
)

// ShebangMagic is the two-byte prefix that routes a file to LoadShebang
// instead of the ELF parser.
var ShebangMagic = [2]byte{'#', '!'}

// ScriptProgram is a "#!" script: an interpreter path, an optional single
// argument, and the script's own path (passed to the interpreter after
// the optional argument, the way execve(2) rewrites argv). spec.md is silent on shebang
// handling; original_source/crates/loader/src/shebang.rs implements it,
// so it is restored here as a supplemental feature.
type ScriptProgram struct {
	Interp string
	Arg    string
	Script string
}

// LoadShebang reads the first line of exec and, if it starts with "#!",
// parses the interpreter path and optional single argument Linux's
// binfmt_script loader recognizes.
func LoadShebang(exec ExecFile, scriptPath string) (*ScriptProgram, error) {
	first, err := readFirstLine(exec)
	if err != nil {
		return nil, wrapErr(ReadImage, err)
	}
	if len(first) <= 2 || first[0] != ShebangMagic[0] || first[1] != ShebangMagic[1] {
		return nil, wrapErr(ImageFormat, fmt.Errorf("not a shebang script"))
	}
	line := bytes.TrimSpace(first[2:])
	if len(line) == 0 {
		return nil, wrapErr(ImageFormat, fmt.Errorf("invalid shebang line"))
	}
	interp, arg, _ := bytes.Cut(line, []byte{' '})
	if len(interp) == 0 || interp[0] != '/' {
		return nil, wrapErr(ReadImage, fmt.Errorf("interpreter path must be absolute"))
	}
	return &ScriptProgram{
		Interp: string(interp),
		Arg:    string(arg),
		Script: scriptPath,
	}, nil
}

// Argv builds the argv a shebang-loaded program runs with: [interp, (arg),
// script, args...], matching Linux's binfmt_script rewrite.
func (s *ScriptProgram) Argv(guestArgs []string) []string {
	argv := make([]string, 0, 3+len(guestArgs))
	argv = append(argv, s.Interp)
	if s.Arg != "" {
		argv = append(argv, s.Arg)
	}
	argv = append(argv, s.Script)
	return append(argv, guestArgs...)
}

func readFirstLine(exec ExecFile) ([]byte, error) {
	r := bufio.NewReader(&readAtReader{r: exec})
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return line, nil
}

// readAtReader adapts an io.ReaderAt to io.Reader starting at offset 0,
// avoiding the need for the loader to hold a separate *os.File cursor.
type readAtReader struct {
	r   ExecFile
	pos int64
}

func (r *readAtReader) Read(p []byte) (int, error) {
	n, err := r.r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}
