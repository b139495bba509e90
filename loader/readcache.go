/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package loader

import "os"

// OSExecFile adapts an *os.File to the loader's ExecFile interface. This
// is the concrete type cmd/mactux passes in after opening the guest
// executable.
type OSExecFile struct {
	*os.File
}

// NewOSExecFile opens path for the loader, matching the read-only,
// close-on-exec discipline the Rust loader's IoFd wrapper assumes.
func NewOSExecFile(path string) (*OSExecFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &OSExecFile{File: f}, nil
}

func (f *OSExecFile) Fd() uintptr { return f.File.Fd() }
