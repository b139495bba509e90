/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/thread"
)

// threadCtx returns (creating, if necessary) the calling OS thread's
// runtime Context — every shim that talks to the server goes through it.
func threadCtx() *thread.Context {
	return thread.EnterCurrent()
}

// client returns the calling thread's lazily-dialed IPC client, or nil if
// dialing failed (the caller shim answers EIO).
func client() *ipc.Client {
	cl, err := threadCtx().Client(func() (*ipc.Client, error) {
		return ipc.Dial(rtenv.Context().ServerSockPath())
	})
	if err != nil {
		return nil
	}
	return cl
}
