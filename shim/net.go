/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shim

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/sisungo/mactux/rtenv/netx"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/sysnum"
	"github.com/sisungo/mactux/trap"
)

func init() {
	trap.RegisterShim(sysnum.Socket, shimSocket)
	trap.RegisterShim(sysnum.Connect, shimConnect)
	trap.RegisterShim(sysnum.Accept, shimAccept)
	trap.RegisterShim(sysnum.Accept4, shimAccept4)
	trap.RegisterShim(sysnum.Bind, shimBind)
	trap.RegisterShim(sysnum.Listen, shimListen)
	trap.RegisterShim(sysnum.Getsockname, shimGetsockname)
	trap.RegisterShim(sysnum.Getpeername, shimGetpeername)
	trap.RegisterShim(sysnum.Setsockopt, shimSetsockopt)
	trap.RegisterShim(sysnum.Getsockopt, shimGetsockopt)
	trap.RegisterShim(sysnum.Shutdown, shimShutdown)
	trap.RegisterShim(sysnum.Sendfile, shimSendfile)
}

// Linux AF_*/SOCK_* values this shim translates — the guest's socket(2)
// family/type encoding is Linux's, never darwin's (AF_LOCAL/AF_INET
// share the same numbers on both, AF_INET6 does not; SOCK_STREAM/
// SOCK_DGRAM do too, so only the family needs an explicit table).
const (
	sockStream = 1
	sockDgram  = 2
	sockCloexecBit = 0x80000
	sockNonblockBit = 0x800
)

func shimSocket(ctx trap.Context) {
	family := decodeAfFamily(uint16(ctx.Arg0()))
	typ := int(ctx.Arg1()) &^ (sockCloexecBit | sockNonblockBit)
	proto := int(ctx.Arg2())
	fd, err := unix.Socket(family, typ, proto)
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	if int(ctx.Arg1())&sockCloexecBit != 0 {
		unix.CloseOnExec(fd)
	}
	if int(ctx.Arg1())&sockNonblockBit != 0 {
		unix.SetNonblock(fd, true)
	}
	ctx.SetReturn(uintptr(fd))
}

// decodeAfFamily maps Linux's AF_LOCAL/AF_INET/AF_INET6 numbers to the
// host's. Of the three only AF_INET6 differs numerically (Linux 10,
// darwin 30); any other family number is passed through unchanged.
func decodeAfFamily(linuxFamily uint16) int {
	switch linuxFamily {
	case uint16(netx.AfLocal):
		return unix.AF_UNIX
	case uint16(netx.AfInet):
		return unix.AF_INET
	case uint16(netx.AfInet6):
		return unix.AF_INET6
	default:
		return int(linuxFamily)
	}
}

// decodeSockaddr reads a Linux struct sockaddr at addr/length and builds
// the equivalent host unix.Sockaddr, resolving AF_LOCAL paths against the
// server first (spec.md §4.G "net").
func decodeSockaddr(addr uintptr, length uint32, forBind bool) (unix.Sockaddr, structures.LxErrno) {
	if addr == 0 || length < 2 {
		return nil, structures.EINVAL
	}
	family := readAt[uint16](addr)
	switch family {
	case netx.AfLocal:
		pathBytes := bytesAt(addr+2, uintptr(length)-2)
		end := len(pathBytes)
		for i, b := range pathBytes {
			if b == 0 {
				end = i
				break
			}
		}
		cl := client()
		if cl == nil {
			return nil, structures.EIO
		}
		hostPath, lx := netx.ResolveLocalPath(cl, pathBytes[:end], forBind)
		if lx != 0 {
			return nil, lx
		}
		return &unix.SockaddrUnix{Name: hostPath}, 0
	case netx.AfInet:
		port := binary.BigEndian.Uint16(bytesAt(addr+2, 2))
		var ip [4]byte
		copy(ip[:], bytesAt(addr+4, 4))
		return netx.ToHostSockaddrIn(port, ip), 0
	case netx.AfInet6:
		port := binary.BigEndian.Uint16(bytesAt(addr+2, 2))
		var ip [16]byte
		copy(ip[:], bytesAt(addr+8, 16))
		scope := binary.LittleEndian.Uint32(bytesAt(addr+24, 4))
		return netx.ToHostSockaddrIn6(port, ip, scope), 0
	default:
		return nil, structures.EAFNOSUPPORT
	}
}

func shimConnect(ctx trap.Context) {
	fd := int(ctx.Arg0())
	sa, lx := decodeSockaddr(ctx.Arg1(), uint32(ctx.Arg2()), false)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	retErr(ctx, structures.FromHostErrno(unix.Connect(fd, sa)))
}

func shimBind(ctx trap.Context) {
	fd := int(ctx.Arg0())
	sa, lx := decodeSockaddr(ctx.Arg1(), uint32(ctx.Arg2()), true)
	if lx != 0 {
		retErr(ctx, lx)
		return
	}
	retErr(ctx, structures.FromHostErrno(unix.Bind(fd, sa)))
}

func shimListen(ctx trap.Context) {
	retErr(ctx, structures.FromHostErrno(unix.Listen(int(ctx.Arg0()), int(ctx.Arg1()))))
}

func acceptCommon(ctx trap.Context, flags int) {
	fd := int(ctx.Arg0())
	newFd, _, err := unix.Accept(fd)
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	if flags&sockCloexecBit != 0 {
		unix.CloseOnExec(newFd)
	}
	if flags&sockNonblockBit != 0 {
		unix.SetNonblock(newFd, true)
	}
	ctx.SetReturn(uintptr(newFd))
}

func shimAccept(ctx trap.Context) {
	acceptCommon(ctx, 0)
}

func shimAccept4(ctx trap.Context) {
	acceptCommon(ctx, int(ctx.Arg3()))
}

func shimGetsockname(ctx trap.Context) {
	sa, err := unix.Getsockname(int(ctx.Arg0()))
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	writeSockaddr(ctx, sa)
}

func shimGetpeername(ctx trap.Context) {
	sa, err := unix.Getpeername(int(ctx.Arg0()))
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	writeSockaddr(ctx, sa)
}

// writeSockaddr encodes a host sockaddr back into the guest's Linux
// struct sockaddr shape — only the two families this emulator actually
// dials out (AF_INET/AF_INET6) are supported as a return path; anything
// else reports EAFNOSUPPORT since there is no guest-visible local-socket
// sockaddr worth round-tripping after ResolveLocalPath's rewrite.
func writeSockaddr(ctx trap.Context, sa unix.Sockaddr) {
	addr := ctx.Arg1()
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		dst := bytesAt(addr, 16)
		binary.LittleEndian.PutUint16(dst[0:2], netx.AfInet)
		binary.BigEndian.PutUint16(dst[2:4], uint16(s.Port))
		copy(dst[4:8], s.Addr[:])
		ctx.SetReturn(0)
	case *unix.SockaddrInet6:
		dst := bytesAt(addr, 28)
		binary.LittleEndian.PutUint16(dst[0:2], netx.AfInet6)
		binary.BigEndian.PutUint16(dst[2:4], uint16(s.Port))
		copy(dst[8:24], s.Addr[:])
		ctx.SetReturn(0)
	default:
		retErr(ctx, structures.EAFNOSUPPORT)
	}
}

func shimSetsockopt(ctx trap.Context) {
	fd := int(ctx.Arg0())
	level := int(ctx.Arg1())
	opt := int(ctx.Arg2())
	val := bytesAt(ctx.Arg3(), uintptr(ctx.Arg4()))
	if len(val) == 4 {
		v := int(binary.LittleEndian.Uint32(val))
		retErr(ctx, structures.FromHostErrno(unix.SetsockoptInt(fd, level, opt, v)))
		return
	}
	retErr(ctx, structures.EINVAL)
}

func shimGetsockopt(ctx trap.Context) {
	fd := int(ctx.Arg0())
	level := int(ctx.Arg1())
	opt := int(ctx.Arg2())
	v, err := unix.GetsockoptInt(fd, level, opt)
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	dst := bytesAt(ctx.Arg3(), 4)
	binary.LittleEndian.PutUint32(dst, uint32(v))
	writeAt(ctx.Arg4(), int32(4))
	ctx.SetReturn(0)
}

func shimShutdown(ctx trap.Context) {
	retErr(ctx, structures.FromHostErrno(unix.Shutdown(int(ctx.Arg0()), int(ctx.Arg1()))))
}

func shimSendfile(ctx trap.Context) {
	outFd := int(ctx.Arg0())
	inFd := int(ctx.Arg1())
	offsetAddr := ctx.Arg2()
	count := int(ctx.Arg3())

	buf := make([]byte, count)
	var n int
	var err error
	if offsetAddr != 0 {
		offset := readAt[int64](offsetAddr)
		n, err = unix.Pread(inFd, buf, offset)
		if err == nil {
			writeAt(offsetAddr, offset+int64(n))
		}
	} else {
		n, err = unix.Read(inFd, buf)
	}
	if err != nil {
		retErr(ctx, structures.FromHostErrno(err))
		return
	}
	written, err := unix.Write(outFd, buf[:n])
	ret(ctx, uintptr(written), structures.FromHostErrno(err))
}
