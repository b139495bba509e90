/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AppendDefaultPort appends defPort to bstr if bstr has no port of its own,
// the way SimpleRelay's config.go normalizes a bare Bind-String.
func AppendDefaultPort(bstr string, defPort uint16) string {
	if _, _, err := net.SplitHostPort(bstr); err != nil {
		if strings.HasSuffix(err.Error(), `missing port in address`) {
			return fmt.Sprintf("%s:%d", bstr, defPort)
		}
	}
	return bstr
}

// ParseSource returns a net.IP byte buffer; the returned buffer will always
// be a 32bit or 128bit buffer but we accept encodings as IPv4, IPv6,
// integer, or hex encoded hash. This function simply walks the available
// encodings until one works.
func ParseSource(v string) (b net.IP, err error) {
	var i uint64
	if b = net.ParseIP(v); b != nil {
		return
	}
	if i, err = ParseUint64(v); err == nil {
		bb := make([]byte, 16)
		binary.BigEndian.PutUint64(bb[8:], i)
		b = net.IP(bb)
		return
	}
	if (len(v)&1) == 0 && len(v) <= 32 {
		var vv []byte
		if vv, err = hex.DecodeString(v); err == nil {
			bb := make([]byte, 16)
			offset := len(bb) - len(vv)
			copy(bb[offset:], vv)
			b = net.IP(bb)
			return
		}
	}
	err = fmt.Errorf("failed to decode %s as a source value", v)
	return
}

// ParseUint64 and ParseInt64 understand both decimal and 0x-prefixed hex,
// the convention VariableConfig.setField relies on for every integer kind
// it populates by reflection.
func ParseUint64(v string) (i uint64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseUint(v, 10, 64)
	}
	return
}

func ParseInt64(v string) (i int64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseInt(v, 10, 64)
	}
	return
}
