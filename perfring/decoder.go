// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfring

import "encoding/binary"

// bufDecoder is a cursor over one raw record's bytes. All perf ring
// data is in the host byte order of the producing kernel, which for
// the CPUs this package runs on is little-endian.
type bufDecoder struct {
	buf []byte
}

func (b *bufDecoder) remaining() int {
	return len(b.buf)
}

func (b *bufDecoder) skip(n int) {
	b.buf = b.buf[n:]
}

func (b *bufDecoder) bytes(n int) []byte {
	x := b.buf[:n]
	b.buf = b.buf[n:]
	return x
}

func (b *bufDecoder) u16() uint16 {
	x := binary.LittleEndian.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) u32() uint32 {
	x := binary.LittleEndian.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) u64() uint64 {
	x := binary.LittleEndian.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}
