// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfring

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRingSize(t *testing.T) {
	ps := uint64(pageSize)
	assert.Equal(t, pageSize, roundRingSize(1))
	assert.Equal(t, pageSize, roundRingSize(ps))
	assert.Equal(t, 2*pageSize, roundRingSize(ps+1))
	assert.Equal(t, 4*pageSize, roundRingSize(3*ps))
}

func TestRingLoadWraps(t *testing.T) {
	r := &Ring{data: []byte{0, 1, 2, 3, 4, 5, 6, 7}}
	assert.Equal(t, []byte{2, 3, 4}, r.load(2, 3))
	// A load that crosses the end of the data area stitches the two
	// halves together.
	assert.Equal(t, []byte{6, 7, 0, 1}, r.load(6, 4))
}

func TestBufDecoder(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, 0x11223344)
	binary.LittleEndian.PutUint16(buf[4:], 0x5566)
	binary.LittleEndian.PutUint64(buf[8:], 0x8899aabbccddeeff)

	d := bufDecoder{buf: buf}
	assert.Equal(t, uint32(0x11223344), d.u32())
	assert.Equal(t, uint16(0x5566), d.u16())
	d.skip(2)
	assert.Equal(t, uint64(0x8899aabbccddeeff), d.u64())
	assert.Equal(t, 0, d.remaining())
}

func sampleBytes(epid uint32, payload []byte) []byte {
	out := make([]byte, 8+8+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(8+len(payload))) // record length
	binary.LittleEndian.PutUint32(out[8:], epid)
	copy(out[16:], payload)
	return out
}

func TestConsumerDeliver(t *testing.T) {
	c := NewConsumer()

	var gotCPU int
	var gotEPID uint32
	var gotData []byte
	err := c.deliver(3, sampleBytes(7, []byte{1, 2, 3, 4, 5, 6, 7, 8}), func(cpu int, epid uint32, data []byte) error {
		gotCPU, gotEPID, gotData = cpu, epid, data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, gotCPU)
	assert.Equal(t, uint32(7), gotEPID)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, gotData)
}

func TestConsumerDeliverDropsShortSamples(t *testing.T) {
	c := NewConsumer()
	called := false
	fn := func(int, uint32, []byte) error { called = true; return nil }

	// Too short for even the length word.
	require.NoError(t, c.deliver(0, []byte{1, 2}, fn))
	// Length exceeds the record.
	bad := make([]byte, 12)
	binary.LittleEndian.PutUint32(bad, 100)
	require.NoError(t, c.deliver(0, bad, fn))
	assert.False(t, called)
}
