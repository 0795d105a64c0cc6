// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agg

import (
	"encoding/binary"
	"fmt"
)

// latchSize is the 8-byte latch sequence number at the head of an
// aggregation's storage, preceding the per-CPU copies.
const latchSize = 8

// Merge folds one aggregation variable's raw storage (the latch
// followed by per-CPU copies laid out per d) into a single merged
// copy, summing each 8-byte result record across CPUs. Every
// aggregating function this table describes accumulates linearly per
// CPU (counts, sums, moment vectors, histogram buckets), so the merge
// is a plain element-wise sum.
func (d *Descriptor) Merge(t *Table, storage []byte) ([]byte, error) {
	want := latchSize + int(t.copies)*int(d.CopySize)
	if len(storage) < want {
		return nil, fmt.Errorf("agg: storage for %q is %d bytes, need %d", d.Name, len(storage), want)
	}

	merged := make([]byte, d.CopySize)
	for cpu := 0; cpu < int(t.copies); cpu++ {
		copyBase := latchSize + cpu*int(d.CopySize)
		for rec := 0; rec < int(d.CopySize); rec += 8 {
			v := binary.LittleEndian.Uint64(storage[copyBase+rec:])
			sum := binary.LittleEndian.Uint64(merged[rec:])
			binary.LittleEndian.PutUint64(merged[rec:], sum+v)
		}
	}
	return merged, nil
}
