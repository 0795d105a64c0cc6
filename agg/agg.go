// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package agg implements the aggregation descriptor table: per
// aggregation variable, the fixed-shape descriptor used to decode a
// per-CPU aggregation snapshot into its constituent 8-byte result
// records.
package agg

import (
	"fmt"

	"dtracego/rdt"
)

// ID identifies an aggregation variable, the way an EPID identifies an
// enabled probe.
type ID uint32

// Descriptor describes the decoded shape of one aggregation
// variable's storage, mirroring dtrace_aggdesc_t.
type Descriptor struct {
	ID       ID
	Name     string
	SigHash  uint64
	VarID    uint32
	CopySize uint32
	Records  []rdt.RecordDesc
}

// Table assigns and looks up aggregation descriptors, mirroring
// dt_aggid_add. The per-CPU copies constant is fixed for the life of
// the table (see NewHandle, which captures runtime.NumCPU() once).
type Table struct {
	descs  []*Descriptor
	copies uint32
}

// NewTable returns a Table that divides storage sizes by copies
// per-CPU buffers when sizing each descriptor.
func NewTable(copies uint32) *Table {
	return &Table{copies: copies}
}

// Add registers the aggregation variable id with the given name,
// signature hash, D variable id and total storage size (as reported
// by the compiler, including the single 8-byte latch sequence at the
// head of the storage, before the per-CPU copies), and the aggregating
// function's record action
// (e.g. rdt.ActionAvg for avg()). Repeating Add for an id that is
// already populated is a no-op and returns the existing descriptor.
func (t *Table) Add(id ID, name string, sigHash uint64, varID uint32, storageSize uint32, fn rdt.Action) (*Descriptor, error) {
	if int(id) >= len(t.descs) {
		newCap := 1
		if c := cap(t.descs); c > 0 {
			newCap = c * 2
		}
		for newCap <= int(id) {
			newCap *= 2
		}
		nd := make([]*Descriptor, len(t.descs), newCap)
		copy(nd, t.descs)
		t.descs = nd[:id+1]
	}

	if t.descs[id] != nil {
		return t.descs[id], nil
	}

	if t.copies == 0 {
		return nil, fmt.Errorf("agg: table has zero per-CPU copies")
	}
	if storageSize < 8 {
		return nil, fmt.Errorf("agg: storage size %d too small for latch sequence", storageSize)
	}
	rem := storageSize - 8
	if rem%t.copies != 0 {
		return nil, fmt.Errorf("agg: storage size %d not divisible across %d copies", storageSize, t.copies)
	}
	copySize := rem / t.copies
	if copySize%8 != 0 {
		return nil, fmt.Errorf("agg: per-copy size %d is not a multiple of 8", copySize)
	}
	nrecs := copySize / 8

	records := make([]rdt.RecordDesc, nrecs)
	for i := range records {
		records[i] = rdt.RecordDesc{
			Action: fn,
			Size:   8,
			Offset: 8 * uint32(i),
			Align:  8,
			Arg:    1,
		}
	}

	d := &Descriptor{
		ID:       id,
		Name:     name,
		SigHash:  sigHash,
		VarID:    varID,
		CopySize: copySize,
		Records:  records,
	}
	t.descs[id] = d
	return d, nil
}

// Lookup returns the descriptor registered for id, or false if none
// has been added yet.
func (t *Table) Lookup(id ID) (*Descriptor, bool) {
	if int(id) >= len(t.descs) || t.descs[id] == nil {
		return nil, false
	}
	return t.descs[id], true
}

// Destroy releases every descriptor's record vector and empties the
// table.
func (t *Table) Destroy() {
	for i := range t.descs {
		if t.descs[i] != nil {
			t.descs[i].Records = nil
		}
	}
	t.descs = nil
}

// Len reports one past the highest aggregation ID added so far.
func (t *Table) Len() int {
	return len(t.descs)
}
