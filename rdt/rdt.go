// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rdt implements the record descriptor table: the compiled
// layout of the fixed-size records a single enabled probe writes into
// the per-CPU event buffer, plus the EPID table that maps an
// enabled-probe ID back to the data description and probe description
// it was compiled against.
package rdt

import "fmt"

// Action identifies what a record's bytes mean: a plain scalar/string
// trace() slot, one of the aggregating functions, or a marker asking
// the format engine to resolve a module+offset pair symbolically.
type Action uint32

const (
	ActionDifExpr Action = iota
	ActionAvg
	ActionStddev
	ActionQuantize
	ActionLquantize
	ActionLlquantize
	ActionStack
	ActionUstack
	ActionSym
	ActionUsym
	ActionAggregation
)

func (a Action) String() string {
	switch a {
	case ActionDifExpr:
		return "difexpr"
	case ActionAvg:
		return "avg"
	case ActionStddev:
		return "stddev"
	case ActionQuantize:
		return "quantize"
	case ActionLquantize:
		return "lquantize"
	case ActionLlquantize:
		return "llquantize"
	case ActionStack:
		return "stack"
	case ActionUstack:
		return "ustack"
	case ActionSym:
		return "sym"
	case ActionUsym:
		return "usym"
	case ActionAggregation:
		return "aggregation"
	default:
		return fmt.Sprintf("Action(%d)", uint32(a))
	}
}

// FormatPlan is the subset of a compiled printf format plan that a
// RecordDesc needs to know about: how to let it go when the record
// holding it is released. dtracego/format.Plan implements this.
type FormatPlan interface {
	Release()
}

// RecordDesc describes one fixed-offset, fixed-size field of a
// compiled record, mirroring dtrace_recdesc_t.
type RecordDesc struct {
	Action Action
	Size   uint32
	Offset uint32
	Align  uint32
	Format FormatPlan
	Arg    uint64
}

// GapFunc is called by Append whenever alignment padding must be
// accounted for before the new record, the same role dt_cg_gap_f
// plays in dt_rec_add: the caller (typically the code generator) emits
// whatever bytes or instructions fill the gap.
type GapFunc func(gap uint32)

// DataDesc is a refcounted, growable table of RecordDesc, equivalent to
// dtrace_datadesc_t. A DataDesc is shared (via Hold) by every enabled
// probe compiled from the same clause and torn down via Release once
// the last holder is done with it.
type DataDesc struct {
	refcount int32
	records  []RecordDesc
	bufoff   uint32
}

// NewDataDesc returns a new DataDesc with a refcount of 1.
func NewDataDesc() *DataDesc {
	return &DataDesc{refcount: 1}
}

// Hold increments the refcount and returns dd, letting callers chain
// dd := rdt.NewDataDesc().Hold()-style ownership transfers the way
// dt_datadesc_hold does.
func (dd *DataDesc) Hold() *DataDesc {
	dd.refcount++
	return dd
}

// Release decrements the refcount and, once it reaches zero, releases
// every attached format plan and discards the record vector.
func (dd *DataDesc) Release() {
	dd.refcount--
	if dd.refcount > 0 {
		return
	}
	for i := range dd.records {
		if dd.records[i].Format != nil {
			dd.records[i].Format.Release()
			dd.records[i].Format = nil
		}
	}
	dd.records = nil
}

// Records returns the finalized record slice. Callers must not retain
// or mutate a slice obtained before Finalize; take it again afterward.
func (dd *DataDesc) Records() []RecordDesc {
	return dd.records
}

// Size returns the total byte length of one record of this
// description, i.e. the offset one past the last appended field.
func (dd *DataDesc) Size() uint32 {
	return dd.bufoff
}

func alignUp(off, align uint32) uint32 {
	return (off + align - 1) &^ (align - 1)
}

// Append adds a new record of the given action, size and alignment to
// dd, invoking gap to account for any alignment padding before it, and
// returns the record's offset. align must be a power of two in [1,8].
//
// Appending strictly increases the record count and never reorders or
// mutates a previously returned offset: this is the monotonicity
// invariant the record layout depends on for cross-record pointer
// math done elsewhere (e.g. aggregation key/value adjacency).
func (dd *DataDesc) Append(gap GapFunc, action Action, size, align uint32, plan FormatPlan, arg uint64) (uint32, error) {
	if align == 0 || align > 8 || align&(align-1) != 0 {
		return 0, fmt.Errorf("rdt: invalid alignment %d", align)
	}
	off := alignUp(dd.bufoff, align)
	if g := off - dd.bufoff; g > 0 {
		if gap == nil {
			return 0, fmt.Errorf("rdt: alignment gap of %d bytes with no gap handler", g)
		}
		gap(g)
	}

	if len(dd.records) == cap(dd.records) {
		newCap := 1
		if c := cap(dd.records); c > 0 {
			newCap = c * 2
		}
		nr := make([]RecordDesc, len(dd.records), newCap)
		copy(nr, dd.records)
		dd.records = nr
	}

	dd.records = append(dd.records, RecordDesc{
		Action: action,
		Size:   size,
		Offset: off,
		Align:  align,
		Format: plan,
		Arg:    arg,
	})
	dd.bufoff = off + size
	return off, nil
}

// Finalize shrinks the record vector's backing array to exactly its
// length, discarding any spare capacity left over from doubling
// growth. It is idempotent: calling it again once capacity already
// equals length does nothing.
func (dd *DataDesc) Finalize() {
	if cap(dd.records) == len(dd.records) {
		return
	}
	nr := make([]RecordDesc, len(dd.records))
	copy(nr, dd.records)
	dd.records = nr
}
