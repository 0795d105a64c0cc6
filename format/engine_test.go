// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtracego/rdt"
)

func compileValidated(t *testing.T, raw string, args []ArgType) *Plan {
	t.Helper()
	plan, err := Compile(testDict(t), raw)
	require.NoError(t, err)
	require.NoError(t, Validate(plan, args, true, false))
	return plan
}

func TestWalkPidComm(t *testing.T) {
	plan := compileValidated(t, "pid=%d comm=%s\n", []ArgType{int64Arg, stringArg})

	recs := []rdt.RecordDesc{
		{Action: rdt.ActionDifExpr, Size: 8, Offset: 0, Align: 8},
		{Action: rdt.ActionDifExpr, Size: 16, Offset: 8, Align: 1},
	}
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf, 42)
	copy(buf[8:], "init\x00")

	var out bytes.Buffer
	e := &Engine{}
	n, err := e.Walk(plan, recs, buf, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "pid=42 comm=init\n", out.String())
}

func TestWalkNegativeInteger(t *testing.T) {
	plan := compileValidated(t, "%d", []ArgType{int64Arg})
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(0xffffffffffffffff)) // -1
	recs := []rdt.RecordDesc{{Size: 8, Offset: 0, Align: 8}}

	var out bytes.Buffer
	_, err := (&Engine{}).Walk(plan, recs, buf, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "-1", out.String())
}

func TestWalkDynamicWidth(t *testing.T) {
	plan := compileValidated(t, "%*d", []ArgType{int32Arg, int64Arg})

	recs := []rdt.RecordDesc{
		{Size: 4, Offset: 0, Align: 4},
		{Size: 8, Offset: 8, Align: 8},
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, 6)
	binary.LittleEndian.PutUint64(buf[8:], 42)

	var out bytes.Buffer
	n, err := (&Engine{}).Walk(plan, recs, buf, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "    42", out.String())
}

func TestWalkNormalisation(t *testing.T) {
	plan, err := Compile(testDict(t), "%@d")
	require.NoError(t, err)
	plan.Aggregation = true
	require.NoError(t, Validate(plan, nil, false, true))

	aggrec := rdt.RecordDesc{Action: rdt.ActionAggregation, Size: 8, Offset: 0, Align: 8}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, 10000)

	var out bytes.Buffer
	n, err := (&Engine{}).Walk(plan, []rdt.RecordDesc{aggrec}, nil,
		[]AggSnapshot{{Data: data, Rec: aggrec, Normal: 1000}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "10", out.String())
}

func TestWalkAggregationCount(t *testing.T) {
	plan, err := Compile(testDict(t), "%@d\n")
	require.NoError(t, err)
	plan.Aggregation = true
	require.NoError(t, Validate(plan, nil, false, true))

	// Per-CPU copies [3,1,0,4,0,0,2,0] merge to 10 before the snapshot
	// reaches the engine.
	aggrec := rdt.RecordDesc{Action: rdt.ActionAggregation, Size: 8, Offset: 0, Align: 8}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, 3+1+0+4+0+0+2+0)

	var events []BufKind
	var lasts []bool
	e := &Engine{OnBufEvent: func(k BufKind, last bool) {
		events = append(events, k)
		lasts = append(lasts, last)
	}}

	var out bytes.Buffer
	n, err := e.Walk(plan, []rdt.RecordDesc{aggrec}, nil,
		[]AggSnapshot{{Data: data, Rec: aggrec, Normal: 1}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "10\n", out.String())
	// One value flush for the conversion, one format flush for the
	// trailing literal, which is also the terminal flush.
	assert.Equal(t, []BufKind{BufVal, BufFormat}, events)
	assert.Equal(t, []bool{false, true}, lasts)
}

func TestWalkMultipleAggregations(t *testing.T) {
	plan, err := Compile(testDict(t), "%@d %@d")
	require.NoError(t, err)
	plan.Aggregation = true
	require.NoError(t, Validate(plan, nil, false, true))

	aggrec := rdt.RecordDesc{Action: rdt.ActionAggregation, Size: 8, Offset: 0, Align: 8}
	mk := func(v uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	}
	// With more than one variable, the first %@ starts at snapshot 1;
	// trailing conversions re-print the last one.
	snaps := []AggSnapshot{
		{Data: mk(7), Rec: aggrec, Normal: 1},
		{Data: mk(9), Rec: aggrec, Normal: 1},
	}

	var out bytes.Buffer
	_, err = (&Engine{}).Walk(plan, []rdt.RecordDesc{aggrec}, nil, snaps, &out)
	require.NoError(t, err)
	assert.Equal(t, "9 9", out.String())
}

func TestWalkAggregationAverage(t *testing.T) {
	plan, err := Compile(testDict(t), "%@d")
	require.NoError(t, err)
	plan.Aggregation = true
	require.NoError(t, Validate(plan, nil, false, false))

	aggrec := rdt.RecordDesc{Action: rdt.ActionAvg, Size: 16, Offset: 0, Align: 8}
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:], 2)  // count
	binary.LittleEndian.PutUint64(data[8:], 10) // total

	var out bytes.Buffer
	_, err = (&Engine{}).Walk(plan, []rdt.RecordDesc{aggrec}, nil,
		[]AggSnapshot{{Data: data, Rec: aggrec, Normal: 1}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "5", out.String())
}

func TestWalkOffsetError(t *testing.T) {
	plan := compileValidated(t, "%d", []ArgType{int64Arg})
	recs := []rdt.RecordDesc{{Size: 8, Offset: 4, Align: 4}}
	_, err := (&Engine{}).Walk(plan, recs, make([]byte, 8), nil, io.Discard)
	assert.ErrorIs(t, err, ErrOffset)
}

func TestWalkAlignError(t *testing.T) {
	plan := compileValidated(t, "%d", []ArgType{int64Arg})
	recs := []rdt.RecordDesc{{Size: 8, Offset: 4, Align: 8}}
	_, err := (&Engine{}).Walk(plan, recs, make([]byte, 16), nil, io.Discard)
	assert.ErrorIs(t, err, ErrAlign)
}

type fakeKernelResolver struct{}

func (fakeKernelResolver) ResolveKernel(addr uint64) string {
	return fmt.Sprintf("vmlinux`sym+0x%x", addr&0xf)
}

func TestWalkSymActionDispatch(t *testing.T) {
	// An x conversion against a sym-action record dispatches to the
	// symbolic address printer instead of the numeric one.
	plan := compileValidated(t, "%x", []ArgType{int64Arg})
	recs := []rdt.RecordDesc{{Action: rdt.ActionSym, Size: 8, Offset: 0, Align: 8}}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 0xffff800000001002)

	var out bytes.Buffer
	_, err := (&Engine{Kernel: fakeKernelResolver{}}).Walk(plan, recs, buf, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "vmlinux`sym+0x2", out.String())
}

type fakeStackPrinter struct{ indent int }

func (p *fakeStackPrinter) PrintStack(w io.Writer, data []byte, indent int) (int, error) {
	p.indent = indent
	return io.WriteString(w, "<stack>")
}

func TestWalkStackIndent(t *testing.T) {
	stackArg := ArgType{Kind: KindStack, TypeName: "stack"}
	plan := compileValidated(t, "%-20k", []ArgType{stackArg})

	recs := []rdt.RecordDesc{{Action: rdt.ActionStack, Size: 16, Offset: 0, Align: 8}}
	sp := &fakeStackPrinter{}
	var out bytes.Buffer
	_, err := (&Engine{Stack: sp}).Walk(plan, recs, make([]byte, 16), nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "<stack>", out.String())
	assert.Equal(t, 20, sp.indent)
}

func TestWalkTime(t *testing.T) {
	tsArg := ArgType{Kind: KindInteger, Signed: false, SizeBits: 64, TypeName: "uint64_t"}
	plan := compileValidated(t, "%Y", []ArgType{tsArg})

	recs := []rdt.RecordDesc{{Size: 8, Offset: 0, Align: 8}}
	buf := make([]byte, 8) // zero nanoseconds = the epoch

	var out bytes.Buffer
	_, err := (&Engine{}).Walk(plan, recs, buf, nil, &out)
	require.NoError(t, err)
	// The date prints in local time, so render the expectation through
	// the same zone.
	want := time.Unix(0, 0).Local().Format("2006 Jan 02 15:04:05")
	assert.Equal(t, want, out.String())
}

func TestWalkQuantize(t *testing.T) {
	plan, err := Compile(testDict(t), "%@d")
	require.NoError(t, err)
	plan.Aggregation = true
	require.NoError(t, Validate(plan, nil, false, false))

	data := make([]byte, quantizeBuckets*8)
	// Bucket for value 1 and value 2.
	binary.LittleEndian.PutUint64(data[(quantizeZeroBucket+1)*8:], 3)
	binary.LittleEndian.PutUint64(data[(quantizeZeroBucket+2)*8:], 1)
	aggrec := rdt.RecordDesc{Action: rdt.ActionQuantize, Size: uint32(len(data)), Offset: 0, Align: 8}

	var out bytes.Buffer
	_, err = (&Engine{}).Walk(plan, []rdt.RecordDesc{aggrec}, nil,
		[]AggSnapshot{{Data: data, Rec: aggrec, Normal: 1}}, &out)
	require.NoError(t, err)
	s := out.String()
	assert.Contains(t, s, "value")
	assert.Contains(t, s, "count")
	assert.Contains(t, s, "@")
}

func TestWalkEscapedString(t *testing.T) {
	plan := compileValidated(t, "%S", []ArgType{stringArg})
	recs := []rdt.RecordDesc{{Size: 8, Offset: 0, Align: 1}}
	buf := []byte("a\tb\x00\x00\x00\x00\x00")

	var out bytes.Buffer
	_, err := (&Engine{}).Walk(plan, recs, buf, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, `a\tb`, out.String())
}

func TestWalkRecordShortfall(t *testing.T) {
	plan := compileValidated(t, "%d %d", []ArgType{int64Arg, int64Arg})
	recs := []rdt.RecordDesc{{Size: 8, Offset: 0, Align: 8}}
	_, err := (&Engine{}).Walk(plan, recs, make([]byte, 8), nil, io.Discard)
	assert.Error(t, err)
}
