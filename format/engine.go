// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dtracego/rdt"
)

// KernelResolver resolves a kernel address to a "module`symbol+offset"
// string for %a conversions. A nil Engine.Kernel falls back to a raw
// hex address, the way an engine with no module table loaded yet
// would.
type KernelResolver interface {
	ResolveKernel(addr uint64) string
}

// UserResolver resolves a user address within process tgid to a
// symbolic string for %A conversions.
type UserResolver interface {
	ResolveUser(tgid, addr uint64) string
}

// StackPrinter renders one stack/ustack record's raw frame-pointer
// bytes, indenting continuation lines by indent spaces.
type StackPrinter interface {
	PrintStack(w io.Writer, data []byte, indent int) (int, error)
}

// BufKind classifies one buffer flush a printa plan reports, the Go
// analogue of dt_buffered_flush's DTRACE_BUFDATA_AGG* flags: a literal
// piece of the format string, an aggregation key record, or the
// formatted aggregation value.
type BufKind int

const (
	BufFormat BufKind = iota
	BufKey
	BufVal
)

// ErrOffset, ErrAlign and ErrMismatch are returned by Walk when a
// record straddles the end of the supplied buffer, starts at a
// misaligned address, or has a size no print callback accepts; callers
// (the Session/Handle layer) classify these into the handle's error
// kinds with errors.Is.
var (
	ErrOffset   = errors.New("format: record offset exceeds buffer")
	ErrAlign    = errors.New("format: misaligned record")
	ErrMismatch = errors.New("format: record size mismatch")
)

// AggSnapshot is the decoded, per-CPU-merged snapshot of one
// aggregation variable that a printa plan walk renders: the raw bytes
// of the trailing result record plus the shape and normalisation
// factor needed to print it, the Go counterpart of dtrace_aggdata_t.
type AggSnapshot struct {
	Data   []byte         // bytes backing Rec's offset/size
	Rec    rdt.RecordDesc // result record shape for this variable
	Normal uint64
	Sig    uint64
}

// Engine walks a compiled Plan against one record, the Go counterpart
// of dt_printf_format: an ordered left-to-right dispatch of each
// descriptor's prefix and conversion against a record vector and the
// raw bytes backing it.
type Engine struct {
	Kernel KernelResolver
	User   UserResolver
	Stack  StackPrinter

	// TargetPID supplies the tgid for a %A conversion whose record
	// carries the short (zero-tgid) form.
	TargetPID uint64

	// StackIndent is the current stack-printer indent; printStack
	// saves and restores it around each %k conversion.
	StackIndent int

	// OnBufEvent, if set, is called after each buffer segment a printa
	// plan flushes, mirroring dt_buffered_flush's callers. last is set
	// on the terminal flush of the final descriptor.
	OnBufEvent func(kind BufKind, last bool)
}

func (e *Engine) resolveKernel(addr uint64) string {
	if e.Kernel == nil {
		return fmt.Sprintf("0x%x", addr)
	}
	return e.Kernel.ResolveKernel(addr)
}

func (e *Engine) resolveUser(tgid, addr uint64) string {
	if e.User == nil {
		return fmt.Sprintf("0x%x", addr)
	}
	return e.User.ResolveUser(tgid, addr)
}

func getint(data []byte) (int, error) {
	switch len(data) {
	case 1:
		return int(int8(data[0])), nil
	case 2:
		return int(int16(binary.LittleEndian.Uint16(data))), nil
	case 4:
		return int(int32(binary.LittleEndian.Uint32(data))), nil
	case 8:
		return int(int64(binary.LittleEndian.Uint64(data))), nil
	default:
		return 0, ErrMismatch
	}
}

func (e *Engine) emit(w io.Writer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// Walk renders plan against recs (the probe's record vector) and buf
// (the raw bytes backing recs' offsets), writing output to w. For an
// AGGREGATION plan, agg supplies one snapshot per aggregation variable
// being printed together and the final entry of recs is the reserved
// aggregation-result record template (aggrec), applied to whichever
// snapshot is current; it is not advanced per descriptor.
//
// Walk returns the number of records consumed from recs, not counting
// the reserved trailing aggrec entry.
func (e *Engine) Walk(plan *Plan, recs []rdt.RecordDesc, buf []byte, agg []AggSnapshot, w io.Writer) (int, error) {
	var (
		aggrec  rdt.RecordDesc
		curagg  int
		haveAgg = plan.Aggregation
	)

	if haveAgg {
		if len(agg) == 0 {
			return 0, fmt.Errorf("format: printa plan with no aggregation snapshots")
		}
		if len(recs) == 0 {
			return 0, ErrMismatch
		}
		aggrec = recs[len(recs)-1]
		recs = recs[:len(recs)-1]
		if len(agg) > 1 {
			curagg = 1
		}
	}

	flush := func(kind BufKind, last bool) error {
		if e.OnBufEvent != nil {
			e.OnBufEvent(kind, last)
		}
		return nil
	}

	recIdx := 0
	consumed := 0

	for i, d := range plan.Descriptors {
		lastDescriptor := i == len(plan.Descriptors)-1

		if len(d.Prefix) > 0 {
			if err := e.emit(w, d.Prefix); err != nil {
				return consumed, err
			}
			if haveAgg {
				if err := flush(BufFormat, d.Conv == nil && lastDescriptor); err != nil {
					return consumed, err
				}
			}
		}

		if d.Conv == nil {
			continue
		}

		if d.Conv.Letter == '%' && d.Conv.Print == nil {
			if _, err := io.WriteString(w, "%"); err != nil {
				return consumed, err
			}
			continue
		}

		width := d.Width
		if d.Flags&FlagDynWidth != 0 {
			v, n, err := takeInt(recs, buf, recIdx)
			if err != nil {
				return consumed, err
			}
			width, recIdx, consumed = v, recIdx+n, consumed+n
		}
		prec := d.Precision
		if d.Flags&FlagDynPrec != 0 {
			v, n, err := takeInt(recs, buf, recIdx)
			if err != nil {
				return consumed, err
			}
			prec, recIdx, consumed = v, recIdx+n, consumed+n
		}

		var (
			data   []byte
			rec    rdt.RecordDesc
			normal uint64 = 1
			sig    uint64
			kind   = BufKey
		)

		if d.Flags&FlagAgg != 0 {
			if curagg >= len(agg) {
				return consumed, fmt.Errorf("format: %%@ conversion with no aggregation data")
			}
			snap := agg[curagg]
			if curagg < len(agg)-1 {
				curagg++
			}
			rec = aggrec
			data = snap.Data
			normal = snap.Normal
			sig = snap.Sig
			kind = BufVal
		} else {
			if recIdx >= len(recs) {
				return consumed, ErrMismatch
			}
			rec = recs[recIdx]
			recIdx++
			consumed++
			data = buf
			kind = BufKey
		}

		end := int(rec.Offset) + int(rec.Size)
		if end > len(data) {
			return consumed, ErrOffset
		}
		if rec.Align != 0 && rec.Offset%rec.Align != 0 {
			return consumed, ErrAlign
		}
		field := data[rec.Offset:end]

		printFn := d.Conv.Print
		switch rec.Action {
		case rdt.ActionAvg:
			printFn = printAverage
		case rdt.ActionStddev:
			printFn = printStddev
		case rdt.ActionQuantize:
			printFn = printQuantize
		case rdt.ActionLquantize:
			printFn = printLquantize
		case rdt.ActionLlquantize:
			printFn = printLlquantize
		case rdt.ActionSym:
			printFn = printAddr
		case rdt.ActionUsym:
			printFn = printUaddr
		}

		realised := printFormat(d, width, prec)

		d.DynWidth = width
		d.Rec = &rec
		if _, err := printFn(e, w, realised, d, field, normal, sig); err != nil {
			return consumed, err
		}

		if haveAgg {
			if err := flush(kind, lastDescriptor); err != nil {
				return consumed, err
			}
		}
	}

	return consumed, nil
}

// printFormat assembles the format string actually handed to a print
// callback. It mirrors Descriptor.Format's flag order but targets Go's
// fmt verbs rather than C printf: the h/l/L/w length modifiers are
// dropped (the print callbacks already decode at the record's true
// width) and the C-only 'i'/'u' verbs both map onto %d, with
// signedness carried by the argument's Go type instead. The grouping
// flag has no Go counterpart and is omitted.
func printFormat(d *Descriptor, width, prec int) string {
	var b strings.Builder
	b.WriteByte('%')
	if d.Flags&FlagAlt != 0 {
		b.WriteByte('#')
	}
	if d.Flags&FlagZpad != 0 {
		b.WriteByte('0')
	}
	if d.Flags&FlagLeft != 0 {
		b.WriteByte('-')
	}
	if d.Flags&FlagSpos != 0 {
		b.WriteByte('+')
	}
	if d.Flags&FlagSpace != 0 {
		b.WriteByte(' ')
	}

	isStack := d.Conv != nil && d.Conv.Name == "k"
	if !(isStack && d.Flags&FlagLeft != 0) {
		w := width
		if w < 0 {
			w = -w
		}
		if w != 0 {
			b.WriteString(strconv.Itoa(w))
		}
	}
	if prec > 0 {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(prec))
	}

	letter := byte('v')
	if n := len(d.Suffix); n > 0 {
		letter = d.Suffix[n-1]
	}
	switch letter {
	case 'i', 'u':
		letter = 'd'
	}
	b.WriteByte(letter)
	return b.String()
}

// takeInt reads the integer value of recs[idx] against buf, for
// resolving a '*' dynamic width/precision argument, mirroring
// dt_printf_getint's role in dt_printf_format. It reports how many
// records (always 1) it consumed so the caller can thread recIdx and
// the overall consumed count together.
func takeInt(recs []rdt.RecordDesc, buf []byte, idx int) (int, int, error) {
	if idx >= len(recs) {
		return 0, 0, ErrMismatch
	}
	r := recs[idx]
	end := int(r.Offset) + int(r.Size)
	if end > len(buf) {
		return 0, 0, ErrOffset
	}
	v, err := getint(buf[r.Offset:end])
	if err != nil {
		return 0, 0, err
	}
	return v, 1, nil
}
