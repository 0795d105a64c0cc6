// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// PrintFunc is a dictionary conversion's print callback. It receives
// the engine driving the walk (for resolver access), the sink, the
// realised format string, the descriptor, the record's raw bytes, and
// the normalisation factor and aggregation signature for
// aggregation-flavoured records. A negative-equivalent is reported as
// a non-nil error, aborting the walk with the pending error the way a
// negative return did in the original.
type PrintFunc func(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error)

func printSint(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	n := int64(normal)
	switch len(data) {
	case 1:
		return fmt.Fprintf(w, format, int32(int8(data[0]))/int32(n))
	case 2:
		return fmt.Fprintf(w, format, int32(int16(binary.LittleEndian.Uint16(data)))/int32(n))
	case 4:
		return fmt.Fprintf(w, format, int32(binary.LittleEndian.Uint32(data))/int32(n))
	case 8:
		return fmt.Fprintf(w, format, int64(binary.LittleEndian.Uint64(data))/n)
	default:
		return 0, ErrMismatch
	}
}

func printUint(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	switch len(data) {
	case 1:
		return fmt.Fprintf(w, format, uint32(data[0])/uint32(normal))
	case 2:
		return fmt.Fprintf(w, format, uint32(binary.LittleEndian.Uint16(data))/uint32(normal))
	case 4:
		return fmt.Fprintf(w, format, binary.LittleEndian.Uint32(data)/uint32(normal))
	case 8:
		return fmt.Fprintf(w, format, binary.LittleEndian.Uint64(data)/normal)
	default:
		return 0, ErrMismatch
	}
}

func printDint(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if d.Flags&FlagSigned != 0 {
		return printSint(e, w, format, d, data, normal, sig)
	}
	return printUint(e, w, format, d, data, normal, sig)
}

func printFP(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	n := float64(normal)
	switch len(data) {
	case 4:
		return fmt.Fprintf(w, format, float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))/n)
	case 8:
		return fmt.Fprintf(w, format, math.Float64frombits(binary.LittleEndian.Uint64(data))/n)
	default:
		return 0, ErrMismatch
	}
}

func printCsi(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data) < 1 || len(data) > 4 {
		return 0, ErrMismatch
	}
	var v uint32
	for i := 0; i < len(data); i++ {
		v |= uint32(data[i]) << (8 * uint(i))
	}
	return fmt.Fprintf(w, format, rune(v))
}

func escapeChar(r rune) string {
	switch r {
	case '\n':
		return "\\n"
	case '\t':
		return "\\t"
	case '\\':
		return "\\\\"
	}
	if r < 0x20 || r == 0x7f {
		return fmt.Sprintf("\\%03o", r)
	}
	return string(r)
}

func printEchr(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data) < 1 || len(data) > 4 {
		return 0, ErrMismatch
	}
	var v uint32
	for i := 0; i < len(data); i++ {
		v |= uint32(data[i]) << (8 * uint(i))
	}
	return fmt.Fprintf(w, format, escapeChar(rune(v)))
}

func cString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

func printCstr(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	return fmt.Fprintf(w, format, cString(data))
}

func escapeString(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, []rune(escapeChar(r))...)
	}
	return string(out)
}

func printEstr(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	return fmt.Fprintf(w, format, escapeString(cString(data)))
}

func printWstr(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data)%4 != 0 {
		return 0, ErrMismatch
	}
	var rs []rune
	for i := 0; i+4 <= len(data); i += 4 {
		v := binary.LittleEndian.Uint32(data[i : i+4])
		if v == 0 {
			break
		}
		rs = append(rs, rune(v))
	}
	return fmt.Fprintf(w, format, string(rs))
}

// stringFormat rewrites a realised format's trailing verb to 's': a
// symbolic address resolves to a string no matter which numeric
// conversion the record was declared with, keeping flags and width.
func stringFormat(format string) string {
	if len(format) == 0 {
		return "%s"
	}
	return format[:len(format)-1] + "s"
}

func printAddr(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	var val uint64
	switch len(data) {
	case 4:
		val = uint64(binary.LittleEndian.Uint32(data))
	case 8:
		val = binary.LittleEndian.Uint64(data)
	default:
		return 0, ErrMismatch
	}
	s := e.resolveKernel(val)
	return fmt.Fprintf(w, stringFormat(format), s)
}

func printUaddr(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	var val, tgid uint64
	switch len(data) {
	case 4:
		val = uint64(binary.LittleEndian.Uint32(data))
	case 8:
		val = binary.LittleEndian.Uint64(data)
	case 24:
		tgid = binary.LittleEndian.Uint64(data[8:16])
		val = binary.LittleEndian.Uint64(data[16:24])
	default:
		return 0, ErrMismatch
	}
	if tgid == 0 {
		tgid = e.TargetPID
	}
	s := e.resolveUser(tgid, val)
	return fmt.Fprintf(w, stringFormat(format), s)
}

func printStack(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	// A negative dynamic width means an absolute indent; FlagLeft means
	// the stack printer itself indents by the width the realised format
	// omitted.
	width := d.DynWidth
	if width < 0 {
		width = -width
	}
	saved := e.StackIndent
	e.StackIndent = width
	defer func() { e.StackIndent = saved }()

	if e.Stack == nil {
		return 0, fmt.Errorf("format: no stack printer configured")
	}
	n, err := e.Stack.PrintStack(w, data, e.StackIndent)
	return n, err
}

func printTime(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data) != 8 {
		return 0, ErrMismatch
	}
	ns := int64(binary.LittleEndian.Uint64(data))
	t := time.Unix(0, ns).Local()
	return fmt.Fprintf(w, format, t.Format("2006 Jan 02 15:04:05"))
}

func printTime822(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data) != 8 {
		return 0, ErrMismatch
	}
	ns := int64(binary.LittleEndian.Uint64(data))
	t := time.Unix(0, ns).Local()
	return fmt.Fprintf(w, format, t.Format("Mon, 02 Jan 2006 15:04:05 MST"))
}
