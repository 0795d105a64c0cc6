// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"fmt"
	"strconv"
	"strings"

	"dtracego/rdt"
)

// Flags holds the printf conversion flags recognised between '%' and
// the terminating letter.
type Flags uint32

const (
	FlagAlt Flags = 1 << iota
	FlagZpad
	FlagLeft
	FlagSpos
	FlagSpace
	FlagGroup
	FlagSigned
	FlagAgg
	FlagDynWidth
	FlagDynPrec
	FlagPtrWidth
)

// Descriptor is one entry of a compiled Plan: literal prefix bytes
// plus an optional conversion.
type Descriptor struct {
	Prefix    []byte
	Conv      *Conv
	Flags     Flags
	Width     int
	Precision int // -1 if not specified
	DynWidth  int // width resolved at print time, static or consumed via '*'
	Suffix    string
	Rec       *rdt.RecordDesc // back-reference to the record currently being formatted, set by the engine
}

// HasConv reports whether this descriptor carries a conversion, or is
// a pure trailing-literal prefix.
func (d *Descriptor) HasConv() bool { return d.Conv != nil }

// Format assembles the realised printf-style format string for one
// descriptor: '%', flag characters in a fixed order, absolute width,
// precision, then the conversion's materialised suffix.
//
// Stack/ustack printers with FlagLeft set handle their own
// indentation, so width is omitted for them.
func (d *Descriptor) Format() string {
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
	if d.Flags&FlagGroup != 0 {
		b.WriteByte('\'')
	}
	if d.Flags&FlagSpace != 0 {
		b.WriteByte(' ')
	}

	isStack := d.Conv != nil && (d.Conv.Name == "k")
	if !(isStack && d.Flags&FlagLeft != 0) {
		w := d.Width
		if w < 0 {
			w = -w
		}
		if w != 0 {
			b.WriteString(strconv.Itoa(w))
		}
	}
	if d.Precision > 0 {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(d.Precision))
	}
	b.WriteString(d.Suffix)
	return b.String()
}

// Plan is a compiled, ordered list of descriptors, produced once from
// a user format string and reused for every record it is applied to.
type Plan struct {
	Raw         string
	Descriptors []*Descriptor
	Aggregation bool // set for printa plans, authorising '@' conversions
}

// String reassembles the plan back into a printf format string with
// any implicit size modifiers Validate materialised (e.g. "%d" against
// a 64-bit integer comes back as "%lld"). Literal '%' bytes in prefix
// text are re-escaped so the result recompiles to the same plan.
func (p *Plan) String() string {
	var b strings.Builder
	for _, d := range p.Descriptors {
		for _, c := range d.Prefix {
			if c == '%' {
				b.WriteByte('%')
			}
			b.WriteByte(c)
		}
		if d.Conv != nil {
			b.WriteString(d.Format())
		}
	}
	return b.String()
}

// Release satisfies rdt.FormatPlan: the record that owned this plan
// is going away, so drop the reference so the GC can reclaim it.
func (p *Plan) Release() {
	p.Descriptors = nil
}

type compiler struct {
	dict *Dictionary
	s    string
	pos  int
}

// Compile scans raw left to right and produces a Plan, mirroring the
// plan compiler's single left-to-right pass: literal bytes accumulate
// into the next descriptor's prefix, '%' opens a new descriptor, and a
// trailing literal with no terminating conversion becomes a
// prefix-only descriptor.
func Compile(dict *Dictionary, raw string) (*Plan, error) {
	c := &compiler{dict: dict, s: raw}
	plan := &Plan{Raw: raw}

	var prefix []byte
	for c.pos < len(c.s) {
		ch := c.s[c.pos]
		if ch != '%' {
			prefix = append(prefix, ch)
			c.pos++
			continue
		}

		// Peek for the literal "%%" case before opening a real descriptor.
		if c.pos+1 < len(c.s) && c.s[c.pos+1] == '%' {
			prefix = append(prefix, '%')
			c.pos += 2
			continue
		}

		d, err := c.scanConversion()
		if err != nil {
			return nil, err
		}
		d.Prefix = prefix
		prefix = nil
		plan.Descriptors = append(plan.Descriptors, d)
	}

	if len(prefix) > 0 || len(plan.Descriptors) == 0 {
		plan.Descriptors = append(plan.Descriptors, &Descriptor{Prefix: prefix, Precision: -1})
	}

	return plan, nil
}

func (c *compiler) scanConversion() (*Descriptor, error) {
	start := c.pos
	c.pos++ // consume '%'
	d := &Descriptor{Precision: -1}

	// Flags.
	for c.pos < len(c.s) {
		switch c.s[c.pos] {
		case '#':
			d.Flags |= FlagAlt
		case '0':
			d.Flags |= FlagZpad
		case '-':
			d.Flags |= FlagLeft
		case '+':
			d.Flags |= FlagSpos
		case '\'':
			d.Flags |= FlagGroup
		case ' ':
			d.Flags |= FlagSpace
		default:
			goto width
		}
		c.pos++
	}

width:
	if c.pos < len(c.s) && c.s[c.pos] == '*' {
		d.Flags |= FlagDynWidth
		c.pos++
	} else {
		wstart := c.pos
		for c.pos < len(c.s) && c.s[c.pos] >= '0' && c.s[c.pos] <= '9' {
			c.pos++
		}
		if c.pos > wstart {
			w, _ := strconv.Atoi(c.s[wstart:c.pos])
			d.Width = w
			// Reject positional specifiers: a width immediately
			// followed by '$' is a "%n$" argument index, not a width.
			if c.pos < len(c.s) && c.s[c.pos] == '$' {
				return nil, fmt.Errorf("format: positional specifier not supported at offset %d", start)
			}
		}
	}

	if c.pos < len(c.s) && c.s[c.pos] == '.' {
		c.pos++
		if c.pos < len(c.s) && c.s[c.pos] == '.' {
			return nil, fmt.Errorf("format: duplicate '.' in conversion at offset %d", start)
		}
		if c.pos < len(c.s) && c.s[c.pos] == '*' {
			if d.Flags&FlagDynWidth != 0 && d.Flags&FlagDynPrec != 0 {
				return nil, fmt.Errorf("format: duplicate '*' in conversion at offset %d", start)
			}
			d.Flags |= FlagDynPrec
			c.pos++
		} else {
			pstart := c.pos
			for c.pos < len(c.s) && c.s[c.pos] >= '0' && c.s[c.pos] <= '9' {
				c.pos++
			}
			p, _ := strconv.Atoi(c.s[pstart:c.pos])
			d.Precision = p
		}
	}

	var nameBuf strings.Builder
scanName:
	for c.pos < len(c.s) {
		switch c.s[c.pos] {
		case 'h', 'l', 'L', 'w':
			nameBuf.WriteByte(c.s[c.pos])
			c.pos++
		case '@':
			d.Flags |= FlagAgg
			c.pos++
		case '?':
			// Native pointer width: 16 hex digits on LP64.
			d.Flags |= FlagPtrWidth
			d.Width = 16
			c.pos++
		default:
			break scanName
		}
	}

	if c.pos >= len(c.s) {
		return nil, fmt.Errorf("format: unterminated conversion at offset %d", start)
	}

	letter := c.s[c.pos]
	c.pos++

	name := nameBuf.String() + string(letter)
	conv, ok := c.dict.Lookup(name)
	if !ok {
		conv, ok = c.dict.Lookup(string(letter))
	}
	if !ok {
		return nil, fmt.Errorf("format: unknown conversion %q at offset %d", name, start)
	}

	d.Conv = conv
	d.Suffix = nameBuf.String() + string(conv.Letter)
	return d, nil
}
