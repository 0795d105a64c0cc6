// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format implements the printf dictionary, the format plan
// compiler and the runtime format engine: the machinery that turns a
// user format string plus a typed argument list into a compiled Plan,
// and later walks that Plan against a record vector and a raw record
// buffer to produce output.
package format

import "fmt"

// ArgKind classifies the D type of one argument or record the plan
// compiler and the dictionary's type-compatibility predicates reason
// about. It stands in for a resolved CTF/D type in the original.
type ArgKind int

const (
	KindInteger ArgKind = iota
	KindPointer
	KindFloat
	KindString
	KindStack
	KindSymAddr
	KindUsymAddr
)

// ArgType is the compile-time description of one argument node the
// plan validator checks a conversion against.
type ArgType struct {
	Kind     ArgKind
	Signed   bool
	SizeBits int    // integer/float width in bits
	TypeName string // resolved CTF type name, e.g. "long long"
}

func (a ArgType) IsInteger() bool  { return a.Kind == KindInteger }
func (a ArgType) IsPointer() bool  { return a.Kind == KindPointer }
func (a ArgType) IsFloat() bool    { return a.Kind == KindFloat }
func (a ArgType) IsString() bool   { return a.Kind == KindString }
func (a ArgType) IsStack() bool    { return a.Kind == KindStack }
func (a ArgType) IsSymAddr() bool  { return a.Kind == KindSymAddr }
func (a ArgType) IsUsymAddr() bool { return a.Kind == KindUsymAddr }

// CheckFunc is a conversion's type-compatibility predicate. It may
// mutate the descriptor it is passed (pfcheck_dint rewrites the
// realised format's trailing letter based on signedness), mirroring
// pfcheck_* in the original.
type CheckFunc func(d *Descriptor, arg ArgType) bool

// Conv is one printf dictionary entry: a named conversion with an
// output letter, an expected-type description for error messages, a
// type-compatibility predicate and a print callback.
type Conv struct {
	Name     string // e.g. "llx", "d", "s"
	Letter   byte   // output format letter, e.g. 'x'
	Expected string // human-readable expected type, for error messages
	Check    CheckFunc
	Print    PrintFunc
}

// Dictionary is the immutable, handle-wide table of conversions,
// built once and shared by every compiled Plan.
type Dictionary struct {
	byName map[string]*Conv
}

// NewDictionary builds the standard dictionary. Construction cannot
// fail in this implementation (there is no D/CTF container whose
// absence would raise NOCONV), but the signature returns an error to
// mirror the original's fallible build step and leave room for a
// future caller-supplied conversion set that can.
func NewDictionary() (*Dictionary, error) {
	d := &Dictionary{byName: make(map[string]*Conv, 64)}
	for _, c := range standardConvs() {
		c := c
		if _, dup := d.byName[c.Name]; dup {
			return nil, fmt.Errorf("format: duplicate dictionary entry %q", c.Name)
		}
		d.byName[c.Name] = &c
	}
	return d, nil
}

// Lookup returns the conversion registered under name, the
// concatenation of size prefixes and terminating letter the compiler
// scanned (e.g. "ll" + "x" => "llx").
func (d *Dictionary) Lookup(name string) (*Conv, bool) {
	c, ok := d.byName[name]
	return c, ok
}

func isIntegerLike(n string) bool {
	switch n {
	case "int64_t", "uint64_t":
		return true
	}
	return false
}

func xshortCheck(d *Descriptor, a ArgType) bool {
	switch a.TypeName {
	case "short", "signed short", "unsigned short":
		return true
	}
	return false
}

func xlongCheck(d *Descriptor, a ArgType) bool {
	switch a.TypeName {
	case "long", "signed long", "unsigned long":
		return true
	}
	return false
}

func xlonglongCheck(d *Descriptor, a ArgType) bool {
	switch a.TypeName {
	case "long long", "signed long long", "unsigned long long":
		return true
	}
	return isIntegerLike(a.TypeName)
}

func dintCheck(d *Descriptor, a ArgType) bool {
	if a.Signed {
		d.Flags |= FlagSigned
	} else {
		// Rewrite the trailing 'd' of the realised suffix to 'u', the
		// way pfcheck_dint does in place on pfd_fmt.
		if n := len(d.Suffix); n > 0 && d.Suffix[n-1] == 'd' {
			d.Suffix = d.Suffix[:n-1] + "u"
		}
	}
	return a.IsInteger()
}

func standardConvs() []Conv {
	return []Conv{
		{Name: "d", Letter: 'd', Expected: "integer", Check: dintCheck, Print: printDint},
		{Name: "i", Letter: 'i', Expected: "integer", Check: dintCheck, Print: printDint},
		{Name: "u", Letter: 'u', Expected: "unsigned integer",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() }, Print: printUint},
		{Name: "o", Letter: 'o', Expected: "integer",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() }, Print: printUint},
		{Name: "x", Letter: 'x', Expected: "integer",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() }, Print: printUint},
		{Name: "X", Letter: 'X', Expected: "integer",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() }, Print: printUint},
		{Name: "hx", Letter: 'x', Expected: "short", Check: xshortCheck, Print: printUint},
		{Name: "hX", Letter: 'X', Expected: "short", Check: xshortCheck, Print: printUint},
		{Name: "lx", Letter: 'x', Expected: "long", Check: xlongCheck, Print: printUint},
		{Name: "lX", Letter: 'X', Expected: "long", Check: xlongCheck, Print: printUint},
		{Name: "llx", Letter: 'x', Expected: "long long", Check: xlonglongCheck, Print: printUint},
		{Name: "llX", Letter: 'X', Expected: "long long", Check: xlonglongCheck, Print: printUint},
		{Name: "e", Letter: 'e', Expected: "floating point",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsFloat() }, Print: printFP},
		{Name: "E", Letter: 'E', Expected: "floating point",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsFloat() }, Print: printFP},
		{Name: "f", Letter: 'f', Expected: "floating point",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsFloat() }, Print: printFP},
		{Name: "g", Letter: 'g', Expected: "floating point",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsFloat() }, Print: printFP},
		{Name: "G", Letter: 'G', Expected: "floating point",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsFloat() }, Print: printFP},
		{Name: "c", Letter: 'c', Expected: "character",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() && a.SizeBits <= 32 }, Print: printCsi},
		{Name: "C", Letter: 'c', Expected: "character",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() && a.SizeBits <= 32 }, Print: printEchr},
		{Name: "s", Letter: 's', Expected: "string",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsString() }, Print: printCstr},
		{Name: "S", Letter: 's', Expected: "string",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsString() }, Print: printEstr},
		{Name: "ws", Letter: 's', Expected: "wide string",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsString() }, Print: printWstr},
		{Name: "ls", Letter: 's', Expected: "wide string",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsString() }, Print: printWstr},
		{Name: "a", Letter: 's', Expected: "kernel address",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsPointer() || a.IsInteger() || a.IsSymAddr() }, Print: printAddr},
		{Name: "A", Letter: 's', Expected: "user address",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsUsymAddr() || a.IsPointer() || a.IsInteger() }, Print: printUaddr},
		{Name: "k", Letter: 's', Expected: "stack",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsStack() }, Print: printStack},
		{Name: "Y", Letter: 's', Expected: "timestamp",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() && a.SizeBits == 64 }, Print: printTime},
		{Name: "T", Letter: 's', Expected: "timestamp",
			Check: func(_ *Descriptor, a ArgType) bool { return a.IsInteger() && a.SizeBits == 64 }, Print: printTime822},
		{Name: "%", Letter: '%', Expected: "", Check: func(*Descriptor, ArgType) bool { return true }, Print: nil},
	}
}
