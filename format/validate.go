// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import "fmt"

// CompileError carries a classified error kind alongside the plain Go
// error, the replacement for the original's non-local exit: the
// original's dt_printf_validate longjmps to the enclosing compile
// unit's handler on the first bad conversion, freeing the in-progress
// plan as it unwinds. Here validation simply returns early and the
// caller (the script compiler, external to this package) is
// responsible for discarding the Plan on error.
type CompileError struct {
	Kind string // error tag, e.g. "PRINTF_ARG_TYPE" or "DYN_PROTO"
	Msg  string
}

func (e *CompileError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func cerr(kind, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// isBareSizeConv reports whether name carries no explicit h/l/L size
// prefix of its own, making it eligible for the implicit "ll"/"L"
// prefix dt_printf_validate adds based on the argument's actual width.
func isBareSizeConv(name string) bool {
	switch name {
	case "d", "i", "u", "o", "x", "X", "e", "E", "f", "g", "G":
		return true
	default:
		return false
	}
}

// aggResultType returns the synthetic argument type substituted for
// any '@' conversion: count() aggregations are uint64_t, every other
// aggregating function (sum, avg, min, max, quantize, ...) is
// int64_t, mirroring dt_printf_validate's aggnode setup.
func aggResultType(isCount bool) ArgType {
	if isCount {
		return ArgType{Kind: KindInteger, Signed: false, SizeBits: 64, TypeName: "uint64_t"}
	}
	return ArgType{Kind: KindInteger, Signed: true, SizeBits: 64, TypeName: "int64_t"}
}

// Validate checks plan's conversions against args, the typed argument
// node list the script compiler produced for this printf/printf-like
// call, mirroring dt_printf_validate. exactLen requires every argument
// to be consumed (printf's contract); isCountAgg selects the '@'
// conversion's synthetic type when the plan is a printa() aggregation
// format.
//
// On success, each descriptor's Suffix has been rewritten to its
// final realised form (implicit "ll"/"L" size prefixes prepended, and
// any in-place rewrite dictionary Check callbacks made, e.g. dintCheck
// flipping a trailing 'd' to 'u').
func Validate(plan *Plan, args []ArgType, exactLen, isCountAgg bool) error {
	idx := 0
	next := func() (ArgType, bool) {
		if idx >= len(args) {
			return ArgType{}, false
		}
		a := args[idx]
		idx++
		return a, true
	}

	for i, d := range plan.Descriptors {
		if d.Conv == nil {
			continue
		}
		if d.Conv.Letter == '%' && d.Conv.Print == nil {
			continue
		}

		if d.Flags&FlagDynPrec != 0 {
			a, ok := next()
			if !ok {
				return cerr("DYN_PROTO", "conversion #%d (%%%s) is missing a corresponding \".*\" argument", i+1, d.Conv.Name)
			}
			if !a.IsInteger() {
				return cerr("DYN_TYPE", "argument is incompatible with conversion #%d \".*\" prototype: expected int", i+1)
			}
		}
		if d.Flags&FlagDynWidth != 0 {
			a, ok := next()
			if !ok {
				return cerr("DYN_PROTO", "conversion #%d (%%%s) is missing a corresponding \"*\" argument", i+1, d.Conv.Name)
			}
			if !a.IsInteger() {
				return cerr("DYN_TYPE", "argument is incompatible with conversion #%d \"*\" prototype: expected int", i+1)
			}
		}

		var arg ArgType
		if d.Flags&FlagAgg != 0 {
			if !plan.Aggregation {
				return cerr("AGG_CONV", "%%@ conversion requires an aggregation and is not valid here")
			}
			arg = aggResultType(isCountAgg)
		} else {
			a, ok := next()
			if !ok {
				return cerr("ARG_PROTO", "conversion #%d (%%%s) is missing a corresponding value argument", i+1, d.Conv.Name)
			}
			arg = a
		}

		// Prepend implicit size prefixes the way dt_printf_validate
		// does before handing off to the conversion's predicate, but
		// only for the bare conversions (no h/l/L/ll already baked
		// into their dictionary name, e.g. "hx"/"llx" are already
		// explicitly sized).
		if isBareSizeConv(d.Conv.Name) {
			switch d.Conv.Letter {
			case 'd', 'i', 'u', 'o', 'x', 'X':
				if arg.SizeBits == 64 {
					d.Suffix = "ll" + string(d.Conv.Letter)
				}
			case 'e', 'E', 'f', 'g', 'G':
				if arg.SizeBits > 64 {
					d.Suffix = "L" + string(d.Conv.Letter)
				}
			}
		}

		if !d.Conv.Check(d, arg) {
			return cerr("PRINTF_ARG_TYPE", "argument is incompatible with conversion #%d prototype: expected %s", i+1, d.Conv.Expected)
		}
	}

	if exactLen && idx != len(args) {
		return cerr("ARG_EXTRA", "only %d arguments required by this format string", idx)
	}
	return nil
}

// ValidatePrinta checks the prototype compatibility of two
// aggregations passed to a two-argument printa(@a, @b), mirroring
// dt_printa_validate: both must share the same key count and
// pairwise-compatible key types.
func ValidatePrinta(lhsKeys, rhsKeys []ArgType) error {
	if len(lhsKeys) != len(rhsKeys) {
		return cerr("AGG_PROTO", "printa( ) aggregations have mismatched key counts (%d != %d)", len(lhsKeys), len(rhsKeys))
	}
	for i := range lhsKeys {
		if lhsKeys[i].Kind != rhsKeys[i].Kind {
			return cerr("AGG_PROTO", "printa( ) aggregation key #%d types do not match", i+1)
		}
	}
	return nil
}
