// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"strconv"
	"strings"
)

// OptVal is the storage type for every numeric, boolean and enum
// option value, the Go analogue of dtrace_optval_t.
type OptVal int64

// OptUnset is DTRACEOPT_UNSET: "this option was never set", distinct
// from zero.
const OptUnset OptVal = -1

// CFlags is the compile-time flags word that flag-style compile-time
// options (argref, cpp, defaultargs, empty, errtags, knodefs, nolibs,
// pspec, unodefs, verbose, zdefs) set and clear bits in, the Go
// counterpart of DTRACE_C_*.
type CFlags uint32

const (
	CFlagArgRef CFlags = 1 << iota
	CFlagCpp
	CFlagDefArg
	CFlagEmpty
	CFlagETags
	CFlagKNoDef
	CFlagNoLibs
	CFlagPSpec
	CFlagUNoDef
	CFlagZDef
	CFlagDifV
)

// DFlags is the link-time flags word; "strip" is currently its only
// member.
type DFlags uint32

const CFlagStrip DFlags = 1

// StdCMode and XlateMode mirror dt_stdc_mode/dt_xlate_mode: small
// closed enums selected by the "stdc" and "late" options.
type StdCMode int

const (
	StdCXA StdCMode = iota // ANSI C / C99 / transitional, dt_opt_stdc maps a, c and t here alike
	StdCXS                 // strict ISO C
)

type XlateMode int

const (
	XlateDynamic XlateMode = iota
	XlateStatic
)

// EvalTime selects when a probe's arguments are captured relative to
// process creation, matching DTrace's real "evaltime" values.
type EvalTime int

const (
	EvalExec EvalTime = iota
	EvalPreInit
	EvalPostInit
	EvalMain
)

// optionEntry is the Go counterpart of dt_option_t: a name paired with
// the handler that parses and applies its argument.
type optionEntry struct {
	name    string
	handler func(r *Registry, arg string) error
}

// Registry is the option registry: the side of a
// Handle's configuration that every compile-time, run-time and
// dynamic run-time option mutates. Compiling and Active model the two
// context gates dt_options.c checks before running a handler
// (dtp->dt_pcb != NULL, and dtp->dt_active).
type Registry struct {
	Compiling bool // a compilation unit is open; gates compile-time-context-sensitive options
	Active    bool // a session is running; only dynamic run-time options may change now

	values map[string]OptVal // run-time and dynamic run-time numeric/enum storage

	CFlags   CFlags
	DFlags   DFlags
	AttrMin  string // minimum compiler attribute triple, e.g. "Stable/Stable/Common"
	StdC     StdCMode
	Xlate    XlateMode
	EvalTime EvalTime
	LinkMode string
	LinkType string
	Version  string

	CppPath    string
	CppArgs    []string
	CppHdrs    string
	CTypes     string
	DTypes     string
	LdPath     string
	LibDir     string
	ModPath    string
	ProcfsPath string
	CtfPath    string
	SysLibDir  string
	SysSlice   string

	PgMax    int
	TRegs    int
	IRegs    int
	UserUID  int
	TreeDump int

	Disasm      bool
	Debug       bool
	DebugAssert bool
	DropTags    bool
	LazyLoad    bool
	AggPerCPU   bool

	coreEnabled bool // dt_opt_core's "static int enabled" latch, idempotent across repeated sets
}

// NewRegistry returns a Registry with every run-time/dynamic run-time
// value at OptUnset, matching dt_options_init zeroing dt_options[] to
// DTRACEOPT_UNSET before any option is ever set.
func NewRegistry() *Registry {
	r := &Registry{values: make(map[string]OptVal)}
	for _, e := range rtOptions {
		r.values[e.name] = OptUnset
	}
	for _, e := range drtOptions {
		r.values[e.name] = OptUnset
	}
	return r
}

func (r *Registry) get(name string) OptVal    { return r.values[name] }
func (r *Registry) set(name string, v OptVal) { r.values[name] = v }

// parseSize parses an integer with an optional k/K/m/M/g/G/t/T suffix
// (each multiplying by 1024, cascading for combinations like "t"
// implying ×1024^4), mirroring dt_optval_parse. Unlike the original's
// strtoull-then-detect-negative-via-strtoll dance, strconv.ParseUint
// already rejects a leading '-' outright, so a single parse suffices.
func parseSize(arg string) (OptVal, error) {
	if arg == "" {
		return 0, errorf(ErrBadOptVal, "empty size value")
	}
	mul := uint64(1)
	end := len(arg)
	switch arg[end-1] {
	case 't', 'T':
		mul *= 1024
		fallthrough
	case 'g', 'G':
		mul *= 1024
		fallthrough
	case 'm', 'M':
		mul *= 1024
		fallthrough
	case 'k', 'K':
		mul *= 1024
		end--
	}
	numeric := arg
	if mul > 1 {
		numeric = arg[:end]
	}
	v, err := strconv.ParseUint(numeric, 0, 64)
	if err != nil {
		return 0, errorf(ErrBadOptVal, "invalid size %q", arg)
	}
	return OptVal(v * mul), nil
}

// rateSuffixes mirrors dt_opt_rate's suffix table: every entry but
// "hz" is a nanosecond multiplier; "hz" is inverted (ns-per-tick =
// NANOSEC/value) since it names a frequency, not a duration.
var rateSuffixes = map[string]int64{
	"ns": 1, "nsec": 1,
	"us": 1000, "usec": 1000,
	"ms": 1000 * 1000, "msec": 1000 * 1000,
	"s": 1000 * 1000 * 1000, "sec": 1000 * 1000 * 1000,
	"m": 1000 * 1000 * 1000 * 60, "min": 1000 * 1000 * 1000 * 60,
	"h": 1000 * 1000 * 1000 * 60 * 60, "hour": 1000 * 1000 * 1000 * 60 * 60,
	"d": 1000 * 1000 * 1000 * 60 * 60 * 24, "day": 1000 * 1000 * 1000 * 60 * 60 * 24,
}

const nanosec = int64(1000 * 1000 * 1000)

// parseRate parses an integer with a time-unit or "hz" suffix,
// mirroring dt_opt_rate.
func parseRate(arg string) (OptVal, error) {
	if arg == "" {
		return 0, nil
	}
	end := len(arg)
	for end > 0 && (arg[end-1] < '0' || arg[end-1] > '9') {
		end--
	}
	numeric, suffix := arg[:end], strings.ToLower(arg[end:])
	if numeric == "" {
		return 0, errorf(ErrBadOptVal, "invalid rate %q", arg)
	}
	v, err := strconv.ParseUint(numeric, 0, 64)
	if err != nil {
		return 0, errorf(ErrBadOptVal, "invalid rate %q", arg)
	}
	if suffix == "" {
		return OptVal(v), nil
	}
	if suffix == "hz" {
		if v == 0 {
			return 0, nil
		}
		return OptVal(nanosec / int64(v)), nil
	}
	mul, ok := rateSuffixes[suffix]
	if !ok {
		return 0, errorf(ErrBadOptVal, "invalid rate suffix %q", suffix)
	}
	return OptVal(int64(v) * mul), nil
}

// booleanCouples mirrors dt_opt_runtime's couples[] table: either
// member of a pair selects the opposite of its partner, case
// insensitively.
var booleanCouples = [][2]string{
	{"yes", "no"},
	{"enable", "disable"},
	{"enabled", "disabled"},
	{"true", "false"},
	{"on", "off"},
	{"set", "unset"},
}

// parseBoolean parses a couples-table word, or falls back to a
// non-negative integer, mirroring dt_opt_runtime. An empty string
// means DTRACEOPT_UNSET, matching arg[0] == '\0' there.
func parseBoolean(arg string) (OptVal, error) {
	if arg == "" {
		return OptUnset, nil
	}
	for _, c := range booleanCouples {
		if strings.EqualFold(c[0], arg) {
			return 1, nil
		}
		if strings.EqualFold(c[1], arg) {
			return OptUnset, nil
		}
	}
	v, err := strconv.ParseUint(arg, 0, 64)
	if err != nil {
		return 0, errorf(ErrBadOptVal, "invalid boolean/value %q", arg)
	}
	return OptVal(v), nil
}

// parseEnum looks arg up in table case-sensitively, mirroring the
// bufpolicy/bufresize-style linear name tables in dt_options.c.
func parseEnum(arg string, table map[string]OptVal) (OptVal, error) {
	if arg == "" {
		return 0, errorf(ErrBadOptVal, "missing enumerated value")
	}
	v, ok := table[arg]
	if !ok {
		return 0, errorf(ErrBadOptVal, "invalid value %q", arg)
	}
	return v, nil
}

func sizeHandler(name string) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		v, err := parseSize(arg)
		if err != nil {
			return err
		}
		r.set(name, v)
		return nil
	}
}

func rateHandler(name string) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		v, err := parseRate(arg)
		if err != nil {
			return err
		}
		r.set(name, v)
		return nil
	}
}

func booleanHandler(name string) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		v, err := parseBoolean(arg)
		if err != nil {
			return err
		}
		r.set(name, v)
		return nil
	}
}

func enumHandler(name string, table map[string]OptVal) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		v, err := parseEnum(arg, table)
		if err != nil {
			return err
		}
		r.set(name, v)
		return nil
	}
}

var bufPolicies = map[string]OptVal{"ring": 0, "fill": 1, "switch": 2}
var bufResizes = map[string]OptVal{"auto": 0, "manual": 1}

// pcapsizeHandler mirrors dt_opt_pcapsize: parse as a size, clamp an
// out-of-[1,65535] result to the default packet size, then round up
// to a multiple of 8.
func pcapsizeHandler(r *Registry, arg string) error {
	const defPktSize = OptVal(65536)
	val := defPktSize
	if arg != "" {
		v, err := parseSize(arg)
		if err != nil {
			return err
		}
		val = v
		if val <= 0 || val > 65535 {
			val = defPktSize
		}
	}
	r.set("pcapsize", (val+7) &^ 7)
	return nil
}

// strsizeHandler mirrors dt_opt_strsize: parse and store as a size,
// then reject (rolling the stored value back) anything that would
// overflow the CTF array length field backing the D "string" type.
func strsizeHandler(r *Registry, arg string) error {
	prev := r.get("strsize")
	v, err := parseSize(arg)
	if err != nil {
		return err
	}
	if v > 0xffffffff {
		return errorf(ErrOverflow, "strsize %d exceeds the maximum string array size", v)
	}
	r.set("strsize", v)
	// prev is what the original rolls the stored value back to when
	// resizing the CTF string array fails; the CTF container is an
	// external collaborator here, so there is no failing step left
	// between the range check above and the store.
	_ = prev
	return nil
}

// coreHandler mirrors dt_opt_core's one-shot idempotent latch: the
// first call records that a coredump handler should be installed;
// later calls are silent no-ops, as atexit(dt_coredump) only needs
// registering once.
func coreHandler(r *Registry, arg string) error {
	if arg != "" {
		return errorf(ErrBadOptVal, "core takes no argument")
	}
	r.coreEnabled = true
	return nil
}

// versionDefined is the small closed set of version strings dt_version_defined
// recognises; anything else is VERSUNDEF even if it parses as a
// syntactically valid version.
var versionDefined = map[string]bool{
	"1.0": true, "1.1": true, "1.2": true, "1.3": true, "1.4": true,
	"1.5": true, "1.6": true, "1.6.1": true, "1.6.2": true, "1.6.3": true,
	"1.7": true, "1.7.1": true, "1.8": true, "1.8.1": true, "1.9": true,
	"1.9.1": true,
}

func versionHandler(r *Registry, arg string) error {
	if arg == "" {
		return errorf(ErrBadOptVal, "missing version string")
	}
	parts := strings.Split(arg, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return errorf(ErrVersInval, "malformed version string %q", arg)
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return errorf(ErrVersInval, "malformed version string %q", arg)
		}
	}
	if !versionDefined[arg] {
		return errorf(ErrVersUndef, "undefined version %q", arg)
	}
	r.Version = arg
	return nil
}

func aminHandler(r *Registry, arg string) error {
	if arg == "" {
		return errorf(ErrBadOptVal, "missing attribute triple")
	}
	parts := strings.Split(arg, "/")
	if len(parts) == 0 || len(parts) > 3 {
		return errorf(ErrBadOptVal, "malformed attribute triple %q", arg)
	}
	r.AttrMin = arg
	return nil
}

func cflagHandler(bit CFlags) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		if arg != "" {
			return errorf(ErrBadOptVal, "flag-style option takes no argument")
		}
		r.CFlags |= bit
		return nil
	}
}

func invCflagHandler(bit CFlags) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		if arg != "" {
			return errorf(ErrBadOptVal, "flag-style option takes no argument")
		}
		r.CFlags &^= bit
		return nil
	}
}

func dflagHandler(bit DFlags) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		if arg != "" {
			return errorf(ErrBadOptVal, "flag-style option takes no argument")
		}
		r.DFlags |= bit
		return nil
	}
}

// stringHandler builds a handler that stores arg verbatim into the
// field field selects on r, the family covering cpppath/ctfpath/
// libdir/ldpath/modpath/procfspath/ctypes/dtypes/syslibdir/sysslice;
// ctxGated rejects the call while a compilation unit is open,
// mirroring the dtp->dt_pcb != NULL guards scattered through the
// string-option handlers in dt_options.c.
func stringHandler(field func(*Registry) *string, ctxGated bool) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		if arg == "" {
			return errorf(ErrBadOptVal, "missing string value")
		}
		if ctxGated && r.Compiling {
			return errorf(ErrBadOptCtx, "option not valid while a compilation unit is open")
		}
		*field(r) = arg
		return nil
	}
}

func cppArgsHandler(r *Registry, arg string) error {
	if arg == "" {
		return errorf(ErrBadOptVal, "missing cpp arguments")
	}
	if r.Compiling {
		return errorf(ErrBadOptCtx, "cppargs not valid while a compilation unit is open")
	}
	r.CppArgs = append(r.CppArgs, strings.Fields(arg)...)
	return nil
}

func cppOptHandler(flag string) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		if arg == "" {
			return errorf(ErrBadOptVal, "missing argument for %s", flag)
		}
		if r.Compiling {
			return errorf(ErrBadOptCtx, "%s options not valid while a compilation unit is open", flag)
		}
		r.CppArgs = append(r.CppArgs, flag+arg)
		return nil
	}
}

// nonNegIntHandler builds a handler for the plain non-negative integer
// options (pgmax, tregs, iregs, useruid, tree), rejecting anything
// that doesn't parse or is negative the way atoi-then-compare does in
// the original.
func nonNegIntHandler(field func(*Registry) *int, allowZero bool) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || (!allowZero && n == 0) {
			return errorf(ErrBadOptVal, "invalid integer value %q", arg)
		}
		*field(r) = n
		return nil
	}
}

func boolFieldHandler(field func(*Registry) *bool) func(*Registry, string) error {
	return func(r *Registry, arg string) error {
		if arg != "" {
			return errorf(ErrBadOptVal, "flag-style option takes no argument")
		}
		*field(r) = true
		return nil
	}
}

var evalTimes = map[string]OptVal{
	"exec": OptVal(EvalExec), "preinit": OptVal(EvalPreInit),
	"postinit": OptVal(EvalPostInit), "main": OptVal(EvalMain),
}

func evaltimeHandler(r *Registry, arg string) error {
	v, err := parseEnum(arg, evalTimes)
	if err != nil {
		return err
	}
	r.EvalTime = EvalTime(v)
	return nil
}

func stdcHandler(r *Registry, arg string) error {
	if arg == "" {
		return errorf(ErrBadOptVal, "missing stdc mode")
	}
	if r.Compiling {
		return errorf(ErrBadOptCtx, "stdc not valid while a compilation unit is open")
	}
	switch arg {
	case "a", "c", "t":
		// All three select the same transitional mode in the original,
		// a quirk of dt_opt_stdc preserved here rather than "fixed".
		r.StdC = StdCXA
	case "s":
		r.StdC = StdCXS
	default:
		return errorf(ErrBadOptVal, "invalid stdc mode %q", arg)
	}
	return nil
}

func xlateHandler(r *Registry, arg string) error {
	switch arg {
	case "dynamic":
		r.Xlate = XlateDynamic
	case "static":
		r.Xlate = XlateStatic
	default:
		return errorf(ErrBadOptVal, "invalid translator mode %q", arg)
	}
	return nil
}

func linkmodeHandler(r *Registry, arg string) error {
	switch arg {
	case "dynamic", "kernel", "static":
		r.LinkMode = arg
	default:
		return errorf(ErrBadOptVal, "invalid link mode %q", arg)
	}
	return nil
}

func linktypeHandler(r *Registry, arg string) error {
	switch arg {
	case "dof", "elf":
		r.LinkType = arg
	default:
		return errorf(ErrBadOptVal, "invalid link type %q", arg)
	}
	return nil
}

// ctOptions is _dtrace_ctoptions: compile-time options, legal only
// while no compilation unit is open for the context-sensitive subset.
var ctOptions = []optionEntry{
	{"aggpercpu", boolFieldHandler(func(r *Registry) *bool { return &r.AggPerCPU })},
	{"amin", aminHandler},
	{"argref", cflagHandler(CFlagArgRef)},
	{"core", coreHandler},
	{"cpp", cflagHandler(CFlagCpp)},
	{"cppargs", cppArgsHandler},
	{"cpphdrs", stringHandler(func(r *Registry) *string { return &r.CppHdrs }, true)},
	{"cpppath", stringHandler(func(r *Registry) *string { return &r.CppPath }, true)},
	{"ctypes", stringHandler(func(r *Registry) *string { return &r.CTypes }, false)},
	{"ctfpath", stringHandler(func(r *Registry) *string { return &r.CtfPath }, true)},
	{"defaultargs", cflagHandler(CFlagDefArg)},
	{"debug", boolFieldHandler(func(r *Registry) *bool { return &r.Debug })},
	{"debugassert", boolFieldHandler(func(r *Registry) *bool { return &r.DebugAssert })},
	{"define", cppOptHandler("-D")},
	{"disasm", boolFieldHandler(func(r *Registry) *bool { return &r.Disasm })},
	{"droptags", boolFieldHandler(func(r *Registry) *bool { return &r.DropTags })},
	{"dtypes", stringHandler(func(r *Registry) *string { return &r.DTypes }, false)},
	{"empty", cflagHandler(CFlagEmpty)},
	{"errtags", cflagHandler(CFlagETags)},
	{"evaltime", evaltimeHandler},
	{"incdir", cppOptHandler("-I")},
	{"iregs", nonNegIntHandler(func(r *Registry) *int { return &r.IRegs }, false)},
	{"kdefs", invCflagHandler(CFlagKNoDef)},
	{"knodefs", cflagHandler(CFlagKNoDef)},
	{"late", xlateHandler},
	{"lazyload", boolFieldHandler(func(r *Registry) *bool { return &r.LazyLoad })},
	{"ldpath", stringHandler(func(r *Registry) *string { return &r.LdPath }, true)},
	{"libdir", stringHandler(func(r *Registry) *string { return &r.LibDir }, false)},
	{"linkmode", linkmodeHandler},
	{"linktype", linktypeHandler},
	{"modpath", stringHandler(func(r *Registry) *string { return &r.ModPath }, true)},
	{"nolibs", cflagHandler(CFlagNoLibs)},
	{"pgmax", nonNegIntHandler(func(r *Registry) *int { return &r.PgMax }, false)},
	{"preallocate", sizeHandler("preallocate")},
	{"procfspath", stringHandler(func(r *Registry) *string { return &r.ProcfsPath }, true)},
	{"pspec", cflagHandler(CFlagPSpec)},
	{"stdc", stdcHandler},
	{"strip", dflagHandler(CFlagStrip)},
	{"syslibdir", stringHandler(func(r *Registry) *string { return &r.SysLibDir }, false)},
	{"sysslice", stringHandler(func(r *Registry) *string { return &r.SysSlice }, false)},
	{"tree", nonNegIntHandler(func(r *Registry) *int { return &r.TreeDump }, false)},
	{"tregs", nonNegIntHandler(func(r *Registry) *int { return &r.TRegs }, false)},
	{"udefs", invCflagHandler(CFlagUNoDef)},
	{"undef", cppOptHandler("-U")},
	{"unodefs", cflagHandler(CFlagUNoDef)},
	{"useruid", nonNegIntHandler(func(r *Registry) *int { return &r.UserUID }, true)},
	{"verbose", cflagHandler(CFlagDifV)},
	{"version", versionHandler},
	{"zdefs", cflagHandler(CFlagZDef)},
}

// rtOptions is _dtrace_rtoptions: run-time options, only settable
// before Session.Go (enforced by the caller checking r.Active).
var rtOptions = []optionEntry{
	{"aggsize", sizeHandler("aggsize")},
	{"bpflog", booleanHandler("bpflog")},
	{"bpflogsize", sizeHandler("bpflogsize")},
	{"bufsize", sizeHandler("bufsize")},
	{"bufpolicy", enumHandler("bufpolicy", bufPolicies)},
	{"bufresize", enumHandler("bufresize", bufResizes)},
	{"cleanrate", rateHandler("cleanrate")},
	{"cpu", booleanHandler("cpu")},
	{"destructive", booleanHandler("destructive")},
	{"dynvarsize", sizeHandler("dynvarsize")},
	{"grabanon", booleanHandler("grabanon")},
	{"jstackframes", booleanHandler("jstackframes")},
	{"jstackstrsize", sizeHandler("jstackstrsize")},
	{"maxframes", booleanHandler("maxframes")},
	{"nspec", booleanHandler("nspec")},
	{"pcapsize", pcapsizeHandler},
	{"specsize", sizeHandler("specsize")},
	{"stackframes", booleanHandler("stackframes")},
	{"statusrate", rateHandler("statusrate")},
	{"strsize", strsizeHandler},
	{"ustackframes", booleanHandler("ustackframes")},
	{"noresolve", booleanHandler("noresolve")},
}

// drtOptions is _dtrace_drtoptions: dynamic run-time options, settable
// at any time including mid-session.
var drtOptions = []optionEntry{
	{"aggrate", rateHandler("aggrate")},
	{"aggsortkey", booleanHandler("aggsortkey")},
	{"aggsortkeypos", booleanHandler("aggsortkeypos")},
	{"aggsortpos", booleanHandler("aggsortpos")},
	{"aggsortrev", booleanHandler("aggsortrev")},
	{"flowindent", booleanHandler("flowindent")},
	{"quiet", booleanHandler("quiet")},
	{"quietresize", booleanHandler("quietresize")},
	{"rawbytes", booleanHandler("rawbytes")},
	{"stackindent", booleanHandler("stackindent")},
	{"switchrate", rateHandler("switchrate")},
}

func findOption(name string, tables ...[]optionEntry) *optionEntry {
	for _, table := range tables {
		for i := range table {
			if table[i].name == name {
				return &table[i]
			}
		}
	}
	return nil
}

// Get returns the current value of a run-time or dynamic run-time
// option; compile-time options are write-only from the user's view,
// mirroring dtrace_getopt searching only _dtrace_rtoptions and
// _dtrace_drtoptions.
func (r *Registry) Get(name string) (OptVal, error) {
	if e := findOption(name, rtOptions, drtOptions); e != nil {
		return r.get(name), nil
	}
	return 0, errorf(ErrBadOptName, "unknown option %q", name)
}

// Set applies arg to the named option, mirroring dtrace_setopt's
// three-table search order: compile-time options never check Active
// (they're gated by Compiling inside their own handlers instead);
// dynamic run-time options are always legal; run-time options are
// rejected with ACTIVE while a session is running.
func (r *Registry) Set(name, arg string) error {
	if e := findOption(name, ctOptions); e != nil {
		return e.handler(r, arg)
	}
	if e := findOption(name, drtOptions); e != nil {
		return e.handler(r, arg)
	}
	if e := findOption(name, rtOptions); e != nil {
		if r.Active {
			return errorf(ErrActive, "option %q may not be set while tracing is active", name)
		}
		return e.handler(r, arg)
	}
	return errorf(ErrBadOptName, "unknown option %q", name)
}

// SetEnv applies every option whose upper-cased name, prefixed by
// prefix (default "DTRACE_OPT_"), is set in the process environment,
// mirroring dtrace_setoptenv. Unlike Set, handler errors are ignored
// here, matching the original's fire-and-forget loop: a malformed
// environment variable is silently skipped rather than failing
// startup.
func (r *Registry) SetEnv(prefix string, lookup func(string) (string, bool)) {
	if prefix == "" {
		prefix = "DTRACE_OPT_"
	}
	apply := func(tables ...[]optionEntry) {
		for _, table := range tables {
			for _, e := range table {
				key := prefix + strings.ToUpper(e.name)
				if val, ok := lookup(key); ok {
					_ = e.handler(r, val)
				}
			}
		}
	}
	apply(ctOptions)
	apply(drtOptions)
	apply(rtOptions)
}
