// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errKind(t *testing.T, err error) ErrKind {
	t.Helper()
	e, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %T (%v)", err, err)
	return e.Kind
}

func TestBufsizeRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("bufsize", "4k"))
	v, err := r.Get("bufsize")
	require.NoError(t, err)
	assert.Equal(t, OptVal(4096), v)

	err = r.Set("bufsize", "-1")
	require.Error(t, err)
	assert.Equal(t, ErrBadOptVal, errKind(t, err))
}

func TestSizeSuffixes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want OptVal
	}{
		{"0", 0},
		{"1", 1},
		{"1k", 1024},
		{"2K", 2048},
		{"1m", 1024 * 1024},
		{"3g", 3 * 1024 * 1024 * 1024},
		{"1t", 1024 * 1024 * 1024 * 1024},
	} {
		v, err := parseSize(tc.in)
		require.NoError(t, err, "parseSize(%q)", tc.in)
		assert.Equal(t, tc.want, v, "parseSize(%q)", tc.in)
	}

	for _, bad := range []string{"", "-1", "4kk", "k", "12x", "1.5k"} {
		_, err := parseSize(bad)
		assert.Error(t, err, "parseSize(%q) should fail", bad)
	}
}

func TestRateSuffixes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want OptVal
	}{
		{"5", 5},
		{"100ns", 100},
		{"2us", 2000},
		{"3ms", 3 * 1000 * 1000},
		{"1s", 1000 * 1000 * 1000},
		{"2sec", 2 * 1000 * 1000 * 1000},
		{"1m", 60 * 1000 * 1000 * 1000},
		{"1h", 3600 * 1000 * 1000 * 1000},
		{"100hz", 10 * 1000 * 1000},
		{"0hz", 0},
	} {
		v, err := parseRate(tc.in)
		require.NoError(t, err, "parseRate(%q)", tc.in)
		assert.Equal(t, tc.want, v, "parseRate(%q)", tc.in)
	}

	_, err := parseRate("5parsecs")
	assert.Error(t, err)
}

func TestBooleanSynonyms(t *testing.T) {
	r := NewRegistry()
	for _, yes := range []string{"yes", "Enable", "enabled", "TRUE", "on", "set"} {
		require.NoError(t, r.Set("quiet", yes))
		v, _ := r.Get("quiet")
		assert.Equal(t, OptVal(1), v, "quiet=%s", yes)
	}
	for _, no := range []string{"no", "disable", "disabled", "false", "OFF", "unset"} {
		require.NoError(t, r.Set("quiet", no))
		v, _ := r.Get("quiet")
		assert.Equal(t, OptUnset, v, "quiet=%s", no)
	}

	// Empty string means unset; a bare integer is a value.
	require.NoError(t, r.Set("quiet", ""))
	v, _ := r.Get("quiet")
	assert.Equal(t, OptUnset, v)
	require.NoError(t, r.Set("quiet", "3"))
	v, _ = r.Get("quiet")
	assert.Equal(t, OptVal(3), v)
}

func TestEnumOptions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("bufpolicy", "ring"))
	v, _ := r.Get("bufpolicy")
	assert.Equal(t, OptVal(0), v)
	require.NoError(t, r.Set("bufpolicy", "switch"))
	v, _ = r.Get("bufpolicy")
	assert.Equal(t, OptVal(2), v)

	err := r.Set("bufpolicy", "circular")
	assert.Equal(t, ErrBadOptVal, errKind(t, err))

	require.NoError(t, r.Set("bufresize", "manual"))
	require.NoError(t, r.Set("evaltime", "main"))
	assert.Equal(t, EvalMain, r.EvalTime)
	require.NoError(t, r.Set("linkmode", "kernel"))
	assert.Equal(t, "kernel", r.LinkMode)
}

func TestCompileTimeContext(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("cpppath", "/x"))
	assert.Equal(t, "/x", r.CppPath)

	r.Compiling = true
	err := r.Set("cpppath", "/y")
	require.Error(t, err)
	assert.Equal(t, ErrBadOptCtx, errKind(t, err))
	assert.Equal(t, "/x", r.CppPath)

	// The path and preprocessor options share the same gate.
	for _, tc := range [][2]string{
		{"ctfpath", "/c"},
		{"ldpath", "/l"},
		{"modpath", "/m"},
		{"define", "DEBUG=1"},
		{"incdir", "/usr/include/foo"},
		{"undef", "NDEBUG"},
	} {
		err := r.Set(tc[0], tc[1])
		require.Error(t, err, "option %q while compiling", tc[0])
		assert.Equal(t, ErrBadOptCtx, errKind(t, err), "option %q", tc[0])
	}
	assert.Empty(t, r.CppArgs)

	r.Compiling = false
	require.NoError(t, r.Set("ctfpath", "/c"))
	assert.Equal(t, "/c", r.CtfPath)
}

func TestRuntimeOptionRejectedWhileActive(t *testing.T) {
	r := NewRegistry()
	r.Active = true

	err := r.Set("bufsize", "4k")
	require.Error(t, err)
	assert.Equal(t, ErrActive, errKind(t, err))

	// Dynamic run-time options stay legal mid-session.
	require.NoError(t, r.Set("quiet", "yes"))
	require.NoError(t, r.Set("switchrate", "100ms"))
}

func TestFlagStyleOptionRejectsArgument(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("verbose", ""))
	assert.NotZero(t, r.CFlags&CFlagDifV)

	err := r.Set("verbose", "yes")
	assert.Equal(t, ErrBadOptVal, errKind(t, err))
}

func TestVersionOption(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("version", "1.2"))
	assert.Equal(t, "1.2", r.Version)

	err := r.Set("version", "banana")
	assert.Equal(t, ErrVersInval, errKind(t, err))

	err = r.Set("version", "9.9")
	assert.Equal(t, ErrVersUndef, errKind(t, err))
}

func TestStrsizeOverflow(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("strsize", "256"))
	v, _ := r.Get("strsize")
	assert.Equal(t, OptVal(256), v)

	err := r.Set("strsize", "5g")
	require.Error(t, err)
	assert.Equal(t, ErrOverflow, errKind(t, err))
	// The stored value is untouched by the failed set.
	v, _ = r.Get("strsize")
	assert.Equal(t, OptVal(256), v)
}

func TestPcapsizeClampAndPad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("pcapsize", "100"))
	v, _ := r.Get("pcapsize")
	assert.Equal(t, OptVal(104), v) // padded up to a multiple of 8

	require.NoError(t, r.Set("pcapsize", "100000"))
	v, _ = r.Get("pcapsize")
	assert.Equal(t, OptVal(65536), v) // out of range, back to the default
}

func TestUnknownOption(t *testing.T) {
	r := NewRegistry()
	err := r.Set("nosuchopt", "1")
	assert.Equal(t, ErrBadOptName, errKind(t, err))

	_, err = r.Get("nosuchopt")
	assert.Equal(t, ErrBadOptName, errKind(t, err))

	// Compile-time options are write-only from the user's view.
	_, err = r.Get("cpppath")
	assert.Equal(t, ErrBadOptName, errKind(t, err))
}

func TestSetEnvFallback(t *testing.T) {
	env := map[string]string{
		"DTRACE_OPT_BUFSIZE": "8k",
		"DTRACE_OPT_QUIET":   "yes",
		"DTRACE_OPT_STRSIZE": "not-a-size", // malformed: silently skipped
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	r := NewRegistry()
	r.SetEnv("", lookup)

	v, _ := r.Get("bufsize")
	assert.Equal(t, OptVal(8192), v)
	v, _ = r.Get("quiet")
	assert.Equal(t, OptVal(1), v)
	v, _ = r.Get("strsize")
	assert.Equal(t, OptUnset, v)
}

func TestSetEnvCustomPrefix(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "MYTOOL_BUFSIZE" {
			return "1m", true
		}
		return "", false
	}
	r := NewRegistry()
	r.SetEnv("MYTOOL_", lookup)
	v, _ := r.Get("bufsize")
	assert.Equal(t, OptVal(1024*1024), v)
}

func TestCppArgsAccumulate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set("define", "DEBUG=1"))
	require.NoError(t, r.Set("incdir", "/usr/include/foo"))
	require.NoError(t, r.Set("undef", "NDEBUG"))
	assert.Equal(t, []string{"-DDEBUG=1", "-I/usr/include/foo", "-UNDEBUG"}, r.CppArgs)
}

func TestUnsetDefaults(t *testing.T) {
	r := NewRegistry()
	v, err := r.Get("aggrate")
	require.NoError(t, err)
	assert.Equal(t, OptUnset, v)
}
