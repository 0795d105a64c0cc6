// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtracego/format"
	"dtracego/rdt"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	h, err := NewHandle(nil, "DTRACE_TEST_OPT_")
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func intPlan(t *testing.T, h *Handle, raw string) *format.Plan {
	t.Helper()
	plan, err := format.Compile(h.Dict, raw)
	require.NoError(t, err)
	arg := format.ArgType{Kind: format.KindInteger, Signed: true, SizeBits: 64, TypeName: "long long"}
	require.NoError(t, format.Validate(plan, []format.ArgType{arg}, true, false))
	return plan
}

func int64Record(v uint64) ([]rdt.RecordDesc, []byte) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return []rdt.RecordDesc{{Size: 8, Offset: 0, Align: 8}}, buf
}

func TestHandleSprintf(t *testing.T) {
	h := newTestHandle(t)
	recs, buf := int64Record(7)
	s, err := h.Sprintf(intPlan(t, h, "value=%d"), recs, buf)
	require.NoError(t, err)
	assert.Equal(t, "value=7", s)
}

func TestHandleSprintfTruncatesToStrsize(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.SetOpt("strsize", "4"))
	recs, buf := int64Record(123456)
	s, err := h.Sprintf(intPlan(t, h, "%d"), recs, buf)
	require.NoError(t, err)
	assert.Equal(t, "1234", s)
}

func TestHandleSystem(t *testing.T) {
	h := newTestHandle(t)
	recs, buf := int64Record(9)

	var got string
	err := h.System(func(cmdline string) error {
		got = cmdline
		return nil
	}, intPlan(t, h, "kill -USR1 %d"), recs, buf)
	require.NoError(t, err)
	assert.Equal(t, "kill -USR1 9", got)
}

func TestHandleFreopen(t *testing.T) {
	h := newTestHandle(t)
	orig := h.Sink()

	// Restoring with no prior redirect is a no-op.
	require.NoError(t, h.Freopen(""))
	assert.Equal(t, orig, h.Sink())

	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, h.Freopen(path))
	assert.NotEqual(t, orig, h.Sink())

	_, err := h.Sink().Write([]byte("redirected\n"))
	require.NoError(t, err)

	require.NoError(t, h.Freopen(""))
	assert.Equal(t, orig, h.Sink())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "redirected\n", string(data))
}

func TestHandleFreopenBadPathKeepsSink(t *testing.T) {
	h := newTestHandle(t)
	orig := h.Sink()
	err := h.Freopen(filepath.Join(t.TempDir(), "no", "such", "dir", "f"))
	require.Error(t, err)
	assert.Equal(t, orig, h.Sink())
}

func TestHandleErrnoClassification(t *testing.T) {
	h := newTestHandle(t)
	err := h.SetOpt("bufsize", "-1")
	require.Error(t, err)
	kind, _ := h.Errno()
	assert.Equal(t, ErrBadOptVal, kind)

	require.NoError(t, h.SetOpt("bufsize", "4k"))
	kind, _ = h.Errno()
	assert.Equal(t, ErrNone, kind)
}

func TestHandleWalkErrClassification(t *testing.T) {
	h := newTestHandle(t)
	// A record that straddles the buffer end classifies as ErrOffset.
	plan := intPlan(t, h, "%d")
	recs := []rdt.RecordDesc{{Size: 8, Offset: 16, Align: 8}}
	_, err := h.Sprintf(plan, recs, make([]byte, 8))
	require.Error(t, err)
	kind, _ := h.Errno()
	assert.Equal(t, ErrOffset, kind)
}
