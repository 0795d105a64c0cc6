// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct{ activity Activity }

func (s *fakeState) GetActivity() Activity  { return s.activity }
func (s *fakeState) SetActivity(a Activity) { s.activity = a }

type fakeHooks struct{ begins, ends int }

func (h *fakeHooks) Begin() { h.begins++ }
func (h *fakeHooks) End()   { h.ends++ }

type fakeConsumer struct {
	passes int
	err    error
}

func (c *fakeConsumer) Consume(w io.Writer, probeFn ProbeCallback, recFn RecordCallback, arg interface{}) error {
	c.passes++
	return c.err
}

type fakeLoader struct{ maps, progs int }

func (l *fakeLoader) CreateGlobalMaps() error          { l.maps++; return nil }
func (l *fakeLoader) LoadPrograms(cflags CFlags) error { l.progs++; return nil }

func newTestSession(t *testing.T) (*Session, *fakeState, *fakeHooks, *fakeConsumer) {
	t.Helper()
	opts := NewRegistry()
	require.NoError(t, opts.Set("bufsize", "4k"))

	state := &fakeState{activity: ActivityInactive}
	hooks := &fakeHooks{}
	consumer := &fakeConsumer{}

	s := NewSession(opts)
	s.State = state
	s.Probe = hooks
	s.Consume = consumer
	return s, state, hooks, consumer
}

func TestSessionLifecycle(t *testing.T) {
	s, state, hooks, consumer := newTestSession(t)

	assert.Equal(t, StatusNone, s.Status())

	require.NoError(t, s.Go(0))
	state.activity = ActivityActive
	assert.Equal(t, 1, hooks.begins)
	assert.Equal(t, StatusOkay, s.Status())

	st, err := s.Work(io.Discard, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkOkay, st)
	assert.Equal(t, 1, consumer.passes)

	// The kernel signals the workload exited: the next status query
	// reports EXITED and implicitly stops the session.
	state.activity = ActivityDraining
	assert.Equal(t, StatusExited, s.Status())
	assert.Equal(t, 1, hooks.ends)
	assert.Equal(t, StatusStopped, s.Status())

	// A second stop is a silent no-op.
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, hooks.ends)
}

func TestSessionGoTwice(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	require.NoError(t, s.Go(0))
	err := s.Go(0)
	require.Error(t, err)
	assert.Equal(t, ErrInval, errKind(t, err))
}

func TestSessionGoBufTooSmall(t *testing.T) {
	opts := NewRegistry()
	require.NoError(t, opts.Set("bufsize", "8"))
	s := NewSession(opts)
	s.MaxRecLen = 64

	err := s.Go(0)
	require.Error(t, err)
	assert.Equal(t, ErrBufTooSmall, errKind(t, err))
}

func TestSessionGoLoadsPrograms(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	loader := &fakeLoader{}
	s.BPF = loader
	require.NoError(t, s.Go(0))
	assert.Equal(t, 1, loader.maps)
	assert.Equal(t, 1, loader.progs)
}

func TestSessionBeginExitPromotedToDraining(t *testing.T) {
	s, state, _, _ := newTestSession(t)
	// An exit() action during BEGIN processing drives activity all the
	// way to STOPPED before Go returns; a drain cycle must still run.
	state.activity = ActivityStopped
	require.NoError(t, s.Go(0))

	st, err := s.Work(io.Discard, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkDone, st)
}

func TestSessionWorkAfterStop(t *testing.T) {
	s, state, _, consumer := newTestSession(t)
	require.NoError(t, s.Go(0))
	state.activity = ActivityActive
	require.NoError(t, s.Stop())

	// Work still drains buffered records after stop, reporting DONE.
	st, err := s.Work(io.Discard, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkDone, st)
	assert.Equal(t, 1, consumer.passes)
}

func TestSessionWorkConsumerError(t *testing.T) {
	s, state, _, consumer := newTestSession(t)
	require.NoError(t, s.Go(0))
	state.activity = ActivityActive
	consumer.err = errorf(ErrInval, "transport broke")

	st, err := s.Work(io.Discard, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, WorkError, st)

	// The session is still alive; the caller may stop it cleanly.
	require.NoError(t, s.Stop())
	assert.Equal(t, StatusStopped, s.Status())
}
