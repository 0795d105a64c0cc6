// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"

	"dtracego/agg"
	"dtracego/format"
	"dtracego/rdt"
)

// defaultStrSize is the fallback scratch-buffer size Sprintf uses when
// the strsize option was never set, matching the original's 256-byte
// default for the D string type.
const defaultStrSize = 256

// Handle is the process-wide state for one tracing session: the option
// registry, the EPID and aggregation descriptor tables, the printf
// dictionary, the output sink, and the last classified error. It is
// the Go counterpart of dtrace_hdl_t. A Handle is single-threaded by
// contract: two goroutines sharing one Handle is undefined behaviour,
// two goroutines with separate Handles are independent.
type Handle struct {
	Opts  *Registry
	Epids rdt.EpidTable
	Aggs  *agg.Table
	Dict  *format.Dictionary
	Fmt   *format.Engine
	Log   *logrus.Logger

	errKind ErrKind
	errMsg  string

	// sink is where formatted output goes; savedSink stashes the
	// original so Freopen("") can restore it, mirroring dt_stdout_fd.
	sink      io.Writer
	sinkFile  *os.File
	savedSink *os.File

	scratch []byte
}

// NewHandle builds a Handle: a fresh option registry with the
// environment fallback applied, the printf dictionary, and stdout as
// the initial sink. The envPrefix defaults to "DTRACE_OPT_" when
// empty, matching dtrace_setoptenv.
func NewHandle(log *logrus.Logger, envPrefix string) (*Handle, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dict, err := format.NewDictionary()
	if err != nil {
		return nil, errorf(ErrNoConv, "printf dictionary: %v", err)
	}

	h := &Handle{
		Opts: NewRegistry(),
		Dict: dict,
		Fmt:  &format.Engine{},
		Aggs: agg.NewTable(uint32(runtime.NumCPU())),
		Log:  log,
		sink: os.Stdout,
	}
	h.sinkFile = os.Stdout
	h.Opts.SetEnv(envPrefix, os.LookupEnv)
	return h, nil
}

// Errno returns the last classified error kind set on the handle, and
// its extended message if one was recorded.
func (h *Handle) Errno() (ErrKind, string) {
	return h.errKind, h.errMsg
}

// setErr classifies err onto the handle and passes it through, the Go
// counterpart of dt_set_errno: every public entry point funnels its
// failures here so callers can switch on Errno afterwards.
func (h *Handle) setErr(err error) error {
	if err == nil {
		h.errKind, h.errMsg = ErrNone, ""
		return nil
	}
	if e, ok := err.(*Error); ok {
		h.errKind, h.errMsg = e.Kind, e.Msg
	} else {
		h.errKind, h.errMsg = ErrInval, err.Error()
	}
	return err
}

// SetOpt sets the named option, recording any failure kind on the
// handle.
func (h *Handle) SetOpt(name, arg string) error {
	return h.setErr(h.Opts.Set(name, arg))
}

// GetOpt returns the named run-time or dynamic run-time option's
// current value.
func (h *Handle) GetOpt(name string) (OptVal, error) {
	v, err := h.Opts.Get(name)
	if err != nil {
		return v, h.setErr(err)
	}
	return v, nil
}

// Sink returns the handle's current output sink.
func (h *Handle) Sink() io.Writer { return h.sink }

// strSize returns the configured strsize, falling back to the default
// when unset.
func (h *Handle) strSize() int {
	if v, err := h.Opts.Get("strsize"); err == nil && v > 0 {
		return int(v)
	}
	return defaultStrSize
}

// Sprintf walks plan against recs/buf into the handle-owned scratch
// buffer and returns the result as a string, truncated to strsize the
// way dt_sprintf formats into dt_sprintf_buf. The scratch buffer is
// reused across calls; the returned string is a copy.
func (h *Handle) Sprintf(plan *format.Plan, recs []rdt.RecordDesc, buf []byte) (string, error) {
	max := h.strSize()
	if cap(h.scratch) < max {
		h.scratch = make([]byte, 0, max)
	}
	out := bytes.NewBuffer(h.scratch[:0])
	if _, err := h.Fmt.Walk(plan, recs, buf, nil, out); err != nil {
		return "", h.setErr(classifyWalkErr(err))
	}
	s := out.String()
	if len(s) > max {
		s = s[:max]
	}
	return s, nil
}

// System formats plan the way Sprintf does, then hands the resulting
// command line to exec, the process's command executor, mirroring
// dt_system's format-then-system sequence. The executor runs
// synchronously; its failure is reported but does not end the session.
func (h *Handle) System(exec func(cmdline string) error, plan *format.Plan, recs []rdt.RecordDesc, buf []byte) error {
	cmdline, err := h.Sprintf(plan, recs, buf)
	if err != nil {
		return err
	}
	if exec == nil {
		return h.setErr(errorf(ErrInval, "system: no command executor configured"))
	}
	if err := exec(cmdline); err != nil {
		return h.setErr(errorf(ErrInval, "system: %v", err))
	}
	return nil
}

// Freopen rebinds the handle's output sink. An empty path restores the
// original sink stashed by the first successful Freopen; if no Freopen
// has happened yet this is a no-op. Any other path is first opened as
// a regular file, and only on success does the sink switch over, so a
// failed open never destroys the current sink.
func (h *Handle) Freopen(path string) error {
	if path == "" {
		if h.savedSink == nil {
			return nil
		}
		if h.sinkFile != nil && h.sinkFile != h.savedSink {
			h.sinkFile.Close()
		}
		h.sink = h.savedSink
		h.sinkFile = h.savedSink
		h.savedSink = nil
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return h.setErr(errorf(ErrInval, "freopen %s: %v", path, err))
	}
	if h.savedSink == nil {
		h.savedSink = h.sinkFile
	} else if h.sinkFile != nil && h.sinkFile != h.savedSink {
		h.sinkFile.Close()
	}
	h.sink = f
	h.sinkFile = f
	return nil
}

// Close tears the handle down: restores and closes any redirected
// sink, releases every descriptor table, and discards the scratch
// buffer. The Handle must not be used afterwards.
func (h *Handle) Close() error {
	if h.savedSink != nil {
		if err := h.Freopen(""); err != nil {
			return err
		}
	}
	h.Epids.Destroy()
	if h.Aggs != nil {
		h.Aggs.Destroy()
		h.Aggs = nil
	}
	h.scratch = nil
	return nil
}

// classifyWalkErr maps the format engine's sentinel errors onto the
// handle's error taxonomy.
func classifyWalkErr(err error) error {
	switch err {
	case format.ErrOffset:
		return errorf(ErrOffset, "record straddles buffer end")
	case format.ErrAlign:
		return errorf(ErrAlign, "misaligned record")
	case format.ErrMismatch:
		return errorf(ErrMismatch, "record size mismatch")
	}
	return &Error{Kind: ErrInval, Msg: fmt.Sprint(err)}
}
