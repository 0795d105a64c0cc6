// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtracego

import (
	"io"

	"dtracego/format"
	"dtracego/perfring"
	"dtracego/rdt"
)

// RingConsumer adapts the perfring transport onto the session's
// Consume interface: each drained record is mapped through the EPID
// table to its data description, and every record slot carrying a
// compiled format plan is walked through the handle's format engine.
// It is the Go counterpart of dt_consume's per-record dispatch loop.
type RingConsumer struct {
	Handle *Handle
	Ring   *perfring.Consumer

	// TimeoutMS bounds one drain pass's wait; the work loop's cadence
	// comes from the caller, not from blocking here indefinitely.
	TimeoutMS int
}

// Init implements the session's EventRing by sizing the per-CPU rings.
func (c *RingConsumer) Init(bufsize uint64) error {
	return c.Ring.Init(bufsize)
}

// Consume drains one pass of the event rings, formatting each record
// through its plan and delivering the callbacks in kernel enqueue
// order per CPU.
func (c *RingConsumer) Consume(w io.Writer, probeFn ProbeCallback, recFn RecordCallback, arg interface{}) error {
	return c.Ring.Drain(c.TimeoutMS, func(cpu int, epid uint32, data []byte) error {
		if probeFn != nil {
			if err := probeFn(epid, arg); err != nil {
				return err
			}
		}

		dd, _, err := c.Handle.Epids.Lookup(rdt.EPID(epid))
		if err != nil {
			// A record for an EPID we never compiled means the kernel
			// and user sides disagree; drop it loudly rather than
			// aborting the whole session.
			c.Handle.Log.WithField("epid", epid).Warn("record for unknown EPID, dropping")
			return nil
		}

		recs := dd.Records()
		for i := 0; i < len(recs); {
			plan, ok := recs[i].Format.(*format.Plan)
			if !ok || plan == nil {
				i++
				continue
			}
			n, err := c.Handle.Fmt.Walk(plan, recs[i:], data, nil, w)
			if err != nil {
				return c.Handle.setErr(classifyWalkErr(err))
			}
			if n < 1 {
				n = 1
			}
			i += n
		}

		if recFn != nil {
			return recFn(data, arg)
		}
		return nil
	})
}

// LostReporter exposes the transport's drop counters as the session's
// final status handler, the role dt_handle_status's drop report plays
// at stop time.
type LostReporter struct {
	H    *Handle
	Ring *perfring.Consumer
}

// Handle implements StatusHandler.
func (r *LostReporter) Handle() error {
	if lost := r.Ring.TotalLost(); lost > 0 {
		r.H.Log.WithField("records", lost).Warn("records dropped by the kernel")
	}
	return nil
}
