// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfring

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// EventHandler receives one decoded probe record: the CPU it came
// from, the EPID the kernel program stamped on it, and the raw record
// bytes laid out per that EPID's data description.
type EventHandler func(cpu int, epid uint32, data []byte) error

// Consumer owns one ring per online CPU plus the epoll set used to
// wait for any of them to have data. It is the event transport the
// session controller's work loop drains.
type Consumer struct {
	rings  []*Ring
	epfd   int
	events []unix.EpollEvent
	byFD   map[int]*Ring

	Log *logrus.Entry
}

// NewConsumer returns a Consumer with no rings yet; Init allocates
// them.
func NewConsumer() *Consumer {
	return &Consumer{
		epfd: -1,
		byFD: make(map[int]*Ring),
		Log:  logrus.WithField("component", "perfring"),
	}
}

// Init allocates one ring of bufsize bytes per online CPU and
// registers each with a fresh epoll set, the Go counterpart of
// dt_pebs_init. CPUs that are offline (perf_event_open says ENODEV)
// are skipped.
func (c *Consumer) Init(bufsize uint64) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("perfring: epoll_create1: %w", err)
	}
	c.epfd = epfd

	ncpu := numPossibleCPUs()
	for cpu := 0; cpu < ncpu; cpu++ {
		r, err := NewRing(cpu, bufsize)
		if errors.Is(err, unix.ENODEV) {
			continue
		}
		if err != nil {
			c.Close()
			return err
		}
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.FD())}
		if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, r.FD(), &ev); err != nil {
			r.Close()
			c.Close()
			return fmt.Errorf("perfring: epoll_ctl CPU %d: %w", cpu, err)
		}
		c.rings = append(c.rings, r)
		c.byFD[r.FD()] = r
	}
	if len(c.rings) == 0 {
		return fmt.Errorf("perfring: no online CPUs")
	}

	c.events = make([]unix.EpollEvent, len(c.rings))
	c.Log.WithField("cpus", len(c.rings)).Debug("event rings allocated")
	return nil
}

// numPossibleCPUs reports the number of CPUs rings should cover. The
// kernel writes per-CPU, so this must cover every possible CPU, not
// just the ones currently schedulable. The count comes from the sysfs
// possible-CPU list (e.g. "0-7"), whose last number is the highest CPU;
// the affinity mask's size is the fallback when that list is unreadable.
func numPossibleCPUs() int {
	if b, err := os.ReadFile("/sys/devices/system/cpu/possible"); err == nil {
		s := strings.TrimSpace(string(b))
		if i := strings.LastIndexAny(s, "-,"); i >= 0 {
			s = s[i+1:]
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n + 1
		}
	}
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 1
	}
	n := set.Count()
	if n < 1 {
		return 1
	}
	return n
}

// Drain runs one consume pass: wait up to timeoutMS for any ring to
// become readable, then fully drain every readable ring in turn,
// delivering each sample to fn. Within one ring, records arrive in
// enqueue order; across rings, order is only by this pass's iteration.
// A zero timeout polls without blocking.
func (c *Consumer) Drain(timeoutMS int, fn EventHandler) error {
	n, err := unix.EpollWait(c.epfd, c.events, timeoutMS)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return fmt.Errorf("perfring: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		r, ok := c.byFD[int(c.events[i].Fd)]
		if !ok {
			continue
		}
		if err := r.Consume(func(sample []byte) error {
			return c.deliver(r.CPU, sample, fn)
		}); err != nil {
			return err
		}
	}
	return nil
}

// deliver unpacks one PERF_RECORD_SAMPLE payload: a 32-bit length, a
// 32-bit pad, then the user record whose first word is the EPID. Short
// or inconsistent samples are dropped with a warning rather than
// killing the session.
func (c *Consumer) deliver(cpu int, sample []byte, fn EventHandler) error {
	d := bufDecoder{buf: sample}
	if d.remaining() < 8 {
		c.Log.WithField("cpu", cpu).Warn("short sample header, dropping record")
		return nil
	}
	size := d.u32()
	d.skip(4)
	if int(size) > d.remaining() {
		c.Log.WithFields(logrus.Fields{"cpu": cpu, "size": size}).Warn("sample length exceeds record, dropping")
		return nil
	}
	data := d.bytes(int(size))
	if len(data) < 8 {
		c.Log.WithField("cpu", cpu).Warn("record too short for an EPID header, dropping")
		return nil
	}
	// The record opens with its EPID and four bytes of padding so the
	// compiled record data that follows starts 8-byte aligned.
	ed := bufDecoder{buf: data}
	epid := ed.u32()
	ed.skip(4)
	return fn(cpu, epid, ed.buf)
}

// TotalLost sums the lost-record counters across every ring, for the
// session's final drop report.
func (c *Consumer) TotalLost() uint64 {
	var total uint64
	for _, r := range c.rings {
		total += r.Lost
	}
	return total
}

// Close tears down the epoll set and every ring.
func (c *Consumer) Close() error {
	var first error
	for _, r := range c.rings {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.rings = nil
	c.byFD = map[int]*Ring{}
	if c.epfd >= 0 {
		unix.Close(c.epfd)
		c.epfd = -1
	}
	return first
}
