// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perfring consumes the per-CPU perf event ring buffers a
// loaded BPF trace program writes its records into. Each ring is an
// mmap'd perf buffer whose data pages carry perf_event_header-framed
// records; the user payload of a sample record is a 32-bit length, a
// 32-bit pad, then the probe's compiled record bytes.
package perfring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// HeaderSize is sizeof(struct perf_event_header): a 32-bit record
// type, a 16-bit misc word and a 16-bit total record size.
const HeaderSize = 8

// perf record types this package interprets; everything else in the
// ring is skipped by its header's size field.
const (
	recordLost   = 2 // PERF_RECORD_LOST
	recordSample = 9 // PERF_RECORD_SAMPLE
)

// Ring is one CPU's mmap'd perf event buffer. The kernel produces into
// it concurrently; Consume drains it from the single consumer thread,
// matching the one-reader contract of the perf mmap protocol.
type Ring struct {
	CPU int

	fd   int
	mmap []byte
	data []byte // the 2^n data pages after the metadata page

	// Lost counts records the kernel dropped because the ring was
	// full, accumulated from PERF_RECORD_LOST entries.
	Lost uint64
}

// pageSize is the mmap granularity; the metadata page is one of these
// and the data area is a power-of-two multiple.
var pageSize = unix.Getpagesize()

// roundRingSize rounds bufsize up to the next power-of-two multiple of
// the page size, the shape the perf mmap protocol requires.
func roundRingSize(bufsize uint64) int {
	pages := (int(bufsize) + pageSize - 1) / pageSize
	n := 1
	for n < pages {
		n *= 2
	}
	return n * pageSize
}

// NewRing opens a PERF_COUNT_SW_BPF_OUTPUT event on cpu and maps a
// ring of at least bufsize data bytes over it. The returned ring's fd
// is ready to register with an epoll set.
func NewRing(cpu int, bufsize uint64) (*Ring, error) {
	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_SOFTWARE,
		Config:      unix.PERF_COUNT_SW_BPF_OUTPUT,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample_type: unix.PERF_SAMPLE_RAW,
		Sample:      1,
		Wakeup:      1,
	}
	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("perfring: perf_event_open on CPU %d: %w", cpu, err)
	}

	dataSize := roundRingSize(bufsize)
	mmap, err := unix.Mmap(fd, 0, pageSize+dataSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("perfring: mmap ring on CPU %d: %w", cpu, err)
	}

	r := &Ring{CPU: cpu, fd: fd, mmap: mmap, data: mmap[pageSize:]}
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		r.Close()
		return nil, fmt.Errorf("perfring: enable ring on CPU %d: %w", cpu, err)
	}
	return r, nil
}

// FD returns the ring's perf event descriptor for epoll registration.
func (r *Ring) FD() int { return r.fd }

// metaHead and metaTail give typed access to the head/tail words of the
// metadata page.
// The layout offsets are fixed by the perf_event_mmap_page ABI.
func (r *Ring) metaHead() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mmap[1024]))
}

func (r *Ring) metaTail() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mmap[1032]))
}

// Consume drains every complete record currently in the ring, calling
// fn once per PERF_RECORD_SAMPLE with the record's raw sample bytes
// (the 32-bit length word onward). Records are delivered in enqueue
// order. Lost-record entries bump r.Lost instead of reaching fn. The
// tail is published back to the kernel only after fn returns, so an
// error from fn leaves the failed record unconsumed.
func (r *Ring) Consume(fn func(sample []byte) error) error {
	head := atomic.LoadUint64(r.metaHead())
	tail := atomic.LoadUint64(r.metaTail())
	size := uint64(len(r.data))

	for tail < head {
		rec := r.load(tail%size, HeaderSize)
		d := bufDecoder{buf: rec}
		typ := d.u32()
		d.u16() // misc
		recSize := d.u16()
		if recSize < HeaderSize {
			return fmt.Errorf("perfring: CPU %d ring corrupt: record size %d", r.CPU, recSize)
		}

		body := r.load((tail+HeaderSize)%size, int(recSize)-HeaderSize)
		switch typ {
		case recordSample:
			if err := fn(body); err != nil {
				return err
			}
		case recordLost:
			ld := bufDecoder{buf: body}
			ld.u64() // id
			r.Lost += ld.u64()
		}

		tail += uint64(recSize)
		atomic.StoreUint64(r.metaTail(), tail)
	}
	return nil
}

// load returns n bytes starting at ring offset off, copying only when
// the record wraps the end of the data area.
func (r *Ring) load(off uint64, n int) []byte {
	if int(off)+n <= len(r.data) {
		return r.data[off : int(off)+n]
	}
	out := make([]byte, n)
	k := copy(out, r.data[off:])
	copy(out[k:], r.data)
	return out
}

// Close unmaps and closes the ring.
func (r *Ring) Close() error {
	var err error
	if r.mmap != nil {
		err = unix.Munmap(r.mmap)
		r.mmap = nil
		r.data = nil
	}
	if r.fd >= 0 {
		unix.Close(r.fd)
		r.fd = -1
	}
	return err
}
