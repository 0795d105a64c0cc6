// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdt

import "fmt"

// EPID is an enabled-probe ID: the handle the kernel attaches to every
// record it writes, letting the consumer map a record back to the
// DataDesc and ProbeDesc it was compiled against.
type EPID uint32

// ProbeDesc is an opaque probe description borrowed from the provider
// table; the EPID table only stores and returns it, never interprets
// it.
type ProbeDesc interface{}

type epidSlot struct {
	dd    *DataDesc
	probe ProbeDesc
}

// EpidTable assigns and looks up EPIDs, mirroring dt_epid_add and
// dt_epid_lookup. The zero value is ready to use.
type EpidTable struct {
	slots   []epidSlot
	byProbe map[ProbeDesc]EPID
	next    EPID
}

// Add assigns the next EPID to the pair (dd, probe), holding dd for
// the lifetime of the slot, and returns the assigned ID. Successive
// calls densely assign 0, 1, 2, ... so the table never has to be
// sparse: EPID density is what lets a consumer preallocate a
// dispatch array sized to the highest EPID seen so far. Re-adding a
// probe that already has a slot returns its existing EPID; slots are
// immutable once written.
func (t *EpidTable) Add(dd *DataDesc, probe ProbeDesc) EPID {
	if probe != nil {
		if epid, ok := t.byProbe[probe]; ok {
			return epid
		}
	}

	epid := t.next
	t.next++

	if int(epid) >= len(t.slots) {
		newCap := 2
		if c := cap(t.slots); c > 0 {
			newCap = c * 2
		}
		for newCap <= int(epid) {
			newCap *= 2
		}
		ns := make([]epidSlot, len(t.slots), newCap)
		copy(ns, t.slots)
		t.slots = ns[:epid+1]
	} else if int(epid) == len(t.slots) {
		t.slots = append(t.slots, epidSlot{})
	}

	t.slots[epid] = epidSlot{dd: dd.Hold(), probe: probe}
	if probe != nil {
		if t.byProbe == nil {
			t.byProbe = make(map[ProbeDesc]EPID)
		}
		t.byProbe[probe] = epid
	}
	return epid
}

// Lookup returns the DataDesc and ProbeDesc registered for epid, or an
// error if epid is out of range or unpopulated.
func (t *EpidTable) Lookup(epid EPID) (*DataDesc, ProbeDesc, error) {
	if int(epid) >= len(t.slots) || t.slots[epid].dd == nil {
		return nil, nil, fmt.Errorf("rdt: unknown EPID %d", epid)
	}
	s := t.slots[epid]
	return s.dd, s.probe, nil
}

// Destroy releases every DataDesc the table holds and resets it to
// empty, mirroring dt_epid_destroy.
func (t *EpidTable) Destroy() {
	for i := range t.slots {
		if t.slots[i].dd != nil {
			t.slots[i].dd.Release()
		}
	}
	t.slots = nil
	t.byProbe = nil
	t.next = 0
}

// Len reports one past the highest EPID assigned so far.
func (t *EpidTable) Len() int {
	return len(t.slots)
}
