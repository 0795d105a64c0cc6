// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package provider enumerates the probes a tracing session can enable
// and binds loaded BPF programs to their kernel event sources. Each
// probe kind (function boundary, syscall, statically-defined) is one
// Provider. Nothing in this module populates providers at handle init
// or attaches probes on its own: callers run Populate and Attach
// themselves (cmd/dtrace's probes command populates the FBT provider).
package provider

import "fmt"

// Desc names one probe in the traditional four-part form
// provider:module:function:name.
type Desc struct {
	Provider string
	Module   string
	Function string
	Name     string
}

func (d Desc) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", d.Provider, d.Module, d.Function, d.Name)
}

// Registry receives the probes a provider enumerates. The Handle keeps
// no probe table and does not implement it; the caller supplies one
// (cmd/dtrace uses a plain slice of Desc).
type Registry interface {
	AddProbe(d Desc)
}

// Binder is the BPF layer's attach surface: bind the program compiled
// for a section to the kernel event with the given tracefs event id.
type Binder interface {
	BindProgram(section string, eventID int) error
}

// Provider is one probe source. Populate is the only required
// operation; providers whose probes need no kernel event registration
// (the dtrace meta-provider's BEGIN/END) return false from
// ResolveEvent and a nil Attach error for everything.
type Provider interface {
	// Name returns the provider's name as it appears in probe
	// descriptions, e.g. "fbt".
	Name() string

	// Populate enumerates the provider's available probes into reg and
	// reports how many were added.
	Populate(reg Registry) (int, error)

	// ResolveEvent maps a BPF section name (e.g. "kprobe/vfs_read")
	// back to the probe it traces.
	ResolveEvent(section string) (Desc, bool)

	// Attach registers the kernel event backing section and asks the
	// BPF layer to bind the section's program to it.
	Attach(section string, b Binder) error
}
