// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package provider

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultTracefs is where tracefs is mounted on a stock kernel.
const DefaultTracefs = "/sys/kernel/debug/tracing"

// FBT is the function-boundary provider: one entry and one return
// probe per function the kernel's kprobe machinery can trace, as
// listed by tracefs.
type FBT struct {
	// Tracefs is the tracefs mount point; empty means DefaultTracefs.
	Tracefs string

	Log *logrus.Entry

	// probes indexes the populated probes by function name so
	// ResolveEvent is a map hit, not a rescan.
	probes map[string]Desc
}

// NewFBT returns an FBT provider reading from tracefs, or the default
// mount point if tracefs is empty.
func NewFBT(tracefs string) *FBT {
	if tracefs == "" {
		tracefs = DefaultTracefs
	}
	return &FBT{
		Tracefs: tracefs,
		Log:     logrus.WithField("provider", "fbt"),
		probes:  make(map[string]Desc),
	}
}

// Name implements Provider.
func (p *FBT) Name() string { return "fbt" }

// Populate reads available_filter_functions line by line. Each line is
// "funcname" optionally followed by " [modname]"; functions without a
// module annotation belong to the kernel image itself. Every traceable
// function yields an entry and a return probe.
func (p *FBT) Populate(reg Registry) (int, error) {
	f, err := os.Open(filepath.Join(p.Tracefs, "available_filter_functions"))
	if err != nil {
		return 0, fmt.Errorf("fbt: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		fn := fields[0]
		// Annotated symbols (e.g. "func.cold", "func.isra.0") are not
		// attachable by name; skip them the way the original does.
		if strings.ContainsRune(fn, '.') {
			continue
		}
		mod := "vmlinux"
		if len(fields) >= 2 {
			mod = strings.Trim(fields[1], "[]")
		}

		entry := Desc{Provider: p.Name(), Module: mod, Function: fn, Name: "entry"}
		ret := Desc{Provider: p.Name(), Module: mod, Function: fn, Name: "return"}
		reg.AddProbe(entry)
		reg.AddProbe(ret)
		p.probes[fn] = entry
		n += 2
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("fbt: %w", err)
	}
	p.Log.WithField("probes", n).Debug("populated")
	return n, nil
}

// splitSection breaks a BPF section name into its kprobe flavor and
// function name, e.g. "kretprobe/vfs_read" -> ("kretprobe",
// "vfs_read").
func splitSection(section string) (flavor, fn string, ok bool) {
	i := strings.IndexByte(section, '/')
	if i < 0 {
		return "", "", false
	}
	return section[:i], section[i+1:], true
}

// ResolveEvent maps "kprobe/<fn>" and "kretprobe/<fn>" section names
// back to the populated probe they trace.
func (p *FBT) ResolveEvent(section string) (Desc, bool) {
	flavor, fn, ok := splitSection(section)
	if !ok {
		return Desc{}, false
	}
	entry, found := p.probes[fn]
	if !found {
		return Desc{}, false
	}
	switch flavor {
	case "kprobe":
		return entry, true
	case "kretprobe":
		ret := entry
		ret.Name = "return"
		return ret, true
	}
	return Desc{}, false
}

// Attach registers a kprobe or kretprobe event for section with the
// kernel and binds the section's program to the assigned event id. The
// kprobe_events grammar is "p:<name> <fn>" for entry probes and
// "r:<name> <fn>" for return probes; the kernel then exposes the new
// event's id under events/kprobes/<name>/id.
func (p *FBT) Attach(section string, b Binder) error {
	flavor, fn, ok := splitSection(section)
	if !ok {
		return fmt.Errorf("fbt: malformed section name %q", section)
	}

	var line, event string
	switch flavor {
	case "kprobe":
		event = "dt_" + fn
		line = fmt.Sprintf("p:%s %s\n", event, fn)
	case "kretprobe":
		event = "dt_" + fn + "_ret"
		line = fmt.Sprintf("r:%s %s\n", event, fn)
	default:
		return fmt.Errorf("fbt: unknown section flavor %q", flavor)
	}

	kpev, err := os.OpenFile(filepath.Join(p.Tracefs, "kprobe_events"), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("fbt: %w", err)
	}
	_, werr := kpev.WriteString(line)
	cerr := kpev.Close()
	if werr != nil {
		return fmt.Errorf("fbt: registering %s: %w", event, werr)
	}
	if cerr != nil {
		return fmt.Errorf("fbt: registering %s: %w", event, cerr)
	}

	idBytes, err := os.ReadFile(filepath.Join(p.Tracefs, "events", "kprobes", event, "id"))
	if err != nil {
		return fmt.Errorf("fbt: reading event id for %s: %w", event, err)
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(idBytes)))
	if err != nil {
		return fmt.Errorf("fbt: malformed event id for %s: %w", event, err)
	}

	p.Log.WithFields(logrus.Fields{"event": event, "id": id}).Debug("attached")
	return b.BindProgram(section, id)
}
