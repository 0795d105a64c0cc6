// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symbol resolves kernel and user addresses to symbolic
// "module`function+offset" strings for the format engine's %a and %A
// conversions. Kernel symbols come from a kallsyms-format table loaded
// once per resolver; user symbols come from per-module ELF/DWARF
// function tables loaded lazily per target process.
package symbol

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
	"github.com/sirupsen/logrus"
)

// ksym is one kallsyms entry. Module is empty for symbols built into
// the kernel image.
type ksym struct {
	addr   uint64
	name   string
	module string
}

// KernelResolver maps kernel text addresses to symbols. The table is
// loaded once and then immutable, so lookups are safe from format
// callbacks without further locking; the load itself is guarded for
// the lazy-load path.
type KernelResolver struct {
	Path string // kallsyms file; defaults to /proc/kallsyms

	once sync.Once
	syms []ksym
	err  error

	Log *logrus.Entry
}

// NewKernelResolver returns a resolver that will read path on first
// use. An empty path means /proc/kallsyms.
func NewKernelResolver(path string) *KernelResolver {
	if path == "" {
		path = "/proc/kallsyms"
	}
	return &KernelResolver{Path: path, Log: logrus.WithField("component", "symbol")}
}

// load parses the kallsyms line grammar: "addr type name [module]",
// keeping only text symbols and sorting by address for binary search.
func (r *KernelResolver) load() {
	f, err := os.Open(r.Path)
	if err != nil {
		r.err = err
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		switch fields[1] {
		case "t", "T", "w", "W":
		default:
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		s := ksym{addr: addr, name: fields[2]}
		if len(fields) >= 4 {
			s.module = strings.Trim(fields[3], "[]")
		}
		r.syms = append(r.syms, s)
	}
	if err := scanner.Err(); err != nil {
		r.err = err
		return
	}
	sort.Slice(r.syms, func(i, j int) bool { return r.syms[i].addr < r.syms[j].addr })
	r.Log.WithField("symbols", len(r.syms)).Debug("kernel symbol table loaded")
}

// ResolveKernel returns "module`symbol+0xoff" for addr, or the bare
// hex address when the table has no covering symbol.
func (r *KernelResolver) ResolveKernel(addr uint64) string {
	r.once.Do(r.load)
	if r.err != nil || len(r.syms) == 0 {
		return fmt.Sprintf("0x%x", addr)
	}

	i := sort.Search(len(r.syms), func(i int) bool { return r.syms[i].addr > addr })
	if i == 0 {
		return fmt.Sprintf("0x%x", addr)
	}
	s := r.syms[i-1]

	name := prettyName(s.name)
	mod := s.module
	if mod == "" {
		mod = "vmlinux"
	}
	if off := addr - s.addr; off != 0 {
		return fmt.Sprintf("%s`%s+0x%x", mod, name, off)
	}
	return fmt.Sprintf("%s`%s", mod, name)
}

// prettyName demangles a mangled C++/Rust symbol name, passing plain C
// names through untouched.
func prettyName(name string) string {
	return demangle.Filter(name)
}
