// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// funcRange is one function's address span within its module.
type funcRange struct {
	name          string
	lowpc, highpc uint64
}

// Module is one mapped executable region of a traced process: the
// module's display name, the path to its on-disk ELF image, and the
// base address it is loaded at.
type Module struct {
	Name string
	Path string
	Base uint64

	once    sync.Once
	functab []funcRange
	err     error
}

// table loads and caches the module's function table: DWARF subprogram
// entries when debug info is present, the ELF symbol table otherwise.
func (m *Module) table() []funcRange {
	m.once.Do(func() {
		m.functab, m.err = loadFuncTable(m.Path)
	})
	return m.functab
}

func loadFuncTable(path string) ([]funcRange, error) {
	elff, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symbol: loading ELF file %s: %w", path, err)
	}
	defer elff.Close()

	var out []funcRange
	if elff.Section(".debug_info") != nil {
		if dwarff, err := elff.DWARF(); err == nil {
			out = dwarfFuncTable(dwarff)
		}
	}
	if out == nil {
		out = elfFuncTable(elff)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lowpc < out[j].lowpc })
	return out, nil
}

// dwarfFuncTable walks the DWARF tree collecting subprogram ranges.
func dwarfFuncTable(dwarff *dwarf.Data) []funcRange {
	r := dwarff.Reader()
	out := make([]funcRange, 0)
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
	tag:
		switch ent.Tag {
		case dwarf.TagSubprogram:
			r.SkipChildren()
			name, ok := ent.Val(dwarf.AttrName).(string)
			if !ok {
				break
			}
			lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				break
			}
			var highpc uint64
			switch highpcx := ent.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				highpc = highpcx
			case int64:
				highpc = lowpc + uint64(highpcx)
			default:
				break tag
			}
			out = append(out, funcRange{name, lowpc, highpc})

		case dwarf.TagCompileUnit, dwarf.TagModule, dwarf.TagNamespace:
			break

		default:
			r.SkipChildren()
		}
	}
	return out
}

// elfFuncTable falls back to STT_FUNC entries in the ELF symbol table
// when there is no DWARF to walk.
func elfFuncTable(elff *elf.File) []funcRange {
	syms, err := elff.Symbols()
	if err != nil {
		syms, err = elff.DynamicSymbols()
		if err != nil {
			return nil
		}
	}
	out := make([]funcRange, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		out = append(out, funcRange{s.Name, s.Value, s.Value + s.Size})
	}
	return out
}

// UserResolver maps (tgid, address) pairs to symbols via the module
// maps registered for each traced process.
type UserResolver struct {
	mu      sync.Mutex
	modules map[uint64][]*Module

	Log *logrus.Entry
}

// NewUserResolver returns an empty resolver; AddModule populates it as
// the process-attach machinery discovers mappings.
func NewUserResolver() *UserResolver {
	return &UserResolver{
		modules: make(map[uint64][]*Module),
		Log:     logrus.WithField("component", "symbol"),
	}
}

// AddModule registers one executable mapping of process tgid. Modules
// may be registered in any order; lookup scans for the covering base.
func (r *UserResolver) AddModule(tgid uint64, m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[tgid] = append(r.modules[tgid], m)
	sort.Slice(r.modules[tgid], func(i, j int) bool {
		return r.modules[tgid][i].Base < r.modules[tgid][j].Base
	})
}

// ResolveUser returns "module`symbol+0xoff" for addr within process
// tgid, falling back to the bare hex address when no registered module
// covers it.
func (r *UserResolver) ResolveUser(tgid, addr uint64) string {
	r.mu.Lock()
	mods := r.modules[tgid]
	r.mu.Unlock()

	for i := len(mods) - 1; i >= 0; i-- {
		m := mods[i]
		if addr < m.Base {
			continue
		}
		rel := addr - m.Base
		tab := m.table()
		if m.err != nil {
			r.Log.WithError(m.err).WithField("module", m.Name).Debug("no symbol table")
			break
		}
		j := sort.Search(len(tab), func(j int) bool { return rel < tab[j].highpc })
		if j < len(tab) && tab[j].lowpc <= rel && rel < tab[j].highpc {
			f := tab[j]
			name := prettyName(f.name)
			if off := rel - f.lowpc; off != 0 {
				return fmt.Sprintf("%s`%s+0x%x", m.Name, name, off)
			}
			return fmt.Sprintf("%s`%s", m.Name, name)
		}
		break
	}
	return fmt.Sprintf("0x%x", addr)
}
