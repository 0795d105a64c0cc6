// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKallsyms(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kallsyms")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestResolveKernel(t *testing.T) {
	path := writeKallsyms(t, ""+
		"ffffffff81000000 T _text\n"+
		"ffffffff81001000 T vfs_read\n"+
		"ffffffff81002000 t vfs_write\n"+
		"ffffffff81003000 d some_data\n"+
		"ffffffffc0000000 T nf_hook [nf_tables]\n")

	r := NewKernelResolver(path)
	assert.Equal(t, "vmlinux`vfs_read", r.ResolveKernel(0xffffffff81001000))
	assert.Equal(t, "vmlinux`vfs_read+0x10", r.ResolveKernel(0xffffffff81001010))
	assert.Equal(t, "vmlinux`vfs_write", r.ResolveKernel(0xffffffff81002000))
	assert.Equal(t, "nf_tables`nf_hook+0x8", r.ResolveKernel(0xffffffffc0000008))

	// Data symbols are not in the table; an address below every text
	// symbol falls back to hex.
	assert.Equal(t, "0x1000", r.ResolveKernel(0x1000))
}

func TestResolveKernelMissingTable(t *testing.T) {
	r := NewKernelResolver(filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, "0xdeadbeef", r.ResolveKernel(0xdeadbeef))
}

func TestResolveUserNoModules(t *testing.T) {
	r := NewUserResolver()
	assert.Equal(t, "0x400123", r.ResolveUser(1234, 0x400123))
}

func TestResolveUserUnreadableModule(t *testing.T) {
	r := NewUserResolver()
	r.AddModule(1234, &Module{
		Name: "libfoo.so",
		Path: filepath.Join(t.TempDir(), "libfoo.so"),
		Base: 0x7f0000000000,
	})
	// The module covers the address but its image is unreadable, so
	// resolution falls back to hex instead of failing.
	assert.Equal(t, "0x7f0000000100", r.ResolveUser(1234, 0x7f0000000100))
}

func TestPrettyNameDemangles(t *testing.T) {
	assert.Equal(t, "vfs_read", prettyName("vfs_read"))
	assert.Equal(t, "ns::fn()", prettyName("_ZN2ns2fnEv"))
}
