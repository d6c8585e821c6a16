// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlfcn

import (
	"strings"

	"github.com/aclements/ppcdl/arch"
	"github.com/aclements/ppcdl/asm"
	"github.com/aclements/ppcdl/obj"
	"github.com/pkg/errors"
)

// Disassemble renders the instructions of the symbol name (local or
// not) in h as Go assembler syntax, one instruction per line. It is a
// debugging aid for confirming that Dlopen patched the expected
// instruction — spec.md's Non-goals exclude PLT/GOT construction and
// lazy binding, not diagnosing what actually got written.
func Disassemble(h Handle, name string) (string, error) {
	if h.obj == nil {
		return "", errors.New("dlfcn: disassemble called with an invalid handle")
	}
	sym, ok := h.obj.table.LookupLocal(name)
	if !ok {
		return "", errors.Errorf("dlfcn: undefined symbol %q", name)
	}
	if sym.Section == obj.NoSection {
		return "", errors.Errorf("dlfcn: %q has no defined section", name)
	}
	mem := h.obj.image.Mem(sym.Section)
	if mem == nil {
		return "", errors.Errorf("dlfcn: %q is not in an allocatable section", name)
	}

	size := sym.Size
	base := h.obj.image.Base(sym.Section)
	off := sym.Address - base
	if size == 0 || uint64(off)+uint64(size) > uint64(len(mem)) {
		size = uint32(len(mem)) - off
	}
	text := mem[off : off+size]

	seq, err := asm.Disasm(arch.PPC, text, uint64(sym.Address))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	symname := func(addr uint64) (string, uint64) {
		for _, s := range h.obj.table.Syms() {
			if uint64(s.Address) == addr {
				return s.Name, addr
			}
		}
		return "", 0
	}
	for i := 0; i < seq.Len(); i++ {
		inst := seq.Get(i)
		b.WriteString(inst.GoSyntax(symname))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
