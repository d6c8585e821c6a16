// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"testing"

	"github.com/aclements/ppcdl/arch"
)

func TestDisasmUnsupportedArch(t *testing.T) {
	fake := &arch.Arch{GoArch: "amd64"}
	if _, err := Disasm(fake, nil, 0); err == nil {
		t.Fatalf("Disasm succeeded for a non-PowerPC architecture")
	}
}

func TestDisasmPPC(t *testing.T) {
	// 4e 80 00 20 = blr
	text := []byte{0x4e, 0x80, 0x00, 0x20}
	seq, err := Disasm(arch.PPC, text, 0x1000)
	if err != nil {
		t.Fatalf("Disasm: %v", err)
	}
	if seq.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", seq.Len())
	}
	inst := seq.Get(0)
	if inst.PC() != 0x1000 {
		t.Errorf("PC() = %#x, want %#x", inst.PC(), 0x1000)
	}
	if inst.Len() != 4 {
		t.Errorf("Len() = %d, want 4", inst.Len())
	}
	if c := inst.Control(); c.Type != ControlRet {
		t.Errorf("Control().Type = %v, want ControlRet", c.Type)
	}
}
