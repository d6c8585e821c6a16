// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"encoding/binary"

	"golang.org/x/arch/ppc64/ppc64asm"
)

// disasmPPC decodes a run of 32-bit big-endian PowerPC instructions.
// ppc64asm's Book I encodings (branch, fixed-point, load/store) are
// shared with ppc32, which is all the relocation types this loader
// implements ever touch.
func disasmPPC(text []byte, pc uint64) Seq {
	var out ppcSeq
	for len(text) >= 4 {
		inst, err := ppc64asm.Decode(text, binary.BigEndian)
		if err != nil || inst.Op == 0 {
			inst = ppc64asm.Inst{}
		}
		out = append(out, ppcInst{inst, pc})

		const size = 4
		text = text[size:]
		pc += uint64(size)
	}
	return out
}

type ppcSeq []ppcInst

func (s ppcSeq) Len() int {
	return len(s)
}

func (s ppcSeq) Get(i int) Inst {
	return &s[i]
}

type ppcInst struct {
	ppc64asm.Inst
	pc uint64
}

func (i *ppcInst) GoSyntax(symname func(uint64) (string, uint64)) string {
	if i.Op == 0 {
		return "?"
	}
	return ppc64asm.GoSyntax(i.Inst, i.pc, symname)
}

func (i *ppcInst) PC() uint64 {
	return i.pc
}

func (i *ppcInst) Len() int { return 4 }

func (i *ppcInst) Control() Control {
	var c Control
	c.TargetPC = ^uint64(0)

	switch i.Op {
	case ppc64asm.B, ppc64asm.BC, ppc64asm.BCLR:
		c.Type = ControlJump
	case ppc64asm.BL, ppc64asm.BCL, ppc64asm.BCCTRL, ppc64asm.BCLRL:
		c.Type = ControlCall
	}
	if i.Op == ppc64asm.BCLR || i.Op == ppc64asm.BCLRL {
		c.Type = ControlRet
	}

	for _, arg := range i.Args {
		if rel, ok := arg.(ppc64asm.PCRel); ok {
			c.Conditional = i.Op == ppc64asm.BC || i.Op == ppc64asm.BCL
			c.TargetPC = uint64(int64(i.pc) + int64(rel))
		}
	}

	return c
}
