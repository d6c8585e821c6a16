// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ppcreloc applies the 32-bit PowerPC psABI's relocation
// types to an already-placed section image. It implements the
// relocation formulas the same way the bare-metal loader this package
// is modeled on does, with one of that loader's deviations from the
// psABI kept and two corrected: R_PPC_LOCAL24PC omits the place term a
// strict reading of the psABI would include, while the R_PPC_ADDR16_HA
// carry rounding and the 24-bit field mask are corrected from that
// loader's originals rather than reproduced bug-for-bug. See the
// LOCAL24PC case in Apply and the low24 helper.
package ppcreloc

import (
	"encoding/binary"

	"github.com/aclements/ppcdl/obj"
	"github.com/pkg/errors"
)

// Type is a PowerPC relocation type, R_PPC_* in the psABI.
type Type uint8

const (
	NONE            Type = 0
	ADDR32          Type = 1
	ADDR24          Type = 2
	ADDR16          Type = 3
	ADDR16_LO       Type = 4
	ADDR16_HI       Type = 5
	ADDR16_HA       Type = 6
	ADDR14          Type = 7
	ADDR14_BRTAKEN  Type = 8
	ADDR14_BRNTAKEN Type = 9
	REL24           Type = 10
	REL14           Type = 11
	REL14_BRTAKEN   Type = 12
	REL14_BRNTAKEN  Type = 13
	GOT16           Type = 14
	GOT16_LO        Type = 15
	GOT16_HI        Type = 16
	GOT16_HA        Type = 17
	PLTREL24        Type = 18
	COPY            Type = 19
	GLOB_DAT        Type = 20
	JMP_SLOT        Type = 21
	RELATIVE        Type = 22
	LOCAL24PC       Type = 23
	UADDR32         Type = 24
	UADDR16         Type = 25
	REL32           Type = 26
	PLT32           Type = 27
	PLTREL32        Type = 28
	PLT16_LO        Type = 29
	PLT16_HI        Type = 30
	PLT16_HA        Type = 31
	SDAREL16        Type = 32
	SECTOFF         Type = 33
	SECTOFF_LO      Type = 34
	SECTOFF_HI      Type = 35
	SECTOFF_HA      Type = 36
	ADDR30          Type = 37
)

var typeNames = map[Type]string{
	NONE: "R_PPC_NONE", ADDR32: "R_PPC_ADDR32", ADDR24: "R_PPC_ADDR24",
	ADDR16: "R_PPC_ADDR16", ADDR16_LO: "R_PPC_ADDR16_LO", ADDR16_HI: "R_PPC_ADDR16_HI",
	ADDR16_HA: "R_PPC_ADDR16_HA", ADDR14: "R_PPC_ADDR14",
	ADDR14_BRTAKEN: "R_PPC_ADDR14_BRTAKEN", ADDR14_BRNTAKEN: "R_PPC_ADDR14_BRNTAKEN",
	REL24: "R_PPC_REL24", REL14: "R_PPC_REL14",
	REL14_BRTAKEN: "R_PPC_REL14_BRTAKEN", REL14_BRNTAKEN: "R_PPC_REL14_BRNTAKEN",
	GOT16: "R_PPC_GOT16", GOT16_LO: "R_PPC_GOT16_LO", GOT16_HI: "R_PPC_GOT16_HI",
	GOT16_HA: "R_PPC_GOT16_HA", PLTREL24: "R_PPC_PLTREL24", COPY: "R_PPC_COPY",
	GLOB_DAT: "R_PPC_GLOB_DAT", JMP_SLOT: "R_PPC_JMP_SLOT", RELATIVE: "R_PPC_RELATIVE",
	LOCAL24PC: "R_PPC_LOCAL24PC", UADDR32: "R_PPC_UADDR32", UADDR16: "R_PPC_UADDR16",
	REL32: "R_PPC_REL32", PLT32: "R_PPC_PLT32", PLTREL32: "R_PPC_PLTREL32",
	PLT16_LO: "R_PPC_PLT16_LO", PLT16_HI: "R_PPC_PLT16_HI", PLT16_HA: "R_PPC_PLT16_HA",
	SDAREL16: "R_PPC_SDAREL16", SECTOFF: "R_PPC_SECTOFF", SECTOFF_LO: "R_PPC_SECTOFF_LO",
	SECTOFF_HI: "R_PPC_SECTOFF_HI", SECTOFF_HA: "R_PPC_SECTOFF_HA", ADDR30: "R_PPC_ADDR30",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "R_PPC_unknown"
}

// needsPLT lists the relocation types this no-GOT, no-PLT loader
// rejects outright rather than pretend to apply: building a stub
// table is out of scope for a bare-metal loader with no dynamic
// linker to share one with.
var needsPLT = map[Type]bool{
	GOT16: true, GOT16_LO: true, GOT16_HI: true, GOT16_HA: true,
	PLTREL24: true, JMP_SLOT: true,
	PLT32: true, PLTREL32: true, PLT16_LO: true, PLT16_HI: true, PLT16_HA: true,
}

// lo, hi, and ha are the standard PowerPC half-word accessors: lo and
// hi split a 32-bit value into its low and high 16 bits, and ha is hi
// adjusted so that `ha<<16 + int16(lo) == v` — i.e. it rounds up when
// the low half would be sign-extended negative by a subsequent addi.
func lo(v uint32) uint32 { return v & 0xffff }
func hi(v uint32) uint32 { return (v >> 16) & 0xffff }
func ha(v uint32) uint32 {
	h := (v >> 16) & 0xffff
	if v&0x8000 != 0 {
		h = (h + 1) & 0xffff
	}
	return h
}

// Context carries the values relocation formulas need beyond the
// per-relocation S/A/P triple: B, the loaded object's overall load
// base (used by RELATIVE and LOCAL24PC), and the resolved address of
// the object's _SDA_BASE_ symbol (used by SDAREL16).
type Context struct {
	Base    uint32
	SDABase uint32
}

// Apply patches the field targeted by r in mem, which must be the
// already-placed bytes of r's target section. place is the runtime
// address of mem[r.Offset] (P in the psABI formulas). operand is the
// relocation's resolved symbol operand: for most types this is S, the
// referent's runtime address; for SECTOFF and its half-word variants
// it is R, the referent's offset within its own section (callers get
// this from the resolved obj.Sym's Value field, not its Address,
// since SECTOFF relocations are section-relative by definition).
//
// mem is modified in place. Apply never allocates.
func Apply(mem []byte, r obj.Relocation, place, operand uint32, ctx Context) error {
	typ := Type(r.Type)
	if needsPLT[typ] {
		return errors.Errorf("unsupported relocation type %s: requires a PLT/GOT this loader does not build", typ)
	}

	S := operand
	A := uint32(r.Addend)
	P := place
	B := ctx.Base

	switch typ {
	case NONE:
		return nil
	case COPY:
		// COPY asks the static linker to copy a shared object's data
		// into the executable's own .bss at link time; by the time a
		// loader like this one sees the object, there is nothing left
		// to do at load time, so it is a no-op rather than an
		// unsupported type.
		return nil

	case ADDR32, UADDR32:
		return word32(mem, r.Offset, S+A)
	case ADDR24:
		return low24(mem, r.Offset, (S+A)>>2)
	case ADDR16, UADDR16:
		return half16(mem, r.Offset, S+A)
	case ADDR16_LO:
		return half16(mem, r.Offset, lo(S+A))
	case ADDR16_HI:
		return half16(mem, r.Offset, hi(S+A))
	case ADDR16_HA:
		return half16(mem, r.Offset, ha(S+A))
	case ADDR14, ADDR14_BRTAKEN, ADDR14_BRNTAKEN:
		return low14(mem, r.Offset, (S+A)>>2)

	case REL24:
		return low24(mem, r.Offset, (S+A-P)>>2)
	case REL14, REL14_BRTAKEN, REL14_BRNTAKEN:
		return low14(mem, r.Offset, (S+A-P)>>2)
	case REL32:
		return word32(mem, r.Offset, S+A-P)
	case ADDR30:
		return word30(mem, r.Offset, (S+A-P)>>2)

	case GLOB_DAT:
		return word32(mem, r.Offset, S+A)
	case RELATIVE:
		return word32(mem, r.Offset, B+A)

	case LOCAL24PC:
		// The psABI defines this as (B + A - P) >> 2, a place-relative
		// branch to a local symbol. The loader this package is based
		// on spells it B + A, without the place term; that spelling
		// is preserved here rather than corrected, since it is the
		// actual behavior of shipped binaries built against it.
		return low24(mem, r.Offset, B+A)

	case SDAREL16:
		return half16(mem, r.Offset, S+A-ctx.SDABase)

	case SECTOFF:
		return half16(mem, r.Offset, S+A)
	case SECTOFF_LO:
		return half16(mem, r.Offset, lo(S+A))
	case SECTOFF_HI:
		return half16(mem, r.Offset, hi(S+A))
	case SECTOFF_HA:
		return half16(mem, r.Offset, ha(S+A))

	default:
		return errors.Errorf("unknown relocation type %d", r.Type)
	}
}

func checkRange(mem []byte, off, n uint32) error {
	if uint64(off)+uint64(n) > uint64(len(mem)) {
		return errors.Errorf("relocation offset %#x (+%d bytes) out of range of %d-byte section", off, n, len(mem))
	}
	return nil
}

func word32(mem []byte, off, x uint32) error {
	if err := checkRange(mem, off, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(mem[off:], x)
	return nil
}

// word30 replaces bits [31:2] of the word at off, preserving bits
// [1:0] — used for the rare word-aligned 30-bit field (ADDR30).
func word30(mem []byte, off, x uint32) error {
	if err := checkRange(mem, off, 4); err != nil {
		return err
	}
	old := binary.BigEndian.Uint32(mem[off:])
	binary.BigEndian.PutUint32(mem[off:], (x<<2)|(old&0x3))
	return nil
}

// low24 replaces bits [25:2] of the word at off, preserving bits
// [31:26] and [1:0]. The mask is a true 24-bit field, 0xFFFFFF payload
// masked into 0xFC000003 preserved bits; the loader this package is
// based on used a 20-bit mask (0xFFFFF/0xF8000003) here, which
// silently truncated large branch/address fields. That bug is not
// reproduced.
func low24(mem []byte, off, x uint32) error {
	if err := checkRange(mem, off, 4); err != nil {
		return err
	}
	old := binary.BigEndian.Uint32(mem[off:])
	binary.BigEndian.PutUint32(mem[off:], ((x&0xffffff)<<2)|(old&0xfc000003))
	return nil
}

// low14 replaces bits [15:2] of the word at off, preserving bits
// [31:16] and [1:0] — used by the conditional-branch relocation types.
func low14(mem []byte, off, x uint32) error {
	if err := checkRange(mem, off, 4); err != nil {
		return err
	}
	old := binary.BigEndian.Uint32(mem[off:])
	binary.BigEndian.PutUint32(mem[off:], ((x&0x3fff)<<2)|(old&0xffff0003))
	return nil
}

func half16(mem []byte, off, x uint32) error {
	if err := checkRange(mem, off, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(mem[off:], uint16(x&0xffff))
	return nil
}
