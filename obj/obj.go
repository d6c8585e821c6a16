// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj parses 32-bit big-endian PowerPC ELF object files
// (EM_PPC, ELFCLASS32, ELFDATA2MSB) into an in-memory representation
// of their sections, defined symbols and relocations.
//
// This is intentionally narrower than a general-purpose object file
// library: the loader this package serves runs on a console with no
// system dynamic linker, and only ever sees objects produced by one
// toolchain targeting one architecture. A multi-format reader would
// dispatch between formats behind a File interface; since this
// package has exactly one format to parse, File is a concrete type
// instead.
package obj

import (
	"github.com/aclements/ppcdl/arch"
	"github.com/pkg/errors"
)

// ElfType constrains what e_type a File must have. The loader expects
// ET_EXEC for the host image and ET_REL for everything dlopen'd.
type ElfType uint16

const (
	TypeRel  ElfType = 1 // ET_REL
	TypeExec ElfType = 2 // ET_EXEC
)

func (t ElfType) String() string {
	switch t {
	case TypeRel:
		return "ET_REL"
	case TypeExec:
		return "ET_EXEC"
	default:
		return "unknown ELF type"
	}
}

// SectionID indexes File.Sections. It skips the reserved ELF section 0
// ("no section"), so the first real section has SectionID 0.
type SectionID int

// NoSection marks a symbol with no associated section (SHN_UNDEF,
// SHN_ABS or SHN_COMMON). Any other special index is rejected when the
// symbol table is loaded.
const NoSection SectionID = -1

// SymID indexes File.Syms.
type SymID int

// NoSym is a placeholder SymID meaning "no symbol".
const NoSym SymID = -1

// A Section is a contiguous region of an object file.
type Section struct {
	Name  string
	ID    SectionID
	RawID int // ELF section header index

	Type  uint32 // sh_type
	Flags uint32 // sh_flags

	Addr      uint64 // sh_addr; 0 in every ET_REL input this loader sees
	Size      uint64 // sh_size
	Offset    uint64 // sh_offset
	Align     uint64 // sh_addralign, already normalized to a power of 2 >= 1
	EntSize   uint64
	LinkIndex uint32 // sh_link, raw
	InfoIndex uint32 // sh_info, raw

	// Base is the runtime address this section was loaded at, filled
	// in by package image. It is 0 until then.
	Base uint32
}

// Allocatable reports whether s occupies memory when loaded (SHF_ALLOC).
func (s *Section) Allocatable() bool { return s.Flags&shfAlloc != 0 }

// Writable reports whether s is writable once loaded (SHF_WRITE).
func (s *Section) Writable() bool { return s.Flags&shfWrite != 0 }

// NoBits reports whether s has no file contents and must be
// zero-filled when loaded (SHT_NOBITS, e.g. .bss/.sbss).
func (s *Section) NoBits() bool { return s.Type == shtNobits }

const (
	shtNull    = 0
	shtProgBits = 1
	shtSymtab  = 2
	shtStrtab  = 3
	shtRela    = 4
	shtNobits  = 8
	shtRel     = 9

	shfWrite = 0x1
	shfAlloc = 0x2
	shfExec  = 0x4
)

// SymBind is an ELF symbol binding (STB_*).
type SymBind uint8

const (
	BindLocal  SymBind = 0
	BindGlobal SymBind = 1
	BindWeak   SymBind = 2
)

// SymType is an ELF symbol type (STT_*).
type SymType uint8

const (
	TypeNoType SymType = 0
	TypeObject SymType = 1
	TypeFunc   SymType = 2
	TypeSection SymType = 3
	TypeFile   SymType = 4
)

// Sym is a defined symbol extracted from a symbol table. Symbols of
// type NOTYPE or FILE, and the index-0 null symbol, are never
// represented here — the extractor (elfsym.go) drops them.
type Sym struct {
	Name    string
	Value   uint32 // st_value, offset within Section
	Size    uint32
	Bind    SymBind
	Type    SymType
	Section SectionID // NoSection if undefined/absolute/common

	// Address is the runtime address of this symbol, filled in by
	// package image. It is 0 and meaningless until then except for
	// absolute symbols, whose Address is their Value from the start.
	Address uint32
}

// FileInfo describes the whole object file.
type FileInfo struct {
	Arch *arch.Arch
	Type ElfType
}

// Errors returned while validating an ELF header. Each check in
// Open fails with a distinct message, checked in the fixed order
// the format design calls for: magic, class, data, version, type,
// machine, version (again, post-ident), shoff bound, ehsize, shstrndx
// bound.
var (
	errBadMagic     = errors.New("invalid ELF magic")
	errBadClass     = errors.New("unsupported ELF class: want ELFCLASS32")
	errBadData      = errors.New("unsupported ELF data encoding: want ELFDATA2MSB")
	errBadIdentVers = errors.New("unsupported ELF ident version")
	errBadType      = errors.New("unexpected ELF type")
	errBadMachine   = errors.New("unsupported machine: want EM_PPC")
	errBadVersion   = errors.New("unsupported ELF version")
	errShoffRange   = errors.New("section header offset beyond end of file")
	errBadEhsize    = errors.New("invalid e_ehsize")
	errBadShstrndx  = errors.New("e_shstrndx out of range")
)

// RoundDown2 rounds x down to a multiple of y, where y must be a power of 2.
func RoundDown2(x, y uint64) uint64 {
	if y&(y-1) != 0 {
		panic("y must be a power of 2")
	}
	return x &^ (y - 1)
}

// RoundUp2 rounds x up to a multiple of y, where y must be a power of 2.
func RoundUp2(x, y uint64) uint64 {
	if y&(y-1) != 0 {
		panic("y must be a power of 2")
	}
	return (x + y - 1) &^ (y - 1)
}
