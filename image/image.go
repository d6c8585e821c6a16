// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image places the allocatable sections of a relocatable
// object into memory and fixes up defined symbol addresses to match,
// the way a conventional linker's loader segment does. Non-allocatable
// sections (debug info, relocation sections, symbol/string tables)
// are left where they are in the file and never occupy runtime memory.
package image

import (
	"github.com/aclements/ppcdl/obj"
	"github.com/pkg/errors"
)

// Allocator reserves size bytes of runtime memory aligned to align
// (a power of 2) on behalf of the loader. It returns the address
// other loaded code will use to refer to that memory (for example,
// via relocations) and a byte slice through which the loader writes
// the section's initial contents. The returned slice must be exactly
// size bytes and must already be zeroed, matching what a host
// allocator would hand back for a fresh allocation (this matters for
// SHT_NOBITS sections, which the loader never explicitly zeroes).
type Allocator func(size, align uint32) (addr uint32, mem []byte, err error)

// Image records where each section of an object was placed.
type Image struct {
	bases []uint32 // parallel to obj.File.Sections; 0 for unplaced sections
	mems  [][]byte // parallel to obj.File.Sections; nil for unplaced sections
}

// Base returns the runtime address section id was loaded at, or 0 if
// it was not placed (not allocatable, or empty).
func (im *Image) Base(id obj.SectionID) uint32 {
	return im.bases[id]
}

// Mem returns the live, writable bytes of section id as placed by
// Place, or nil if it was not placed (not allocatable, or empty). A relocation applier
// patches through this slice — it aliases the same memory Base(id)
// names, so writes here are what the runtime address actually reads.
func (im *Image) Mem(id obj.SectionID) []byte {
	return im.mems[id]
}

// Place allocates and populates runtime memory for every allocatable
// section of f using alloc, then fixes up the Address field of every
// defined symbol in f.Syms to its final runtime address.
//
// Sections are placed in file order. There is no requirement that
// allocations be contiguous or in any particular relation to one
// another in the runtime address space: unlike a position-dependent
// linker, this loader's relocation formulas (package ppcreloc) only
// ever need the final resolved address of each operand, not its
// position relative to other sections.
func Place(f *obj.File, alloc Allocator) (*Image, error) {
	im := &Image{
		bases: make([]uint32, len(f.Sections)),
		mems:  make([][]byte, len(f.Sections)),
	}

	for _, s := range f.Sections {
		if !s.Allocatable() || s.Size == 0 {
			continue
		}
		align := uint32(s.Align)
		if align == 0 {
			align = 1
		}
		addr, mem, err := alloc(uint32(s.Size), align)
		if err != nil {
			return nil, errors.Wrapf(err, "allocating section %s", s.Name)
		}
		if uint32(len(mem)) != uint32(s.Size) {
			return nil, errors.Errorf("allocator returned %d bytes for section %s, want %d", len(mem), s.Name, s.Size)
		}
		s.Base = addr
		im.bases[s.ID] = addr
		im.mems[s.ID] = mem

		if !s.NoBits() {
			data, err := f.SectionData(s.ID)
			if err != nil {
				return nil, errors.Wrapf(err, "reading section %s", s.Name)
			}
			copy(mem, data)
		}
	}

	for i := range f.Syms {
		sym := &f.Syms[i]
		if sym.Section == obj.NoSection {
			// Absolute symbols already carry their Address from
			// extraction; undefined symbols have no address of their
			// own until resolved against another scope.
			continue
		}
		if !f.Sections[sym.Section].Allocatable() {
			// A symbol in a non-allocatable section (.comment,
			// .debug_*, a symbol/string table) was never placed and
			// has no runtime address.
			continue
		}
		sym.Address = im.bases[sym.Section] + sym.Value
	}

	return im, nil
}
