// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

// A Relocation is a single RELA entry extracted from a relocation
// section, resolved against its symbol table.
//
// Unlike the original multi-architecture design this package was
// forked from, Relocation stores the referent's name directly rather
// than a SymID into a combined symbol table. Every relocatable object
// this loader processes is discarded once symbol resolution finishes,
// so there is no reason to keep the raw ELF symbol-index space alive
// past extraction, and resolving the name up front lets package
// symtab treat host symbols, previously-loaded symbols and this
// object's own local symbols identically.
type Relocation struct {
	// Section is the section the relocation is applied within.
	Section SectionID
	// Offset is the byte offset of the relocation within Section.
	Offset uint32
	// Type is the relocation type (the low byte of Elf32_Rela.r_info,
	// an R_PPC_* constant from package ppcreloc).
	Type uint8
	// RefName is the name of the symbol this relocation refers to, or
	// "" if the referenced symbol index was the null symbol (index 0,
	// which only appears on R_PPC_NONE entries in well-formed input).
	RefName string
	// RefLocal is true if RefName names a symbol local to this same
	// object, as opposed to a symbol this loader must resolve
	// externally.
	RefLocal bool
	// Addend is the explicit addend stored in the RELA entry.
	Addend int32
}
