// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"io"

	"github.com/aclements/ppcdl/arch"
	"github.com/pkg/errors"
)

const (
	shnUndef  = 0
	shnAbs    = 0xfff1
	shnCommon = 0xfff2
)

// loadSyms reads the object's SHT_SYMTAB, if any, into f.Syms.
//
// Per [TIS ELF 1.2 Book I, p. 1-17], symbol index 0 is the reserved
// null symbol and is never represented in f.Syms; STT_NOTYPE and
// STT_FILE entries are dropped too, since the loader has no use for
// either (STT_NOTYPE is the type of the null symbol and of symbols
// the assembler never classified, and STT_FILE just names the source
// file). This keeps f.Syms limited to what the rest of the loader
// actually needs to resolve a reference.
func (f *File) loadSyms(r io.ReaderAt, size int64, raws []rawShdr, rawToID []SectionID, shstrtab []byte) error {
	layout := arch.PPC.Layout

	var symtabRaw *rawShdr
	for i, raw := range raws {
		if raw.typ == shtSymtab {
			symtabRaw = &raws[i]
			break
		}
	}
	if symtabRaw == nil {
		return nil
	}
	if symtabRaw.entsize != 0 && symtabRaw.entsize != symSize {
		return errors.New("unsupported symbol table entry size")
	}

	strndx := symtabRaw.link
	if int(strndx) >= len(raws) || raws[strndx].typ != shtStrtab {
		return errors.Errorf("symbol table %s: sh_link does not name a string table", sectionName(shstrtab, symtabRaw.name))
	}
	strtab, err := readBytes(r, size, int64(raws[strndx].offset), int64(raws[strndx].size))
	if err != nil {
		return errors.Wrap(err, "reading symbol string table")
	}

	data, err := readBytes(r, size, int64(symtabRaw.offset), int64(symtabRaw.size))
	if err != nil {
		return errors.Wrap(err, "reading symbol table")
	}
	n := len(data) / symSize
	if n == 0 {
		return nil
	}

	// symRawNames/symRawLocal are indexed by the raw ELF symbol table
	// index (including the null symbol and NOTYPE/FILE entries
	// dropped from f.Syms above) so loadRelocs can resolve a
	// relocation's r_info symbol index to a name without needing its
	// own copy of the symbol table.
	f.symRawNames = make([]string, n)
	f.symRawLocal = make([]bool, n)

	f.Syms = make([]Sym, 0, n-1)
	for i := 1; i < n; i++ { // skip the null symbol at index 0
		b := data[i*symSize:]
		nameOff := layout.Uint32(b[0:4])
		value := layout.Uint32(b[4:8])
		sz := layout.Uint32(b[8:12])
		info := b[12]
		shndx := layout.Uint16(b[14:16])

		bind := SymBind(info >> 4)
		typ := SymType(info & 0xf)

		var rawName string
		if typ == TypeSection && int(shndx) < len(rawToID) && rawToID[shndx] != NoSection {
			rawName = f.Sections[rawToID[shndx]].Name
		} else {
			rawName = sectionName(strtab, nameOff)
		}
		f.symRawNames[i] = rawName
		f.symRawLocal[i] = bind == BindLocal

		if typ == TypeNoType || typ == TypeFile {
			continue
		}

		sym := Sym{
			Value: value,
			Size:  sz,
			Bind:  bind,
			Type:  typ,
		}

		switch {
		case shndx == shnUndef:
			sym.Section = NoSection
		case shndx == shnAbs:
			sym.Section = NoSection
			sym.Address = value
		case shndx == shnCommon:
			sym.Section = NoSection
		case int(shndx) < len(rawToID) && rawToID[shndx] != NoSection:
			sym.Section = rawToID[shndx]
		default:
			return errors.Errorf("symbol %d: st_shndx %d out of range", i, shndx)
		}

		sym.Name = rawName
		f.Syms = append(f.Syms, sym)
	}

	SynthesizeSizes(f.Syms, f.Sections)
	return nil
}

func sectionName(strtab []byte, off uint32) string {
	return cStringAt(strtab, off)
}
