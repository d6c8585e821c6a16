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
	emPPC       = 20
	elfClass32  = 1
	elfData2MSB = 2
	evCurrent   = 1

	ehdrSize = 52
	shdrSize = 40
	symSize  = 16
	relaSize = 12
)

// File is a parsed 32-bit big-endian PowerPC ELF object file.
//
// Unlike the multi-format library this package was forked from, File
// is a concrete type rather than an interface: the only format this
// loader ever sees is ELF32/EM_PPC, so there is no second
// implementation for it to be polymorphic over.
type File struct {
	Info     FileInfo
	Sections []*Section
	Syms     []Sym
	Relocs   []Relocation

	r    io.ReaderAt
	data [][]byte // parallel to Sections; nil entry means "not yet read"

	// symRawNames and symRawLocal are indexed by raw ELF symbol table
	// index, including entries loadSyms otherwise drops from Syms.
	// loadRelocs uses these to resolve r_info symbol references.
	symRawNames []string
	symRawLocal []bool
}

// rawShdr is a section header exactly as it appears on disk, before
// Section.ID renumbering.
type rawShdr struct {
	name      uint32
	typ       uint32
	flags     uint32
	addr      uint32
	offset    uint32
	size      uint32
	link      uint32
	info      uint32
	addralign uint32
	entsize   uint32
}

// Open parses the ELF object file read through r, which must have the
// given total size. Open validates the ELF header strictly: any field
// that doesn't match a 32-bit big-endian PowerPC relocatable or
// executable object is rejected, in the fixed order magic, class,
// data encoding, ident version, type, machine, version, section
// header bounds, ehsize, shstrndx — matching the order a linker's own
// sanity checks would run in, so the first diagnostic a bad object
// produces is always the same one.
func Open(r io.ReaderAt, size int64, want ElfType) (*File, error) {
	var ehdr [ehdrSize]byte
	n, err := r.ReadAt(ehdr[:], 0)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading ELF header")
	}

	if ehdr[0] != 0x7f || ehdr[1] != 'E' || ehdr[2] != 'L' || ehdr[3] != 'F' {
		return nil, errBadMagic
	}
	if n < ehdrSize {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "reading ELF header")
	}
	if ehdr[4] != elfClass32 {
		return nil, errBadClass
	}
	if ehdr[5] != elfData2MSB {
		return nil, errBadData
	}
	if ehdr[6] != evCurrent {
		return nil, errBadIdentVers
	}

	layout := arch.PPC.Layout

	etype := ElfType(layout.Uint16(ehdr[16:18]))
	if etype != want {
		return nil, errors.Wrapf(errBadType, "got %s, want %s", etype, want)
	}
	if machine := layout.Uint16(ehdr[18:20]); machine != emPPC {
		return nil, errBadMachine
	}
	if version := layout.Uint32(ehdr[20:24]); version != evCurrent {
		return nil, errBadVersion
	}

	shoff := layout.Uint32(ehdr[32:36])
	if ehsize := layout.Uint16(ehdr[40:42]); ehsize != ehdrSize {
		return nil, errBadEhsize
	}
	shentsize := layout.Uint16(ehdr[46:48])
	shnum := layout.Uint16(ehdr[48:50])
	shstrndx := layout.Uint16(ehdr[50:52])

	if shentsize != 0 && shentsize != shdrSize {
		return nil, errors.New("unsupported section header entry size")
	}

	shtab, err := readBytes(r, size, int64(shoff), int64(shnum)*shdrSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading section header table")
	}
	if ehsize := layout.Uint16(ehdr[40:42]); ehsize != ehdrSize {
		return nil, errBadEhsize
	}
	if shnum > 0 && shstrndx >= shnum {
		return nil, errBadShstrndx
	}

	raws := make([]rawShdr, shnum)
	for i := range raws {
		b := shtab[i*shdrSize:]
		raws[i] = rawShdr{
			name:      layout.Uint32(b[0:4]),
			typ:       layout.Uint32(b[4:8]),
			flags:     layout.Uint32(b[8:12]),
			addr:      layout.Uint32(b[12:16]),
			offset:    layout.Uint32(b[16:20]),
			size:      layout.Uint32(b[20:24]),
			link:      layout.Uint32(b[24:28]),
			info:      layout.Uint32(b[28:32]),
			addralign: layout.Uint32(b[32:36]),
			entsize:   layout.Uint32(b[36:40]),
		}
	}

	var shstrtab []byte
	if shnum > 0 {
		shstrtab, err = readBytes(r, size, int64(raws[shstrndx].offset), int64(raws[shstrndx].size))
		if err != nil {
			return nil, errors.Wrap(err, "reading section name string table")
		}
	}

	f := &File{
		Info: FileInfo{Arch: arch.PPC, Type: etype},
		r:    r,
	}

	// rawToID maps a raw ELF section header index to the SectionID we
	// assign it (skipping only SHT_NULL entries, which in practice is
	// just index 0).
	rawToID := make([]SectionID, shnum)
	for i, raw := range raws {
		if raw.typ == shtNull {
			rawToID[i] = NoSection
			continue
		}
		align := uint64(1)
		for align < uint64(raw.addralign) {
			align <<= 1
		}
		s := &Section{
			Name:      cStringAt(shstrtab, raw.name),
			ID:        SectionID(len(f.Sections)),
			RawID:     i,
			Type:      raw.typ,
			Flags:     raw.flags,
			Addr:      uint64(raw.addr),
			Size:      uint64(raw.size),
			Offset:    uint64(raw.offset),
			Align:     align,
			EntSize:   uint64(raw.entsize),
			LinkIndex: raw.link,
			InfoIndex: raw.info,
		}
		rawToID[i] = s.ID
		f.Sections = append(f.Sections, s)
	}
	f.data = make([][]byte, len(f.Sections))

	if err := f.loadSyms(r, size, raws, rawToID, shstrtab); err != nil {
		return nil, err
	}
	if err := f.loadRelocs(r, size, raws, rawToID, shstrtab); err != nil {
		return nil, err
	}

	return f, nil
}

// NewFile builds a File directly from already-decoded parts, without
// reading an ELF image. This is mainly useful for tests that want to
// drive package image or package ppcreloc against a specific
// section/symbol layout without assembling a byte-exact ELF file.
func NewFile(info FileInfo, sections []*Section, syms []Sym, relocs []Relocation, data map[SectionID][]byte) *File {
	f := &File{
		Info:     info,
		Sections: sections,
		Syms:     syms,
		Relocs:   relocs,
		data:     make([][]byte, len(sections)),
	}
	for id, b := range data {
		f.data[id] = b
	}
	return f
}

// SectionData returns the raw file contents of section id, reading
// and caching them on first use. It returns an error for SHT_NOBITS
// sections, which have no file contents by definition (callers that
// need their size to zero-fill should use Section.Size directly).
func (f *File) SectionData(id SectionID) ([]byte, error) {
	s := f.Sections[id]
	if s.NoBits() {
		return nil, errors.Errorf("section %s has no data (SHT_NOBITS)", s.Name)
	}
	if f.data[id] == nil {
		if f.r == nil {
			return nil, errors.Errorf("no data available for section %s", s.Name)
		}
		b, err := readBytes(f.r, -1, int64(s.Offset), int64(s.Size))
		if err != nil {
			return nil, errors.Wrapf(err, "reading section %s", s.Name)
		}
		if len(b) == 0 {
			b = []byte{}
		}
		f.data[id] = b
	}
	return f.data[id], nil
}

// Reader returns a cursor over the raw contents of section id.
func (f *File) Reader(id SectionID) (*Reader, error) {
	b, err := f.SectionData(id)
	if err != nil {
		return nil, err
	}
	return NewReader(&Data{B: b, Layout: arch.PPC.Layout}), nil
}

// SectionByName finds the unique section named name, or returns nil.
func (f *File) SectionByName(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func readBytes(r io.ReaderAt, fileSize, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || (fileSize >= 0 && (off > fileSize || off+n > fileSize)) {
		return nil, errShoffRange
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := r.ReadAt(b, off); err != nil && err != io.EOF {
		return nil, err
	}
	return b, nil
}

func cStringAt(b []byte, off uint32) string {
	if int(off) >= len(b) {
		return ""
	}
	s := b[off:]
	for i, c := range s {
		if c == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}
