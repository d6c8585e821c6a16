// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// fixtureSection describes one section of a synthetic ELF32 big-endian
// PowerPC object file to be assembled by (*fixture).bytes.
type fixtureSection struct {
	name  string
	typ   uint32
	flags uint32
	data  []byte // nil for SHT_NOBITS
	size  uint32 // used instead of len(data) for SHT_NOBITS
	align uint32
}

type fixtureSym struct {
	name    string
	value   uint32
	size    uint32
	bind    SymBind
	typ     SymType
	section string // "" = UNDEF
}

type fixtureRela struct {
	target string // section the relocation applies to
	offset uint32
	typ    uint8
	sym    string // "" = no symbol (r_sym 0)
	addend int32
}

type fixture struct {
	etype ElfType
	sects []fixtureSection
	syms  []fixtureSym
	relas []fixtureRela

	// relaInfoOverride replaces the computed sh_info of the named
	// relocation section's target with a raw value, for tests that
	// need a malformed sh_info without an otherwise-invalid fixture.
	relaInfoOverride map[string]uint32
}

// bytes assembles f into a well-formed ELF32/ELFDATA2MSB/EM_PPC file.
//
// Section indices are assigned up front, in a fixed order (the
// caller's sections, then .shstrtab/.strtab/.symtab, then one
// .rela<name> per distinct relocation target), so the symbol table's
// st_shndx fields and the relocation sections' sh_link/sh_info fields
// can be computed before any section's byte contents are serialized.
func (f *fixture) bytes(t *testing.T) []byte {
	t.Helper()
	order := binary.BigEndian

	var relaTargets []string
	seenTarget := map[string]bool{}
	for _, r := range f.relas {
		if !seenTarget[r.target] {
			seenTarget[r.target] = true
			relaTargets = append(relaTargets, r.target)
		}
	}

	const shstrtabName, strtabName, symtabName = ".shstrtab", ".strtab", ".symtab"

	names := []string{""} // index 0: SHT_NULL, empty name
	for _, s := range f.sects {
		names = append(names, s.name)
	}
	names = append(names, shstrtabName, strtabName, symtabName)
	for _, target := range relaTargets {
		names = append(names, ".rela"+target)
	}

	sectIndex := map[string]int{}
	for i, n := range names {
		if i == 0 {
			continue
		}
		sectIndex[n] = i
	}

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	shstrtabOff := map[string]uint32{}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := shstrtabOff[n]; ok {
			continue
		}
		shstrtabOff[n] = uint32(shstrtab.Len())
		shstrtab.WriteString(n)
		shstrtab.WriteByte(0)
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strtabOff := map[string]uint32{}
	symIndex := map[string]uint32{}
	for i, s := range f.syms {
		symIndex[s.name] = uint32(i + 1)
		if s.name == "" {
			continue
		}
		if _, ok := strtabOff[s.name]; ok {
			continue
		}
		strtabOff[s.name] = uint32(strtab.Len())
		strtab.WriteString(s.name)
		strtab.WriteByte(0)
	}

	var symtab bytes.Buffer
	symtab.Write(make([]byte, symSize)) // null symbol
	for _, s := range f.syms {
		var b [symSize]byte
		order.PutUint32(b[0:4], strtabOff[s.name])
		order.PutUint32(b[4:8], s.value)
		order.PutUint32(b[8:12], s.size)
		b[12] = byte(s.bind)<<4 | byte(s.typ)
		shndx := uint16(shnUndef)
		if s.section != "" {
			shndx = uint16(sectIndex[s.section])
		}
		order.PutUint16(b[14:16], shndx)
		symtab.Write(b[:])
	}

	relaData := map[string][]byte{}
	for _, target := range relaTargets {
		var buf bytes.Buffer
		for _, r := range f.relas {
			if r.target != target {
				continue
			}
			var b [relaSize]byte
			order.PutUint32(b[0:4], r.offset)
			var symIdx uint32
			if r.sym != "" {
				symIdx = symIndex[r.sym]
			}
			order.PutUint32(b[4:8], symIdx<<8|uint32(r.typ))
			order.PutUint32(b[8:12], uint32(r.addend))
			buf.Write(b[:])
		}
		relaData[target] = buf.Bytes()
	}

	type hdrInfo struct {
		typ, flags, link, info, align, entsize uint32
		nameOff                                uint32
		isNobits                               bool
		nobitsSize                             uint32
	}
	hdrs := make([]hdrInfo, len(names))
	datas := make([][]byte, len(names))

	for i, s := range f.sects {
		idx := i + 1
		hdrs[idx] = hdrInfo{typ: s.typ, flags: s.flags, align: s.align, nameOff: shstrtabOff[s.name]}
		if s.typ == shtNobits {
			hdrs[idx].isNobits = true
			hdrs[idx].nobitsSize = s.size
		} else {
			datas[idx] = s.data
		}
	}
	hdrs[sectIndex[shstrtabName]] = hdrInfo{typ: shtStrtab, nameOff: shstrtabOff[shstrtabName]}
	datas[sectIndex[shstrtabName]] = shstrtab.Bytes()
	hdrs[sectIndex[strtabName]] = hdrInfo{typ: shtStrtab, nameOff: shstrtabOff[strtabName]}
	datas[sectIndex[strtabName]] = strtab.Bytes()
	hdrs[sectIndex[symtabName]] = hdrInfo{typ: shtSymtab, nameOff: shstrtabOff[symtabName], link: uint32(sectIndex[strtabName]), entsize: symSize}
	datas[sectIndex[symtabName]] = symtab.Bytes()
	for _, target := range relaTargets {
		relaName := ".rela" + target
		idx := sectIndex[relaName]
		info := uint32(sectIndex[target])
		if v, ok := f.relaInfoOverride[target]; ok {
			info = v
		}
		hdrs[idx] = hdrInfo{
			typ:     shtRela,
			nameOff: shstrtabOff[relaName],
			link:    uint32(sectIndex[symtabName]),
			info:    info,
			entsize: relaSize,
		}
		datas[idx] = relaData[target]
	}

	var out bytes.Buffer
	out.Write(make([]byte, ehdrSize))
	offsets := make([]uint32, len(names))
	sizes := make([]uint32, len(names))
	for i := 1; i < len(names); i++ {
		if hdrs[i].isNobits {
			offsets[i] = uint32(out.Len())
			sizes[i] = hdrs[i].nobitsSize
			continue
		}
		offsets[i] = uint32(out.Len())
		sizes[i] = uint32(len(datas[i]))
		out.Write(datas[i])
	}

	shoff := uint32(out.Len())
	for i := 1; i < len(names); i++ {
		var b [shdrSize]byte
		order.PutUint32(b[0:4], hdrs[i].nameOff)
		order.PutUint32(b[4:8], hdrs[i].typ)
		order.PutUint32(b[8:12], hdrs[i].flags)
		order.PutUint32(b[16:20], offsets[i])
		order.PutUint32(b[20:24], sizes[i])
		order.PutUint32(b[24:28], hdrs[i].link)
		order.PutUint32(b[28:32], hdrs[i].info)
		align := hdrs[i].align
		if align == 0 {
			align = 1
		}
		order.PutUint32(b[32:36], align)
		order.PutUint32(b[36:40], hdrs[i].entsize)
		out.Write(b[:])
	}

	file := out.Bytes()
	file[0], file[1], file[2], file[3] = 0x7f, 'E', 'L', 'F'
	file[4], file[5], file[6] = elfClass32, elfData2MSB, evCurrent
	order.PutUint16(file[16:18], uint16(f.etype))
	order.PutUint16(file[18:20], emPPC)
	order.PutUint32(file[20:24], evCurrent)
	order.PutUint32(file[32:36], shoff)
	order.PutUint16(file[40:42], ehdrSize)
	order.PutUint16(file[46:48], shdrSize)
	order.PutUint16(file[48:50], uint16(len(names)))
	order.PutUint16(file[50:52], uint16(sectIndex[shstrtabName]))

	return file
}

func TestOpenNonObject(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("AAA")), 3, TypeRel)
	if err == nil {
		t.Fatal("Open succeeded unexpectedly")
	}
	if err != errBadMagic {
		t.Fatalf("got error %q, want %q", err, errBadMagic)
	}
}

func TestOpenRejectsWrongMachine(t *testing.T) {
	f := &fixture{etype: TypeRel}
	b := f.bytes(t)
	// Corrupt e_machine to something other than EM_PPC.
	binary.BigEndian.PutUint16(b[18:20], 40) // EM_ARM
	_, err := Open(bytes.NewReader(b), int64(len(b)), TypeRel)
	if err != errBadMachine {
		t.Fatalf("got error %v, want %v", err, errBadMachine)
	}
}

func TestOpenSections(t *testing.T) {
	f := &fixture{
		etype: TypeRel,
		sects: []fixtureSection{
			{name: ".text", typ: shtProgBits, flags: shfAlloc | shfExec, data: []byte{0, 1, 2, 3}},
			{name: ".data", typ: shtProgBits, flags: shfAlloc | shfWrite, data: []byte{4, 5}},
			{name: ".bss", typ: shtNobits, flags: shfAlloc | shfWrite, size: 16},
		},
	}
	b := f.bytes(t)
	file, err := Open(bytes.NewReader(b), int64(len(b)), TypeRel)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	text := file.SectionByName(".text")
	if text == nil {
		t.Fatal(".text section not found")
	}
	if !text.Allocatable() {
		t.Error(".text should be allocatable")
	}
	data, err := file.SectionData(text.ID)
	if err != nil {
		t.Fatalf("SectionData(.text): %v", err)
	}
	if !bytes.Equal(data, []byte{0, 1, 2, 3}) {
		t.Errorf(".text data = %v, want [0 1 2 3]", data)
	}

	bss := file.SectionByName(".bss")
	if bss == nil {
		t.Fatal(".bss section not found")
	}
	if !bss.NoBits() {
		t.Error(".bss should be SHT_NOBITS")
	}
	if bss.Size != 16 {
		t.Errorf(".bss size = %d, want 16", bss.Size)
	}
	if _, err := file.SectionData(bss.ID); err == nil {
		t.Error("SectionData(.bss) should fail for SHT_NOBITS")
	}
}

func TestOpenSyms(t *testing.T) {
	f := &fixture{
		etype: TypeRel,
		sects: []fixtureSection{
			{name: ".text", typ: shtProgBits, flags: shfAlloc | shfExec, data: make([]byte, 8)},
		},
		syms: []fixtureSym{
			{name: "foo", value: 0, size: 4, bind: BindGlobal, typ: TypeFunc, section: ".text"},
			{name: "bar", value: 4, size: 4, bind: BindLocal, typ: TypeObject, section: ".text"},
			{name: "extern_fn", bind: BindGlobal, typ: TypeNoType, section: ""},
		},
	}
	b := f.bytes(t)
	file, err := Open(bytes.NewReader(b), int64(len(b)), TypeRel)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var foo, bar *Sym
	for i := range file.Syms {
		switch file.Syms[i].Name {
		case "foo":
			foo = &file.Syms[i]
		case "bar":
			bar = &file.Syms[i]
		case "extern_fn":
			t.Error("extern_fn is STT_NOTYPE/UNDEF and should have been dropped from Syms")
		}
	}
	if foo == nil || bar == nil {
		t.Fatalf("missing expected symbols, got %+v", file.Syms)
	}
	if foo.Bind != BindGlobal || foo.Type != TypeFunc || foo.Value != 0 {
		t.Errorf("foo = %+v", foo)
	}
	if !bar.Defined() {
		t.Errorf("bar should be defined")
	}
}

func TestOpenRelocs(t *testing.T) {
	f := &fixture{
		etype: TypeRel,
		sects: []fixtureSection{
			{name: ".text", typ: shtProgBits, flags: shfAlloc | shfExec, data: make([]byte, 8)},
			{name: ".debug_info", typ: shtProgBits, data: make([]byte, 4)},
		},
		syms: []fixtureSym{
			{name: "target", bind: BindGlobal, typ: TypeNoType, section: ""},
		},
		relas: []fixtureRela{
			{target: ".text", offset: 0, typ: 1, sym: "target", addend: 0},
			{target: ".debug_info", offset: 0, typ: 1, sym: "target", addend: 0},
		},
	}
	b := f.bytes(t)
	file, err := Open(bytes.NewReader(b), int64(len(b)), TypeRel)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if len(file.Relocs) != 1 {
		t.Fatalf("got %d relocations, want 1 (the .debug_info one should be filtered)", len(file.Relocs))
	}
	r := file.Relocs[0]
	if r.RefName != "target" || r.Type != 1 || r.Offset != 0 {
		t.Errorf("relocation = %+v", r)
	}
}

// A relocation section's own name, not its target's, is what
// exempts it from loading: ".rela.mydebugdata" is as much a debug
// relocation section as ".rela.debug_info" even though its target
// section isn't named ".debug_*".
func TestOpenRelocsSkipsByOwnName(t *testing.T) {
	f := &fixture{
		etype: TypeRel,
		sects: []fixtureSection{
			{name: ".mydebugdata", typ: shtProgBits, data: make([]byte, 4)},
		},
		syms: []fixtureSym{
			{name: "target", bind: BindGlobal, typ: TypeNoType, section: ""},
		},
		relas: []fixtureRela{
			{target: ".mydebugdata", offset: 0, typ: 1, sym: "target", addend: 0},
		},
	}
	b := f.bytes(t)
	file, err := Open(bytes.NewReader(b), int64(len(b)), TypeRel)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(file.Relocs) != 0 {
		t.Fatalf("got %d relocations, want 0 (.rela.mydebugdata should be filtered by its own name)", len(file.Relocs))
	}
}

// A malformed sh_info pointing past the end of the section header
// table must fail with a normal error, not panic with an
// index-out-of-range.
func TestOpenRelocsOutOfRangeInfo(t *testing.T) {
	f := &fixture{
		etype: TypeRel,
		sects: []fixtureSection{
			{name: ".text", typ: shtProgBits, flags: shfAlloc | shfExec, data: make([]byte, 8)},
		},
		syms: []fixtureSym{
			{name: "target", bind: BindGlobal, typ: TypeNoType, section: ""},
		},
		relas: []fixtureRela{
			{target: ".text", offset: 0, typ: 1, sym: "target", addend: 0},
		},
		relaInfoOverride: map[string]uint32{".text": 0xff},
	}
	b := f.bytes(t)
	if _, err := Open(bytes.NewReader(b), int64(len(b)), TypeRel); err == nil {
		t.Fatalf("Open succeeded with an out-of-range sh_info, want an error")
	}
}
