// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlfcn

import (
	"bytes"
	"os"

	"github.com/aclements/ppcdl/dbg"
	"github.com/aclements/ppcdl/image"
	"github.com/aclements/ppcdl/obj"
	"github.com/aclements/ppcdl/ppcreloc"
	"github.com/aclements/ppcdl/symtab"
	"github.com/pkg/errors"
)

// object is a LoadedObject: a relocatable object file that has been
// parsed, placed into memory, and fully relocated. Every still-open
// object also serves as a previously-loaded-object resolver scope for
// objects opened after it (see symtab.Resolver.AddPrior).
type object struct {
	path  string
	file  *obj.File
	image *image.Image
	table *symtab.Table // this object's own symbols, locals included

	// loadBase is "B" in the relocation table: the object's overall
	// load base, used by RELATIVE and LOCAL24PC. Sections placed by
	// package image need not be contiguous, so this is the base of
	// the first allocatable section in file order — the same
	// anchor a single-segment bare-metal loader would use, since in
	// practice such an object has exactly one allocatable region.
	loadBase uint32
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}

// openHost parses ownPath as an ET_EXEC image and builds its symbol
// table. Unlike a relocatable object, a host image's symbols already
// carry their final runtime address as st_value — Dlinit's "host
// image layout is degenerate" per the image-layout rules: no
// allocation, no copy, address equals value.
func openHost(ownPath string) (*obj.File, *symtab.Table, error) {
	data, err := readFile(ownPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := obj.Open(bytes.NewReader(data), int64(len(data)), obj.TypeExec)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parsing host image %s", ownPath)
	}
	for i := range f.Syms {
		s := &f.Syms[i]
		if s.Section != obj.NoSection && s.Address == 0 {
			s.Address = s.Value
		}
	}
	return f, symtab.NewTable(f.Syms), nil
}

// loadObject parses, places, and relocates the relocatable object at
// path. It builds a resolver over this object's own symbols, host, and
// every object in prior; prior must list every still-open object,
// oldest first.
func loadObject(path string, host *symtab.Table, prior []*object, dw *dbg.Data) (*object, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	f, err := obj.Open(bytes.NewReader(data), int64(len(data)), obj.TypeRel)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	im, err := image.Place(f, currentAllocator)
	if err != nil {
		return nil, errors.Wrapf(err, "placing %s", path)
	}

	local := symtab.NewTable(f.Syms)
	resolver := symtab.NewResolver(local, host)
	for _, o := range prior {
		resolver.AddPrior(o.table)
	}

	logf("LOAD", "%s: %d sections placed, %d symbols, %d relocations", path, len(f.Sections), len(f.Syms), len(f.Relocs))

	o := &object{path: path, file: f, image: im, table: local, loadBase: firstBase(f, im)}
	if err := o.relocate(resolver, dw); err != nil {
		return nil, err
	}

	if CacheSync != nil {
		for _, s := range f.Sections {
			if s.Allocatable() && s.Size > 0 {
				CacheSync(uintptr(im.Base(s.ID)), int(s.Size))
			}
		}
	}

	return o, nil
}

func firstBase(f *obj.File, im *image.Image) uint32 {
	for _, s := range f.Sections {
		if b := im.Base(s.ID); b != 0 {
			return b
		}
	}
	return 0
}

func (o *object) relocate(resolver *symtab.Resolver, dw *dbg.Data) error {
	ctx := ppcreloc.Context{Base: o.loadBase}
	if sym, _, ok := resolver.Resolve("_SDA_BASE_", false); ok {
		ctx.SDABase = sym.Address
	}
	for _, r := range o.file.Relocs {
		if err := o.applyOne(resolver, ctx, r, dw); err != nil {
			return err
		}
	}
	return nil
}

func (o *object) applyOne(resolver *symtab.Resolver, ctx ppcreloc.Context, r obj.Relocation, dw *dbg.Data) error {
	mem := o.image.Mem(r.Section)
	if mem == nil {
		return errors.Errorf("%s: relocation against non-allocatable section %s", o.path, o.file.Sections[r.Section].Name)
	}
	place := o.image.Base(r.Section) + r.Offset

	typ := ppcreloc.Type(r.Type)
	var operand uint32
	switch typ {
	case ppcreloc.RELATIVE, ppcreloc.LOCAL24PC:
		// B, not a resolved symbol, carries the relevant value.
	case ppcreloc.SECTOFF, ppcreloc.SECTOFF_LO, ppcreloc.SECTOFF_HI, ppcreloc.SECTOFF_HA:
		sym, _, ok := resolver.Resolve(r.RefName, r.RefLocal)
		if !ok {
			return o.unresolvedErr(r, dw)
		}
		operand = sym.Value // R: offset within the symbol's own section
	default:
		sym, _, ok := resolver.Resolve(r.RefName, r.RefLocal)
		if !ok {
			return o.unresolvedErr(r, dw)
		}
		operand = sym.Address
	}

	if err := ppcreloc.Apply(mem, r, place, operand, ctx); err != nil {
		return errors.Wrapf(err, "%s: relocating offset %#x in section %s", o.path, r.Offset, o.file.Sections[r.Section].Name)
	}
	logf("RELOC", "%s: %s %q -> %#x", o.path, typ, r.RefName, place)
	return nil
}

func (o *object) unresolvedErr(r obj.Relocation, dw *dbg.Data) error {
	hint := symbolicate(dw, uint64(o.image.Base(r.Section)+r.Offset))
	return errors.Errorf("unresolved symbol %q%s", r.RefName, hint)
}
