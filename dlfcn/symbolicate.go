// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlfcn

import (
	"debug/dwarf"
	"fmt"

	"github.com/aclements/ppcdl/dbg"
	"github.com/aclements/ppcdl/obj"
)

// buildDwarf parses f's DWARF debug sections, if it carries any. A
// release host image normally strips these, so the common case is a
// nil, non-error return: DWARF annotation is always additive, never
// required to load or relocate anything.
func buildDwarf(f *obj.File) *dbg.Data {
	section := func(name string) []byte {
		s := f.SectionByName(name)
		if s == nil {
			return nil
		}
		b, err := f.SectionData(s.ID)
		if err != nil {
			return nil
		}
		return b
	}

	info := section(".debug_info")
	if info == nil {
		return nil
	}

	dw, err := dwarf.New(
		section(".debug_abbrev"), section(".debug_aranges"), section(".debug_frame"),
		info, section(".debug_line"), section(".debug_pubnames"),
		section(".debug_ranges"), section(".debug_str"),
	)
	if err != nil {
		logf("DWARF", "parsing debug info: %v", err)
		return nil
	}
	d, err := dbg.New(dw)
	if err != nil {
		logf("DWARF", "indexing debug info: %v", err)
		return nil
	}
	return d
}

// symbolicate returns a short " (near <func>)" hint naming the
// subprogram that covers addr, or "" if dw is nil or addr isn't
// covered by any named subprogram. Used only to enrich diagnostic error messages.
func symbolicate(dw *dbg.Data, addr uint64) string {
	if dw == nil {
		return ""
	}
	sub, ok := dw.AddrToSubprogram(addr, dbg.CU{})
	if !ok {
		return ""
	}
	name, _ := sub.Val(dwarf.AttrName).(string)
	if name == "" {
		return ""
	}
	return fmt.Sprintf(" (near %s)", name)
}
