// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"io"
	"strings"

	"github.com/aclements/ppcdl/arch"
	"github.com/pkg/errors"
)

// loadRelocs reads every SHT_RELA section into f.Relocs.
//
// Only SHT_RELA is supported: the target toolchain emits explicit
// addends exclusively, so there is no need for the implicit-addend
// (SHT_REL) bookkeeping a general-purpose object file reader would
// carry. Relocation sections whose own name contains "debug" or
// "eh_frame" (e.g. ".rela.debug_info", ".rela.eh_frame") are skipped
// outright — this loader never loads debug or unwind sections into
// memory, so relocating them would be both pointless and a likely
// source of spurious "unresolved symbol" errors from debug-only
// symbol references.
func (f *File) loadRelocs(r io.ReaderAt, size int64, raws []rawShdr, rawToID []SectionID, shstrtab []byte) error {
	layout := arch.PPC.Layout

	for i, raw := range raws {
		if raw.typ == shtRel {
			return errors.New("SHT_REL relocations are not supported; expected SHT_RELA")
		}
		if raw.typ != shtRela {
			continue
		}

		if isDebugSection(sectionName(shstrtab, raw.name)) {
			continue
		}

		if int(raw.info) >= len(raws) {
			return errors.Errorf("relocation section %d: sh_info does not name a section", i)
		}
		targetID := rawToID[raw.info]
		if targetID == NoSection {
			return errors.Errorf("relocation section %d: sh_info does not name a section", i)
		}

		if int(raw.link) >= len(raws) || raws[raw.link].typ != shtSymtab {
			return errors.Errorf("relocation section %d: sh_link does not name the symbol table", i)
		}
		if raw.entsize != 0 && raw.entsize != relaSize {
			return errors.Errorf("relocation section %d: unsupported entry size %d", i, raw.entsize)
		}

		data, err := readBytes(r, size, int64(raw.offset), int64(raw.size))
		if err != nil {
			return errors.Wrapf(err, "reading relocation section %d", i)
		}

		n := len(data) / relaSize
		for j := 0; j < n; j++ {
			b := data[j*relaSize:]
			offset := layout.Uint32(b[0:4])
			info := layout.Uint32(b[4:8])
			addend := layout.Int32(b[8:12])

			symIdx := info >> 8
			rtype := uint8(info)

			var name string
			var local bool
			if symIdx != 0 {
				if int(symIdx) >= len(f.symRawNames) {
					return errors.Errorf("relocation section %d entry %d: symbol index %d out of range", i, j, symIdx)
				}
				name = f.symRawNames[symIdx]
				local = f.symRawLocal[symIdx]
			}

			f.Relocs = append(f.Relocs, Relocation{
				Section:  targetID,
				Offset:   offset,
				Type:     rtype,
				RefName:  name,
				RefLocal: local,
				Addend:   addend,
			})
		}
	}
	return nil
}

func isDebugSection(name string) bool {
	return strings.Contains(name, "debug") || strings.Contains(name, "eh_frame")
}
