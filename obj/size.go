// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "sort"

// SynthesizeSizes assigns sizes to syms with st_size == 0 using
// heuristics, filling the gap between a symbol and the next symbol (or
// the end of its section) in sections. It is common for hand-written
// PowerPC assembly to omit .size directives entirely, which otherwise
// leaves every symbol in the object with Size == 0.
func SynthesizeSizes(syms []Sym, sections []*Section) {
	todo := []int{}
	for i := range syms {
		s := &syms[i]
		if s.Section == NoSection || s.Type == TypeSection {
			continue
		}
		sec := sections[s.Section]
		if uint64(s.Value) > sec.Size {
			// Past the end of its section; we can't give it a
			// meaningful extent.
			continue
		}
		todo = append(todo, i)
	}
	sort.Slice(todo, func(i, j int) bool {
		si, sj := &syms[todo[i]], &syms[todo[j]]
		if si.Section != sj.Section {
			return si.Section < sj.Section
		}
		return si.Value < sj.Value
	})

	for len(todo) != 0 {
		s1 := &syms[todo[0]]
		group := 1
		anyZero := s1.Size == 0
		for group < len(todo) {
			s2 := &syms[todo[group]]
			if s1.Value != s2.Value || s1.Section != s2.Section {
				break
			}
			if s2.Size == 0 {
				anyZero = true
			}
			group++
		}
		if !anyZero {
			todo = todo[group:]
			continue
		}

		sec := sections[s1.Section]
		var size uint32
		if group == len(todo) || s1.Section != syms[todo[group]].Section {
			size = uint32(sec.Size) - s1.Value
		} else {
			size = syms[todo[group]].Value - s1.Value
		}

		for _, symi := range todo[:group] {
			if syms[symi].Size == 0 {
				syms[symi].Size = size
			}
		}
		todo = todo[group:]
	}
}
