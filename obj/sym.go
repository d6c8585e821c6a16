// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

// String returns the lower-case name of the symbol binding: "local",
// "global" or "weak".
func (b SymBind) String() string {
	switch b {
	case BindLocal:
		return "local"
	case BindGlobal:
		return "global"
	case BindWeak:
		return "weak"
	default:
		return "unknown binding"
	}
}

func (t SymType) String() string {
	switch t {
	case TypeNoType:
		return "notype"
	case TypeObject:
		return "object"
	case TypeFunc:
		return "func"
	case TypeSection:
		return "section"
	case TypeFile:
		return "file"
	default:
		return "unknown type"
	}
}

// Defined reports whether s has a home section, i.e. is not an
// undefined reference (SHN_UNDEF) waiting to be resolved against some
// other object or the host image.
func (s *Sym) Defined() bool {
	return s.Section != NoSection
}

// String returns the name of s.
func (s *Sym) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}
