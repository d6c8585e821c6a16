// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"fmt"

	"github.com/aclements/ppcdl/arch"
)

// Data represents a byte buffer read from an object file, tagged with
// the Layout needed to decode multi-byte fields within it.
//
// Every object this loader handles is 32-bit big-endian PowerPC, but
// decoding goes through Layout rather than hard-coding that so the
// byte order is never assumed from the host running the loader.
type Data struct {
	B      []byte
	Layout arch.Layout
}

// Reader sequentially decodes fixed-width fields out of a Data buffer.
type Reader struct {
	d *Data
	p int // Offset into d.B
}

func NewReader(d *Data) *Reader {
	return &Reader{d, 0}
}

// SetOffset moves r's cursor to the given offset from the beginning of
// r's data.
func (r *Reader) SetOffset(offset int) {
	if offset < 0 || offset > len(r.d.B) {
		r.badOffset(offset)
	}
	r.p = offset
}

func (r *Reader) badOffset(offset int) {
	panic(fmt.Sprintf("offset %d out of data's range [0,%d]", offset, len(r.d.B)))
}

// Avail returns the number of bytes remaining in r's Data.
func (r *Reader) Avail() int {
	return len(r.d.B) - r.p
}

func (r *Reader) Uint8() uint8 {
	o := r.p
	r.p++
	return r.d.B[o]
}

func (r *Reader) Uint16() uint16 {
	o := r.p
	r.p += 2
	return r.d.Layout.Uint16(r.d.B[o : o+2])
}

func (r *Reader) Uint32() uint32 {
	o := r.p
	r.p += 4
	return r.d.Layout.Uint32(r.d.B[o : o+4])
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

// CString reads a NUL-terminated string starting at byte offset off in
// r's underlying buffer, without disturbing r's own cursor. It is used
// to resolve st_name/sh_name offsets into a string table section.
func (r *Reader) CString(off uint32) string {
	b := r.d.B
	if int(off) >= len(b) {
		return ""
	}
	s := b[off:]
	if n := bytes.IndexByte(s, 0); n >= 0 {
		s = s[:n]
	}
	return string(s)
}
