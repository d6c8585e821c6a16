// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab implements the three-scope symbol resolution order
// the loader uses to turn an undefined reference in a relocation into
// a runtime address: first the referencing object's own defined
// symbols, then the statically linked host image, then the exported
// symbols of every previously loaded object, oldest first.
package symtab

import (
	"sort"

	"github.com/aclements/ppcdl/obj"
)

// Table indexes a flat list of symbols by name and, within each
// section, by address.
type Table struct {
	syms []obj.Sym
	name map[string]int // index into syms; only non-local symbols
	all  map[string]int // index into syms; every named symbol, locals included

	// addr maps a section to its symbols sorted by Value, for
	// resolving a bare address back to the symbol containing it via
	// Addr (not used by name resolution).
	addr map[obj.SectionID][]int
}

// NewTable indexes syms. If multiple symbols share a name, the last
// one in syms wins both Lookup and LookupLocal — a well-formed
// relocatable object never defines the same global name twice, and
// while two STB_LOCAL symbols can legitimately share a name (e.g. two
// static functions of the same name in different compilation units
// merged into one object), this loader has no finer-grained way to
// pick between them than "last wins," matching how the non-local map
// already behaves for malformed input.
//
// Local symbols (STB_LOCAL) are excluded from name, the non-local
// index: their names aren't required to be unique even within one
// object, and the host/previously-loaded scopes only ever expose a
// symbol's exported (non-local) names. They are still indexed in all,
// since a relocation can legitimately reference a local symbol (e.g.
// a SECTION symbol, or a static function) and that reference must
// resolve within the same object's own symbol table.
func NewTable(syms []obj.Sym) *Table {
	t := &Table{
		syms: syms,
		name: make(map[string]int, len(syms)),
		all:  make(map[string]int, len(syms)),
		addr: make(map[obj.SectionID][]int),
	}
	for i, s := range syms {
		if s.Bind != obj.BindLocal {
			t.name[s.Name] = i
		}
		t.all[s.Name] = i
		if s.Section != obj.NoSection {
			t.addr[s.Section] = append(t.addr[s.Section], i)
		}
	}
	for sec, ids := range t.addr {
		ids := ids
		sort.Slice(ids, func(a, b int) bool { return syms[ids[a]].Value < syms[ids[b]].Value })
		t.addr[sec] = ids
	}
	return t
}

// Syms returns the underlying symbol slice this table indexes.
func (t *Table) Syms() []obj.Sym { return t.syms }

// Lookup returns the non-local symbol named name, if any.
func (t *Table) Lookup(name string) (obj.Sym, bool) {
	i, ok := t.name[name]
	if !ok {
		return obj.Sym{}, false
	}
	return t.syms[i], true
}

// LookupLocal returns the symbol named name, local or not. Use this
// over Lookup when name comes from a relocation's own object (a
// RefLocal reference, or any other name drawn from this table's own
// object), since a relocation can reference a STB_LOCAL symbol that
// Lookup would never find.
func (t *Table) LookupLocal(name string) (obj.Sym, bool) {
	i, ok := t.all[name]
	if !ok {
		return obj.Sym{}, false
	}
	return t.syms[i], true
}

// Addr returns the symbol in section whose [Value, Value+Size) range
// contains addr, if any.
func (t *Table) Addr(section obj.SectionID, addr uint32) (obj.Sym, bool) {
	ids := t.addr[section]
	i := sort.Search(len(ids), func(i int) bool { return t.syms[ids[i]].Value > addr }) - 1
	if i < 0 {
		return obj.Sym{}, false
	}
	sym := t.syms[ids[i]]
	if sym.Size != 0 && addr >= sym.Value+sym.Size {
		return obj.Sym{}, false
	}
	return sym, true
}

// Resolver implements the scoped name resolution order described
// above: local, then host, then every previously loaded object's
// table, in the order they were added (first-loaded-wins).
type Resolver struct {
	local *Table
	host  *Table
	prior []*Table
}

// NewResolver creates a resolver for one object's local symbols,
// consulting host for symbols the object doesn't itself define.
func NewResolver(local, host *Table) *Resolver {
	return &Resolver{local: local, host: host}
}

// AddPrior registers t as an additional previously-loaded-object
// scope, consulted after local and host and after every table already
// registered with AddPrior.
func (r *Resolver) AddPrior(t *Table) {
	r.prior = append(r.prior, t)
}

// Resolve looks up name across all scopes in order, returning the
// first match and which scope it came from (useful for diagnostics).
// local must be the referencing relocation's own RefLocal: a
// reference to a local (STB_LOCAL) symbol can only ever mean a symbol
// in the referencing object's own table — SECTION symbols and static
// functions/data are never exported, so there is nothing for host or
// prior scopes to contribute — and is resolved against local's full
// symbol table, locals included, instead of stopping at local's
// exported subset the way a non-local reference does.
//
// A symbol only counts as a match if it has a non-zero Address: an
// object's own symbol table records every name it references, defined
// or not, so an undefined extern declaration (Section == NoSection,
// never fixed up by package image) can share a name with a symbol a
// later scope actually defines. Skipping null-address entries lets
// resolution fall through to host or prior scopes instead of
// incorrectly treating the declaration itself as the definition.
func (r *Resolver) Resolve(name string, local bool) (sym obj.Sym, scope string, ok bool) {
	if local {
		if r.local != nil {
			if s, ok := r.local.LookupLocal(name); ok && s.Address != 0 {
				return s, "local", true
			}
		}
		return obj.Sym{}, "", false
	}

	if r.local != nil {
		if s, ok := r.local.Lookup(name); ok && s.Address != 0 {
			return s, "local", true
		}
	}
	if r.host != nil {
		if s, ok := r.host.Lookup(name); ok && s.Address != 0 {
			return s, "host", true
		}
	}
	for _, t := range r.prior {
		if s, ok := t.Lookup(name); ok && s.Address != 0 {
			return s, "prior", true
		}
	}
	return obj.Sym{}, "", false
}
