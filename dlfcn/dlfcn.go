// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dlfcn is a minimal POSIX-style dynamic loader for 32-bit
// big-endian PowerPC ELF relocatable object files, intended for a
// bare-metal executable with no system dynamic linker of its own.
// Dlinit registers the running executable's own symbols as the "host"
// image; Dlopen then loads, places, and relocates further object
// files against their own symbols, then that host image, then each
// other (oldest first), in that precedence order.
//
// This package keeps a single package-level loader state, matching
// the process-wide nature of the POSIX dlfcn API it imitates: there
// is one host image, one live-set of loaded objects, and one pending-
// error slot, not one per caller.
package dlfcn

import (
	"sync"

	"github.com/aclements/ppcdl/dbg"
	"github.com/aclements/ppcdl/obj"
	"github.com/aclements/ppcdl/symtab"
	"github.com/pkg/errors"
)

// Mode is accepted by Dlopen for source compatibility with POSIX
// dlopen, and ignored: this loader always resolves every relocation
// immediately, so LAZY and NOW behave identically.
type Mode int

const (
	Lazy Mode = 0
	Now  Mode = 1
)

// Handle identifies one loaded object. The zero Handle is never
// returned by a successful Dlopen and is not valid to pass to Dlsym
// or Dlclose.
type Handle struct {
	obj *object
}

type state struct {
	mu sync.Mutex

	hostFile *obj.File // the parsed host image; not read after Dlinit
	host     *symtab.Table
	dwarf    *dbg.Data

	live []*object // oldest first

	lastErr string
}

var global state

// errSlot renders err into the pending-error slot, if non-nil, and
// returns err unchanged — letting every public operation both set the
// slot and return a normal Go error in one line.
func (s *state) errSlot(err error) error {
	if err != nil {
		s.lastErr = err.Error()
	}
	return err
}

// Dlinit parses ownPath — the path to the running executable itself —
// as the host image. It must be called exactly once, before any
// Dlopen.
func Dlinit(ownPath string) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.lastErr = ""

	if global.host != nil {
		return global.errSlot(errors.New("dlfcn: already initialized"))
	}

	f, table, err := openHost(ownPath)
	if err != nil {
		return global.errSlot(err)
	}

	global.hostFile = f
	global.host = table
	global.dwarf = buildDwarf(f)

	logf("INIT", "%s: %d host symbols", ownPath, len(f.Syms))
	shown := 0
	for _, sym := range f.Syms {
		if sym.Type != obj.TypeFunc || shown >= 8 {
			continue
		}
		shown++
		logf("INIT", "  %s = %#x", sym.Name, sym.Address)
	}

	return nil
}

// Dlopen loads path as a relocatable object, relocates it against the
// host image, every still-open object, and its own local symbols, and
// adds it to the live-set. On any failure the live-set is left as it
// was before the call; memory the allocator already handed out for the
// object's sections is not returned to it.
func Dlopen(path string, mode Mode) (Handle, error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.lastErr = ""

	if global.host == nil {
		return Handle{}, global.errSlot(errors.New("dlfcn: dlopen called before dlinit"))
	}

	o, err := loadObject(path, global.host, global.live, global.dwarf)
	if err != nil {
		return Handle{}, global.errSlot(err)
	}

	global.live = append(global.live, o)
	return Handle{obj: o}, nil
}

// Dlsym looks up name among h's own symbols, local or not, and
// returns its runtime address.
func Dlsym(h Handle, name string) (uintptr, error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.lastErr = ""

	if h.obj == nil {
		return 0, global.errSlot(errors.New("dlfcn: dlsym called with an invalid handle"))
	}
	sym, ok := h.obj.table.LookupLocal(name)
	if !ok || sym.Address == 0 {
		return 0, global.errSlot(errors.Errorf("dlfcn: undefined symbol %q", name))
	}
	return uintptr(sym.Address), nil
}

// Dlclose removes h from the live-set. Objects loaded after h may
// already have relocations resolved against h's symbols; per this
// loader's scope (spec.md's Non-goals), Dlclose never attempts to find
// or invalidate them.
func Dlclose(h Handle) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.lastErr = ""

	if h.obj == nil {
		return global.errSlot(errors.New("dlfcn: dlclose called with an invalid handle"))
	}
	for i, o := range global.live {
		if o == h.obj {
			global.live = append(global.live[:i], global.live[i+1:]...)
			logf("CLOSE", "%s", o.path)
			return nil
		}
	}
	return global.errSlot(errors.New("dlfcn: dlclose called with a handle that is not open"))
}

// Dlerror returns the error message from the most recently failed
// operation on this package, or "" if the most recent operation
// succeeded (or no operation has run yet). Calling Dlerror clears the
// slot, matching POSIX dlerror's NULL-after-read behavior.
func Dlerror() string {
	global.mu.Lock()
	defer global.mu.Unlock()
	e := global.lastErr
	global.lastErr = ""
	return e
}

// CacheSync, if non-nil, is called once per loaded allocatable
// section after Dlopen finishes relocating it, with the section's
// runtime base and byte length. The PowerPC cores this loader targets
// need an explicit data-cache flush and instruction-cache invalidate
// before code written by Dlopen is safe to branch to; this package has
// no MMU of its own to do that, so the embedding runtime supplies the
// primitive.
var CacheSync func(base uintptr, size int)
