// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlfcn

import (
	"sync"

	"github.com/aclements/ppcdl/image"
)

// currentAllocator backs every section Dlopen places. The default,
// fakeAllocator, hands out addresses from a private 32-bit arena
// instead of real host memory: on a real target this package is
// embedded in a runtime with its own aligned, executable-mapped
// allocator (spec.md lists this as a collaborator this package
// consumes but does not implement), wired in with SetAllocator.
var currentAllocator image.Allocator = fakeAllocator

// SetAllocator installs alloc as the primitive Dlopen uses to reserve
// memory for an object's allocatable sections. Passing nil restores
// the built-in development/test arena.
func SetAllocator(alloc image.Allocator) {
	if alloc == nil {
		alloc = fakeAllocator
	}
	currentAllocator = alloc
}

var fakeArena = struct {
	mu   sync.Mutex
	next uint32
}{next: 0x90000000}

// fakeAllocator is a standalone Allocator usable without any real
// bare-metal memory manager: it hands out bytes from the Go heap and
// monotonically increasing fake addresses. It is sufficient for
// testing and host-side development, but the returned "addresses" are
// not usable as real pointers — only as the uint32 operands the
// relocation formulas compute with.
func fakeAllocator(size, align uint32) (uint32, []byte, error) {
	fakeArena.mu.Lock()
	defer fakeArena.mu.Unlock()

	if align == 0 {
		align = 1
	}
	addr := (fakeArena.next + align - 1) &^ (align - 1)
	fakeArena.next = addr + size
	return addr, make([]byte, size), nil
}
