// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlfcn

import "log"

// LogFunc receives one diagnostic line tagged with tag (e.g. "LOAD",
// "RELOC", "INIT") plus a printf-style format and arguments. It lets an
// embedding console application route loader diagnostics to its own
// on-screen log without this package depending on that console's
// package.
type LogFunc func(tag, format string, args ...interface{})

var currentLogger LogFunc = defaultLogger

func defaultLogger(tag, format string, args ...interface{}) {
	log.Printf("["+tag+"] "+format, args...)
}

// SetLogger installs f as the sink for every subsequent diagnostic
// logged by this package. Passing nil silences logging entirely.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, string, ...interface{}) {}
	}
	currentLogger = f
}

func logf(tag, format string, args ...interface{}) {
	currentLogger(tag, format, args...)
}
