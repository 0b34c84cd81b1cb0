// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"
)

// spinDelay is used in spin loops to delay resumption of the loop before
// falling back to yielding the processor. Usage:
//
//	var attempts uint
//	for try_something {
//	   attempts = spinDelay(attempts)
//	}
func spinDelay(attempts uint) uint {
	if attempts < 7 {
		for i := 0; i != 1<<attempts; i++ {
		}
		attempts++
	} else {
		runtime.Gosched()
	}
	return attempts
}

// spinForTimeoutThreshold is the remaining-wait threshold below which a
// waiter should spin rather than park, since the cost of parking and being
// rescheduled exceeds the remaining wait itself.
const spinForTimeoutThreshold = 1000 // nanoseconds

// GoroutineID identifies a logical caller across Acquire/Await calls for
// diagnostic purposes. Go has no public, stable handle on the calling
// goroutine, so callers that want IsQueued or similar diagnostics to be
// meaningful must mint one with NewGoroutineID and pass it consistently.
// Callers that don't care about per-caller diagnostics may pass 0.
type GoroutineID uint64

var goroutineIDCounter uint64

// NewGoroutineID returns a fresh, process-unique GoroutineID.
func NewGoroutineID() GoroutineID {
	return GoroutineID(atomic.AddUint64(&goroutineIDCounter, 1))
}

// runtimeGoroutineID extracts the runtime's own numeric goroutine id by
// parsing the header line of runtime.Stack's output ("goroutine 123
// [running]:..."). This is deliberately kept internal: it exists only so
// Mutex can tell whether the goroutine calling Lock is the same one that
// already holds it, which is a correctness requirement (mutual exclusion
// must not depend on a caller remembering to pass a GoroutineID) rather
// than a diagnostic convenience. The public GoroutineID type remains
// caller-supplied, since Go makes no API stability guarantee about this
// format and diagnostics can tolerate an opaque, caller-chosen identity
// instead.
func runtimeGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		if id, err := strconv.ParseUint(string(b[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
