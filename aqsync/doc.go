// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package aqsync provides the building blocks for writing blocking
// synchronizers on top of a single CAS'd state word and a FIFO queue of
// parked goroutines: a reentrant Mutex with Condition support, a counting
// Semaphore, and a CountDownLatch, all sharing the same Sync core.
//
// A goroutine that calls an uninterruptible method (Lock, Acquire, Await)
// blocks until it succeeds. Context-aware variants (LockContext,
// AcquireContext, the Await family) return the context's error if it is
// done first, after first removing the caller from whichever queue it was
// waiting on.
package aqsync
