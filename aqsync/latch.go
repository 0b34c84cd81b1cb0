// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import "context"

// CountDownLatch lets one or more goroutines block until a set of events
// counted down by others has completed. Unlike Semaphore/Mutex, a
// CountDownLatch is single-use: once its count reaches zero it stays open
// forever, and further CountDown calls are no-ops. This mirrors
// java.util.concurrent.CountDownLatch, and exercises shared-mode
// propagation the same way Semaphore does: once the count reaches zero,
// TryAcquireShared always reports a positive remaining value, so every
// waiter unblocked propagates release to the next.
type CountDownLatch struct {
	*Sync
}

var _ Hooks = (*CountDownLatch)(nil)

// NewCountDownLatch returns a CountDownLatch that releases its waiters
// once CountDown has been called count times.
func NewCountDownLatch(count int32) *CountDownLatch {
	l := &CountDownLatch{}
	l.Sync = New(l)
	l.SetState(count)
	return l
}

// TryAcquireShared implements Hooks for CountDownLatch: succeeds (and
// propagates) iff the count has already reached zero.
func (l *CountDownLatch) TryAcquireShared(arg int32) int32 {
	if l.State() == 0 {
		return 1
	}
	return -1
}

// TryReleaseShared implements Hooks for CountDownLatch: decrements the
// count, reporting success (triggering propagation) exactly once, the CAS
// that brings the count to zero.
func (l *CountDownLatch) TryReleaseShared(arg int32) bool {
	for {
		cur := l.State()
		if cur == 0 {
			return false
		}
		next := cur - 1
		if l.CompareAndSetState(cur, next) {
			return next == 0
		}
	}
}

func (l *CountDownLatch) TryAcquire(arg int32) bool { return false }
func (l *CountDownLatch) TryRelease(arg int32) bool { return false }

// CountDown decrements the latch's count, releasing all waiting
// goroutines once it reaches zero. Has no effect if the count is already
// zero.
func (l *CountDownLatch) CountDown() {
	l.ReleaseShared(1)
}

// Await blocks uninterruptibly until the count reaches zero.
func (l *CountDownLatch) Await() {
	l.AcquireShared(1)
}

// AwaitContext is like Await but returns ctx.Err() if ctx is done first.
func (l *CountDownLatch) AwaitContext(ctx context.Context) error {
	return l.AcquireSharedContext(ctx, 1)
}

// Count returns the current count. A snapshot; may already be stale by
// the time the caller observes it.
func (l *CountDownLatch) Count() int32 {
	return l.State()
}
