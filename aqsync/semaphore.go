// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import (
	"context"
	"sync/atomic"
	"time"
)

// Semaphore is a classic counting semaphore: a fixed initial number of
// permits, each Acquire consuming one and blocking if none remain, each
// Release returning one and waking the next waiter. Built directly on
// Sync's shared-mode acquire/release, it exists to exercise and
// demonstrate shared-mode propagation — a release with permits to spare
// wakes not just the next waiter but lets that release propagate further
// down the queue, so a burst of Releases drains the queue in one pass
// rather than one waiter per Release.
type Semaphore struct {
	*Sync
}

var _ Hooks = (*Semaphore)(nil)

// NewSemaphore returns a Semaphore initialized with permits available
// permits.
func NewSemaphore(permits int32) *Semaphore {
	sm := &Semaphore{}
	sm.Sync = New(sm)
	sm.SetState(permits)
	return sm
}

// TryAcquireShared implements Hooks for Semaphore: spin-CAS down the
// permit count, returning the remaining count on success (so a surplus of
// permits propagates to the next waiter) or -1 if none remain.
func (sm *Semaphore) TryAcquireShared(arg int32) int32 {
	for {
		avail := sm.State()
		remaining := avail - arg
		if remaining < 0 {
			return -1
		}
		if sm.CompareAndSetState(avail, remaining) {
			return remaining
		}
	}
}

// TryReleaseShared implements Hooks for Semaphore: spin-CAS the permit
// count back up, always reporting success so the release is propagated.
func (sm *Semaphore) TryReleaseShared(arg int32) bool {
	for {
		cur := sm.State()
		next := cur + arg
		if next < cur {
			panic("aqsync: semaphore permit count overflow")
		}
		if sm.CompareAndSetState(cur, next) {
			return true
		}
	}
}

// TryAcquire and TryRelease are unsupported: Semaphore is shared-mode only.
func (sm *Semaphore) TryAcquire(arg int32) bool { return false }
func (sm *Semaphore) TryRelease(arg int32) bool { return false }

// Acquire blocks uninterruptibly until a permit is available, then takes
// it.
func (sm *Semaphore) Acquire() {
	sm.AcquireShared(1)
}

// AcquireContext is like Acquire but returns ctx.Err() if ctx is done
// before a permit becomes available.
func (sm *Semaphore) AcquireContext(ctx context.Context) error {
	return sm.AcquireSharedContext(ctx, 1)
}

// TryAcquireTimeout attempts to take a permit, waiting up to d.
func (sm *Semaphore) TryAcquireTimeout(ctx context.Context, d time.Duration) (bool, error) {
	if sm.TryAcquireShared(1) >= 0 {
		return true, nil
	}
	if d <= 0 {
		return false, nil
	}
	atomic.StoreUint32(&sm.contended, 1)
	deadlineCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := sm.doAcquireShared(deadlineCtx, sm.addWaiter(sharedMarker, goroutineIDFromContext(ctx)), 1)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

// Release returns a permit, waking the longest-waiting Acquire if any
// goroutine is blocked.
func (sm *Semaphore) Release() {
	sm.ReleaseShared(1)
}

// AvailablePermits returns the current number of permits available for
// Acquire without blocking. The result is a snapshot and may already be
// stale by the time the caller observes it.
func (sm *Semaphore) AvailablePermits() int32 {
	return sm.State()
}
