// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import (
	"context"
	"time"
)

// Locker is the interface a caller drives a reentrant lock through; it is
// satisfied by *Mutex and lets callers that don't need Mutex-specific
// diagnostics depend on the narrower interface instead.
type Locker interface {
	Lock()
	LockContext(ctx context.Context) error
	TryLock() bool
	TryLockTimeout(ctx context.Context, d time.Duration) (bool, error)
	Unlock()
	NewCondition() *Condition
}

// Mutex is a reentrant, mutual-exclusion lock built on Sync, the
// reference synchronizer spec.md's component design is modelled after.
// The zero value is not usable; construct with NewMutex or NewFairMutex.
//
// State encodes the hold count directly: zero means unlocked, N means
// held N times by Mutex.owner. Fair mutexes additionally consult
// HasQueuedPredecessors before attempting the uncontended CAS, so a
// goroutine arriving while others already wait never jumps the queue;
// non-fair mutexes try the barge-ahead CAS unconditionally first, trading
// strict FIFO order for throughput, exactly as spec.md §4.3 describes.
//
// owner tracks the runtime's own goroutine id (runtimeGoroutineID), not
// the caller-supplied GoroutineID that CurrentAcquirer exposes for
// diagnostics. CurrentAcquirer defaults to 0 for every goroutine that
// doesn't bother minting one, so two unrelated goroutines calling plain
// Lock would otherwise collide on the same "owner" value and one could
// mistake the other's hold for its own reentrant acquire; the runtime id
// has no such collision, at the cost of being an unexported, undocumented
// Go runtime format rather than a stable public API.
type Mutex struct {
	*Sync
	fair  bool
	owner uint64
}

var _ Locker = (*Mutex)(nil)
var _ Hooks = (*Mutex)(nil)

// NewMutex returns a non-fair reentrant Mutex.
func NewMutex() *Mutex {
	m := &Mutex{}
	m.Sync = New(m)
	return m
}

// NewFairMutex returns a reentrant Mutex that services waiters strictly in
// FIFO order, at some throughput cost versus NewMutex.
func NewFairMutex() *Mutex {
	m := &Mutex{fair: true}
	m.Sync = New(m)
	return m
}

// TryAcquire implements Hooks for Mutex: the reentrant-lock acquire logic
// spec.md §4.3 sketches, grounded on the original AQS ReentrantLock's
// Sync.nonfairTryAcquire/FairSync.tryAcquire.
func (m *Mutex) TryAcquire(arg int32) bool {
	rid := runtimeGoroutineID()
	state := m.State()
	if state == 0 {
		if m.fair && m.HasQueuedPredecessors() {
			return false
		}
		if m.CompareAndSetState(0, arg) {
			m.owner = rid
			return true
		}
		return false
	}
	if m.owner == rid {
		m.SetState(state + arg)
		return true
	}
	return false
}

// TryRelease implements Hooks for Mutex. Unlike CurrentAcquirer, owner is
// keyed by the runtime's own goroutine id, so TryRelease can additionally
// catch a goroutine releasing a lock some other goroutine holds, not just
// releasing one nobody holds.
func (m *Mutex) TryRelease(arg int32) bool {
	state := m.State()
	if state == 0 || m.owner != runtimeGoroutineID() {
		panic(ErrIllegalMonitorState)
	}
	next := state - arg
	free := next == 0
	if free {
		m.owner = 0
	}
	m.SetState(next)
	return free
}

// TryAcquireShared and TryReleaseShared are unsupported for a purely
// exclusive lock; Sync never calls them unless a caller mistakenly
// invokes AcquireShared/ReleaseShared directly against a Mutex.
func (m *Mutex) TryAcquireShared(arg int32) int32 { return -1 }
func (m *Mutex) TryReleaseShared(arg int32) bool  { return false }

// HeldExclusively reports whether the calling goroutine currently holds m.
func (m *Mutex) HeldExclusively() bool {
	return m.State() != 0 && m.owner == runtimeGoroutineID()
}

// Lock acquires m, blocking uninterruptibly, reentrantly incrementing the
// hold count if the calling goroutine already holds m.
func (m *Mutex) Lock() {
	m.Acquire(1)
}

// LockContext is like Lock but returns ctx.Err() if ctx is done first.
func (m *Mutex) LockContext(ctx context.Context) error {
	return m.AcquireContext(ctx, 1)
}

// TryLock acquires m only if it is immediately available, without
// blocking, reentrantly if the calling goroutine already holds m.
func (m *Mutex) TryLock() bool {
	m.setCurrentAcquirer(0)
	return m.hooks.TryAcquire(1)
}

// TryLockTimeout is like TryLock but waits up to d for m to become
// available.
func (m *Mutex) TryLockTimeout(ctx context.Context, d time.Duration) (bool, error) {
	return m.TryAcquireNanos(ctx, 1, d)
}

// Unlock releases one level of m's hold count, fully releasing and
// unparking the next waiter (if any) once the count reaches zero. Unlock
// panics if the calling goroutine does not currently hold m, exactly as
// spec.md §7 prescribes for IllegalMonitorState misuse.
func (m *Mutex) Unlock() {
	m.Release(1)
}

// HoldCount returns the number of times the calling goroutine currently
// holds m reentrantly (0 if it does not hold m at all).
func (m *Mutex) HoldCount() int {
	if m.owner != runtimeGoroutineID() {
		return 0
	}
	return int(m.State())
}
