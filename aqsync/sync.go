// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package aqsync provides a FIFO, CAS-based framework for building
// blocking synchronizers — locks, semaphores, latches, and condition
// variables — atop a single 32-bit state word and a queue of parked
// goroutines. Concrete synchronizers supply acquire/release semantics by
// implementing Hooks; aqsync supplies the queueing, parking, cancellation,
// and fairness machinery common to all of them.
package aqsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/crucible-sync/aqs/synclog"
)

// Hooks defines the acquire/release semantics a concrete synchronizer
// layers atop Sync's queueing machinery. Implementations typically embed
// *Sync and interpret its state word however suits their domain (hold
// count for a reentrant lock, permit count for a semaphore, and so on).
// A Hooks that only supports one mode may leave the other pair of methods
// returning failure; Sync never calls a shared-mode method from an
// exclusive-mode acquire path or vice versa.
type Hooks interface {
	// TryAcquire attempts an exclusive acquire and reports success.
	TryAcquire(arg int32) bool
	// TryRelease attempts an exclusive release; reports whether the
	// synchronizer is now fully released (successors should be unparked).
	TryRelease(arg int32) bool
	// TryAcquireShared attempts a shared acquire. A negative result means
	// failure; zero means success but no further shared acquires may
	// succeed without an intervening release; a positive result means
	// success and the next queued shared waiter may also succeed
	// (propagation).
	TryAcquireShared(arg int32) int32
	// TryReleaseShared attempts a shared release; reports whether
	// subsequent shared acquires may now succeed (propagation).
	TryReleaseShared(arg int32) bool
}

// Sync is the FIFO CAS-based synchronizer core. It is not used directly;
// concrete lock/semaphore/latch types embed it and supply Hooks.
type Sync struct {
	state int32 // atomic; interpretation is owned by Hooks

	head atomic.Pointer[node]
	tail atomic.Pointer[node]

	hooks Hooks
	pool  *nodePool
	log   *synclog.Logger

	contended       uint32       // atomic bool: has this Sync ever had to queue a waiter
	currentAcquirer atomic.Value // holds the GoroutineID driving the in-flight Hooks call
	tracer          *tracer      // optional interval tracing, set via WithTracer
}

// New returns a Sync driven by hooks.
func New(hooks Hooks) *Sync {
	return &Sync{hooks: hooks, log: synclog.DefaultLogger}
}

// State returns the current value of the synchronizer's state word.
func (s *Sync) State() int32 { return atomic.LoadInt32(&s.state) }

// SetState unconditionally sets the state word. Only safe to call from a
// context that already holds the synchronizer (e.g. from within
// TryRelease), or before the Sync is published to other goroutines.
func (s *Sync) SetState(v int32) { atomic.StoreInt32(&s.state, v) }

// CompareAndSetState atomically sets the state word to new iff it is
// currently old, and reports whether it did so.
func (s *Sync) CompareAndSetState(old, new int32) bool {
	return atomic.CompareAndSwapInt32(&s.state, old, new)
}

// CurrentAcquirer returns the GoroutineID most recently recorded by an
// Acquire*/TryAcquireNanos call (or Mutex.TryLock) on this Sync, taken
// from that call's context (0 if none was attached). It is a single value
// shared by all goroutines, so under concurrent acquires it may belong to
// another caller; it serves diagnostics only. Fairness checks do not use
// it: HasQueuedPredecessors and Mutex key on the runtime goroutine id.
func (s *Sync) CurrentAcquirer() GoroutineID {
	id, _ := s.currentAcquirer.Load().(GoroutineID)
	return id
}

// setCurrentAcquirer records id as the goroutine whose Hooks call is in
// flight; Hooks methods consult it via CurrentAcquirer.
func (s *Sync) setCurrentAcquirer(id GoroutineID) {
	s.currentAcquirer.Store(id)
}

// HasQueuedPredecessors reports whether the sync queue has a waiter ahead
// of the calling goroutine that has not yet had a chance to run. Fair lock
// implementations call this from TryAcquire before attempting a CAS, so
// that a goroutine arriving while others already wait does not jump the
// queue.
//
// The comparison is keyed by runtimeGoroutineID, not by the
// caller-supplied GoroutineID CurrentAcquirer exposes: the latter defaults
// to 0 for any caller that never minted one (the common case via plain
// Lock/TryLock), which would make every such caller indistinguishable
// from the queue's own head successor and defeat fairness for exactly the
// entry point it exists to protect.
func (s *Sync) HasQueuedPredecessors() bool {
	h := s.head.Load()
	t := s.tail.Load()
	if h == t {
		return false
	}
	first := h.next.Load()
	if first == nil {
		return true
	}
	return first.rgid != runtimeGoroutineID()
}

// HasContended reports whether any goroutine has ever had to queue to
// acquire this synchronizer.
func (s *Sync) HasContended() bool {
	return atomic.LoadUint32(&s.contended) != 0
}

// goroutineIDKey is the context.Context key under which Acquire/Await
// callers may stash a GoroutineID obtained from NewGoroutineID, so that
// diagnostics such as IsQueued can identify them later.
type goroutineIDKey struct{}

// WithGoroutineID returns a context carrying id for diagnostic purposes.
func WithGoroutineID(ctx context.Context, id GoroutineID) context.Context {
	return context.WithValue(ctx, goroutineIDKey{}, id)
}

func goroutineIDFromContext(ctx context.Context) GoroutineID {
	id, _ := ctx.Value(goroutineIDKey{}).(GoroutineID)
	return id
}

// Acquire acquires in exclusive mode, ignoring cancellation, blocking
// until TryAcquire succeeds. Use AcquireContext for a cancellable variant.
func (s *Sync) Acquire(arg int32) {
	// context.Background never cancels, so the returned error is always
	// nil; discarded here to give callers the uninterruptible variant the
	// rest of the Go ecosystem expects from a plain Lock call.
	_ = s.AcquireContext(context.Background(), arg)
}

// AcquireContext acquires in exclusive mode, returning ctx.Err() if ctx is
// done before acquisition succeeds. On cancellation the caller's node is
// removed from the queue before the error is returned.
func (s *Sync) AcquireContext(ctx context.Context, arg int32) error {
	id := goroutineIDFromContext(ctx)
	s.currentAcquirer.Store(id)
	if s.hooks.TryAcquire(arg) {
		return nil
	}
	atomic.StoreUint32(&s.contended, 1)
	s.log.V2f("goroutine %d contended on exclusive acquire, queueing", id)
	n := s.addWaiter(nil, id)
	return s.acquireQueued(ctx, n, arg)
}

// TryAcquireNanos attempts an exclusive acquire, waiting at most d before
// giving up. It returns (true, nil) on success, (false, nil) on timeout,
// and (false, err) if ctx was cancelled by the caller (as opposed to
// merely timing out).
func (s *Sync) TryAcquireNanos(ctx context.Context, arg int32, d time.Duration) (bool, error) {
	id := goroutineIDFromContext(ctx)
	s.currentAcquirer.Store(id)
	if s.hooks.TryAcquire(arg) {
		return true, nil
	}
	if d <= 0 {
		return false, nil
	}
	atomic.StoreUint32(&s.contended, 1)
	deadlineCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	n := s.addWaiter(nil, id)
	err := s.acquireQueued(deadlineCtx, n, arg)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

// AcquireShared acquires in shared mode, ignoring cancellation.
func (s *Sync) AcquireShared(arg int32) {
	_ = s.AcquireSharedContext(context.Background(), arg)
}

// AcquireSharedContext acquires in shared mode, returning ctx.Err() if ctx
// is done before acquisition succeeds.
func (s *Sync) AcquireSharedContext(ctx context.Context, arg int32) error {
	id := goroutineIDFromContext(ctx)
	s.currentAcquirer.Store(id)
	if r := s.hooks.TryAcquireShared(arg); r >= 0 {
		return nil
	}
	atomic.StoreUint32(&s.contended, 1)
	n := s.addWaiter(sharedMarker, id)
	return s.doAcquireShared(ctx, n, arg)
}

// Release releases in exclusive mode, returning the result of TryRelease.
// When TryRelease reports full release, the synchronizer's longest-waiting
// successor (if any) is unparked.
func (s *Sync) Release(arg int32) bool {
	if s.hooks.TryRelease(arg) {
		if h := s.head.Load(); h != nil && h.loadStatus() != statusZero {
			s.unparkSuccessor(h)
		}
		return true
	}
	return false
}

// ReleaseShared releases in shared mode, returning the result of
// TryReleaseShared. When TryReleaseShared reports that further shared
// acquires may proceed, release is propagated down the queue.
func (s *Sync) ReleaseShared(arg int32) bool {
	if s.hooks.TryReleaseShared(arg) {
		s.doReleaseShared()
		return true
	}
	return false
}

// enqueue appends n to the sync queue's tail, initializing the queue with
// a dummy head sentinel on first use, and returns n's predecessor.
func (s *Sync) enqueue(n *node) *node {
	for {
		t := s.tail.Load()
		if t == nil {
			h := newNode(0, nil)
			if s.head.CompareAndSwap(nil, h) {
				s.tail.Store(h)
			}
			continue
		}
		n.prev.Store(t)
		if s.tail.CompareAndSwap(t, n) {
			t.next.Store(n)
			return t
		}
	}
}

// addWaiter creates a node for id in the given mode (nil for exclusive,
// sharedMarker for shared) and links it onto the sync queue, trying a
// fast-path tail CAS before falling back to the full enqueue loop.
func (s *Sync) addWaiter(mode *node, id GoroutineID) *node {
	n := s.pool.take(id, mode)
	if n == nil {
		n = newNode(id, mode)
	}
	t := s.tail.Load()
	if t != nil {
		n.prev.Store(t)
		if s.tail.CompareAndSwap(t, n) {
			t.next.Store(n)
			return n
		}
	}
	s.enqueue(n)
	return n
}

func (s *Sync) setHead(n *node) {
	s.head.Store(n)
	n.goroutine = 0
	n.rgid = 0
	n.mode = nil
	n.prev.Store(nil)
}

// acquireQueued parks n's goroutine until it reaches the head of the
// queue and TryAcquire succeeds, or ctx is done. Grounded on
// AbstractQueuedSynchronizer.cpp's acquireQueued: spin-checking the
// predecessor, marking it SIGNAL, then parking.
func (s *Sync) acquireQueued(ctx context.Context, n *node, arg int32) error {
	s.tracer.push("acquire")
	defer s.tracer.pop()
	for {
		p := n.predecessor()
		if p == s.head.Load() && s.hooks.TryAcquire(arg) {
			prevHead := p
			s.setHead(n)
			prevHead.next.Store(nil)
			s.pool.put(prevHead)
			return nil
		}
		if ctx.Err() != nil {
			s.cancelAcquire(n)
			return ctx.Err()
		}
		if s.shouldParkAfterFailedAcquire(p, n) {
			if err := s.parkNode(ctx, n); err != nil {
				s.cancelAcquire(n)
				return err
			}
		}
	}
}

// doAcquireShared is acquireQueued's shared-mode counterpart; on success it
// propagates release to further shared waiters via setHeadAndPropagate.
func (s *Sync) doAcquireShared(ctx context.Context, n *node, arg int32) error {
	s.tracer.push("acquireShared")
	defer s.tracer.pop()
	for {
		p := n.predecessor()
		if p == s.head.Load() {
			if r := s.hooks.TryAcquireShared(arg); r >= 0 {
				prevHead := p
				s.setHeadAndPropagate(n, r)
				prevHead.next.Store(nil)
				s.pool.put(prevHead)
				return nil
			}
		}
		if ctx.Err() != nil {
			s.cancelAcquire(n)
			return ctx.Err()
		}
		if s.shouldParkAfterFailedAcquire(p, n) {
			if err := s.parkNode(ctx, n); err != nil {
				s.cancelAcquire(n)
				return err
			}
		}
	}
}

// shouldParkAfterFailedAcquire checks and, if necessary, updates the
// status of a node's predecessor to indicate that the calling goroutine
// should park. Skips over cancelled predecessors.
func (s *Sync) shouldParkAfterFailedAcquire(pred, n *node) bool {
	ws := pred.loadStatus()
	if ws == statusSignal {
		return true
	}
	if ws > 0 {
		for ws > 0 {
			pred = pred.prev.Load()
			ws = pred.loadStatus()
		}
		n.prev.Store(pred)
		pred.next.Store(n)
	} else {
		pred.casStatus(ws, statusSignal)
	}
	return false
}

// parkNode blocks until n is unparked or ctx is done, returning ctx.Err()
// in the latter case. When ctx carries a deadline close enough that
// parking (and the scheduler latency of being woken again) would cost more
// than the remaining wait, it busy-spins on n.park instead of parking,
// mirroring doAcquireNanos's spinForTimeoutThreshold check.
func (s *Sync) parkNode(ctx context.Context, n *node) error {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < spinForTimeoutThreshold {
			for time.Now().Before(deadline) {
				select {
				case <-n.park:
					return nil
				default:
				}
			}
			select {
			case <-n.park:
				return nil
			default:
				return ctx.Err()
			}
		}
	}
	select {
	case <-n.park:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isOnSyncQueue reports whether n is reachable on the sync queue, as
// opposed to still sitting on a Condition's own wait list (status
// CONDITION) or mid-transfer (CAS to statusZero done, enqueue not yet
// linked in). Grounded on AbstractQueuedSynchronizer.cpp's isOnSyncQueue.
func (s *Sync) isOnSyncQueue(n *node) bool {
	if n.loadStatus() == statusCondition || n.prev.Load() == nil {
		return false
	}
	if n.next.Load() != nil {
		return true
	}
	return s.findNodeFromTail(n)
}

// findNodeFromTail walks back from the tail looking for n, since a node's
// forward link is set by its predecessor and may not be visible yet even
// though the node itself is already linked in via prev/tail.
func (s *Sync) findNodeFromTail(n *node) bool {
	for t := s.tail.Load(); t != nil; t = t.prev.Load() {
		if t == n {
			return true
		}
	}
	return false
}

// unparkSuccessor wakes n's successor on the sync queue, scanning back
// from the tail when n.next is stale or belongs to a cancelled node, as
// concurrent enqueues can leave the forward link momentarily unset.
func (s *Sync) unparkSuccessor(n *node) {
	ws := n.loadStatus()
	if ws < 0 {
		n.casStatus(ws, statusZero)
	}
	succ := n.next.Load()
	if succ == nil || succ.loadStatus() > 0 {
		succ = nil
		for t := s.tail.Load(); t != nil && t != n; t = t.prev.Load() {
			if t.loadStatus() <= 0 {
				succ = t
			}
		}
	}
	if succ != nil {
		succ.unpark()
	}
}

// setHeadAndPropagate sets n as the new head and, if the just-completed
// shared acquire indicated further shared acquires may proceed (or the
// prior head's status suggested a pending propagation), continues
// releasing down the queue so every queued shared waiter gets a turn
// without needing a dedicated release call.
func (s *Sync) setHeadAndPropagate(n *node, propagate int32) {
	h := s.head.Load()
	s.setHead(n)
	if propagate > 0 || h == nil || h.loadStatus() < 0 {
		succ := n.next.Load()
		if succ == nil || succ.isShared() {
			s.doReleaseShared()
		}
	}
}

// doReleaseShared propagates a shared release down the queue, ensuring
// that a signal set on the head is always eventually delivered even if a
// concurrent doReleaseShared call raced it to the CAS.
func (s *Sync) doReleaseShared() {
	for {
		h := s.head.Load()
		if h != nil && h != s.tail.Load() {
			ws := h.loadStatus()
			if ws == statusSignal {
				if !h.casStatus(statusSignal, statusZero) {
					continue
				}
				s.unparkSuccessor(h)
			} else if ws == statusZero && !h.casStatus(statusZero, statusPropagate) {
				continue
			}
		}
		if h == s.head.Load() {
			break
		}
	}
}

// cancelAcquire removes n from the sync queue after its goroutine gives up
// (context cancellation), relinking around it so the queue remains a
// valid, traversable chain for everyone else.
func (s *Sync) cancelAcquire(n *node) {
	if n == nil {
		return
	}
	s.log.V2f("goroutine %d cancelling queued acquire", n.goroutine)
	n.goroutine = 0

	pred := n.prev.Load()
	for pred.loadStatus() > 0 {
		pred = pred.prev.Load()
	}
	n.prev.Store(pred)

	predNext := pred.next.Load()
	n.storeStatus(statusCancelled)

	if n == s.tail.Load() && s.tail.CompareAndSwap(n, pred) {
		pred.next.CompareAndSwap(predNext, nil)
	} else {
		if pred != s.head.Load() {
			ws := pred.loadStatus()
			if (ws == statusSignal || pred.casStatus(ws, statusSignal)) && pred.goroutine != 0 {
				pred.next.CompareAndSwap(predNext, n.next.Load())
				return
			}
		}
		s.unparkSuccessor(n)
	}
}

// heldExclusivelyHook is the optional method a Hooks type may implement so
// that heldExclusively can report whether the calling goroutine holds this
// synchronizer in exclusive mode; for Hooks types that omit it (e.g. a
// pure semaphore) heldExclusively always reports false.
type heldExclusivelyHook interface {
	HeldExclusively() bool
}

func (s *Sync) heldExclusively() bool {
	if h, ok := s.hooks.(heldExclusivelyHook); ok {
		return h.HeldExclusively()
	}
	return false
}
