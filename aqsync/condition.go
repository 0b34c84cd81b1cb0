// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Condition is a condition variable bound to a single Sync, offering the
// classic wait/signal protocol: a goroutine that calls Await must already
// hold the synchronizer exclusively, and gives it up for the duration of
// the wait, reacquiring it (with the same hold state) before returning.
//
// Grounded on nsync/cv.go's CV: Signal and SignalAll there transfer a
// waiter directly onto the mutex's own queue rather than waking it to
// re-contend from scratch (wakeWaiters); Condition.transfer below adapts
// that trick to the CLH sync queue, using a CAS on the node's status
// (CONDITION -> 0) in place of nsync's designated-waker bit.
type Condition struct {
	sync *Sync

	mu   uint32 // spinlock guarding the condition's own singly-linked wait list
	head *node
	tail *node
}

// NewCondition returns a new Condition bound to s. A Hooks implementation
// that wants to expose conditions typically does this from a method of
// its own, e.g. Mutex.NewCondition.
func (s *Sync) NewCondition() *Condition {
	return &Condition{sync: s}
}

func (c *Condition) lock() {
	var attempts uint
	for !atomic.CompareAndSwapUint32(&c.mu, 0, 1) {
		attempts = spinDelay(attempts)
	}
}

func (c *Condition) unlock() {
	atomic.StoreUint32(&c.mu, 0)
}

// addConditionWaiter appends a freshly-minted condition node to the
// condition's wait list and returns it. It takes the condition's spinlock
// itself; the caller must not hold it.
func (c *Condition) addConditionWaiter(id GoroutineID) *node {
	n := newNode(id, nil)
	n.storeStatus(statusCondition)
	c.lock()
	if c.tail == nil {
		c.head = n
	} else {
		c.tail.nextWaiter = n
	}
	c.tail = n
	c.unlock()
	return n
}

// Await releases the synchronizer, blocks until signalled or ctx is done,
// then reacquires the synchronizer before returning. On ctx cancellation
// the node is unlinked from the condition's wait list (if it had not
// already been transferred by a concurrent Signal) before the error is
// returned; the synchronizer is always reacquired before Await returns,
// cancelled or not, matching the original contract that a condition wait
// never returns without the lock held.
func (c *Condition) Await(ctx context.Context) error {
	_, err := c.awaitUntil(ctx, time.Time{})
	return err
}

// AwaitNanos is like Await but gives up after d, returning the
// approximate time remaining (which may be negative) and a nil error on
// timeout, or a zero duration and non-nil error on genuine cancellation.
func (c *Condition) AwaitNanos(ctx context.Context, d time.Duration) (time.Duration, error) {
	deadline := time.Now().Add(d)
	remaining, err := c.awaitUntil(ctx, deadline)
	if err != nil {
		if ctx.Err() == nil {
			// Only the deadline derived from d expired: a timeout, not a
			// cancellation.
			return remaining, nil
		}
		return 0, err
	}
	return remaining, nil
}

// AwaitUntil is like Await but gives up at deadline.
func (c *Condition) AwaitUntil(ctx context.Context, deadline time.Time) error {
	_, err := c.awaitUntil(ctx, deadline)
	return err
}

// AwaitUninterruptibly is like Await but ignores cancellation.
func (c *Condition) AwaitUninterruptibly() {
	_, _ = c.awaitUntil(context.Background(), time.Time{})
}

func (c *Condition) awaitUntil(ctx context.Context, deadline time.Time) (time.Duration, error) {
	if !c.sync.heldExclusively() {
		panic(ErrIllegalMonitorState)
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	id := goroutineIDFromContext(ctx)
	savedState := c.sync.State()
	n := c.addConditionWaiter(id)

	// Release the synchronizer completely, as Await requires: the caller
	// must hold it exclusively, so Release(savedState) always succeeds.
	c.sync.Release(savedState)

	c.sync.tracer.push("await")
	waitErr := c.sync.parkNode(ctx, n)
	c.sync.tracer.pop()

	// If the node is still in CONDITION state, no Signal has transferred it
	// onto the sync queue yet; race the cancellation against a concurrent
	// transfer so n ends up on the sync queue either way before we reuse
	// it below, instead of leaving it stranded on the condition's own
	// list, abandoned between the signaller's enqueue and the head.
	if n.loadStatus() == statusCondition {
		c.transferAfterCancelledWait(n)
	}
	// Even once status has left CONDITION, the signaller's enqueue of n
	// may not have completed yet (the CAS and the enqueue are two separate
	// steps in transfer); wait for it to land before touching n.prev/next
	// ourselves in acquireQueued.
	for !c.sync.isOnSyncQueue(n) {
		runtime.Gosched()
	}
	c.unlinkCancelledWaiters()

	// Reacquire using the very node that carries our place in the sync
	// queue, exactly as the ordinary acquire path would: acquireQueued
	// splices n out via setHead once it reaches the front, which a fresh
	// node minted here could never do, leaving n a permanent zombie
	// between the head sentinel and whoever comes after it.
	reacquireErr := c.sync.acquireQueued(context.Background(), n, savedState)
	_ = reacquireErr // acquireQueued(Background()) never errors

	if waitErr != nil {
		return time.Until(deadline), waitErr
	}
	if !deadline.IsZero() {
		return time.Until(deadline), nil
	}
	return 0, nil
}

// unlinkCancelledWaiters sweeps the condition's wait list, removing every
// node that is no longer in CONDITION state (including the calling
// waiter's own node when its wait ended by timeout or cancellation).
func (c *Condition) unlinkCancelledWaiters() {
	c.lock()
	defer c.unlock()
	var prev *node
	for n := c.head; n != nil; {
		next := n.nextWaiter
		if n.loadStatus() != statusCondition {
			n.nextWaiter = nil
			if prev == nil {
				c.head = next
			} else {
				prev.nextWaiter = next
			}
			if next == nil {
				c.tail = prev
			}
		} else {
			prev = n
		}
		n = next
	}
}

// Signal transfers the longest-waiting goroutine from the condition's
// wait list onto the sync queue, where it will contend for the lock like
// any other queued acquirer once its turn comes. Nodes whose wait has
// already ended are skipped. Signal is a no-op if no goroutine is waiting.
func (c *Condition) Signal() {
	if !c.sync.heldExclusively() {
		panic(ErrIllegalMonitorState)
	}
	for {
		c.lock()
		first := c.head
		if first != nil {
			c.head = first.nextWaiter
			if c.head == nil {
				c.tail = nil
			}
			first.nextWaiter = nil
		}
		c.unlock()
		if first == nil || c.transfer(first) {
			return
		}
	}
}

// SignalAll transfers every waiting goroutine from the condition's wait
// list onto the sync queue.
func (c *Condition) SignalAll() {
	if !c.sync.heldExclusively() {
		panic(ErrIllegalMonitorState)
	}
	c.lock()
	first := c.head
	c.head, c.tail = nil, nil
	c.unlock()
	for n := first; n != nil; {
		next := n.nextWaiter
		n.nextWaiter = nil
		c.transfer(n)
		n = next
	}
}

// transferAfterCancelledWait handles the race between a timed-out or
// cancelled waiter and a concurrent Signal/SignalAll that may already be
// transferring n. If this goroutine wins the CAS, the signaller hadn't
// reached n yet, so it enqueues n itself; if it loses, a transfer is
// already underway, so it spins until n is visibly linked onto the sync
// queue before returning, rather than risk acquireQueued racing the
// signaller's own enqueue call. Ported from
// AbstractQueuedSynchronizer.cpp's transferAfterCancelledWait.
func (c *Condition) transferAfterCancelledWait(n *node) {
	if n.casStatus(statusCondition, statusZero) {
		c.sync.enqueue(n)
		return
	}
	for !c.sync.isOnSyncQueue(n) {
		runtime.Gosched()
	}
}

// transfer moves n from CONDITION status onto the sync queue, where it
// becomes eligible to be unparked by ordinary Release calls. If n was
// already cancelled (its goroutine gave up between being signalled and
// this call trying to transfer it), transfer does nothing and reports
// false; otherwise it reports true.
func (c *Condition) transfer(n *node) bool {
	if !n.casStatus(statusCondition, statusZero) {
		return false
	}
	pred := c.sync.enqueue(n)
	ws := pred.loadStatus()
	if ws > 0 || !pred.casStatus(ws, statusSignal) {
		// Predecessor is cancelled, or its status changed before it could
		// be set to SIGNAL: unpark directly rather than rely on that
		// predecessor's eventual release to do it.
		n.unpark()
	}
	return true
}
