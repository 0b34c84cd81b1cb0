// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

// This file implements Sync's diagnostic surface: best-effort,
// non-blocking introspection of the sync queue and a Condition's wait
// list, grounded on AbstractQueuedSynchronizer's getQueuedThreads family.
// All of it is inherently racy against concurrent Acquire/Release calls —
// callers use it for monitoring and testing, never for synchronization
// decisions.

// HasQueuedThreads reports whether any goroutine is currently waiting to
// acquire this synchronizer.
func (s *Sync) HasQueuedThreads() bool {
	h := s.head.Load()
	t := s.tail.Load()
	return h != t
}

// FirstQueuedThread returns the GoroutineID of the longest-waiting queued
// goroutine, and ok=false if the queue is empty. A goroutine in the
// process of cancelling may briefly still appear here.
func (s *Sync) FirstQueuedThread() (id GoroutineID, ok bool) {
	h := s.head.Load()
	t := s.tail.Load()
	if h == t {
		return 0, false
	}
	for n := h.next.Load(); n != nil; n = n.next.Load() {
		if n.goroutine != 0 {
			return n.goroutine, true
		}
	}
	return 0, false
}

// IsQueued reports whether id is currently somewhere on the sync queue.
func (s *Sync) IsQueued(id GoroutineID) bool {
	for n := s.tail.Load(); n != nil; n = n.prev.Load() {
		if n.goroutine == id {
			return true
		}
	}
	return false
}

// QueueLength returns an estimate of the number of goroutines currently
// waiting to acquire this synchronizer.
func (s *Sync) QueueLength() int {
	return len(s.queuedGoroutines(nil))
}

// QueuedThreads returns a snapshot of the GoroutineIDs currently waiting
// to acquire this synchronizer, in no particular order.
func (s *Sync) QueuedThreads() []GoroutineID {
	return s.queuedGoroutines(nil)
}

// ExclusiveQueuedThreads is like QueuedThreads, restricted to exclusive
// (non-shared) waiters.
func (s *Sync) ExclusiveQueuedThreads() []GoroutineID {
	return s.queuedGoroutines(func(n *node) bool { return !n.isShared() })
}

// SharedQueuedThreads is like QueuedThreads, restricted to shared waiters.
func (s *Sync) SharedQueuedThreads() []GoroutineID {
	return s.queuedGoroutines(func(n *node) bool { return n.isShared() })
}

func (s *Sync) queuedGoroutines(include func(*node) bool) []GoroutineID {
	var ids []GoroutineID
	for n := s.tail.Load(); n != nil; n = n.prev.Load() {
		if n.goroutine == 0 {
			continue
		}
		if include != nil && !include(n) {
			continue
		}
		ids = append(ids, n.goroutine)
	}
	return ids
}

// Owns reports whether c was created by s, the precondition every other
// Condition diagnostic (and Await/Signal) assumes.
func (s *Sync) Owns(c *Condition) bool {
	return c != nil && c.sync == s
}

// HasWaiters reports whether any goroutine is currently waiting on c.
// Panics if s does not own c.
func (s *Sync) HasWaiters(c *Condition) bool {
	s.requireOwns(c)
	c.lock()
	defer c.unlock()
	for n := c.head; n != nil; n = n.nextWaiter {
		if n.loadStatus() == statusCondition {
			return true
		}
	}
	return false
}

// WaitQueueLength estimates the number of goroutines currently waiting on
// c. Panics if s does not own c.
func (s *Sync) WaitQueueLength(c *Condition) int {
	s.requireOwns(c)
	c.lock()
	defer c.unlock()
	n := 0
	for w := c.head; w != nil; w = w.nextWaiter {
		if w.loadStatus() == statusCondition {
			n++
		}
	}
	return n
}

// WaitingThreads returns a snapshot of the GoroutineIDs currently waiting
// on c. Panics if s does not own c.
func (s *Sync) WaitingThreads(c *Condition) []GoroutineID {
	s.requireOwns(c)
	c.lock()
	defer c.unlock()
	var ids []GoroutineID
	for n := c.head; n != nil; n = n.nextWaiter {
		if n.loadStatus() == statusCondition {
			ids = append(ids, n.goroutine)
		}
	}
	return ids
}

func (s *Sync) requireOwns(c *Condition) {
	if !s.Owns(c) {
		panic(ErrNotOwner)
	}
}
