// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/crucible-sync/aqs/aqsync"
)

// TestConditionSignal checks the classic producer/consumer handoff: a
// consumer Awaits while a predicate is false, a producer makes it true and
// Signals, and the consumer observes the updated state with the lock held
// exactly as it released it, per the Await contract.
func TestConditionSignal(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := aqsync.NewMutex()
	cond := m.NewCondition()
	ready := false

	done := make(chan struct{})
	go func() {
		m.Lock()
		for !ready {
			if err := cond.Await(context.Background()); err != nil {
				t.Errorf("Await returned error %v, want nil", err)
			}
		}
		if got, want := m.HoldCount(), 1; got != want {
			t.Errorf("HoldCount after Await returns = %d, want %d", got, want)
		}
		m.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Lock()
	ready = true
	cond.Signal()
	m.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer goroutine never observed the signal")
	}
}

// TestConditionAwaitContextCancel checks that cancelling a context passed
// to Await both returns promptly with the context's error and reacquires
// the lock before returning, and leaves the condition's wait list clean
// for a subsequent Signal.
func TestConditionAwaitContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := aqsync.NewMutex()
	cond := m.NewCondition()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		m.Lock()
		errCh <- cond.Await(ctx)
		m.Unlock()
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Await returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Await did not return after cancellation")
	}

	// A subsequent Signal with no waiters must be a harmless no-op.
	m.Lock()
	cond.Signal()
	m.Unlock()
}

// TestConditionAwaitNanosTimeout checks that AwaitNanos reports a timeout
// as (duration, nil) rather than an error, and still returns with the lock
// held.
func TestConditionAwaitNanosTimeout(t *testing.T) {
	m := aqsync.NewMutex()
	cond := m.NewCondition()

	m.Lock()
	defer m.Unlock()
	_, err := cond.AwaitNanos(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitNanos returned error %v on timeout, want nil", err)
	}
	if got, want := m.HoldCount(), 1; got != want {
		t.Fatalf("HoldCount after AwaitNanos timeout = %d, want %d", got, want)
	}
}

// TestConditionSignalAll checks that SignalAll wakes every waiting
// goroutine, not just the longest-waiting one.
func TestConditionSignalAll(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := aqsync.NewMutex()
	cond := m.NewCondition()
	const n = 6
	ready := false
	woken := make(chan int, n)

	for i := 0; i != n; i++ {
		go func(id int) {
			m.Lock()
			for !ready {
				cond.AwaitUninterruptibly()
			}
			m.Unlock()
			woken <- id
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	m.Lock()
	ready = true
	cond.SignalAll()
	m.Unlock()

	for i := 0; i != n; i++ {
		select {
		case <-woken:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d goroutines woke after SignalAll", i, n)
		}
	}
}
