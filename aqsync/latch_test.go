// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/crucible-sync/aqs/aqsync"
)

// TestCountDownLatchReleasesAllExactlyOnce checks that every waiter blocks
// until the count reaches zero, that they are all released by the final
// CountDown, and that a latch that has already reached zero continues to
// let new Await callers through immediately.
func TestCountDownLatchReleasesAllExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	const n = 4
	latch := aqsync.NewCountDownLatch(n)
	const waiters = 10
	released := make(chan int, waiters)

	for i := 0; i != waiters; i++ {
		go func(id int) {
			latch.Await()
			released <- id
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	select {
	case <-released:
		t.Fatalf("a waiter was released before the count reached zero")
	default:
	}

	for i := 0; i != n-1; i++ {
		latch.CountDown()
		time.Sleep(5 * time.Millisecond)
		select {
		case <-released:
			t.Fatalf("a waiter was released before the count reached zero")
		default:
		}
	}
	latch.CountDown()

	for i := 0; i != waiters; i++ {
		select {
		case <-released:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d waiters released after count reached zero", i, waiters)
		}
	}

	require.Equal(t, int32(0), latch.Count())

	// Further CountDown calls are no-ops, and Await now returns immediately.
	latch.CountDown()
	require.Equal(t, int32(0), latch.Count(), "Count after extra CountDown")
	done := make(chan struct{})
	go func() {
		latch.Await()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Await on an already-open latch did not return immediately")
	}
}

// TestCountDownLatchAwaitContextCancel checks that a cancelled
// AwaitContext call returns the context's error rather than blocking
// forever.
func TestCountDownLatchAwaitContextCancel(t *testing.T) {
	latch := aqsync.NewCountDownLatch(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, latch.AwaitContext(ctx), context.DeadlineExceeded)
}
