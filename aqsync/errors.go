// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import "errors"

// Sentinel errors of package aqsync. ErrIllegalMonitorState and
// ErrNotOwner are used as panic values for API misuse; recover the value
// and use errors.Is to test for them.
var (
	// ErrIllegalMonitorState is the panic value when a Condition operation
	// is attempted by a caller that does not hold the associated lock
	// exclusively, or when Mutex.Unlock is called by a goroutine that does
	// not hold the Mutex, mirroring java.lang.IllegalMonitorStateException
	// in the original synchronizer.
	ErrIllegalMonitorState = errors.New("aqsync: current goroutine does not hold the lock")

	// ErrNotOwner is the panic value of Sync's Condition diagnostics
	// (HasWaiters, WaitQueueLength, WaitingThreads) when the Condition was
	// created by a different Sync than the one it is passed to.
	ErrNotOwner = errors.New("aqsync: condition not owned by this synchronizer")

	// ErrUnsupported names the case of a Hooks implementation that does
	// not support the requested acquire mode. No function in this package
	// returns it or panics with it; unsupported hooks simply report
	// failure.
	ErrUnsupported = errors.New("aqsync: operation not supported by this synchronizer's hooks")
)
