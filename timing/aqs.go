// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package timing

// NewAQSTrace returns a Timer preconfigured for tracing stalls against a
// synchronizer built on package aqsync: a root interval named after the
// synchronizer, with "acquire"/"acquireShared"/"await" children recording
// each time a goroutine blocked waiting for it. Pass full=true for a
// FullTimer (every interval kept in memory, suitable for short-lived
// demos and tests) or false for a CompactTimer (bounded memory, suitable
// for tracing a long-lived production synchronizer).
func NewAQSTrace(name string, full bool) Timer {
	if full {
		return NewFullTimer(name)
	}
	return NewCompactTimer(name)
}
