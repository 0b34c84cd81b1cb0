// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aqsync

import "github.com/crucible-sync/aqs/timing"

// tracer, when non-nil, records acquire/await stalls as nested intervals
// via the timing package, letting a caller render a hierarchical picture
// of where goroutines spent time blocked on a particular synchronizer.
// Left nil (the default) tracing costs nothing beyond the nil check.
type tracer struct {
	t timing.Timer
}

func (tr *tracer) push(name string) {
	if tr != nil && tr.t != nil {
		tr.t.Push(name)
	}
}

func (tr *tracer) pop() {
	if tr != nil && tr.t != nil {
		tr.t.Pop()
	}
}

// WithTracer returns a constructor option that attaches t to a Sync-based
// synchronizer, causing contended Acquire/AcquireShared calls and every
// Condition await to record an "acquire", "acquireShared" or "await"
// interval for as long as the calling goroutine is queued or parked. See timing.NewAQSTrace for a Timer preconfigured for this use.
func WithTracer(t timing.Timer) Option {
	return func(s *Sync) { s.tracer = &tracer{t: t} }
}

// WithNodePool enables the bounded node-reclamation pool (spec.md §5.3's
// alternative to the default GC-reclaimed nodes), capped at size entries.
// A size of 0 disables pooling even if one was previously enabled.
func WithNodePool(size int) Option {
	return func(s *Sync) {
		if size <= 0 {
			s.pool = nil
			return
		}
		s.pool = &nodePool{cap: size}
	}
}

// Option configures a Sync at construction time via NewWithOptions.
type Option func(*Sync)

// NewWithOptions is like New but applies the given options afterward,
// e.g. New(hooks) combined with WithTracer/WithNodePool.
func NewWithOptions(hooks Hooks, opts ...Option) *Sync {
	s := New(hooks)
	for _, opt := range opts {
		opt(s)
	}
	return s
}
