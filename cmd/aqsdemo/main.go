// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aqsdemo drives aqsync's Mutex, Semaphore, CountDownLatch, and
// Condition under synthetic contention, printing synclog output as it
// goes and, if -trace is set, a hierarchical timing breakdown of how long
// each goroutine spent queued.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/crucible-sync/aqs/aqsync"
	"github.com/crucible-sync/aqs/synclog"
	"github.com/crucible-sync/aqs/timing"
)

var (
	goroutines = flag.Int("goroutines", 8, "number of goroutines contending for the demo lock")
	iterations = flag.Int("iterations", 1000, "increments each goroutine performs")
	fair       = flag.Bool("fair", false, "use a fair (strict FIFO) mutex instead of a barging one")
	permits    = flag.Int("permits", 2, "permits on the demo semaphore")
	trace      = flag.Bool("trace", false, "print a hierarchical timing trace of queueing stalls")
)

func main() {
	flag.Parse() // synclog's -v flag is registered by its own init

	var tr timing.Timer
	var opts []aqsync.Option
	if *trace {
		tr = timing.NewAQSTrace("aqsdemo", true)
		opts = append(opts, aqsync.WithTracer(tr))
	}

	runMutexDemo(opts)
	runSemaphoreDemo()
	runLatchDemo()
	runConditionDemo()

	if tr != nil {
		tr.Finish()
		fmt.Println(tr.String())
	}
}

func runMutexDemo(opts []aqsync.Option) {
	var m *aqsync.Mutex
	if *fair {
		m = aqsync.NewFairMutex()
	} else {
		m = aqsync.NewMutex()
	}
	for _, opt := range opts {
		opt(m.Sync)
	}

	var counter int
	var wg sync.WaitGroup
	wg.Add(*goroutines)
	start := time.Now()
	for i := 0; i != *goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j != *iterations; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}(i)
	}
	wg.Wait()
	synclog.DefaultLogger.Infof("mutex demo: %d goroutines x %d iterations -> counter=%d in %s (contended=%v)",
		*goroutines, *iterations, counter, time.Since(start), m.HasContended())
}

func runSemaphoreDemo() {
	sem := aqsync.NewSemaphore(int32(*permits))
	var wg sync.WaitGroup
	wg.Add(*goroutines)
	for i := 0; i != *goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ok, err := sem.TryAcquireTimeout(ctx, 2*time.Second)
			if err != nil || !ok {
				synclog.DefaultLogger.Warningf("goroutine %d failed to acquire semaphore permit: ok=%v err=%v", id, ok, err)
				return
			}
			defer sem.Release()
			time.Sleep(2 * time.Millisecond)
		}(i)
	}
	wg.Wait()
	synclog.DefaultLogger.Infof("semaphore demo: %d permits available after run", sem.AvailablePermits())
}

func runLatchDemo() {
	latch := aqsync.NewCountDownLatch(int32(*goroutines))
	var wg sync.WaitGroup
	wg.Add(*goroutines + 1)
	go func() {
		defer wg.Done()
		latch.Await()
		synclog.DefaultLogger.Infof("latch demo: all workers reported in")
	}()
	for i := 0; i != *goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			time.Sleep(time.Duration(id) * time.Millisecond)
			latch.CountDown()
		}(i)
	}
	wg.Wait()
}

func runConditionDemo() {
	m := aqsync.NewMutex()
	cond := m.NewCondition()
	ready := false

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Lock()
		for !ready {
			if err := cond.Await(context.Background()); err != nil {
				synclog.DefaultLogger.Errorf("condition demo: Await returned %v", err)
			}
		}
		m.Unlock()
		synclog.DefaultLogger.Infof("condition demo: consumer observed ready")
	}()

	time.Sleep(20 * time.Millisecond)
	m.Lock()
	ready = true
	cond.Signal()
	m.Unlock()
	wg.Wait()
}

func init() {
	if v := os.Getenv("AQSDEMO_VERBOSITY"); v != "" {
		var level int32
		if _, err := fmt.Sscanf(v, "%d", &level); err == nil {
			synclog.DefaultLogger.SetVerbosity(synclog.Level(level))
		}
	}
}
