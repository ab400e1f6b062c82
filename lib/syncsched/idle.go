// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package syncsched

import (
	"sync"
	"sync/atomic"
)

// Idle schedules work to run off the caller's critical path. Persist
// tasks go through it so a burst of document mutations never competes
// with the interactive path for the same goroutine.
type Idle interface {
	// Request schedules f and returns a cancel function. Cancel is
	// best-effort: a task that has already started still runs, so
	// callers must make cancelled tasks no-ops themselves.
	Request(f func()) (cancel func())
}

// RealIdle returns the production Idle: each task runs on its own
// goroutine.
func RealIdle() Idle { return goIdle{} }

type goIdle struct{}

func (goIdle) Request(f func()) func() {
	var cancelled atomic.Bool
	go func() {
		if !cancelled.Load() {
			f()
		}
	}()
	return func() { cancelled.Store(true) }
}

// FakeIdle is a deterministic Idle for tests. Tasks queue until the
// test runs them explicitly; nothing happens on a background
// goroutine.
type FakeIdle struct {
	mu    sync.Mutex
	queue []*fakeIdleTask
}

type fakeIdleTask struct {
	f         func()
	cancelled bool
}

// NewFakeIdle returns an empty FakeIdle.
func NewFakeIdle() *FakeIdle {
	return &FakeIdle{}
}

func (fi *FakeIdle) Request(f func()) func() {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	task := &fakeIdleTask{f: f}
	fi.queue = append(fi.queue, task)
	return func() {
		fi.mu.Lock()
		defer fi.mu.Unlock()
		task.cancelled = true
	}
}

// Pending returns the number of queued, uncancelled tasks.
func (fi *FakeIdle) Pending() int {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	count := 0
	for _, task := range fi.queue {
		if !task.cancelled {
			count++
		}
	}
	return count
}

// RunNext runs the oldest uncancelled task in the calling goroutine.
// Returns false when no task is pending.
func (fi *FakeIdle) RunNext() bool {
	fi.mu.Lock()
	var next *fakeIdleTask
	for len(fi.queue) > 0 {
		candidate := fi.queue[0]
		fi.queue = fi.queue[1:]
		if !candidate.cancelled {
			next = candidate
			break
		}
	}
	fi.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

// RunAll runs queued tasks until none remain, including tasks queued
// by the tasks themselves. Returns how many ran.
func (fi *FakeIdle) RunAll() int {
	ran := 0
	for fi.RunNext() {
		ran++
	}
	return ran
}
