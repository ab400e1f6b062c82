// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.AfterFunc, or time.Sleep directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// All debounce and throttle logic in the sync engine is driven through
// this interface, so timer-dependent tests advance time synchronously
// instead of sleeping.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Scheduler struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	s := NewScheduler(..., clock.Real())
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	s := NewScheduler(..., c)
//	// ... trigger work that arms a timer ...
//	c.WaitForTimers(1)         // wait for the timer to register
//	c.Advance(2 * time.Second) // fire it deterministically
package clock
