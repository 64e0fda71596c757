// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, or time.Sleep directly. Real() provides standard library
// behavior; Fake() provides a deterministic clock for tests that
// advances only when Advance is called. Transfer-rate measurement and
// admission-lock retry pacing both run against this interface so tests
// never sleep for real.
package clock

import "time"

// Clock abstracts the time operations this project uses. Every
// production function that would call time.Now, time.After, or
// time.Sleep takes a Clock instead (or is a method on a struct with a
// Clock field).
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
