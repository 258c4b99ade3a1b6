// Package flushsignal implements the single-writer/single-reader pending-
// mutation flag shared between the hook/tracer registries and the
// execution loop (spec §4.5's "coordinated flush protocol").
package flushsignal

import "sync/atomic"

// Flag is an atomic boolean raised by a registry mutation and observed,
// then cleared, by the execution loop at the top of a dispatch iteration.
// Acquire/release ordering is sufficient: there is exactly one writer path
// (registry mutation) and exactly one reader path (the loop), per spec §5.
type Flag struct {
	v atomic.Bool
}

// Raise marks a structural mutation pending. Called by hook/tracer add and
// delete paths per their individual contracts (hook delete deliberately
// never calls this; see spec §9 Q2).
func (f *Flag) Raise() {
	f.v.Store(true)
}

// TestAndClear reports whether a flush was pending and clears it
// atomically, so the loop never observes the same flush request twice.
func (f *Flag) TestAndClear() bool {
	return f.v.Swap(false)
}

// Pending reports the current value without clearing it. Used by tests.
func (f *Flag) Pending() bool {
	return f.v.Load()
}
