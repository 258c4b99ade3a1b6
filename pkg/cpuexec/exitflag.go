package cpuexec

import "sync/atomic"

// ExitFlag is the process-wide cooperative stop signal: set by signal
// handlers and cross-thread requesters, observed by the execution loop
// at entry and at the top of every dispatch iteration, and transcribed
// into the per-vCPU exit_request bit. See
// spec §5's publication/ordering guarantees.
type ExitFlag struct {
	v atomic.Bool
}

// Set requests a cooperative stop. Safe to call from any goroutine,
// including a signal handler.
func (f *ExitFlag) Set() {
	f.v.Store(true)
}

// Clear cancels a pending stop request.
func (f *ExitFlag) Clear() {
	f.v.Store(false)
}

// Load reports the current value.
func (f *ExitFlag) Load() bool {
	return f.v.Load()
}
