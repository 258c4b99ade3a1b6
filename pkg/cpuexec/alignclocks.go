package cpuexec

import (
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	applog "github.com/GlacierW/MBA-sub006/pkg/log"
)

// Constants from the source's align_clocks/print_delay, preserved
// exactly (spec §4.1 "Clock alignment").
const (
	vmClockAdvance    = 3 * time.Millisecond
	maxDelayPrintRate = 2 * time.Second
	maxNbPrints       = 100
	thresholdReduce   = 1.5
)

// SyncClocks implements align_clocks/init_delay_params: it accumulates
// the drift between the guest's virtual clock and real time, sleeps to
// throttle a guest that is running ahead, and rate-limits a diagnostic
// warning when the guest falls behind. Loop calls Align after every TB
// execution, so a Loop needs a non-nil SyncClocks.
type SyncClocks struct {
	// IcountToNS converts a count of instructions (as used by the
	// icount decrementer) into nanoseconds of virtual time. Required;
	// the core treats the conversion rate as architecture-specific.
	IcountToNS func(insns int64) int64

	// Now returns the current real-time clock in nanoseconds.
	// Defaults to time.Now().UnixNano when nil.
	Now func() int64

	diffClkNS int64
	threshold int64

	limiter  *rate.Limiter
	nPrinted int
}

// NewSyncClocks constructs a SyncClocks with no accumulated drift and a
// fresh warning limiter. It does not read the real-time or virtual
// clocks to seed the drift.
func NewSyncClocks(icountToNS func(int64) int64) *SyncClocks {
	return &SyncClocks{
		IcountToNS: icountToNS,
		limiter:    rate.NewLimiter(rate.Every(maxDelayPrintRate), 1),
	}
}

func (s *SyncClocks) now() int64 {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UnixNano()
}

// Align accumulates elapsedInsns worth of virtual time into diff_clk and,
// once diff_clk exceeds vmClockAdvance, sleeps for the whole accumulated
// amount, per spec §4.1. It is called once after every TB execution.
func (s *SyncClocks) Align(elapsedInsns int64) {
	s.diffClkNS += s.IcountToNS(elapsedInsns)

	if s.diffClkNS <= int64(vmClockAdvance) {
		return
	}

	start := s.now()
	s.sleep(time.Duration(s.diffClkNS))
	slept := s.now() - start

	remainder := s.diffClkNS - slept
	if remainder > 0 {
		s.diffClkNS = remainder
		s.maybeWarn(remainder)
		return
	}
	s.diffClkNS = 0
}

func (s *SyncClocks) sleep(d time.Duration) {
	ts := unix.NsecToTimespec(int64(d))
	rem := &unix.Timespec{}
	for {
		if err := unix.Nanosleep(&ts, rem); err != nil {
			if err == unix.EINTR {
				ts = *rem
				continue
			}
		}
		return
	}
}

// maybeWarn emits a rate-limited "guest is falling behind" diagnostic,
// growing the reporting threshold by thresholdReduce each time it fires
// so a persistently lagging guest does not spam the log even within the
// rate limiter's allowance, and capping total emissions at maxNbPrints
// (spec §4.1).
func (s *SyncClocks) maybeWarn(remainderNS int64) {
	if s.nPrinted >= maxNbPrints {
		return
	}
	if int64(float64(s.threshold)*thresholdReduce) >= remainderNS && s.threshold != 0 {
		return
	}
	if !s.limiter.Allow() {
		return
	}
	s.threshold = remainderNS
	s.nPrinted++
	applog.Warningf("guest clock is behind real time by %s", time.Duration(remainderNS))
}
