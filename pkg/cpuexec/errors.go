package cpuexec

import "errors"

// Exception-index sentinels. Values below zero mean "no pending
// exception". Values at or above ExcpInterrupt denote cooperative exits;
// values below it (but ≥ 0) denote guest-ISA exceptions delivered by the
// arch collaborator. See spec §3 "Exception index".
const (
	ExcpNone      int32 = -1
	ExcpInterrupt int32 = 0x10000
	ExcpHalted    int32 = ExcpInterrupt + 1
	ExcpHlt       int32 = ExcpInterrupt + 2
	ExcpDebug     int32 = ExcpInterrupt + 3
)

// Interrupt-request bits. See spec §3 "Interrupt request bits".
const (
	IRQDebug uint32 = 1 << iota
	IRQHalt
	IRQReset
	IRQExitTB
	IRQNoExternal
)

var (
	// ErrTranslate is returned by a Translator when it cannot produce a
	// TB for the requested (pc, cs_base, flags).
	ErrTranslate = errors.New("cpuexec: translation failed")
)

// loopLongjmp is panicked by any helper that needs to unwind out of TB
// execution back to the outer frame installed by Loop.Run — the Go
// analogue of the source's sigsetjmp/siglongjmp pair (spec §4.1 "Outer
// frame"). It carries no data: all state the resumed loop needs to
// observe lives on the vCPU, per the spec's "re-derive vcpu from
// current_cpu" requirement.
type loopLongjmp struct{}
