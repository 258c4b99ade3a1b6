package cpuexec

// ArchOps is the per-architecture collaborator the ExecutionLoop
// delegates guest-ISA-specific behavior to (spec §6). None of it is
// specified further here: the core treats it as an opaque interface it
// must honor calls into at the documented points.
type ArchOps interface {
	// DoInterrupt delivers a guest-ISA exception recorded in
	// vcpu.ExceptionIndex (a value below ExcpInterrupt).
	DoInterrupt(vcpu *VCPUState)

	// CPUExecInterrupt services the remainder of interrupt_request not
	// handled generically by the loop (DEBUG/HALT/RESET/EXITTB). It
	// reports whether it serviced the interrupt, in which case the loop
	// must force a fresh TB lookup (next_tb := 0). It MAY itself call
	// CPULoopExit instead of returning.
	CPUExecInterrupt(vcpu *VCPUState, req uint32) bool

	// SynchronizeFromTB restores vcpu-visible architectural state (e.g.
	// PC) from a TB that had begun but not completed execution.
	SynchronizeFromTB(vcpu *VCPUState, tb *TranslationBlock)

	// SetPC is the cheaper alternative to SynchronizeFromTB when only
	// the program counter needs restoring.
	SetPC(vcpu *VCPUState, pc uint64)

	// DebugExceptionHandler runs after the watchpoint hit-flags are
	// cleared, for EXCP_DEBUG.
	DebugExceptionHandler(vcpu *VCPUState)

	// CPUExecEnter/CPUExecExit bracket a call to Loop.Run.
	CPUExecEnter(vcpu *VCPUState)
	CPUExecExit(vcpu *VCPUState)

	// CPUHasWork reports whether a halted vCPU has pending work (e.g. a
	// latched interrupt) and should not stay halted.
	CPUHasWork(vcpu *VCPUState) bool

	// CPUReset reinitializes vcpu for the INIT/RESET interrupt-request
	// cold path.
	CPUReset(vcpu *VCPUState)
}
