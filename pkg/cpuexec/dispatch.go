package cpuexec

import "github.com/GlacierW/MBA-sub006/pkg/asid"

// DispatchHooks is hook_dispatch (spec §6): called from translated code
// at an instrumented PC. It walks the universal list then the
// per-process list, in registration order, invoking every enabled
// record's callback once. A vCPU whose ASID is asid.Universal has no
// per-process list, so only the universal list is walked. Safe to call from within a TB: it never long-jumps
// unless a callback itself calls CPULoopExit.
func (l *Loop) DispatchHooks(vcpu *VCPUState) {
	pc := vcpu.PC
	for _, rec := range l.Hooks.CallbacksUniversal(pc) {
		if rec.Enabled {
			rec.Callback(vcpu)
		}
	}
	if vcpu.ASID == asid.Universal {
		return
	}
	for _, rec := range l.Hooks.CallbacksProcess(vcpu.ASID, pc) {
		if rec.Enabled {
			rec.Callback(vcpu)
		}
	}
}

// DispatchTracerInstruction is tracer_dispatch_instruction (spec §6).
func (l *Loop) DispatchTracerInstruction(vcpu *VCPUState) {
	l.Tracers.DispatchInstruction(vcpu, vcpu.ASID, vcpu.PC)
}

// DispatchTracerBlock is tracer_dispatch_block (spec §6), called once
// per executed TB with the block's first and last instruction addresses.
func (l *Loop) DispatchTracerBlock(vcpu *VCPUState, blockStart, blockEnd uint64) {
	l.Tracers.DispatchBlock(vcpu, vcpu.ASID, blockStart, blockEnd)
}

// CPULoopExit aborts the TB currently executing and unwinds to the
// outer frame installed by Loop.Run (spec §4.1, §6 cpu_loop_exit).
// Callable from hook/tracer callbacks or from any helper reached while a
// TB is executing.
func CPULoopExit(vcpu *VCPUState) {
	vcpu.CurrentTB = nil
	panic(loopLongjmp{})
}

// CPUResumeFromSignal cancels the current TB after an MMU fault and
// unwinds to the outer frame (spec §4.4 cpu_resume_from_signal).
func CPUResumeFromSignal(vcpu *VCPUState) {
	vcpu.ExceptionIndex = ExcpNone
	panic(loopLongjmp{})
}
