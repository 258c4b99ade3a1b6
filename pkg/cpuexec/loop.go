package cpuexec

import (
	"sync/atomic"

	"github.com/GlacierW/MBA-sub006/pkg/flushsignal"
	"github.com/GlacierW/MBA-sub006/pkg/obhook"
	"github.com/GlacierW/MBA-sub006/pkg/tracer"
)

// currentCPU publishes the running vCPU with release/acquire semantics
// (spec §3 invariant I5): Run stores it after a full memory barrier is
// implied by the atomic store, and async setters of exit_request rely on
// ExitFlag being observed once this has been published.
var currentCPU atomic.Pointer[VCPUState]

// CurrentCPU returns the vCPU currently executing on this core, or nil.
func CurrentCPU() *VCPUState { return currentCPU.Load() }

// Loop drives a single vCPU (spec §4.1 ExecutionLoop). One Loop exists
// per physical host thread running a guest vCPU under the big-lock
// discipline described in spec §5.
type Loop struct {
	Hooks      *obhook.Registry
	Tracers    *tracer.Registry
	TBCache    *TBCache
	Arch       ArchOps
	ExitFlag   *ExitFlag
	SyncClocks *SyncClocks

	hookPending   *flushsignal.Flag
	tracerPending *flushsignal.Flag
}

// NewLoop wires a fresh Loop together with its own hook/tracer
// registries, sharing their pending-flush flags with TBCache's flush
// path (spec §4.5's coordinated flush protocol).
func NewLoop(arch ArchOps, tbCache *TBCache, exitFlag *ExitFlag, syncClocks *SyncClocks) *Loop {
	hookPending := &flushsignal.Flag{}
	tracerPending := &flushsignal.Flag{}
	return &Loop{
		Hooks:         obhook.NewRegistry(hookPending),
		Tracers:       tracer.NewRegistry(tracerPending),
		TBCache:       tbCache,
		Arch:          arch,
		ExitFlag:      exitFlag,
		SyncClocks:    syncClocks,
		hookPending:   hookPending,
		tracerPending: tracerPending,
	}
}

// runContext carries the per-Run locals a straight C translation would
// keep on the stack: the candidate TB chain-from pointer ("next_tb" in
// the source), TB-lock ownership for post-longjmp cleanup, and the exit
// code accumulated at the pending-exception state.
type runContext struct {
	loop *Loop
	vcpu *VCPUState

	callerTB   *TranslationBlock
	tb         *TranslationBlock
	tbLockHeld bool
	exitCode   int32
}

// dispatchState is the ExecutionLoop's state-machine step, mirroring
// the taskRunState pattern: each step mutates the shared runContext and
// vCPU and returns the next step, or nil when Run should return.
type dispatchState interface {
	execute(rc *runContext) dispatchState
}

// Run is cpu_exec: drive vcpu until a cooperative exit or guest-ISA
// exception surfaces. See spec §4.1 for the full state machine.
func (l *Loop) Run(vcpu *VCPUState) int32 {
	if vcpu.Halted && !l.Arch.CPUHasWork(vcpu) {
		return ExcpHalted
	}
	vcpu.Halted = false

	currentCPU.Store(vcpu)
	if l.ExitFlag.Load() {
		vcpu.ExitRequest.Store(true)
	}

	l.Arch.CPUExecEnter(vcpu)
	defer func() {
		l.Arch.CPUExecExit(vcpu)
		currentCPU.Store(nil)
	}()

	rc := &runContext{loop: l, vcpu: vcpu}
	state := dispatchState(statePendingException{})
	for {
		if done := l.runOuterFrame(rc, state); done {
			return rc.exitCode
		}
		// Longjmp re-entry: re-derive vcpu from current_cpu (here,
		// simply rc.vcpu — Go has no clobbered stack locals to
		// restore), set can_do_io, release the TB lock if it was
		// still held at the longjmp site, and resume from the loop
		// head (the pending-exception check).
		rc.vcpu.CanDoIO = true
		if rc.tbLockHeld {
			l.TBCache.Unlock()
			rc.tbLockHeld = false
		}
		state = statePendingException{}
	}
}

// runOuterFrame is the sigsetjmp-installing outer frame: it runs states
// until the chain terminates (done) or a nested helper calls
// CPULoopExit/CPUResumeFromSignal, unwinding here via panic/recover —
// the Go analogue of siglongjmp back to this frame.
func (l *Loop) runOuterFrame(rc *runContext, start dispatchState) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(loopLongjmp); ok {
				done = false
				return
			}
			panic(r)
		}
	}()
	state := start
	for state != nil {
		state = state.execute(rc)
	}
	return true
}

// statePendingException is the loop head: inspect vcpu.ExceptionIndex
// and either return from Run (cooperative exit) or deliver a guest-ISA
// exception and continue into the inner dispatch loop.
type statePendingException struct{}

func (statePendingException) execute(rc *runContext) dispatchState {
	vcpu := rc.vcpu
	if vcpu.ExceptionIndex >= 0 {
		if vcpu.ExceptionIndex >= ExcpInterrupt {
			if vcpu.ExceptionIndex == ExcpDebug {
				rc.loop.Arch.DebugExceptionHandler(vcpu)
			}
			rc.exitCode = vcpu.ExceptionIndex
			vcpu.ExceptionIndex = ExcpNone
			return nil
		}
		rc.loop.Arch.DoInterrupt(vcpu)
		vcpu.ExceptionIndex = ExcpNone
	}
	return stateStep1{}
}

// stateStep1 is Step 1 of the inner dispatch loop: interrupt_request
// handling, exit_request check, and the coordinated flush protocol.
type stateStep1 struct{}

func (stateStep1) execute(rc *runContext) dispatchState {
	vcpu := rc.vcpu
	forceFreshTB := false

	if vcpu.InterruptRequest != 0 {
		req := vcpu.InterruptRequest
		switch {
		case req&IRQDebug != 0:
			vcpu.InterruptRequest &^= IRQDebug
			vcpu.ExceptionIndex = ExcpDebug
			return statePendingException{}
		case req&IRQHalt != 0:
			vcpu.InterruptRequest &^= IRQHalt
			vcpu.Halted = true
			vcpu.ExceptionIndex = ExcpHlt
			return statePendingException{}
		case req&IRQReset != 0:
			vcpu.InterruptRequest &^= IRQReset
			rc.loop.Arch.CPUReset(vcpu)
			vcpu.ExceptionIndex = ExcpHalted
			return statePendingException{}
		default:
			if rc.loop.Arch.CPUExecInterrupt(vcpu, req) {
				forceFreshTB = true
			}
			if vcpu.InterruptRequest&IRQExitTB != 0 {
				vcpu.InterruptRequest &^= IRQExitTB
				forceFreshTB = true
			}
		}
	}

	if rc.loop.ExitFlag.Load() {
		vcpu.ExitRequest.Store(true)
	}
	if vcpu.ExitRequest.Load() {
		vcpu.ExitRequest.Store(false)
		vcpu.ExceptionIndex = ExcpInterrupt
		return statePendingException{}
	}

	if rc.loop.hookPending.TestAndClear() || rc.loop.tracerPending.TestAndClear() {
		rc.loop.TBCache.Flush()
		vcpu.ResetTBJmpCache()
		forceFreshTB = true
	}

	if forceFreshTB {
		rc.callerTB = nil
	}
	return stateStep2{}
}

// stateStep2 is Step 2: TB acquisition under the TB-cache lock, with
// direct-jump chaining to the previously executed TB when possible.
type stateStep2 struct{}

func (stateStep2) execute(rc *runContext) dispatchState {
	vcpu := rc.vcpu
	loop := rc.loop

	loop.TBCache.Lock()
	rc.tbLockHeld = true

	tb, ok := loop.TBCache.FindFast(vcpu)
	if !ok {
		var err error
		tb, err = loop.TBCache.FindSlow(vcpu)
		if err != nil {
			loop.TBCache.Unlock()
			rc.tbLockHeld = false
			rc.exitCode = ExcpInterrupt
			return nil
		}
	}

	if rc.callerTB != nil && !tb.HasPage2 {
		loop.patchDirectJump(rc.callerTB, tb)
	}

	loop.TBCache.Unlock()
	rc.tbLockHeld = false
	rc.tb = tb
	return stateStep3{}
}

func (l *Loop) patchDirectJump(caller, target *TranslationBlock) {
	caller.jmpSlots[0] = target
}

// stateStep3 is Step 3: execute the acquired TB and interpret its exit
// reason, including the icount refill/nocache-tail path.
type stateStep3 struct{}

func (stateStep3) execute(rc *runContext) dispatchState {
	vcpu := rc.vcpu
	loop := rc.loop
	tb := rc.tb

	vcpu.CurrentTB = tb
	skip := vcpu.ExitRequest.Load()

	var next uint64
	if !skip {
		next = tb.Exec(vcpu)
	}
	vcpu.CurrentTB = nil

	switch {
	case skip || next&TBExitMask == TBExitRequested:
		rc.callerTB = nil
		loop.SyncClocks.Align(0)
		return stateStep1{}

	case next&TBExitMask == TBExitICountExpired:
		if vcpu.ICount.Extra > 0 && vcpu.ICount.SignCarry >= 0 {
			refill := vcpu.ICount.Extra
			if refill > 0xffff {
				refill = 0xffff
			}
			vcpu.ICount.Extra -= refill
			vcpu.ICount.DecrementerLow = uint16(refill)
			loop.SyncClocks.Align(refill)
			rc.callerTB = tb
			return stateStep1{}
		}

		remaining := int64(vcpu.ICount.DecrementerLow)
		if remaining > 0 {
			loop.TBCache.ExecNocache(vcpu, uint32(remaining), tb)
			vcpu.ICount.DecrementerLow = 0
			loop.SyncClocks.Align(remaining)
		}
		vcpu.ExceptionIndex = ExcpInterrupt
		rc.callerTB = nil
		return statePendingException{}

	default:
		charged := uint32(tb.InsnCount)
		if charged > uint32(vcpu.ICount.DecrementerLow) {
			charged = uint32(vcpu.ICount.DecrementerLow)
		}
		vcpu.ICount.DecrementerLow -= uint16(charged)
		loop.SyncClocks.Align(int64(charged))
		rc.callerTB = tb
		return stateStep1{}
	}
}
