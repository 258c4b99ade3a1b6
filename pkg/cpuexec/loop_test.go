package cpuexec

import "testing"

// fakeArch is a minimal ArchOps satisfying the interface for loop tests.
// Every hook is a no-op unless a test overrides it.
type fakeArch struct {
	interruptService func(vcpu *VCPUState, req uint32) bool
	hasWork          bool
	enterCalls       int
	exitCalls        int
	debugCalls       int
	doInterruptCalls int
}

func (a *fakeArch) DoInterrupt(vcpu *VCPUState)                     { a.doInterruptCalls++ }
func (a *fakeArch) SynchronizeFromTB(*VCPUState, *TranslationBlock) {}
func (a *fakeArch) SetPC(*VCPUState, uint64)                        {}
func (a *fakeArch) DebugExceptionHandler(*VCPUState)                { a.debugCalls++ }
func (a *fakeArch) CPUExecEnter(*VCPUState)                         { a.enterCalls++ }
func (a *fakeArch) CPUExecExit(*VCPUState)                          { a.exitCalls++ }
func (a *fakeArch) CPUHasWork(*VCPUState) bool                      { return a.hasWork }
func (a *fakeArch) CPUReset(*VCPUState)                             {}
func (a *fakeArch) CPUExecInterrupt(vcpu *VCPUState, req uint32) bool {
	if a.interruptService != nil {
		return a.interruptService(vcpu, req)
	}
	return false
}

type fakeMMU struct{}

func (fakeMMU) GetPageAddrCode(vcpu *VCPUState, pc uint64) (uint64, error) { return pc, nil }
func (fakeMMU) TLBFlush(*VCPUState, int)                                  {}

// fakeTranslator generates TranslationBlocks whose Exec body is supplied
// by the test. gen counts real (non-nocache) translations, to detect
// whether a TB cache flush forced a retranslation.
type fakeTranslator struct {
	insnCount  uint32
	execFn     func(vcpu *VCPUState, call int) uint64
	gen        int
	lastCflags uint32
}

func (f *fakeTranslator) TBGenCode(vcpu *VCPUState, pc, csBase uint64, flags, cflags uint32) (*TranslationBlock, error) {
	f.lastCflags = cflags
	if cflags&CFlagsNoCache == 0 {
		f.gen++
	}
	call := f.gen
	return &TranslationBlock{
		PC: pc, CSBase: csBase, Flags: flags, InsnCount: f.insnCount,
		Exec: func(vcpu *VCPUState) uint64 { return f.execFn(vcpu, call) },
	}, nil
}
func (f *fakeTranslator) TBPhysInvalidate(*TranslationBlock, int64) {}
func (f *fakeTranslator) TBFree(*TranslationBlock)                  {}

func newTestLoop(t *testing.T, arch ArchOps, tr Translator) (*Loop, *ExitFlag, int64) {
	t.Helper()
	var totalInsns int64
	tbc, err := NewTBCache(16, tr, fakeMMU{})
	if err != nil {
		t.Fatalf("NewTBCache: %v", err)
	}
	exitFlag := &ExitFlag{}
	clocks := NewSyncClocks(func(insns int64) int64 {
		totalInsns += insns
		return 0
	})
	return NewLoop(arch, tbc, exitFlag, clocks), exitFlag, totalInsns
}

// TestScenarioS6ExitFlagSet asserts the literal scenario: an ExitFlag
// already raised before Run is entered yields EXCP_INTERRUPT with
// exception_index reset to -1, exit_request cleared, and no TB ever
// referenced.
func TestScenarioS6ExitFlagSet(t *testing.T) {
	arch := &fakeArch{}
	tr := &fakeTranslator{insnCount: 1, execFn: func(*VCPUState, int) uint64 { return 0 }}
	loop, exitFlag, _ := newTestLoop(t, arch, tr)
	exitFlag.Set()

	vcpu := NewVCPUState()
	code := loop.Run(vcpu)

	if code != ExcpInterrupt {
		t.Fatalf("Run() = %d, want ExcpInterrupt", code)
	}
	if vcpu.ExceptionIndex != ExcpNone {
		t.Fatalf("ExceptionIndex = %d, want ExcpNone", vcpu.ExceptionIndex)
	}
	if vcpu.ExitRequest.Load() {
		t.Fatalf("ExitRequest still set after Run")
	}
	if vcpu.CurrentTB != nil {
		t.Fatalf("CurrentTB = %v, want nil", vcpu.CurrentTB)
	}
	if arch.enterCalls != 1 || arch.exitCalls != 1 {
		t.Fatalf("CPUExecEnter/Exit calls = %d/%d, want 1/1", arch.enterCalls, arch.exitCalls)
	}
	if tr.gen != 0 {
		t.Fatalf("translator invoked %d times, want 0 (no TB should be looked up)", tr.gen)
	}
}

// TestP7PostInterruptInvariants exercises the exit_request path reached
// via an ArchOps-serviced interrupt rather than a pre-set ExitFlag, and
// checks the same post-EXCP_INTERRUPT invariants as S6.
func TestP7PostInterruptInvariants(t *testing.T) {
	arch := &fakeArch{interruptService: func(vcpu *VCPUState, req uint32) bool {
		vcpu.ExitRequest.Store(true)
		return true
	}}
	tr := &fakeTranslator{insnCount: 1, execFn: func(*VCPUState, int) uint64 { return 0 }}
	loop, _, _ := newTestLoop(t, arch, tr)

	vcpu := NewVCPUState()
	vcpu.InterruptRequest = 0x100 // an arch-owned bit, not DEBUG/HALT/RESET/EXITTB

	code := loop.Run(vcpu)

	if code != ExcpInterrupt {
		t.Fatalf("Run() = %d, want ExcpInterrupt", code)
	}
	if vcpu.ExceptionIndex != ExcpNone {
		t.Fatalf("ExceptionIndex = %d, want ExcpNone", vcpu.ExceptionIndex)
	}
	if vcpu.ExitRequest.Load() {
		t.Fatalf("ExitRequest still set after Run")
	}
	if vcpu.CurrentTB != nil {
		t.Fatalf("CurrentTB = %v, want nil", vcpu.CurrentTB)
	}
	if tr.gen != 0 {
		t.Fatalf("translator invoked %d times, want 0 (exit serviced before TB acquisition)", tr.gen)
	}
}

// TestP3StructuralMutationForcesFlush adds a universal hook from inside a
// running TB (simulating a monitor command arriving mid-execution) and
// checks that the next dispatch iteration retranslates rather than
// reusing the now-stale cached TB.
func TestP3StructuralMutationForcesFlush(t *testing.T) {
	arch := &fakeArch{}
	tr := &fakeTranslator{insnCount: 1}
	loop, _, _ := newTestLoop(t, arch, tr)

	tr.execFn = func(vcpu *VCPUState, call int) uint64 {
		switch call {
		case 1:
			if _, err := loop.Hooks.AddUniversal(0xffff_8000_0000_0000, "", func(any) {}); err != nil {
				t.Fatalf("AddUniversal: %v", err)
			}
			return TBExitRequested
		case 2:
			vcpu.ExitRequest.Store(true)
			return TBExitRequested
		default:
			t.Fatalf("unexpected third translation, cache was not reused before the flush")
			return TBExitRequested
		}
	}

	vcpu := NewVCPUState()
	vcpu.PC = 0x1000

	code := loop.Run(vcpu)

	if code != ExcpInterrupt {
		t.Fatalf("Run() = %d, want ExcpInterrupt", code)
	}
	if tr.gen != 2 {
		t.Fatalf("translator generations = %d, want 2 (initial + post-flush retranslation)", tr.gen)
	}
}

// TestP5ICountRefillAndNocacheTail checks the icount-expired accounting:
// the refill drawn from the extra token reservoir and the final
// nocache-executed tail together account for the full decrementer
// budget, and the tail is executed with an exact instruction count.
func TestP5ICountRefillAndNocacheTail(t *testing.T) {
	arch := &fakeArch{}
	tr := &fakeTranslator{insnCount: 1}
	loop, _, _ := newTestLoop(t, arch, tr)

	var charged int64
	loop.SyncClocks = NewSyncClocks(func(insns int64) int64 {
		charged += insns
		return 0
	})

	// The same TB is re-entered for the refill iteration and, via
	// ExecNocache, for the truncated tail; it always reports its budget
	// expired, and the loop's own icount bookkeeping decides whether that
	// means "refill from extra" or "run the tail and stop".
	tr.execFn = func(*VCPUState, int) uint64 { return TBExitICountExpired }

	vcpu := NewVCPUState()
	vcpu.ICount.Extra = 10000
	vcpu.ICount.SignCarry = 0
	vcpu.ICount.DecrementerLow = 0

	code := loop.Run(vcpu)

	if code != ExcpInterrupt {
		t.Fatalf("Run() = %d, want ExcpInterrupt", code)
	}
	if vcpu.ICount.Extra != 0 {
		t.Fatalf("ICount.Extra = %d, want 0 (fully refilled)", vcpu.ICount.Extra)
	}
	if vcpu.ICount.DecrementerLow != 0 {
		t.Fatalf("ICount.DecrementerLow = %d, want 0 (tail fully consumed)", vcpu.ICount.DecrementerLow)
	}
	if charged != 20000 {
		t.Fatalf("total instructions charged = %d, want 20000 (10000 refill + 10000 nocache tail)", charged)
	}
	if tr.lastCflags&CFlagsNoCache == 0 {
		t.Fatalf("ExecNocache did not request the NOCACHE cflags bit")
	}
	if tr.lastCflags&CFlagsCountMask != 10000 {
		t.Fatalf("ExecNocache cflags count = %d, want 10000", tr.lastCflags&CFlagsCountMask)
	}
}

func TestCurrentCPUPublication(t *testing.T) {
	if CurrentCPU() != nil {
		t.Fatalf("CurrentCPU() = %v before any Run, want nil", CurrentCPU())
	}
	arch := &fakeArch{}
	tr := &fakeTranslator{insnCount: 1, execFn: func(vcpu *VCPUState, call int) uint64 {
		if CurrentCPU() != vcpu {
			t.Fatalf("CurrentCPU() not published during Exec")
		}
		vcpu.ExitRequest.Store(true)
		return TBExitRequested
	}}
	loop, _, _ := newTestLoop(t, arch, tr)
	vcpu := NewVCPUState()
	loop.Run(vcpu)
	if CurrentCPU() != nil {
		t.Fatalf("CurrentCPU() = %v after Run returned, want nil", CurrentCPU())
	}
}

func TestHaltedWithNoWorkReturnsImmediately(t *testing.T) {
	arch := &fakeArch{hasWork: false}
	tr := &fakeTranslator{insnCount: 1, execFn: func(*VCPUState, int) uint64 { return 0 }}
	loop, _, _ := newTestLoop(t, arch, tr)

	vcpu := NewVCPUState()
	vcpu.Halted = true
	code := loop.Run(vcpu)

	if code != ExcpHalted {
		t.Fatalf("Run() = %d, want ExcpHalted", code)
	}
	if arch.enterCalls != 0 {
		t.Fatalf("CPUExecEnter called for a vCPU that stayed halted")
	}
}
