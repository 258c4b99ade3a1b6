package main

import "github.com/GlacierW/MBA-sub006/pkg/cpuexec"

// demoBlockInsns is the fixed instruction count demoTranslator gives
// every block it generates in the normal (non-nocache) path.
const demoBlockInsns = 16

// demoArch is the ArchOps collaborator "mbamon run" drives the execution
// loop with. The real guest-ISA decoder and its interrupt controller are
// external collaborators out of scope per spec §1; this is a minimal
// stand-in that never raises an interrupt of its own; the demo vCPU
// simply keeps dispatching one straight-line block after another until
// Loop.ExitFlag is set.
type demoArch struct{}

func (demoArch) DoInterrupt(*cpuexec.VCPUState) {}

func (demoArch) CPUExecInterrupt(*cpuexec.VCPUState, uint32) bool { return false }

func (demoArch) SynchronizeFromTB(*cpuexec.VCPUState, *cpuexec.TranslationBlock) {}

func (demoArch) SetPC(vcpu *cpuexec.VCPUState, pc uint64) { vcpu.PC = pc }

func (demoArch) DebugExceptionHandler(*cpuexec.VCPUState) {}

func (demoArch) CPUExecEnter(*cpuexec.VCPUState) {}

func (demoArch) CPUExecExit(*cpuexec.VCPUState) {}

func (demoArch) CPUHasWork(*cpuexec.VCPUState) bool { return true }

func (demoArch) CPUReset(vcpu *cpuexec.VCPUState) { vcpu.PC = 0 }

// demoMMU treats every guest virtual address as already physical: the
// demo has no page tables, and the MMU subsystem is out of scope per
// spec §1 (we specify only the invalidation hook, which TBCache.Flush
// exercises independently of this type).
type demoMMU struct{}

func (demoMMU) GetPageAddrCode(_ *cpuexec.VCPUState, pc uint64) (uint64, error) { return pc, nil }

func (demoMMU) TLBFlush(*cpuexec.VCPUState, int) {}

// demoTranslator emits one straight-line block per guest-PC. Each
// block's Exec body calls into the owning Loop's dispatch ABI once per
// covered instruction and once for the block as a whole, exactly the
// contract spec §6 requires translated code to honor, before advancing
// PC past the block.
type demoTranslator struct {
	loop *cpuexec.Loop
}

func (t *demoTranslator) TBGenCode(vcpu *cpuexec.VCPUState, pc, csBase uint64, flags, cflags uint32) (*cpuexec.TranslationBlock, error) {
	count := demoBlockInsns
	if cflags&cpuexec.CFlagsNoCache != 0 {
		if n := cflags & cpuexec.CFlagsCountMask; n > 0 {
			count = int(n)
		}
	}
	return &cpuexec.TranslationBlock{
		PC: pc, CSBase: csBase, Flags: flags, InsnCount: uint32(count),
		Exec: func(vcpu *cpuexec.VCPUState) uint64 {
			start := vcpu.PC
			for i := 0; i < count; i++ {
				t.loop.DispatchHooks(vcpu)
				t.loop.DispatchTracerInstruction(vcpu)
				vcpu.PC++
			}
			t.loop.DispatchTracerBlock(vcpu, start, vcpu.PC-1)
			return 0
		},
	}, nil
}

func (t *demoTranslator) TBPhysInvalidate(*cpuexec.TranslationBlock, int64) {}

func (t *demoTranslator) TBFree(*cpuexec.TranslationBlock) {}
