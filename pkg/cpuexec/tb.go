package cpuexec

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// NOCACHE and normal translation flags, matching the source's cflags
// bit used to mark a TB as "don't insert into any cache, free after one
// execution" (spec §4.4 cpu_exec_nocache).
const (
	CFlagsCountMask uint32 = 0x0000ffff
	CFlagsNoCache   uint32 = 1 << 16
)

// Translator is the external guest-ISA decoder collaborator (spec §6):
// it emits host-executable code for a given (pc, cs_base, flags) under
// the requested cflags.
type Translator interface {
	TBGenCode(vcpu *VCPUState, pc, csBase uint64, flags, cflags uint32) (*TranslationBlock, error)
	TBPhysInvalidate(tb *TranslationBlock, pageAddr int64)
	TBFree(tb *TranslationBlock)
}

// MMU is the external memory-management collaborator (spec §6).
type MMU interface {
	GetPageAddrCode(vcpu *VCPUState, pc uint64) (uint64, error)
	TLBFlush(vcpu *VCPUState, mode int)
}

// TLB flush modes forwarded verbatim to MMU.TLBFlush.
const (
	TLBFlushAll = iota
	TLBFlushASID
)

// TranslationBlock is immutable after generation (spec §3). Exec is the
// opaque host code pointer: calling it runs the translated guest code
// and returns an encoded next_tb value whose low bits carry an exit
// reason (TBExit*).
type TranslationBlock struct {
	PC        uint64
	CSBase    uint64
	Flags     uint32
	PhysPage1 uint64
	PhysPage2 uint64
	HasPage2  bool

	// InsnCount is the number of guest instructions this block
	// translates, as reported by Translator.TBGenCode. Used to charge
	// the icount decrementer on a normal (non-expired) exit.
	InsnCount uint32

	Exec func(vcpu *VCPUState) uint64

	jmpSlots [2]*TranslationBlock
}

// Exit reasons encoded in the low bits of Exec's return value.
const (
	TBExitMask          uint64 = 0x3
	TBExitRequested     uint64 = 0x1
	TBExitICountExpired uint64 = 0x2
)

type tbKey struct {
	pc     uint64
	csBase uint64
	flags  uint32
}

// TBCache is the translation-block cache (spec §4.4): a physical-address
// keyed lookup with a global invalidation signal. The source's
// hash-chain-plus-MRU-reorder bucket is implemented here with an LRU
// cache, whose Get already performs the MRU promotion the spec calls
// for; tb_ctx.tb_lock is mu, held only across the scope the spec
// describes (TB acquisition / direct-jump patch).
type TBCache struct {
	mu         sync.Mutex
	cache      *lru.Cache
	translator Translator
	mmu        MMU
}

// NewTBCache constructs a cache bounded at capacity entries (0 means
// unbounded is not supported by the underlying LRU; callers should pass
// a generous bound such as 1<<16).
func NewTBCache(capacity int, translator Translator, mmu MMU) (*TBCache, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &TBCache{cache: c, translator: translator, mmu: mmu}, nil
}

// Lock acquires tb_ctx.tb_lock for the scope of TB acquisition /
// direct-jump patching (spec §4.1 Step 2).
func (c *TBCache) Lock() { c.mu.Lock() }

// Unlock releases tb_ctx.tb_lock. Safe to call redundantly is NOT
// supported; callers track lock ownership explicitly (see runContext's
// tbLockHeld, mirroring the source's have_tb_lock).
func (c *TBCache) Unlock() { c.mu.Unlock() }

// FindFast is tb_find_fast: check the per-vCPU direct-mapped cache
// before falling through to the keyed lookup.
func (c *TBCache) FindFast(vcpu *VCPUState) (*TranslationBlock, bool) {
	e := &vcpu.tbJmpCache[tbJmpHash(vcpu.PC)]
	if e.tb != nil && e.pc == vcpu.PC && e.csBase == vcpu.CSBase && e.flags == vcpu.Flags {
		return e.tb, true
	}
	return nil, false
}

// FindSlow is tb_find_slow: translate-physical-address lookup with
// generate-on-miss, MRU reorder (delegated to the LRU's Get), and
// publication back to the vCPU's fast path.
func (c *TBCache) FindSlow(vcpu *VCPUState) (*TranslationBlock, error) {
	physPC, err := c.mmu.GetPageAddrCode(vcpu, vcpu.PC)
	if err != nil {
		return nil, err
	}
	key := tbKey{pc: physPC, csBase: vcpu.CSBase, flags: vcpu.Flags}

	if v, ok := c.cache.Get(key); ok {
		tb := v.(*TranslationBlock)
		c.publishFast(vcpu, tb)
		return tb, nil
	}

	tb, err := c.translator.TBGenCode(vcpu, vcpu.PC, vcpu.CSBase, vcpu.Flags, 0)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, tb)
	c.publishFast(vcpu, tb)
	return tb, nil
}

func (c *TBCache) publishFast(vcpu *VCPUState, tb *TranslationBlock) {
	vcpu.tbJmpCache[tbJmpHash(vcpu.PC)] = tbJmpEntry{
		pc: vcpu.PC, csBase: vcpu.CSBase, flags: vcpu.Flags, tb: tb,
	}
}

// Flush invalidates the entire TB store (spec §4.4 tb_flush), called
// under the coordinated flush protocol (spec §4.5) whenever a hook or
// tracer structural mutation is pending.
func (c *TBCache) Flush() {
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
}

// ExecNocache runs template once via a freshly generated, never-cached
// TB bounded by maxInsns, used to execute the truncated tail of an
// icount-expired block (spec §4.4 cpu_exec_nocache).
func (c *TBCache) ExecNocache(vcpu *VCPUState, maxInsns uint32, template *TranslationBlock) error {
	c.translator.TBPhysInvalidate(template, -1)

	cflags := CFlagsNoCache | (maxInsns & CFlagsCountMask)
	tb, err := c.translator.TBGenCode(vcpu, template.PC, template.CSBase, template.Flags, cflags)
	if err != nil {
		return err
	}

	vcpu.CurrentTB = tb
	tb.Exec(vcpu)
	vcpu.CurrentTB = nil

	c.translator.TBPhysInvalidate(tb, -1)
	c.translator.TBFree(tb)
	return nil
}
