package cpuexec

import (
	"sync/atomic"

	"github.com/GlacierW/MBA-sub006/pkg/asid"
)

const (
	tbJmpCacheBits = 12
	tbJmpCacheSize = 1 << tbJmpCacheBits
)

func tbJmpHash(pc uint64) uint64 {
	return pc & (tbJmpCacheSize - 1)
}

// tbJmpEntry is one slot of the per-vCPU direct-mapped PC→TB fast lookup
// (spec §4.4 tb_find_fast). The full key is stored alongside the pointer
// so a hash collision is detected rather than silently aliased.
type tbJmpEntry struct {
	pc     uint64
	csBase uint64
	flags  uint32
	tb     *TranslationBlock
}

// ICountState mirrors the source's icount_decr union: a u16 low half
// plus a sign-carrying high half, alongside the "extra" token reservoir
// that the loop draws on to refill the decrementer when a TB reports its
// icount budget expired. See spec §3 "vCPU State" and
// §4.1's EXIT_ICOUNT_EXPIRED refill path.
type ICountState struct {
	Extra          int64
	DecrementerLow uint16
	SignCarry      int16
}

// VCPUState holds everything the ExecutionLoop, TBCache and dispatchers
// need about the single running vCPU (spec §5: exactly one active under
// the core's big lock at a time).
type VCPUState struct {
	ASID asid.ASID
	PC   uint64

	CSBase uint64
	Flags  uint32

	Halted           bool
	ExceptionIndex   int32
	InterruptRequest uint32
	ExitRequest      atomic.Bool
	SingleStep       bool
	CanDoIO          bool
	ICount           ICountState
	CurrentTB        *TranslationBlock
	tbJmpCache       [tbJmpCacheSize]tbJmpEntry
}

// NewVCPUState returns a freshly reset vCPU: not halted, no pending
// exception, empty fast-path cache.
func NewVCPUState() *VCPUState {
	return &VCPUState{ExceptionIndex: ExcpNone}
}

// ResetTBJmpCache drops the per-vCPU direct-mapped fast lookup. Called
// whenever TBCache is globally flushed, since a stale entry there would
// otherwise reference a freed TranslationBlock.
func (v *VCPUState) ResetTBJmpCache() {
	v.tbJmpCache = [tbJmpCacheSize]tbJmpEntry{}
}
