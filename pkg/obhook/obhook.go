// Package obhook implements the out-of-box hook registry: a two-level
// table of callbacks attached to guest code addresses, indexed by
// {address-space-id, guest-PC}, supporting both universal (kernel-wide)
// and per-process scopes. See spec §4.2.
package obhook

import (
	"github.com/google/btree"
	"github.com/mohae/deepcopy"

	"github.com/GlacierW/MBA-sub006/pkg/asid"
	"github.com/GlacierW/MBA-sub006/pkg/flushsignal"
)

// MaxLabelLen is the largest label accepted. The add preconditions
// require a label shorter than 15 bytes (one fewer than
// MAX_SZ_OBHOOK_LABEL's 16-byte buffer, to leave room for the source's
// NUL terminator), so the longest valid label here is 14 bytes.
const MaxLabelLen = 14

// MaxDescriptors bounds the descriptor pool, matching MAX_NM_OBHOOK.
const MaxDescriptors = 65535

// Descriptor is the small non-negative integer handed back by Add*,
// stable for the record's lifetime and reused only after Delete.
type Descriptor uint32

// HookFunc is the callback invoked at a hooked address. Its return value
// is ignored by the core (spec §9: "implementations MAY drop the return
// type"). The argument is an opaque vCPU-state handle supplied by the
// execution loop; this package never inspects it.
type HookFunc func(vcpu any)

// HookRecord describes one registered hook.
type HookRecord struct {
	Descriptor Descriptor
	ASID       asid.ASID
	Addr       uint64
	Enabled    bool
	Universal  bool
	Label      string
	Callback   HookFunc

	bucket *bucket
}

// bucket is the inner table entry keyed by (asid, addr): an ordered list
// of records plus the information needed to unlink it from its parents.
type bucket struct {
	asid    asid.ASID
	addr    uint64
	records []*HookRecord
}

// Registry is the hook table. cpuexec.NewLoop gives each Loop its own
// Registry; there is no shutdown step. The zero value is not usable;
// construct with NewRegistry.
type Registry struct {
	outer map[asid.ASID]map[uint64]*bucket

	descriptors map[Descriptor]*HookRecord
	free        []Descriptor // stack of reusable descriptors
	nextFresh   Descriptor   // next never-used descriptor
	live        *btree.BTree // ordered view of live descriptors, for enumeration

	pending *flushsignal.Flag
}

type descriptorItem Descriptor

func (a descriptorItem) Less(than btree.Item) bool {
	return a < than.(descriptorItem)
}

// NewRegistry constructs an empty hook registry. pending is raised on
// every structural addition (never on delete; see spec §9 Q2) and is
// normally shared with the owning execution loop.
func NewRegistry(pending *flushsignal.Flag) *Registry {
	return &Registry{
		outer:       make(map[asid.ASID]map[uint64]*bucket),
		descriptors: make(map[Descriptor]*HookRecord),
		live:        btree.New(32),
		pending:     pending,
	}
}

// AddProcess registers a per-process hook. See spec §4.2.
func (r *Registry) AddProcess(a asid.ASID, addr uint64, label string, cb HookFunc) (Descriptor, error) {
	return r.add(a, addr, label, cb, false)
}

// AddUniversal registers a universal (kernel-wide) hook. addr MUST be a
// kernel address per asid.IsKernel.
func (r *Registry) AddUniversal(addr uint64, label string, cb HookFunc) (Descriptor, error) {
	return r.add(asid.Universal, addr, label, cb, true)
}

func (r *Registry) add(a asid.ASID, addr uint64, label string, cb HookFunc, universal bool) (Descriptor, error) {
	// Validation order per spec §4.2: descriptor availability, then
	// kernel-address check (universal only), then label length, then
	// callback non-nil. First failing check wins; no mutation occurs
	// until all checks pass (atomicity requirement).
	d, hasFree := r.peekDescriptor()
	if !hasFree {
		return 0, ErrFullHook
	}
	if universal && !asid.IsKernel(addr) {
		return 0, ErrInvalidAddr
	}
	if len(label) > MaxLabelLen {
		return 0, ErrInvalidLabel
	}
	if cb == nil {
		return 0, ErrInvalidCallback
	}

	d = r.allocDescriptor()

	innerTbl, ok := r.outer[a]
	if !ok {
		innerTbl = make(map[uint64]*bucket)
		r.outer[a] = innerTbl
	}
	b, ok := innerTbl[addr]
	if !ok {
		b = &bucket{asid: a, addr: addr}
		innerTbl[addr] = b
	}

	rec := &HookRecord{
		Descriptor: d,
		ASID:       a,
		Addr:       addr,
		Enabled:    true,
		Universal:  universal,
		Label:      label,
		Callback:   cb,
		bucket:     b,
	}
	b.records = append(b.records, rec)
	r.descriptors[d] = rec
	r.live.ReplaceOrInsert(descriptorItem(d))

	r.pending.Raise()
	return d, nil
}

// peekDescriptor reports whether a descriptor is available without
// consuming it, so validation can fail FULL_HOOK before any other check.
func (r *Registry) peekDescriptor() (Descriptor, bool) {
	if len(r.free) > 0 {
		return r.free[len(r.free)-1], true
	}
	if int(r.nextFresh) < MaxDescriptors {
		return r.nextFresh, true
	}
	return 0, false
}

func (r *Registry) allocDescriptor() Descriptor {
	if len(r.free) > 0 {
		d := r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
		return d
	}
	d := r.nextFresh
	r.nextFresh++
	return d
}

// Delete removes a hook. Per spec §4.2 / §9 Q2 this deliberately does NOT
// raise the pending-flush flag: already-translated code may still call
// the dispatcher, which simply walks a now-shorter (or empty) list.
func (r *Registry) Delete(d Descriptor) error {
	rec, ok := r.descriptors[d]
	if !ok {
		return ErrInvalidDescriptor
	}

	b := rec.bucket
	for i, cand := range b.records {
		if cand == rec {
			b.records = append(b.records[:i], b.records[i+1:]...)
			break
		}
	}
	if len(b.records) == 0 {
		innerTbl := r.outer[b.asid]
		delete(innerTbl, b.addr)
		if len(innerTbl) == 0 {
			delete(r.outer, b.asid)
		}
	}

	delete(r.descriptors, d)
	r.live.Delete(descriptorItem(d))
	r.free = append(r.free, d)
	return nil
}

// SetEnabled toggles a hook's enablement. Never raises the pending-flush
// flag: dispatchers read Enabled on every call (spec §4.5).
func (r *Registry) SetEnabled(d Descriptor, enabled bool) error {
	rec, ok := r.descriptors[d]
	if !ok {
		return ErrInvalidDescriptor
	}
	rec.Enabled = enabled
	return nil
}

// CallbacksUniversal returns the ordered record list for a universal hook
// address, or nil on miss. addr MUST be a kernel address.
func (r *Registry) CallbacksUniversal(addr uint64) []*HookRecord {
	if !asid.IsKernel(addr) {
		return nil
	}
	return r.lookup(asid.Universal, addr)
}

// CallbacksProcess returns the ordered record list for (a, addr), or nil
// on miss.
func (r *Registry) CallbacksProcess(a asid.ASID, addr uint64) []*HookRecord {
	return r.lookup(a, addr)
}

func (r *Registry) lookup(a asid.ASID, addr uint64) []*HookRecord {
	innerTbl, ok := r.outer[a]
	if !ok {
		return nil
	}
	b, ok := innerTbl[addr]
	if !ok {
		return nil
	}
	return b.records
}

// Len reports the number of live descriptors.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// List enumerates all live hooks in ascending descriptor order, returning
// defensive deep copies so callers (the CLI's hook-list command) cannot
// alias live registry state.
func (r *Registry) List() []HookRecord {
	out := make([]HookRecord, 0, r.live.Len())
	r.live.Ascend(func(item btree.Item) bool {
		d := Descriptor(item.(descriptorItem))
		rec := r.descriptors[d]
		copied := deepcopy.Copy(*rec).(HookRecord)
		copied.bucket = nil
		out = append(out, copied)
		return true
	})
	return out
}
