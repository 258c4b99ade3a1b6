// Package tracer implements the six scope-partitioned trace-callback
// lists described in spec §4.3: per-instruction and per-basic-block
// callbacks, each split into a process list and two universal lists
// (kernel and user), searchable by a monotonically assigned uid.
package tracer

import (
	"github.com/GlacierW/MBA-sub006/pkg/asid"
	"github.com/GlacierW/MBA-sub006/pkg/flushsignal"
	applog "github.com/GlacierW/MBA-sub006/pkg/log"
)

// MaxLabelLen mirrors MAX_SZ_TRACER_LABEL - 1 from the source header.
const MaxLabelLen = 15

// MaxTracerID bounds the uid space; the 65536th registration fails.
const MaxTracerID = 65535

// Granularity selects which pair of dispatcher lists a record belongs to.
type Granularity int

const (
	Instruction Granularity = iota
	Block
)

// TracerFunc is invoked by the instruction/block dispatchers. start/end
// carry the instruction address (end unused, 0) or the block's first and
// last instruction addresses. vcpu is an opaque handle, as with
// obhook.HookFunc.
type TracerFunc func(vcpu any, start, end uint64)

// Record describes one registered tracer.
type Record struct {
	UID         uint16
	ASID        asid.ASID
	Universal   bool
	KernelTrace bool
	Granularity Granularity
	Label       string
	Enabled     bool
	Callback    TracerFunc
}

// Registry holds the six lists plus the monotonic uid counter.
type Registry struct {
	processInstr    []*Record
	universalKInstr []*Record
	universalUInstr []*Record
	processBlock    []*Record
	universalKBlock []*Record
	universalUBlock []*Record

	nextUID uint16 // next uid to assign; 0 means "none assigned yet"

	pending *flushsignal.Flag
}

// NewRegistry constructs an empty tracer registry sharing pending with the
// owning execution loop (see pkg/flushsignal).
func NewRegistry(pending *flushsignal.Flag) *Registry {
	return &Registry{pending: pending}
}

func defaultCallback(_ any, start, end uint64) {
	applog.Debugf("tracer: pc_start=%#x pc_end=%#x", start, end)
}

// AddInstruction registers an instruction-granularity tracer. See
// spec §4.3 for routing and validation.
func (r *Registry) AddInstruction(a asid.ASID, label string, kernelTrace bool, cb TracerFunc) (uint16, error) {
	return r.add(a, label, kernelTrace, Instruction, cb)
}

// AddBlock registers a block-granularity tracer.
func (r *Registry) AddBlock(a asid.ASID, label string, kernelTrace bool, cb TracerFunc) (uint16, error) {
	return r.add(a, label, kernelTrace, Block, cb)
}

func (r *Registry) add(a asid.ASID, label string, kernelTrace bool, g Granularity, cb TracerFunc) (uint16, error) {
	if len(label) > MaxLabelLen {
		return 0, ErrInvalidLabel
	}
	if r.nextUID >= MaxTracerID {
		return 0, ErrMaxTracerID
	}
	if cb == nil {
		cb = defaultCallback
	}

	r.nextUID++
	rec := &Record{
		UID:         r.nextUID,
		ASID:        a,
		Universal:   a == asid.Universal,
		KernelTrace: kernelTrace,
		Granularity: g,
		Label:       label,
		Enabled:     false,
		Callback:    cb,
	}

	switch {
	case a != asid.Universal:
		r.appendTo(g, &r.processInstr, &r.processBlock, rec)
	case kernelTrace:
		r.appendTo(g, &r.universalKInstr, &r.universalKBlock, rec)
	default:
		r.appendTo(g, &r.universalUInstr, &r.universalUBlock, rec)
	}

	r.pending.Raise()
	return rec.UID, nil
}

func (r *Registry) appendTo(g Granularity, instrList, blockList *[]*Record, rec *Record) {
	if g == Instruction {
		*instrList = append(*instrList, rec)
	} else {
		*blockList = append(*blockList, rec)
	}
}

func (r *Registry) allLists() [][]*Record {
	return [][]*Record{
		r.processInstr, r.universalKInstr, r.universalUInstr,
		r.processBlock, r.universalKBlock, r.universalUBlock,
	}
}

// Enable turns on the tracer with the given uid. Search order matches
// spec §4.3: all six lists, first match wins. Never raises the
// pending-flush flag.
func (r *Registry) Enable(uid uint16) error {
	return r.setEnabled(uid, true)
}

// Disable turns off the tracer with the given uid.
func (r *Registry) Disable(uid uint16) error {
	return r.setEnabled(uid, false)
}

func (r *Registry) setEnabled(uid uint16, enabled bool) error {
	for _, list := range r.allLists() {
		for _, rec := range list {
			if rec.UID == uid {
				rec.Enabled = enabled
				return nil
			}
		}
	}
	return ErrInvalidID
}

// Label returns the label of the tracer with the given uid.
func (r *Registry) Label(uid uint16) (string, error) {
	rec := r.find(uid)
	if rec == nil {
		return "", ErrInvalidID
	}
	return rec.Label, nil
}

// Status reports whether the tracer with the given uid is enabled.
func (r *Registry) Status(uid uint16) (bool, error) {
	rec := r.find(uid)
	if rec == nil {
		return false, ErrInvalidID
	}
	return rec.Enabled, nil
}

func (r *Registry) find(uid uint16) *Record {
	for _, list := range r.allLists() {
		for _, rec := range list {
			if rec.UID == uid {
				return rec
			}
		}
	}
	return nil
}

// CleanUp drops all six lists and resets the uid counter. A structural
// mutation: raises the pending-flush flag.
func (r *Registry) CleanUp() {
	r.processInstr = nil
	r.universalKInstr = nil
	r.universalUInstr = nil
	r.processBlock = nil
	r.universalKBlock = nil
	r.universalUBlock = nil
	r.nextUID = 0
	r.pending.Raise()
}

// DispatchInstruction invokes every enabled instruction-granularity
// tracer whose scope covers (a, pc), per spec §4.3's filtering policy:
// a kernel pc only reaches the universal-kernel list; a user pc reaches
// the matching process list (exact asid match only — see the Q1 design
// note, this deliberately does not replicate the source's fallthrough
// behavior) plus the universal-user list.
func (r *Registry) DispatchInstruction(vcpu any, a asid.ASID, pc uint64) {
	r.dispatch(vcpu, a, pc, 0, r.processInstr, r.universalKInstr, r.universalUInstr)
}

// DispatchBlock invokes every enabled block-granularity tracer whose
// scope covers (a, start), using the same filtering policy as
// DispatchInstruction.
func (r *Registry) DispatchBlock(vcpu any, a asid.ASID, start, end uint64) {
	r.dispatch(vcpu, a, start, end, r.processBlock, r.universalKBlock, r.universalUBlock)
}

func (r *Registry) dispatch(vcpu any, a asid.ASID, start, end uint64, process, universalKernel, universalUser []*Record) {
	if asid.IsKernel(start) {
		for _, rec := range universalKernel {
			if rec.Enabled {
				rec.Callback(vcpu, start, end)
			}
		}
		return
	}
	for _, rec := range process {
		if rec.Enabled && rec.ASID == a {
			rec.Callback(vcpu, start, end)
		}
	}
	for _, rec := range universalUser {
		if rec.Enabled {
			rec.Callback(vcpu, start, end)
		}
	}
}

// String renders a Granularity for diagnostics.
func (g Granularity) String() string {
	if g == Instruction {
		return "instruction"
	}
	return "block"
}
