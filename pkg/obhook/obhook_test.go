package obhook

import (
	"errors"
	"testing"

	"github.com/GlacierW/MBA-sub006/pkg/asid"
	"github.com/GlacierW/MBA-sub006/pkg/flushsignal"
)

func newTestRegistry() (*Registry, *flushsignal.Flag) {
	f := &flushsignal.Flag{}
	return NewRegistry(f), f
}

func noopCallback(any) {}

// S1 — Add+trigger universal hook.
func TestScenarioS1AddTriggerUniversalHook(t *testing.T) {
	r, pending := newTestRegistry()

	var order []string
	cbA := func(any) { order = append(order, "A") }
	cbB := func(any) { order = append(order, "B") }

	d0, err := r.AddUniversal(0xffff_0000_ffff_0000, "k", cbA)
	if err != nil || d0 != 0 {
		t.Fatalf("first add: got (%v, %v), want (0, nil)", d0, err)
	}
	d1, err := r.AddUniversal(0xffff_0000_ffff_0000, "k2", cbB)
	if err != nil || d1 != 1 {
		t.Fatalf("second add: got (%v, %v), want (1, nil)", d1, err)
	}
	if !pending.TestAndClear() {
		t.Fatalf("expected pending-flush flag raised by Add")
	}

	recs := r.CallbacksUniversal(0xffff_0000_ffff_0000)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Enabled {
			rec.Callback(nil)
		}
	}
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("dispatch order = %v, want [A B]", order)
	}
}

// S2 — Address validation.
func TestScenarioS2AddressValidation(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.AddUniversal(0, "L", noopCallback)
	if !errors.Is(err, ErrInvalidAddr) {
		t.Fatalf("got err=%v, want ErrInvalidAddr", err)
	}
	if r.Len() != 0 {
		t.Fatalf("registry cardinality = %d, want 0", r.Len())
	}
}

// S3 — Process hook delete collapses buckets.
func TestScenarioS3DeleteCollapsesBuckets(t *testing.T) {
	r, _ := newTestRegistry()
	const a = asid.ASID(0x8765432187654321)
	const addr = uint64(0xffff800000000000)

	d, err := r.AddProcess(a, addr, "d", noopCallback)
	if err != nil {
		t.Fatalf("AddProcess: %v", err)
	}
	if err := r.Delete(d); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("enumeration not empty after delete")
	}
	if _, ok := r.outer[a]; ok {
		t.Fatalf("outer bucket for asid still present after delete")
	}
}

// S4 — Full hook pool.
func TestScenarioS4FullHookPool(t *testing.T) {
	r, _ := newTestRegistry()
	for i := 0; i < MaxDescriptors; i++ {
		if _, err := r.AddProcess(asid.ASID(i+1), uint64(i), "", noopCallback); err != nil {
			t.Fatalf("pre-fill add %d: %v", i, err)
		}
	}
	if _, err := r.AddProcess(1, 0xdead, "", noopCallback); !errors.Is(err, ErrFullHook) {
		t.Fatalf("got err=%v, want ErrFullHook", err)
	}
}

// P1: live descriptor set has no duplicates and matches enumeration.
func TestP1DescriptorUniquenessAndBound(t *testing.T) {
	r, _ := newTestRegistry()
	seen := make(map[Descriptor]bool)
	var live []Descriptor
	for i := 0; i < 100; i++ {
		d, err := r.AddProcess(asid.ASID(i+1), uint64(i), "", noopCallback)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if seen[d] {
			t.Fatalf("descriptor %d reused while live", d)
		}
		seen[d] = true
		live = append(live, d)
	}
	// Delete every third descriptor and re-add; must not collide with
	// still-live descriptors.
	for i := 0; i < len(live); i += 3 {
		if err := r.Delete(live[i]); err != nil {
			t.Fatalf("delete: %v", err)
		}
		delete(seen, live[i])
	}
	entries := r.List()
	if len(entries) != len(seen) {
		t.Fatalf("enumeration length = %d, want %d", len(entries), len(seen))
	}
	for _, e := range entries {
		if !seen[e.Descriptor] {
			t.Fatalf("enumeration returned dead descriptor %d", e.Descriptor)
		}
	}
}

// P2: asid isolation and universal-before-process ordering.
func TestP2ASIDIsolationAndOrder(t *testing.T) {
	r, pending := newTestRegistry()
	const addr = uint64(0xffff000012340000)
	const a = asid.ASID(42)

	var calls []string
	r.AddUniversal(addr, "u", func(any) { calls = append(calls, "universal") })
	r.AddProcess(a, addr, "p", func(any) { calls = append(calls, "process") })
	pending.TestAndClear()

	if recs := r.CallbacksProcess(a+1, addr); len(recs) != 0 {
		t.Fatalf("hook for asid %d must not be visible under asid %d", a, a+1)
	}

	for _, rec := range r.CallbacksUniversal(addr) {
		rec.Callback(nil)
	}
	for _, rec := range r.CallbacksProcess(a, addr) {
		rec.Callback(nil)
	}
	if len(calls) != 2 || calls[0] != "universal" || calls[1] != "process" {
		t.Fatalf("dispatch order = %v, want [universal process]", calls)
	}
}

// P4: enable/disable takes effect without a flush.
func TestP4ToggleNoFlush(t *testing.T) {
	r, pending := newTestRegistry()
	d, _ := r.AddUniversal(0xffff_0000_0000_0001, "", noopCallback)
	pending.TestAndClear()

	if err := r.SetEnabled(d, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if pending.Pending() {
		t.Fatalf("toggling enabled must not raise pending-flush flag")
	}
	recs := r.CallbacksUniversal(0xffff_0000_0000_0001)
	if len(recs) != 1 || recs[0].Enabled {
		t.Fatalf("toggle did not take effect on next lookup")
	}
}

// P6 already covered by TestScenarioS2AddressValidation.

func TestInvalidDescriptorOperations(t *testing.T) {
	r, _ := newTestRegistry()
	if err := r.Delete(1234); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("Delete unknown: got %v, want ErrInvalidDescriptor", err)
	}
	if err := r.SetEnabled(1234, true); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("SetEnabled unknown: got %v, want ErrInvalidDescriptor", err)
	}
}

func TestInvalidLabelAndCallback(t *testing.T) {
	r, _ := newTestRegistry()
	if _, err := r.AddProcess(1, 0, "this-label-is-way-too-long", noopCallback); !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("got %v, want ErrInvalidLabel", err)
	}
	if _, err := r.AddProcess(1, 0, "ok", nil); !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("got %v, want ErrInvalidCallback", err)
	}
}

func TestDeletedDescriptorIsReusable(t *testing.T) {
	r, _ := newTestRegistry()
	d, _ := r.AddProcess(1, 0, "", noopCallback)
	if err := r.Delete(d); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	d2, err := r.AddProcess(1, 1, "", noopCallback)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if d2 != d {
		t.Fatalf("expected descriptor %d to be reused, got %d", d, d2)
	}
}
