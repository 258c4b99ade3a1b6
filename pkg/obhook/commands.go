package obhook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GlacierW/MBA-sub006/pkg/asid"
)

// ListingGroup is one (asid, address) bucket's worth of hooks, formatted
// for the hook-list monitor command.
type ListingGroup struct {
	ASID    asid.ASID
	Addr    uint64
	Entries []HookRecord
}

// Listing groups List's flat output by bucket, in ascending (asid, addr)
// order, matching the C monitor's obhook_list() presentation grouped by
// hash-table bucket.
func (r *Registry) Listing() []ListingGroup {
	flat := r.List()
	groups := make(map[[2]uint64]*ListingGroup)
	var order [][2]uint64
	for _, rec := range flat {
		key := [2]uint64{uint64(rec.ASID), rec.Addr}
		g, ok := groups[key]
		if !ok {
			g = &ListingGroup{ASID: rec.ASID, Addr: rec.Addr}
			groups[key] = g
			order = append(order, key)
		}
		g.Entries = append(g.Entries, rec)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})
	out := make([]ListingGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out
}

// FormatListing renders Listing's output as plain text, one bucket per
// block and one hook per line, for the CLI's hook-list subcommand.
func FormatListing(groups []ListingGroup) string {
	var b strings.Builder
	for _, g := range groups {
		scope := "process"
		if g.ASID == asid.Universal {
			scope = "universal"
		}
		fmt.Fprintf(&b, "asid=%#x addr=%#x scope=%s\n", uint64(g.ASID), g.Addr, scope)
		for _, e := range g.Entries {
			state := "enabled"
			if !e.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&b, "  #%d %-8s label=%q\n", e.Descriptor, state, e.Label)
		}
	}
	return b.String()
}
