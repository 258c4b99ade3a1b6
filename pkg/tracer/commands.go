package tracer

import (
	"fmt"
	"strings"
)

// Listing is a flattened, display-ordered view of all six lists, grouped
// by list name, for the tracer-list CLI subcommand.
type Listing struct {
	Name    string
	Entries []Record
}

// Listings returns one Listing per non-empty list, in the same order the
// registry searches them for Enable/Disable.
func (r *Registry) Listings() []Listing {
	named := []struct {
		name string
		list []*Record
	}{
		{"process-instruction", r.processInstr},
		{"universal-kernel-instruction", r.universalKInstr},
		{"universal-user-instruction", r.universalUInstr},
		{"process-block", r.processBlock},
		{"universal-kernel-block", r.universalKBlock},
		{"universal-user-block", r.universalUBlock},
	}
	var out []Listing
	for _, n := range named {
		if len(n.list) == 0 {
			continue
		}
		l := Listing{Name: n.name}
		for _, rec := range n.list {
			l.Entries = append(l.Entries, *rec)
		}
		out = append(out, l)
	}
	return out
}

// FormatListings renders Listings as plain text for the CLI.
func FormatListings(listings []Listing) string {
	var b strings.Builder
	for _, l := range listings {
		fmt.Fprintf(&b, "%s:\n", l.Name)
		for _, e := range l.Entries {
			state := "enabled"
			if !e.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&b, "  #%d asid=%#x %-8s label=%q\n", e.UID, uint64(e.ASID), state, e.Label)
		}
	}
	return b.String()
}
