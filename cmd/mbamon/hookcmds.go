package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/GlacierW/MBA-sub006/internal/config"
	applog "github.com/GlacierW/MBA-sub006/pkg/log"
)

// hookAddProcess implements subcommands.Command for "hook-add-process".
type hookAddProcess struct {
	asid  uint64
	addr  uint64
	label string
}

func (*hookAddProcess) Name() string     { return "hook-add-process" }
func (*hookAddProcess) Synopsis() string { return "register a per-process out-of-box hook" }
func (*hookAddProcess) Usage() string {
	return "hook-add-process -asid=<asid> -addr=<addr> [-label=<label>]\n"
}

func (h *hookAddProcess) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&h.asid, "asid", 0, "guest address-space identifier (CR3 value) to scope the hook to.")
	f.Uint64Var(&h.addr, "addr", 0, "guest virtual address to hook.")
	f.StringVar(&h.label, "label", "", "optional diagnostic label, at most 14 bytes.")
}

func (h *hookAddProcess) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	resp, err := roundTrip(conf.MonitorSocket, cmdHookAddProcess, HookAddProcessArgs{ASID: h.asid, Addr: h.addr, Label: h.label})
	if err != nil {
		Fatalf("%v", err)
	}
	result, err := decodeResult[DescriptorResult](resp)
	if err != nil {
		Fatalf("%v", err)
	}
	applog.Basicf("descriptor=%d", result.Descriptor)
	return subcommands.ExitSuccess
}

// hookAddUniversal implements subcommands.Command for "hook-add-universal".
type hookAddUniversal struct {
	addr  uint64
	label string
}

func (*hookAddUniversal) Name() string     { return "hook-add-universal" }
func (*hookAddUniversal) Synopsis() string { return "register a universal (kernel-wide) out-of-box hook" }
func (*hookAddUniversal) Usage() string {
	return "hook-add-universal -addr=<kernel addr> [-label=<label>]\n"
}

func (h *hookAddUniversal) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&h.addr, "addr", 0, "kernel guest virtual address to hook.")
	f.StringVar(&h.label, "label", "", "optional diagnostic label, at most 14 bytes.")
}

func (h *hookAddUniversal) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	resp, err := roundTrip(conf.MonitorSocket, cmdHookAddUniversal, HookAddUniversalArgs{Addr: h.addr, Label: h.label})
	if err != nil {
		Fatalf("%v", err)
	}
	result, err := decodeResult[DescriptorResult](resp)
	if err != nil {
		Fatalf("%v", err)
	}
	applog.Basicf("descriptor=%d", result.Descriptor)
	return subcommands.ExitSuccess
}

// hookDelete implements subcommands.Command for "hook-delete".
type hookDelete struct {
	descriptor uint
}

func (*hookDelete) Name() string     { return "hook-delete" }
func (*hookDelete) Synopsis() string { return "remove a registered out-of-box hook" }
func (*hookDelete) Usage() string    { return "hook-delete -descriptor=<d>\n" }

func (h *hookDelete) SetFlags(f *flag.FlagSet) {
	f.UintVar(&h.descriptor, "descriptor", 0, "descriptor returned by a previous hook-add-* command.")
}

func (h *hookDelete) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if _, err := roundTrip(conf.MonitorSocket, cmdHookDelete, HookDeleteArgs{Descriptor: uint32(h.descriptor)}); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// hookSetEnabled implements subcommands.Command for "hook-enable" and
// "hook-disable" (see newHookEnable/newHookDisable), toggling a
// hook's Enabled bit without raising a pending-flush (spec §4.5).
type hookSetEnabled struct {
	descriptor uint
	enabled    bool
}

func newHookEnable() *hookSetEnabled  { return &hookSetEnabled{enabled: true} }
func newHookDisable() *hookSetEnabled { return &hookSetEnabled{enabled: false} }

func (h *hookSetEnabled) Name() string {
	if h.enabled {
		return "hook-enable"
	}
	return "hook-disable"
}

func (h *hookSetEnabled) Synopsis() string {
	return fmt.Sprintf("%s a registered out-of-box hook", h.Name())
}

func (h *hookSetEnabled) Usage() string { return h.Name() + " -descriptor=<d>\n" }

func (h *hookSetEnabled) SetFlags(f *flag.FlagSet) {
	f.UintVar(&h.descriptor, "descriptor", 0, "descriptor returned by a previous hook-add-* command.")
}

func (h *hookSetEnabled) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if _, err := roundTrip(conf.MonitorSocket, cmdHookSetEnabled, HookSetEnabledArgs{Descriptor: uint32(h.descriptor), Enabled: h.enabled}); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// hookList implements subcommands.Command for "hook-list".
type hookList struct{}

func (*hookList) Name() string           { return "hook-list" }
func (*hookList) Synopsis() string       { return "list every registered out-of-box hook" }
func (*hookList) Usage() string          { return "hook-list\n" }
func (*hookList) SetFlags(*flag.FlagSet) {}

func (*hookList) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	resp, err := roundTrip(conf.MonitorSocket, cmdHookList, struct{}{})
	if err != nil {
		Fatalf("%v", err)
	}
	result, err := decodeResult[HookListResult](resp)
	if err != nil {
		Fatalf("%v", err)
	}
	for _, g := range result.Groups {
		scope := "process"
		if g.ASID == 0 {
			scope = "universal"
		}
		applog.Basicf("asid=%#x addr=%#x scope=%s", g.ASID, g.Addr, scope)
		for _, e := range g.Entries {
			state := "enabled"
			if !e.Enabled {
				state = "disabled"
			}
			applog.Basicf("  #%d %s label=%q", e.Descriptor, state, e.Label)
		}
	}
	return subcommands.ExitSuccess
}
