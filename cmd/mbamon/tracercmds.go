package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/GlacierW/MBA-sub006/internal/config"
	applog "github.com/GlacierW/MBA-sub006/pkg/log"
)

// tracerAdd implements subcommands.Command for both
// "tracer-add-instruction" and "tracer-add-block"; block selects which.
type tracerAdd struct {
	block       bool
	asid        uint64
	label       string
	kernelTrace bool
}

func newTracerAddInstruction() *tracerAdd { return &tracerAdd{block: false} }
func newTracerAddBlock() *tracerAdd       { return &tracerAdd{block: true} }

func (t *tracerAdd) Name() string {
	if t.block {
		return "tracer-add-block"
	}
	return "tracer-add-instruction"
}

func (t *tracerAdd) Synopsis() string {
	return fmt.Sprintf("register a %s-granularity tracer", t.granularityName())
}

func (t *tracerAdd) granularityName() string {
	if t.block {
		return "block"
	}
	return "instruction"
}

func (t *tracerAdd) Usage() string {
	return t.Name() + " [-asid=<asid>] [-label=<label>] [-kernel]\n"
}

func (t *tracerAdd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&t.asid, "asid", 0, "guest address-space identifier to scope the tracer to; 0 means universal.")
	f.StringVar(&t.label, "label", "", "optional diagnostic label, at most 15 bytes.")
	f.BoolVar(&t.kernelTrace, "kernel", false, "for a universal tracer (asid=0), trace kernel addresses instead of user addresses.")
}

func (t *tracerAdd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	command := cmdTracerAddInstr
	if t.block {
		command = cmdTracerAddBlock
	}
	resp, err := roundTrip(conf.MonitorSocket, command, TracerAddArgs{ASID: t.asid, Label: t.label, KernelTrace: t.kernelTrace})
	if err != nil {
		Fatalf("%v", err)
	}
	result, err := decodeResult[UIDResult](resp)
	if err != nil {
		Fatalf("%v", err)
	}
	applog.Basicf("uid=%d", result.UID)
	return subcommands.ExitSuccess
}

// tracerSetEnabled implements subcommands.Command for "tracer-enable"
// and "tracer-disable".
type tracerSetEnabled struct {
	uid     uint
	enabled bool
}

func newTracerEnable() *tracerSetEnabled  { return &tracerSetEnabled{enabled: true} }
func newTracerDisable() *tracerSetEnabled { return &tracerSetEnabled{enabled: false} }

func (t *tracerSetEnabled) Name() string {
	if t.enabled {
		return "tracer-enable"
	}
	return "tracer-disable"
}

func (t *tracerSetEnabled) Synopsis() string {
	return fmt.Sprintf("%s a registered tracer", t.Name())
}

func (t *tracerSetEnabled) Usage() string { return t.Name() + " -uid=<uid>\n" }

func (t *tracerSetEnabled) SetFlags(f *flag.FlagSet) {
	f.UintVar(&t.uid, "uid", 0, "uid returned by a previous tracer-add-* command.")
}

func (t *tracerSetEnabled) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if _, err := roundTrip(conf.MonitorSocket, cmdTracerSetEnabled, TracerSetEnabledArgs{UID: uint16(t.uid), Enabled: t.enabled}); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// tracerList implements subcommands.Command for "tracer-list".
type tracerList struct{}

func (*tracerList) Name() string           { return "tracer-list" }
func (*tracerList) Synopsis() string       { return "list every registered tracer, grouped by scope and granularity" }
func (*tracerList) Usage() string          { return "tracer-list\n" }
func (*tracerList) SetFlags(*flag.FlagSet) {}

func (*tracerList) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	resp, err := roundTrip(conf.MonitorSocket, cmdTracerList, struct{}{})
	if err != nil {
		Fatalf("%v", err)
	}
	result, err := decodeResult[TracerListResult](resp)
	if err != nil {
		Fatalf("%v", err)
	}
	for _, l := range result.Lists {
		applog.Basicf("%s:", l.Name)
		for _, e := range l.Entries {
			state := "enabled"
			if !e.Enabled {
				state = "disabled"
			}
			applog.Basicf("  #%d asid=%#x %s label=%q", e.UID, e.ASID, state, e.Label)
		}
	}
	return subcommands.ExitSuccess
}

// tracerCleanUp implements subcommands.Command for "tracer-cleanup".
type tracerCleanUp struct{}

func (*tracerCleanUp) Name() string           { return "tracer-cleanup" }
func (*tracerCleanUp) Synopsis() string       { return "drop every registered tracer and reset the uid counter" }
func (*tracerCleanUp) Usage() string          { return "tracer-cleanup\n" }
func (*tracerCleanUp) SetFlags(*flag.FlagSet) {}

func (*tracerCleanUp) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if _, err := roundTrip(conf.MonitorSocket, cmdTracerCleanUp, struct{}{}); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
