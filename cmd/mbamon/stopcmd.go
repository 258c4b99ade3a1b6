package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/GlacierW/MBA-sub006/internal/config"
)

// stopCmd implements subcommands.Command for "stop": the CLI-process
// analogue of setting ExitFlag from another thread (spec §5's graceful
// stop contract).
type stopCmd struct{}

func (*stopCmd) Name() string        { return "stop" }
func (*stopCmd) Synopsis() string    { return "request a graceful stop of a running \"mbamon run\" instance" }
func (*stopCmd) Usage() string       { return "stop\n" }
func (*stopCmd) SetFlags(*flag.FlagSet) {}

func (*stopCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if _, err := roundTrip(conf.MonitorSocket, cmdStop, struct{}{}); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
