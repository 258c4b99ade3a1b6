// Binary mbamon is the CLI surface over the hook/tracer/execution-loop
// core: subcommands register and enumerate out-of-box hooks and tracers
// against a running "mbamon run" instance over its monitor socket, and
// "run" drives the execution loop itself. See SPEC_FULL.md §6.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/GlacierW/MBA-sub006/internal/config"
	"github.com/GlacierW/MBA-sub006/pkg/log"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&hookAddProcess{}, "hooks")
	subcommands.Register(&hookAddUniversal{}, "hooks")
	subcommands.Register(&hookDelete{}, "hooks")
	subcommands.Register(newHookEnable(), "hooks")
	subcommands.Register(newHookDisable(), "hooks")
	subcommands.Register(&hookList{}, "hooks")

	subcommands.Register(newTracerAddInstruction(), "tracers")
	subcommands.Register(newTracerAddBlock(), "tracers")
	subcommands.Register(newTracerEnable(), "tracers")
	subcommands.Register(newTracerDisable(), "tracers")
	subcommands.Register(&tracerList{}, "tracers")
	subcommands.Register(&tracerCleanUp{}, "tracers")

	subcommands.Register(&runCmd{}, "execution")
	subcommands.Register(&stopCmd{}, "execution")

	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		Fatalf("%v", err)
	}
	if path := config.ConfigPath(flag.CommandLine); path != "" {
		if err := conf.ApplyTOML(path); err != nil {
			Fatalf("%v", err)
		}
	}
	log.SetLevel(conf.Debug)
	if conf.LogPath != "" {
		f, err := os.OpenFile(conf.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			Fatalf("opening -log path %q: %v", conf.LogPath, err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
