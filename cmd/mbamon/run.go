package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalli/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/GlacierW/MBA-sub006/internal/config"
	"github.com/GlacierW/MBA-sub006/pkg/asid"
	"github.com/GlacierW/MBA-sub006/pkg/cpuexec"
	applog "github.com/GlacierW/MBA-sub006/pkg/log"
)

// runCmd implements subcommands.Command for "run": it boots a fresh Loop
// against this package's demo ArchOps/Translator/MMU (the real guest-ISA
// decoder and MMU are external collaborators out of scope per spec §1)
// and drives it until a signal, the monitor's "stop" command, or an
// immediately-set ExitFlag brings it to a cooperative exit (spec §5).
type runCmd struct {
	pc uint64
}

func (*runCmd) Name() string { return "run" }
func (*runCmd) Synopsis() string {
	return "drive the execution loop against the built-in demo collaborators"
}
func (*runCmd) Usage() string { return "run [-pc=<addr>]\n" }

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.pc, "pc", 0, "initial guest program counter.")
}

func (r *runCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	lock, err := conf.AcquireInstanceLock()
	if err != nil {
		Fatalf("%v", err)
	}
	defer lock.Close()

	asid.SetKernelMask(conf.KernelMask)

	exitFlag := &cpuexec.ExitFlag{}
	clocks := cpuexec.NewSyncClocks(func(int64) int64 { return 0 })

	translator := &demoTranslator{}
	tbCache, err := cpuexec.NewTBCache(conf.TBCacheSize, translator, demoMMU{})
	if err != nil {
		Fatalf("constructing TB cache: %v", err)
	}

	loop := cpuexec.NewLoop(demoArch{}, tbCache, exitFlag, clocks)
	translator.loop = loop

	var g errgroup.Group
	var srv *monitorServer
	var srvStopped atomic.Bool
	srvStopped.Store(true)

	if conf.MonitorSocket != "" {
		s, err := newMonitorServer(conf.MonitorSocket, loop, exitFlag)
		if err != nil {
			Fatalf("%v", err)
		}
		srv = s
		srvStopped.Store(false)
		g.Go(func() error {
			defer srvStopped.Store(true)
			err := srv.Serve()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		})
		applog.Infof("monitor listening on %s", conf.MonitorSocket)
	}

	// Forward SIGINT/SIGTERM into ExitFlag the way ForwardSignals
	// relays a container's signals to the sandboxed process; this
	// goroutine is not part of the errgroup since it blocks forever
	// when no signal ever arrives and the monitor's "stop" command (or
	// a pre-set ExitFlag) is what ends Run instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if sig, ok := <-sigCh; ok {
			applog.Infof("received %s, requesting graceful stop", sig)
			exitFlag.Set()
		}
	}()

	vcpu := cpuexec.NewVCPUState()
	vcpu.PC = r.pc

	code := loop.Run(vcpu)
	applog.Basicf("exit_code=%#x", code)

	if srv != nil {
		srv.Close()
		// Bound how long we wait for the monitor's Accept loop to
		// unwind after Close, the same backoff-polling shape
		// waitForStopped uses to wait out a gofer process exiting.
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(25*time.Millisecond), 80)
		_ = backoff.Retry(func() error {
			if srvStopped.Load() {
				return nil
			}
			return errors.New("monitor server still shutting down")
		}, b)
	}
	if err := g.Wait(); err != nil {
		applog.Warningf("monitor server: %v", err)
	}

	return subcommands.ExitSuccess
}
