package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/GlacierW/MBA-sub006/pkg/asid"
	"github.com/GlacierW/MBA-sub006/pkg/cpuexec"
	applog "github.com/GlacierW/MBA-sub006/pkg/log"
	"github.com/GlacierW/MBA-sub006/pkg/obhook"
	"github.com/GlacierW/MBA-sub006/pkg/tracer"
)

// monitorServer answers the Request/Response round-trips defined in
// protocol.go against a single running Loop, the CLI-process analogue
// of the C monitor commands enumerated in spec §6.
type monitorServer struct {
	loop     *cpuexec.Loop
	exitFlag *cpuexec.ExitFlag
	listener net.Listener
}

func newMonitorServer(socketPath string, loop *cpuexec.Loop, exitFlag *cpuexec.ExitFlag) (*monitorServer, error) {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("mbamon: listening on %s: %w", socketPath, err)
	}
	return &monitorServer{loop: loop, exitFlag: exitFlag, listener: ln}, nil
}

// Close shuts down the listener, unblocking Serve.
func (s *monitorServer) Close() error { return s.listener.Close() }

// Serve accepts connections until the listener is closed, handling each
// synchronously: the registries are not internally thread-safe (spec
// §5), so serializing monitor commands one connection at a time is the
// correct discipline for a process also running the big-lock execution
// loop on another goroutine.
func (s *monitorServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.handleConn(conn)
	}
}

func (s *monitorServer) handleConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		applog.Warningf("mbamon: decoding monitor request: %v", err)
		return
	}

	resp := s.dispatch(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		applog.Warningf("mbamon: encoding monitor response: %v", err)
	}
}

func (s *monitorServer) dispatch(req Request) Response {
	switch req.Command {
	case cmdHookAddProcess:
		return s.hookAddProcess(req.Args)
	case cmdHookAddUniversal:
		return s.hookAddUniversal(req.Args)
	case cmdHookDelete:
		return s.hookDelete(req.Args)
	case cmdHookSetEnabled:
		return s.hookSetEnabled(req.Args)
	case cmdHookList:
		return s.hookList()
	case cmdTracerAddInstr:
		return s.tracerAdd(req.Args, tracer.Instruction)
	case cmdTracerAddBlock:
		return s.tracerAdd(req.Args, tracer.Block)
	case cmdTracerSetEnabled:
		return s.tracerSetEnabled(req.Args)
	case cmdTracerList:
		return s.tracerList()
	case cmdTracerCleanUp:
		s.loop.Tracers.CleanUp()
		return okResponse(struct{}{})
	case cmdStop:
		s.exitFlag.Set()
		return okResponse(struct{}{})
	default:
		return errResponse(fmt.Errorf("mbamon: unknown monitor command %q", req.Command))
	}
}

func defaultHookCallback(label string) obhook.HookFunc {
	return func(vcpu any) {
		applog.Debugf("hook %q fired", label)
	}
}

func (s *monitorServer) hookAddProcess(raw json.RawMessage) Response {
	var args HookAddProcessArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResponse(err)
	}
	d, err := s.loop.Hooks.AddProcess(asid.ASID(args.ASID), args.Addr, args.Label, defaultHookCallback(args.Label))
	if err != nil {
		return errResponse(err)
	}
	return okResponse(DescriptorResult{Descriptor: uint32(d)})
}

func (s *monitorServer) hookAddUniversal(raw json.RawMessage) Response {
	var args HookAddUniversalArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResponse(err)
	}
	d, err := s.loop.Hooks.AddUniversal(args.Addr, args.Label, defaultHookCallback(args.Label))
	if err != nil {
		return errResponse(err)
	}
	return okResponse(DescriptorResult{Descriptor: uint32(d)})
}

func (s *monitorServer) hookDelete(raw json.RawMessage) Response {
	var args HookDeleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResponse(err)
	}
	if err := s.loop.Hooks.Delete(obhook.Descriptor(args.Descriptor)); err != nil {
		return errResponse(err)
	}
	return okResponse(struct{}{})
}

func (s *monitorServer) hookSetEnabled(raw json.RawMessage) Response {
	var args HookSetEnabledArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResponse(err)
	}
	if err := s.loop.Hooks.SetEnabled(obhook.Descriptor(args.Descriptor), args.Enabled); err != nil {
		return errResponse(err)
	}
	return okResponse(struct{}{})
}

func (s *monitorServer) hookList() Response {
	groups := s.loop.Hooks.Listing()
	out := HookListResult{Groups: make([]HookListGroupDTO, 0, len(groups))}
	for _, g := range groups {
		dto := HookListGroupDTO{ASID: uint64(g.ASID), Addr: g.Addr}
		for _, e := range g.Entries {
			dto.Entries = append(dto.Entries, HookRecordDTO{
				Descriptor: uint32(e.Descriptor),
				ASID:       uint64(e.ASID),
				Addr:       e.Addr,
				Enabled:    e.Enabled,
				Universal:  e.Universal,
				Label:      e.Label,
			})
		}
		out.Groups = append(out.Groups, dto)
	}
	return okResponse(out)
}

func (s *monitorServer) tracerAdd(raw json.RawMessage, g tracer.Granularity) Response {
	var args TracerAddArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResponse(err)
	}
	var (
		uid uint16
		err error
	)
	if g == tracer.Instruction {
		uid, err = s.loop.Tracers.AddInstruction(asid.ASID(args.ASID), args.Label, args.KernelTrace, nil)
	} else {
		uid, err = s.loop.Tracers.AddBlock(asid.ASID(args.ASID), args.Label, args.KernelTrace, nil)
	}
	if err != nil {
		return errResponse(err)
	}
	return okResponse(UIDResult{UID: uid})
}

func (s *monitorServer) tracerSetEnabled(raw json.RawMessage) Response {
	var args TracerSetEnabledArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResponse(err)
	}
	var err error
	if args.Enabled {
		err = s.loop.Tracers.Enable(args.UID)
	} else {
		err = s.loop.Tracers.Disable(args.UID)
	}
	if err != nil {
		return errResponse(err)
	}
	return okResponse(struct{}{})
}

func (s *monitorServer) tracerList() Response {
	listings := s.loop.Tracers.Listings()
	out := TracerListResult{Lists: make([]TracerListDTO, 0, len(listings))}
	for _, l := range listings {
		dto := TracerListDTO{Name: l.Name}
		for _, e := range l.Entries {
			dto.Entries = append(dto.Entries, TracerRecordDTO{
				UID:         e.UID,
				ASID:        uint64(e.ASID),
				Universal:   e.Universal,
				KernelTrace: e.KernelTrace,
				Granularity: e.Granularity.String(),
				Label:       e.Label,
				Enabled:     e.Enabled,
			})
		}
		out.Lists = append(out.Lists, dto)
	}
	return okResponse(out)
}
