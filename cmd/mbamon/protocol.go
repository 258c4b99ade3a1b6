package main

import "encoding/json"

// Monitor command names. Each is a request Name that a CLI subcommand
// sends over Config.MonitorSocket to a running "mbamon run" instance,
// matching the "monitor listing" / hook-and-tracer surface enumerated in
// spec §6.
const (
	cmdHookAddProcess   = "hook-add-process"
	cmdHookAddUniversal = "hook-add-universal"
	cmdHookDelete       = "hook-delete"
	cmdHookSetEnabled   = "hook-set-enabled"
	cmdHookList         = "hook-list"
	cmdTracerAddInstr   = "tracer-add-instruction"
	cmdTracerAddBlock   = "tracer-add-block"
	cmdTracerSetEnabled = "tracer-set-enabled"
	cmdTracerList       = "tracer-list"
	cmdTracerCleanUp    = "tracer-cleanup"
	cmdStop             = "stop"
)

// Request is one monitor round-trip: a command name plus its
// JSON-encoded, command-specific argument struct.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response carries either a result or an error string, never both.
type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func newRequest(command string, args any) (Request, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, err
	}
	return Request{Command: command, Args: raw}, nil
}

func okResponse(result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Result: raw}
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// HookAddProcessArgs is cmdHookAddProcess's argument struct.
type HookAddProcessArgs struct {
	ASID  uint64 `json:"asid"`
	Addr  uint64 `json:"addr"`
	Label string `json:"label"`
}

// HookAddUniversalArgs is cmdHookAddUniversal's argument struct.
type HookAddUniversalArgs struct {
	Addr  uint64 `json:"addr"`
	Label string `json:"label"`
}

// DescriptorResult is returned by both hook-add-* commands.
type DescriptorResult struct {
	Descriptor uint32 `json:"descriptor"`
}

// HookDeleteArgs is cmdHookDelete's argument struct.
type HookDeleteArgs struct {
	Descriptor uint32 `json:"descriptor"`
}

// HookSetEnabledArgs is cmdHookSetEnabled's argument struct.
type HookSetEnabledArgs struct {
	Descriptor uint32 `json:"descriptor"`
	Enabled    bool   `json:"enabled"`
}

// HookRecordDTO mirrors obhook.HookRecord minus its unexported bucket
// backpointer and func-typed Callback, neither of which cross the wire.
type HookRecordDTO struct {
	Descriptor uint32 `json:"descriptor"`
	ASID       uint64 `json:"asid"`
	Addr       uint64 `json:"addr"`
	Enabled    bool   `json:"enabled"`
	Universal  bool   `json:"universal"`
	Label      string `json:"label"`
}

// HookListResult is cmdHookList's result: one group per (asid, addr)
// bucket, in the same order obhook.Registry.Listing produces.
type HookListResult struct {
	Groups []HookListGroupDTO `json:"groups"`
}

// HookListGroupDTO mirrors obhook.ListingGroup.
type HookListGroupDTO struct {
	ASID    uint64          `json:"asid"`
	Addr    uint64          `json:"addr"`
	Entries []HookRecordDTO `json:"entries"`
}

// TracerAddArgs is shared by cmdTracerAddInstr and cmdTracerAddBlock.
type TracerAddArgs struct {
	ASID        uint64 `json:"asid"`
	Label       string `json:"label"`
	KernelTrace bool   `json:"kernel_trace"`
}

// UIDResult is returned by both tracer-add-* commands.
type UIDResult struct {
	UID uint16 `json:"uid"`
}

// TracerSetEnabledArgs is cmdTracerSetEnabled's argument struct.
type TracerSetEnabledArgs struct {
	UID     uint16 `json:"uid"`
	Enabled bool   `json:"enabled"`
}

// TracerRecordDTO mirrors tracer.Record minus its func-typed Callback.
type TracerRecordDTO struct {
	UID         uint16 `json:"uid"`
	ASID        uint64 `json:"asid"`
	Universal   bool   `json:"universal"`
	KernelTrace bool   `json:"kernel_trace"`
	Granularity string `json:"granularity"`
	Label       string `json:"label"`
	Enabled     bool   `json:"enabled"`
}

// TracerListResult is cmdTracerList's result: one named list per
// non-empty scope/granularity combination, in registry search order.
type TracerListResult struct {
	Lists []TracerListDTO `json:"lists"`
}

// TracerListDTO mirrors tracer.Listing.
type TracerListDTO struct {
	Name    string            `json:"name"`
	Entries []TracerRecordDTO `json:"entries"`
}
