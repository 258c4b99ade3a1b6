package obhook

import "errors"

// Error kinds exposed by the hook registry. Spec §6/§7: reported by a
// per-API error code (here, a comparable sentinel error) rather than a
// process-wide errno scalar — the idiomatic Go translation of the same
// "mutation is not applied" contract.
var (
	ErrFail              = errors.New("obhook: operation failed")
	ErrFullHook          = errors.New("obhook: descriptor pool exhausted")
	ErrInvalidAddr       = errors.New("obhook: universal hook address is not a kernel address")
	ErrInvalidLabel      = errors.New("obhook: label exceeds maximum length")
	ErrInvalidCallback   = errors.New("obhook: callback is nil")
	ErrInvalidDescriptor = errors.New("obhook: unknown descriptor")
)
