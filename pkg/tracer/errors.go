package tracer

import "errors"

// Error kinds exposed by the tracer registry. See spec §4.3/§7.
var (
	ErrFail               = errors.New("tracer: operation failed")
	ErrInvalidGranularity = errors.New("tracer: invalid trace granularity")
	ErrInvalidID          = errors.New("tracer: unknown tracer id")
	ErrMaxTracerID        = errors.New("tracer: id pool exhausted")
	ErrInvalidLabel       = errors.New("tracer: label exceeds maximum length")
	ErrInvalidCallback    = errors.New("tracer: callback is nil")
)
