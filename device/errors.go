package device

import "errors"

var (
	ErrNotFound        = errors.New("device not found")
	ErrNotSupported    = errors.New("trait not supported by device")
	ErrInvalidDevice   = errors.New("invalid device")
	ErrDuplicateDevice = errors.New("duplicate device")

	// ErrMergeConflict is reserved for persisters that detect concurrent writers.
	// Merges on a single store are serialized per device and never return it.
	ErrMergeConflict = errors.New("state merge conflict")
)
