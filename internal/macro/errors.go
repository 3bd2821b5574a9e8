package macro

import "errors"

var (
	// ErrInvalidDelay is returned for delays that are not non-negative integers
	ErrInvalidDelay = errors.New("delay must be a non-negative integer (ms)")

	// ErrIndexOutOfRange is returned when a step number does not exist
	ErrIndexOutOfRange = errors.New("step out of range")

	// ErrMalformed is returned when a macro file is structurally invalid.
	// Individual bad entries never produce it; they are dropped.
	ErrMalformed = errors.New("invalid macro file format")

	// ErrUnsupportedVersion is returned for files written by a newer version
	ErrUnsupportedVersion = errors.New("unsupported macro file version")
)
