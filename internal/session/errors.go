package session

import (
	"errors"

	"keymacro/internal/input"
	"keymacro/internal/player"
)

var (
	// ErrBusy is returned when a command conflicts with the current phase
	ErrBusy = errors.New("busy")

	// ErrEmpty is returned when a command needs a recorded macro
	ErrEmpty = player.ErrEmpty

	// ErrInvalidInput is returned for rejected user values
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned for features that need the global key hook
	ErrUnavailable = input.ErrUnavailable
)
