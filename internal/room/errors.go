package room

import (
	"errors"
	"fmt"
)

// Room error types
var (
	ErrAlreadyRunning    = errors.New("room coordinator is already running")
	ErrNotRunning        = errors.New("room coordinator is not running")
	ErrMissingIdentity   = errors.New("missing identity")
	ErrValidation        = errors.New("invalid content")
	ErrForbidden         = errors.New("not the author")
	ErrNotFound          = errors.New("message not found")
	ErrEditWindowExpired = errors.New("edit window expired")
	ErrInvalidEmoji      = errors.New("emoji not allowed")
	ErrPersistence       = errors.New("persistence failed")
)

// RateLimitedError is returned when a session is in cooldown.
type RateLimitedError struct {
	Remaining int // seconds
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %d more second(s)", e.Remaining)
}

// MutedError is returned when the sender has an active mute record.
type MutedError struct {
	Minutes int
	Reason  string
}

func (e *MutedError) Error() string {
	return fmt.Sprintf("muted for %d more minute(s): %s", e.Minutes, e.Reason)
}
