package types

import "errors"

var (
	ErrMissingType = errors.New("inbound event has no type")
	ErrEmptyID     = errors.New("message id cannot be empty")
)
