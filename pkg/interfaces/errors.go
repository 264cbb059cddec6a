package interfaces

import "errors"

// Errors shared by every Tier implementation
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrTierClosed  = errors.New("storage tier is closed")
)
