package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrUnknownRole     = errors.New("unknown role")
	ErrInvalidCount    = errors.New("count must be between 1 and 500")
	ErrNotActivated    = errors.New("device is not activated")
	ErrRoleNotAllowed  = errors.New("role is not allowed to load the payload")
	ErrInvalidPassword = errors.New("invalid operator password")
	ErrLoginDisabled   = errors.New("operator login is not configured")
)

// BlockedError is returned while a client is held by the attempt guard.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("too many rejected activations, retry after %s", e.RetryAfter.Round(time.Second))
}
