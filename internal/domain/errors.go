package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBlockMismatch   = errors.New("block hash mismatch")
	ErrUnknownEvent    = errors.New("unknown event kind")
	ErrMalformedLog    = errors.New("malformed log payload")
	ErrOrderUnresolved = errors.New("order could not be resolved")
	ErrLockHeld        = errors.New("lock already held")
	ErrContextDone     = errors.New("context cancelled")
)
