package local

import "errors"

var (
	// ErrNotFound is returned when a key is absent
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when a blob cannot be decoded
	ErrCorrupt = errors.New("corrupt blob")
)
