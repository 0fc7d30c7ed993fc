package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when no manifest has been committed yet.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when a manifest fails validation.
	ErrCorrupt = errors.New("corrupt manifest")
)
