package engine

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on a closed manager or segment set.
	ErrClosed = errors.New("engine closed")

	// ErrStopped is returned after the background compaction loop stopped on a fatal error.
	ErrStopped = errors.New("compaction stopped")
)
