package segment

import "errors"

var (
	// ErrCorruptSegment is returned when barrel metadata is malformed or
	// inconsistent with its descriptor.
	ErrCorruptSegment = errors.New("segment: corrupt segment")
	// ErrTermOrder is returned when terms are not added in ascending order.
	ErrTermOrder = errors.New("segment: terms must be added in ascending order")
	// ErrClosed is returned when using a committed or aborted writer.
	ErrClosed = errors.New("segment: writer closed")
)
