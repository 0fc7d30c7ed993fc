package barrel

import (
	"errors"
	"fmt"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/docfilter"
	"github.com/hupe1980/barrel/internal/engine"
	"github.com/hupe1980/barrel/internal/manifest"
	"github.com/hupe1980/barrel/internal/merge"
	"github.com/hupe1980/barrel/internal/resource"
	"github.com/hupe1980/barrel/internal/segment"
)

var (
	// ErrCorruptData is returned when an encoded posting stream is truncated or malformed.
	ErrCorruptData = errors.New("corrupt data")

	// ErrCorruptSegment is returned when barrel, manifest or deletion filter
	// metadata cannot be decoded.
	ErrCorruptSegment = errors.New("corrupt segment")

	// ErrOutOfMemory is returned when merge buffers exceed the memory limit.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrIllegalArgument is returned for invalid input.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrEmptySegment is returned when a barrel without documents is added.
	ErrEmptySegment = errors.New("empty segment")

	// ErrClosed is returned when using a closed index.
	ErrClosed = errors.New("index closed")

	// ErrStopped is returned after background compaction stopped on a fatal error.
	ErrStopped = errors.New("compaction stopped")
)

// MergeError describes a failed merge.
//
// Level is -1 for an optimize. The underlying error can be accessed via errors.Unwrap.
type MergeError struct {
	Barrels []string
	Level   int
	cause   error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge of %v at level %d failed: %v", e.Barrels, e.Level, e.cause)
}

func (e *MergeError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var me *merge.Error
	if errors.As(err, &me) {
		return &MergeError{Barrels: me.Barrels, Level: me.Level, cause: translateKind(err)}
	}
	return translateKind(err)
}

func translateKind(err error) error {
	switch {
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	case errors.Is(err, codec.ErrCorruptData):
		return fmt.Errorf("%w: %w", ErrCorruptData, err)
	case errors.Is(err, segment.ErrCorruptSegment),
		errors.Is(err, manifest.ErrCorrupt),
		errors.Is(err, docfilter.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorruptSegment, err)
	case errors.Is(err, merge.ErrEmptySegment):
		return fmt.Errorf("%w: %w", ErrEmptySegment, err)
	case errors.Is(err, codec.ErrIllegalArgument),
		errors.Is(err, segment.ErrTermOrder):
		return fmt.Errorf("%w: %w", ErrIllegalArgument, err)
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, engine.ErrStopped):
		return fmt.Errorf("%w: %w", ErrStopped, err)
	}
	return err
}
