// Package codec implements the integer block codecs used for posting lists.
//
// A Codec turns a run of unsigned 32-bit values (doc id gaps, term
// frequencies, positions) into bytes and back. The decoder never relies on
// stream markers: the number of values to decode is always supplied by the
// caller and the block layout is re-derived from it.
//
// Changing a codec is a format-breaking change: barrels written by one
// encoding cannot be decoded by another.
package codec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/barrel/model"
)

var (
	// ErrCorruptData is returned when an encoded stream is truncated or malformed.
	ErrCorruptData = errors.New("codec: corrupt data")
	// ErrIllegalArgument is returned when a caller violates buffer sizing rules.
	ErrIllegalArgument = errors.New("codec: illegal argument")
)

const (
	// DefaultBlockSize is the PForDelta block length.
	DefaultBlockSize = 128
	// DefaultChunkSize is the block length used by the Chunk compression kind.
	DefaultChunkSize = 256
	// DefaultMinPaddingSize is the smallest tail that is padded to a full block.
	DefaultMinPaddingSize = 64
	// MaxExceptions bounds the PForDelta exception list of one block.
	MaxExceptions = 30
)

// Codec encodes/decodes runs of uint32 values.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Compress appends the encoding of a prefix of in to dst. It returns the
	// extended buffer and the number of values consumed.
	Compress(dst []byte, in []uint32) ([]byte, int)
	// Decompress decodes exactly len(out) values from src and returns the
	// number of bytes read.
	Decompress(out []uint32, src []byte) (int, error)
	// BlockSize is the number of values encoded per block, or 1 for
	// codecs without block structure.
	BlockSize() int
	Name() string
}

// MaxCompressedLen returns the output size callers must reserve before
// calling CompressInto for n values. It covers the 2x worst case of the
// block codecs plus per-block headers.
func MaxCompressedLen(n int) int {
	return 2*n*4 + 16
}

// CompressInto encodes all of in into out without growing it. It returns the
// number of bytes written. ErrIllegalArgument is returned when out is smaller
// than MaxCompressedLen(len(in)) or the codec did not consume all input.
func CompressInto(c Codec, out []byte, in []uint32) (int, error) {
	if len(out) < MaxCompressedLen(len(in)) {
		return 0, fmt.Errorf("%w: output buffer %d bytes, need %d", ErrIllegalArgument, len(out), MaxCompressedLen(len(in)))
	}
	b, consumed := c.Compress(out[:0], in)
	if consumed != len(in) {
		return 0, fmt.Errorf("%w: %s consumed %d of %d values", ErrIllegalArgument, c.Name(), consumed, len(in))
	}
	if len(b) > len(out) || (len(b) > 0 && &b[0] != &out[0]) {
		return 0, fmt.Errorf("%w: %s outgrew the output buffer", ErrIllegalArgument, c.Name())
	}
	return len(b), nil
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "vbyte":
		return VByte{}, true
	case "pfordelta":
		return NewPForDelta(DefaultBlockSize), true
	case "hybrid":
		return NewHybrid(NewPForDelta(DefaultBlockSize), VByte{}, DefaultMinPaddingSize), true
	default:
		return nil, false
	}
}

// ForKind returns the codec used for a barrel compression kind.
// chunkSize is only consulted for model.Chunk; values <= 0 select DefaultChunkSize.
func ForKind(kind model.CompressionKind, chunkSize int) (Codec, error) {
	switch kind {
	case model.ByteAlign:
		return VByte{}, nil
	case model.Block:
		return NewHybrid(NewPForDelta(DefaultBlockSize), VByte{}, DefaultMinPaddingSize), nil
	case model.Chunk:
		if chunkSize <= 0 {
			chunkSize = DefaultChunkSize
		}
		return NewHybrid(NewPForDelta(chunkSize), VByte{}, chunkSize/2), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression kind %d", ErrIllegalArgument, kind)
	}
}
