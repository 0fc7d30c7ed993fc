package codec

import (
	"encoding/binary"
	"fmt"
)

// VByte is a byte-aligned variable length codec (7 bits per byte, low
// groups first). It has no block structure and consumes all input.
type VByte struct{}

func (VByte) Name() string { return "vbyte" }

func (VByte) BlockSize() int { return 1 }

func (VByte) Compress(dst []byte, in []uint32) ([]byte, int) {
	for _, v := range in {
		dst = binary.AppendUvarint(dst, uint64(v))
	}
	return dst, len(in)
}

func (VByte) Decompress(out []uint32, src []byte) (int, error) {
	off := 0
	for i := range out {
		v, n := binary.Uvarint(src[off:])
		if n <= 0 || v > uint64(^uint32(0)) {
			return off, fmt.Errorf("%w: vbyte value %d of %d at offset %d", ErrCorruptData, i, len(out), off)
		}
		out[i] = uint32(v)
		off += n
	}
	return off, nil
}
