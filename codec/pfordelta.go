package codec

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// PForDelta is a patched frame-of-reference block codec. Each block stores a
// common bit width b, the low b bits of every value packed densely, and an
// exception list of (index, high bits) pairs for values wider than b.
//
// Block layout:
//
//	[b:1][exceptions:uvarint][packed: blockSize*b bits][(index:uvarint, high:uvarint)...]
//
// The exception list never exceeds MaxExceptions; a wider b is chosen
// instead.
type PForDelta struct {
	blockSize int
}

// NewPForDelta returns a PForDelta codec with the given block size.
func NewPForDelta(blockSize int) *PForDelta {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &PForDelta{blockSize: blockSize}
}

func (p *PForDelta) Name() string { return fmt.Sprintf("pfordelta%d", p.blockSize) }

func (p *PForDelta) BlockSize() int { return p.blockSize }

// Compress encodes whole blocks only. The remainder is left to the caller.
func (p *PForDelta) Compress(dst []byte, in []uint32) ([]byte, int) {
	n := len(in) - len(in)%p.blockSize
	for off := 0; off < n; off += p.blockSize {
		dst = p.encodeBlock(dst, in[off:off+p.blockSize])
	}
	return dst, n
}

// Decompress decodes len(out) values, which must be a multiple of the block
// size.
func (p *PForDelta) Decompress(out []uint32, src []byte) (int, error) {
	if len(out)%p.blockSize != 0 {
		return 0, fmt.Errorf("%w: %d values is not a multiple of block size %d", ErrIllegalArgument, len(out), p.blockSize)
	}
	read := 0
	for off := 0; off < len(out); off += p.blockSize {
		n, err := p.decodeBlock(out[off:off+p.blockSize], src[read:])
		if err != nil {
			return read, err
		}
		read += n
	}
	return read, nil
}

func (p *PForDelta) encodeBlock(dst []byte, block []uint32) []byte {
	b := chooseBitWidth(block)

	var mask uint32
	if b < 32 {
		mask = 1<<b - 1
	} else {
		mask = ^uint32(0)
	}

	exceptions := 0
	for _, v := range block {
		if v&^mask != 0 {
			exceptions++
		}
	}

	dst = append(dst, byte(b))
	dst = binary.AppendUvarint(dst, uint64(exceptions))
	dst = packBits(dst, block, b)
	if exceptions == 0 {
		return dst
	}
	for i, v := range block {
		if v&^mask != 0 {
			dst = binary.AppendUvarint(dst, uint64(i))
			dst = binary.AppendUvarint(dst, uint64(v>>b))
		}
	}
	return dst
}

func (p *PForDelta) decodeBlock(out []uint32, src []byte) (int, error) {
	if len(src) < 2 {
		return 0, fmt.Errorf("%w: truncated pfordelta header", ErrCorruptData)
	}
	b := uint(src[0])
	if b > 32 {
		return 0, fmt.Errorf("%w: pfordelta bit width %d", ErrCorruptData, b)
	}
	exceptions, n := binary.Uvarint(src[1:])
	if n <= 0 || exceptions > MaxExceptions || exceptions > uint64(len(out)) {
		return 0, fmt.Errorf("%w: pfordelta exception count", ErrCorruptData)
	}
	off := 1 + n

	packed := (len(out)*int(b) + 7) / 8
	if len(src)-off < packed {
		return 0, fmt.Errorf("%w: truncated pfordelta block", ErrCorruptData)
	}
	unpackBits(out, src[off:off+packed], b)
	off += packed

	for range exceptions {
		idx, n := binary.Uvarint(src[off:])
		if n <= 0 || idx >= uint64(len(out)) {
			return 0, fmt.Errorf("%w: pfordelta exception index", ErrCorruptData)
		}
		off += n
		high, n := binary.Uvarint(src[off:])
		if n <= 0 || b == 32 || high > uint64(^uint32(0)>>b) {
			return 0, fmt.Errorf("%w: pfordelta exception value", ErrCorruptData)
		}
		off += n
		out[idx] |= uint32(high) << b
	}
	return off, nil
}

// chooseBitWidth picks the width with the smallest encoded size whose
// exception count stays within MaxExceptions. Width 32 always qualifies.
func chooseBitWidth(block []uint32) uint {
	// hist[w] counts values whose bit length is w.
	var hist [33]int
	for _, v := range block {
		hist[bits.Len32(v)]++
	}

	best := uint(32)
	bestCost := len(block) * 4
	wider := 0
	for w := 32; w >= 0; w-- {
		if w < 32 {
			wider += hist[w+1]
		}
		if wider > MaxExceptions {
			break
		}
		cost := (len(block)*w+7)/8 + wider*exceptionCost(w)
		if cost < bestCost {
			best, bestCost = uint(w), cost
		}
	}
	return best
}

// exceptionCost approximates the encoded bytes of one exception at width w.
func exceptionCost(w int) int {
	return 1 + (32-w+6)/7
}

func packBits(dst []byte, in []uint32, b uint) []byte {
	if b == 0 {
		return dst
	}
	mask := uint64(1)<<b - 1
	var acc uint64
	var n uint
	for _, v := range in {
		acc |= (uint64(v) & mask) << n
		n += b
		for n >= 8 {
			dst = append(dst, byte(acc))
			acc >>= 8
			n -= 8
		}
	}
	if n > 0 {
		dst = append(dst, byte(acc))
	}
	return dst
}

func unpackBits(out []uint32, src []byte, b uint) {
	if b == 0 {
		clear(out)
		return
	}
	mask := uint64(1)<<b - 1
	var acc uint64
	var n uint
	idx := 0
	for i := range out {
		for n < b {
			acc |= uint64(src[idx]) << n
			idx++
			n += 8
		}
		out[i] = uint32(acc & mask)
		acc >>= b
		n -= b
	}
}
