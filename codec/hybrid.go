package codec

import "fmt"

// Hybrid composes a block codec with a byte-aligned secondary codec.
//
// Whole blocks go to the primary codec. A tail shorter than minPadding goes
// to the secondary codec; a longer tail is zero-padded to a full block and
// encoded by the primary codec. Both sides derive the tail handling from the
// value count alone.
type Hybrid struct {
	primary    Codec
	secondary  Codec
	minPadding int
}

// NewHybrid returns a Hybrid codec. minPadding is clamped to the primary
// block size.
func NewHybrid(primary, secondary Codec, minPadding int) *Hybrid {
	if minPadding < 0 {
		minPadding = 0
	}
	if bs := primary.BlockSize(); minPadding > bs {
		minPadding = bs
	}
	return &Hybrid{primary: primary, secondary: secondary, minPadding: minPadding}
}

func (h *Hybrid) Name() string {
	return fmt.Sprintf("hybrid(%s,%s)", h.primary.Name(), h.secondary.Name())
}

func (h *Hybrid) BlockSize() int { return h.primary.BlockSize() }

// MinPaddingSize returns the smallest tail that is padded to a full block.
func (h *Hybrid) MinPaddingSize() int { return h.minPadding }

func (h *Hybrid) Compress(dst []byte, in []uint32) ([]byte, int) {
	dst, consumed := h.primary.Compress(dst, in)
	rest := in[consumed:]
	if len(rest) == 0 {
		return dst, consumed
	}
	if h.padsTail(len(rest)) {
		padded := make([]uint32, h.primary.BlockSize())
		copy(padded, rest)
		dst, _ = h.primary.Compress(dst, padded)
		return dst, len(in)
	}
	dst, n := h.secondary.Compress(dst, rest)
	return dst, consumed + n
}

func (h *Hybrid) Decompress(out []uint32, src []byte) (int, error) {
	bs := h.primary.BlockSize()
	whole := len(out) - len(out)%bs
	read, err := h.primary.Decompress(out[:whole], src)
	if err != nil {
		return read, err
	}
	rest := out[whole:]
	if len(rest) == 0 {
		return read, nil
	}
	if h.padsTail(len(rest)) {
		padded := make([]uint32, bs)
		n, err := h.primary.Decompress(padded, src[read:])
		if err != nil {
			return read, err
		}
		copy(rest, padded)
		return read + n, nil
	}
	n, err := h.secondary.Decompress(rest, src[read:])
	return read + n, err
}

func (h *Hybrid) padsTail(n int) bool {
	return n >= h.minPadding && h.minPadding > 0
}
