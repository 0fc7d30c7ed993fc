package posting

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/internal/skiplist"
	"github.com/hupe1980/barrel/model"
)

// Batch receives decoded postings from Reader.DecodeNext.
type Batch struct {
	Docs  []model.DocID
	Freqs []uint32
}

// Reset empties the batch, keeping its capacity.
func (b *Batch) Reset() {
	b.Docs = b.Docs[:0]
	b.Freqs = b.Freqs[:0]
}

// Len returns the number of postings in the batch.
func (b *Batch) Len() int { return len(b.Docs) }

// Reader iterates over an encoded posting list.
//
// Usage:
//
//	for r.Next() {
//	    doc, freq := r.Doc(), r.Freq()
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	opts     Options
	df       uint64
	ctf      uint64
	skipData []byte
	skip     *skiplist.Reader

	postings  []byte
	positions []byte

	docs   []uint32
	freqs  []uint32
	n      int
	cur    int
	loaded int
	blocks int

	pstOff  int
	posOff  int
	prevDoc model.DocID

	blockPosOff int
	blockPosLen int
	posDecoded  bool
	posValues   []uint32
	posStarts   []int

	doc     model.DocID
	started bool
	err     error
}

// NewReader returns a Reader over the sections of one term. skip may be nil.
func NewReader(opts Options, info model.TermInfo, skip, postings, positions []byte) *Reader {
	opts = opts.withDefaults()
	blocks := int((info.DF + uint64(opts.BlockSize) - 1) / uint64(opts.BlockSize))
	return &Reader{
		opts:      opts,
		df:        info.DF,
		ctf:       info.CTF,
		skipData:  skip,
		postings:  postings,
		positions: positions,
		docs:      make([]uint32, opts.BlockSize),
		freqs:     make([]uint32, opts.BlockSize),
		blocks:    blocks,
	}
}

// DocFreq returns the number of documents in the list.
func (r *Reader) DocFreq() uint64 { return r.df }

// CTF returns the total number of occurrences of the term.
func (r *Reader) CTF() uint64 { return r.ctf }

// Doc returns the current doc id, or NoMoreDocs once exhausted.
func (r *Reader) Doc() model.DocID { return r.doc }

// Freq returns the term frequency of the current doc.
func (r *Reader) Freq() uint32 {
	if r.cur < r.n {
		return r.freqs[r.cur]
	}
	return 0
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

// Next advances to the next posting.
func (r *Reader) Next() bool {
	if r.err != nil || (r.started && r.doc == NoMoreDocs) {
		return false
	}
	r.started = true
	if r.cur+1 < r.n {
		r.cur++
		r.doc = model.DocID(r.docs[r.cur])
		return true
	}
	if err := r.loadBlock(); err != nil {
		r.err = err
		r.doc = NoMoreDocs
		return false
	}
	if r.n == 0 {
		r.doc = NoMoreDocs
		return false
	}
	r.cur = 0
	r.doc = model.DocID(r.docs[0])
	return true
}

// SkipTo advances to the first doc id >= target and returns it, or
// NoMoreDocs. Targets must not decrease between calls.
func (r *Reader) SkipTo(target model.DocID) (model.DocID, error) {
	if r.err != nil {
		return NoMoreDocs, r.err
	}
	if r.started && (r.doc == NoMoreDocs || r.doc >= target) {
		return r.doc, nil
	}
	if len(r.skipData) > 0 && (r.n == 0 || model.DocID(r.docs[r.n-1]) < target) {
		if err := r.skipBlocks(target); err != nil {
			r.err = err
			r.doc = NoMoreDocs
			return NoMoreDocs, err
		}
	}
	for r.Next() {
		if r.doc >= target {
			return r.doc, nil
		}
	}
	return NoMoreDocs, r.err
}

func (r *Reader) skipBlocks(target model.DocID) error {
	if r.skip == nil {
		s, err := skiplist.NewReader(r.skipData, r.opts.SkipInterval)
		if err != nil {
			return err
		}
		r.skip = s
	}
	p, err := r.skip.SkipTo(target)
	if err != nil {
		return err
	}
	if p.Blocks <= r.loaded {
		return nil
	}
	if p.PostingOffset > uint64(len(r.postings)) || p.PositionOffset > uint64(len(r.positions)) {
		return fmt.Errorf("%w: skip offset beyond posting data", codec.ErrCorruptData)
	}
	r.loaded = p.Blocks
	r.pstOff = int(p.PostingOffset)
	r.posOff = int(p.PositionOffset)
	r.prevDoc = p.Doc
	r.n, r.cur = 0, 0
	r.started = true
	return nil
}

// DecodeNext copies the undelivered postings of the current block, or of the
// next block if the current one is consumed, into b. It returns the number of
// postings added; 0 means the list is exhausted.
func (r *Reader) DecodeNext(b *Batch) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.cur+1 >= r.n {
		if !r.Next() {
			return 0, r.err
		}
		r.cur--
	}
	count := 0
	for i := r.cur + 1; i < r.n; i++ {
		b.Docs = append(b.Docs, model.DocID(r.docs[i]))
		b.Freqs = append(b.Freqs, r.freqs[i])
		count++
	}
	r.started = true
	r.cur = r.n - 1
	r.doc = model.DocID(r.docs[r.cur])
	return count, nil
}

// Positions returns the positions of the current doc. The slice is valid
// until the reader moves to another block.
func (r *Reader) Positions() ([]uint32, error) {
	if !r.opts.Positions || r.cur >= r.n || !r.started || r.doc == NoMoreDocs {
		return nil, nil
	}
	if !r.posDecoded {
		if err := r.decodePositions(); err != nil {
			r.err = err
			return nil, err
		}
	}
	return r.posValues[r.posStarts[r.cur]:r.posStarts[r.cur+1]], nil
}

func (r *Reader) loadBlock() error {
	r.n, r.cur = 0, 0
	if r.loaded >= r.blocks {
		return nil
	}
	n := r.opts.BlockSize
	if r.loaded == r.blocks-1 {
		n = int(r.df - uint64(r.loaded)*uint64(r.opts.BlockSize))
	}
	if r.pstOff > len(r.postings) {
		return fmt.Errorf("%w: posting offset %d beyond data", codec.ErrCorruptData, r.pstOff)
	}

	read, err := r.opts.Codec.Decompress(r.docs[:n], r.postings[r.pstOff:])
	if err != nil {
		return fmt.Errorf("block %d docs: %w", r.loaded, err)
	}
	r.pstOff += read
	read, err = r.opts.Codec.Decompress(r.freqs[:n], r.postings[r.pstOff:])
	if err != nil {
		return fmt.Errorf("block %d freqs: %w", r.loaded, err)
	}
	r.pstOff += read

	prev := uint64(r.prevDoc)
	for i := range n {
		delta := r.docs[i]
		if delta == 0 && (r.loaded > 0 || i > 0) {
			return fmt.Errorf("%w: zero doc gap in block %d", codec.ErrCorruptData, r.loaded)
		}
		prev += uint64(delta)
		if prev >= uint64(NoMoreDocs) {
			return fmt.Errorf("%w: doc id overflow in block %d", codec.ErrCorruptData, r.loaded)
		}
		if r.freqs[i] == 0 {
			return fmt.Errorf("%w: zero frequency in block %d", codec.ErrCorruptData, r.loaded)
		}
		r.docs[i] = uint32(prev)
	}
	r.prevDoc = model.DocID(prev)

	r.posDecoded = false
	if r.opts.Positions {
		length, k := binary.Uvarint(r.positions[min(r.posOff, len(r.positions)):])
		if k <= 0 || length > uint64(len(r.positions)-r.posOff-k) {
			return fmt.Errorf("%w: position block %d header", codec.ErrCorruptData, r.loaded)
		}
		r.blockPosOff = r.posOff + k
		r.blockPosLen = int(length)
		r.posOff = r.blockPosOff + r.blockPosLen
	}

	r.loaded++
	r.n = n
	return nil
}

// maxPositions bounds the number of values a position block of n bytes can
// decode to. A PForDelta block takes at least two bytes, VByte one byte per
// value.
func (r *Reader) maxPositions(n int) int {
	bs := r.opts.Codec.BlockSize()
	return n*max(bs/2, 1) + bs
}

func (r *Reader) decodePositions() error {
	limit := r.maxPositions(r.blockPosLen)
	total := 0
	r.posStarts = r.posStarts[:0]
	for i := range r.n {
		r.posStarts = append(r.posStarts, total)
		total += int(r.freqs[i])
		if total > limit {
			return fmt.Errorf("%w: block %d frequencies exceed its %d position bytes", codec.ErrCorruptData, r.loaded-1, r.blockPosLen)
		}
	}
	r.posStarts = append(r.posStarts, total)

	if cap(r.posValues) < total {
		r.posValues = make([]uint32, total)
	}
	r.posValues = r.posValues[:total]
	data := r.positions[r.blockPosOff : r.blockPosOff+r.blockPosLen]
	if _, err := r.opts.Codec.Decompress(r.posValues, data); err != nil {
		return fmt.Errorf("positions of block %d: %w", r.loaded-1, err)
	}
	for i := range r.n {
		var acc uint32
		for j := r.posStarts[i]; j < r.posStarts[i+1]; j++ {
			acc += r.posValues[j]
			r.posValues[j] = acc
		}
	}
	r.posDecoded = true
	return nil
}
