package posting

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/internal/skiplist"
	"github.com/hupe1980/barrel/model"
)

// DefaultBlockSize is the number of postings per block.
const DefaultBlockSize = 128

// NoMoreDocs is returned by readers once a posting list is exhausted.
// It is never a valid doc id.
const NoMoreDocs = model.MaxDocID

// Options configures posting writers and readers.
type Options struct {
	Codec         codec.Codec
	BlockSize     int
	SkipThreshold int
	SkipInterval  int
	MaxSkipLevels int
	Positions     bool
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = codec.NewHybrid(codec.NewPForDelta(codec.DefaultBlockSize), codec.VByte{}, codec.DefaultMinPaddingSize)
	}
	if o.BlockSize <= 0 {
		o.BlockSize = o.Codec.BlockSize()
		if o.BlockSize <= 1 {
			o.BlockSize = DefaultBlockSize
		}
	}
	if o.SkipThreshold <= 0 {
		o.SkipThreshold = skiplist.DefaultThreshold
	}
	if o.SkipInterval < 2 {
		o.SkipInterval = skiplist.DefaultInterval
	}
	if o.MaxSkipLevels <= 0 {
		o.MaxSkipLevels = skiplist.DefaultMaxLevels
	}
	return o
}

// Encoded is a finished posting list.
type Encoded struct {
	Skip       []byte
	Postings   []byte
	Positions  []byte
	DF         uint64
	CTF        uint64
	LastDoc    model.DocID
	SkipLevels uint8
}

// Writer encodes one posting list. Postings must be added in strictly
// ascending doc id order.
type Writer struct {
	opts Options

	docs      []uint32
	freqs     []uint32
	positions []uint32
	scratch   []uint32

	postings []byte
	posData  []byte
	posBlock []byte

	skip *skiplist.Writer

	df      uint64
	ctf     uint64
	lastDoc model.DocID
	prevEnd model.DocID
}

// NewWriter returns a Writer.
func NewWriter(opts Options) *Writer {
	opts = opts.withDefaults()
	return &Writer{
		opts:    opts,
		docs:    make([]uint32, 0, opts.BlockSize),
		freqs:   make([]uint32, 0, opts.BlockSize),
		scratch: make([]uint32, 0, opts.BlockSize),
		skip:    skiplist.NewWriter(opts.SkipInterval, opts.MaxSkipLevels),
	}
}

// Add appends a posting. A zero Freq is derived from the positions.
func (w *Writer) Add(p model.Posting) error {
	if p.Doc == NoMoreDocs {
		return fmt.Errorf("%w: doc id %d is reserved", codec.ErrIllegalArgument, p.Doc)
	}
	if w.df > 0 && p.Doc <= w.lastDoc {
		return fmt.Errorf("%w: doc %d after %d", codec.ErrIllegalArgument, p.Doc, w.lastDoc)
	}
	freq := p.Freq
	if freq == 0 {
		freq = uint32(len(p.Positions))
	}
	if freq == 0 {
		return fmt.Errorf("%w: doc %d has zero frequency", codec.ErrIllegalArgument, p.Doc)
	}
	if w.opts.Positions {
		if uint32(len(p.Positions)) != freq {
			return fmt.Errorf("%w: doc %d has %d positions for frequency %d", codec.ErrIllegalArgument, p.Doc, len(p.Positions), freq)
		}
		var prev uint32
		for i, pos := range p.Positions {
			if i > 0 && pos <= prev {
				return fmt.Errorf("%w: doc %d positions not ascending", codec.ErrIllegalArgument, p.Doc)
			}
			w.positions = append(w.positions, pos-prev)
			prev = pos
		}
	}

	w.docs = append(w.docs, uint32(p.Doc))
	w.freqs = append(w.freqs, freq)
	w.df++
	w.ctf += uint64(freq)
	w.lastDoc = p.Doc

	if len(w.docs) == w.opts.BlockSize {
		w.flushBlock()
		w.skip.AddSkipPoint(w.lastDoc, uint64(len(w.postings)), uint64(len(w.posData)))
	}
	return nil
}

func (w *Writer) flushBlock() {
	if len(w.docs) == 0 {
		return
	}
	w.scratch = w.scratch[:0]
	prev := uint32(w.prevEnd)
	for _, d := range w.docs {
		w.scratch = append(w.scratch, d-prev)
		prev = d
	}
	w.postings, _ = w.opts.Codec.Compress(w.postings, w.scratch)
	w.postings, _ = w.opts.Codec.Compress(w.postings, w.freqs)

	if w.opts.Positions {
		w.posBlock, _ = w.opts.Codec.Compress(w.posBlock[:0], w.positions)
		w.posData = binary.AppendUvarint(w.posData, uint64(len(w.posBlock)))
		w.posData = append(w.posData, w.posBlock...)
	}

	w.prevEnd = model.DocID(prev)
	w.docs = w.docs[:0]
	w.freqs = w.freqs[:0]
	w.positions = w.positions[:0]
}

// DF returns the number of postings added so far.
func (w *Writer) DF() uint64 { return w.df }

// Finish flushes the last partial block and returns the encoded list. The
// returned slices alias the writer's buffers until Reset is called.
func (w *Writer) Finish() Encoded {
	w.flushBlock()
	enc := Encoded{
		Postings:  w.postings,
		Positions: w.posData,
		DF:        w.df,
		CTF:       w.ctf,
		LastDoc:   w.lastDoc,
	}
	if w.df > uint64(w.opts.SkipThreshold) && w.skip.NumPoints() > 0 {
		enc.Skip = w.skip.AppendTo(nil)
		enc.SkipLevels = uint8(w.skip.NumLevels())
	}
	return enc
}

// Reset prepares the writer for the next term.
func (w *Writer) Reset() {
	w.docs = w.docs[:0]
	w.freqs = w.freqs[:0]
	w.positions = w.positions[:0]
	w.postings = w.postings[:0]
	w.posData = w.posData[:0]
	w.skip.Reset()
	w.df, w.ctf = 0, 0
	w.lastDoc, w.prevEnd = 0, 0
}
