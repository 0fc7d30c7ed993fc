package segment

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/internal/hash"
	"github.com/hupe1980/barrel/internal/posting"
	"github.com/hupe1980/barrel/internal/skiplist"
	"github.com/hupe1980/barrel/model"
)

// Options configures barrel writers.
type Options struct {
	Kind          model.CompressionKind
	ChunkSize     int
	SkipThreshold int
	SkipInterval  int
	MaxSkipLevels int
	Positions     bool
	Dictionary    Compression
	// WrapWriter, if set, wraps the blob writer (e.g. for IO throttling).
	WrapWriter func(io.Writer) io.Writer
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Kind:          model.Block,
		ChunkSize:     codec.DefaultChunkSize,
		SkipThreshold: skiplist.DefaultThreshold,
		SkipInterval:  skiplist.DefaultInterval,
		MaxSkipLevels: skiplist.DefaultMaxLevels,
		Positions:     true,
		Dictionary:    CompressionLZ4,
	}
}

func (o Options) postingOptions() (posting.Options, error) {
	c, err := codec.ForKind(o.Kind, o.ChunkSize)
	if err != nil {
		return posting.Options{}, err
	}
	interval := o.SkipInterval
	if interval < 2 || interval > 255 {
		interval = skiplist.DefaultInterval
	}
	return posting.Options{
		Codec:         c,
		SkipThreshold: o.SkipThreshold,
		SkipInterval:  interval,
		MaxSkipLevels: o.MaxSkipLevels,
		Positions:     o.Positions,
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Writer streams one barrel to a blob store.
type Writer struct {
	store blobstore.BlobStore
	info  model.BarrelInfo
	opts  Options
	popts posting.Options

	blob blobstore.WritableBlob
	out  *countingWriter

	pw          *posting.Writer
	term        string
	lastWritten string
	inTerm      bool
	hasTerm     bool

	dict  []byte
	terms uint64
	ctf   uint64
	docs  *roaring.Bitmap

	spanSet  bool
	spanBase uint64
	spanLast uint64

	closed bool
}

// NewWriter starts a barrel. info supplies ID, Name and Level; the
// remaining descriptor fields are computed on Commit.
func NewWriter(ctx context.Context, store blobstore.BlobStore, info model.BarrelInfo, opts Options) (*Writer, error) {
	if info.Name == "" {
		return nil, fmt.Errorf("%w: barrel without name", codec.ErrIllegalArgument)
	}
	popts, err := opts.postingOptions()
	if err != nil {
		return nil, err
	}
	blob, err := store.Create(ctx, tmpName(info))
	if err != nil {
		return nil, fmt.Errorf("create barrel %s: %w", info.Name, err)
	}
	var w io.Writer = blob
	if opts.WrapWriter != nil {
		w = opts.WrapWriter(w)
	}
	info.Kind = opts.Kind
	return &Writer{
		store: store,
		info:  info,
		opts:  opts,
		popts: popts,
		blob:  blob,
		out:   &countingWriter{w: w},
		pw:    posting.NewWriter(popts),
		docs:  roaring.New(),
	}, nil
}

func tmpName(info model.BarrelInfo) string {
	return info.BlobName() + ".tmp"
}

// StartTerm begins the posting list of term. Terms must be strictly ascending.
func (w *Writer) StartTerm(term string) error {
	if w.closed {
		return ErrClosed
	}
	if w.inTerm {
		return fmt.Errorf("%w: term %q still open", codec.ErrIllegalArgument, w.term)
	}
	if w.hasTerm && term <= w.term {
		return fmt.Errorf("%w: %q after %q", ErrTermOrder, term, w.term)
	}
	w.term = term
	w.inTerm = true
	w.hasTerm = true
	w.pw.Reset()
	return nil
}

// Add appends a posting to the open term.
func (w *Writer) Add(p model.Posting) error {
	if !w.inTerm {
		return fmt.Errorf("%w: no open term", codec.ErrIllegalArgument)
	}
	if err := w.pw.Add(p); err != nil {
		return fmt.Errorf("term %q: %w", w.term, err)
	}
	w.docs.Add(uint32(p.Doc))
	return nil
}

// FinishTerm writes the open term. A term without postings is dropped.
func (w *Writer) FinishTerm() error {
	if !w.inTerm {
		return fmt.Errorf("%w: no open term", codec.ErrIllegalArgument)
	}
	w.inTerm = false
	if w.pw.DF() == 0 {
		return nil
	}
	enc := w.pw.Finish()

	ti := model.TermInfo{
		DF:         enc.DF,
		CTF:        enc.CTF,
		LastDocID:  enc.LastDoc,
		SkipLevels: enc.SkipLevels,
	}
	var err error
	if ti.SkipPointer, ti.SkipLength, err = w.section(enc.Skip); err != nil {
		return err
	}
	if ti.PostingPointer, ti.PostingLength, err = w.section(enc.Postings); err != nil {
		return err
	}
	if ti.PositionPointer, ti.PositionLength, err = w.section(enc.Positions); err != nil {
		return err
	}

	w.dict = appendDictEntry(w.dict, w.lastWritten, w.term, ti)
	w.lastWritten = w.term
	w.terms++
	w.ctf += enc.CTF
	return nil
}

func (w *Writer) section(data []byte) (int64, int64, error) {
	off := w.out.n
	if len(data) == 0 {
		return off, 0, nil
	}
	if _, err := w.out.Write(data); err != nil {
		return 0, 0, fmt.Errorf("write barrel %s: %w", w.info.Name, err)
	}
	return off, int64(len(data)), nil
}

// AddTerm writes a whole posting list.
func (w *Writer) AddTerm(term string, postings []model.Posting) error {
	if err := w.StartTerm(term); err != nil {
		return err
	}
	for _, p := range postings {
		if err := w.Add(p); err != nil {
			return err
		}
	}
	return w.FinishTerm()
}

// AddDocs registers documents that belong to the barrel even if they have
// no postings.
func (w *Writer) AddDocs(docs *roaring.Bitmap) {
	w.docs.Or(docs)
}

// ExtendSpan widens the recorded doc id span to cover [base, last] even if
// the documents at its edges were dropped. Merges use it to keep the span
// of their inputs.
func (w *Writer) ExtendSpan(base, last uint64) {
	if !w.spanSet || base < w.spanBase {
		w.spanBase = base
	}
	if !w.spanSet || last > w.spanLast {
		w.spanLast = last
	}
	w.spanSet = true
}

func (w *Writer) span() (uint64, uint64) {
	base, last := uint64(w.docs.Minimum()), uint64(w.docs.Maximum())
	if w.spanSet {
		base = min(base, w.spanBase)
		last = max(last, w.spanLast)
	}
	return base, last
}

// DocCount returns the number of documents registered so far.
func (w *Writer) DocCount() uint64 { return w.docs.GetCardinality() }

// BytesWritten returns the number of bytes written so far.
func (w *Writer) BytesWritten() int64 { return w.out.n }

// Commit writes the trailer, publishes the blob and returns the completed
// descriptor. A barrel without documents is discarded and returned with a
// zero DocCount.
func (w *Writer) Commit(ctx context.Context) (model.BarrelInfo, error) {
	if w.closed {
		return model.BarrelInfo{}, ErrClosed
	}
	if w.inTerm {
		if err := w.FinishTerm(); err != nil {
			_ = w.Abort(ctx)
			return model.BarrelInfo{}, err
		}
	}
	if w.docs.IsEmpty() {
		if err := w.Abort(ctx); err != nil {
			return model.BarrelInfo{}, err
		}
		info := w.info
		info.DocCount = 0
		return info, nil
	}

	if err := w.writeTrailer(); err != nil {
		_ = w.Abort(ctx)
		return model.BarrelInfo{}, err
	}
	if err := w.blob.Sync(); err != nil {
		_ = w.Abort(ctx)
		return model.BarrelInfo{}, err
	}
	w.closed = true
	if err := w.blob.Close(); err != nil {
		_ = w.store.Delete(ctx, tmpName(w.info))
		return model.BarrelInfo{}, fmt.Errorf("close barrel %s: %w", w.info.Name, err)
	}
	if err := w.store.Rename(ctx, tmpName(w.info), w.info.BlobName()); err != nil {
		_ = w.store.Delete(ctx, tmpName(w.info))
		return model.BarrelInfo{}, fmt.Errorf("publish barrel %s: %w", w.info.Name, err)
	}

	info := w.info
	info.DocCount = w.docs.GetCardinality()
	info.BaseDocID, info.LastDocID = w.span()
	info.CTF = w.ctf
	info.TermCount = w.terms
	info.Size = w.out.n
	return info, nil
}

func (w *Writer) writeTrailer() error {
	w.docs.RunOptimize()
	docsOff := w.out.n
	if _, err := w.docs.WriteTo(w.out); err != nil {
		return fmt.Errorf("write doc set: %w", err)
	}
	docsLen := w.out.n - docsOff

	dict, err := compressBlock(w.dict, w.opts.Dictionary)
	if err != nil {
		return fmt.Errorf("compress dictionary: %w", err)
	}
	dictOff := w.out.n
	if _, err := w.out.Write(dict); err != nil {
		return fmt.Errorf("write dictionary: %w", err)
	}

	base, last := w.span()
	f := footer{
		Kind:         w.opts.Kind,
		Dictionary:   w.opts.Dictionary,
		Positions:    w.opts.Positions,
		SkipInterval: uint8(w.popts.SkipInterval),
		BlockSize:    uint32(w.blockSize()),
		DocCount:     w.docs.GetCardinality(),
		BaseDocID:    base,
		LastDocID:    last,
		CTF:          w.ctf,
		TermCount:    w.terms,
		DictOffset:   uint64(dictOff),
		DictLength:   uint64(len(dict)),
		DocsOffset:   uint64(docsOff),
		DocsLength:   uint64(docsLen),
		DictCRC:      hash.CRC32C(dict),
	}
	if _, err := w.out.Write(f.encode()); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	return nil
}

func (w *Writer) blockSize() int {
	if bs := w.popts.Codec.BlockSize(); bs > 1 {
		return bs
	}
	return posting.DefaultBlockSize
}

// Abort discards the partially written barrel.
func (w *Writer) Abort(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	closeErr := w.blob.Close()
	delErr := w.store.Delete(ctx, tmpName(w.info))
	if errors.Is(delErr, blobstore.ErrNotFound) {
		delErr = nil
	}
	return errors.Join(closeErr, delErr)
}
