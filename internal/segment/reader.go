package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/internal/hash"
	"github.com/hupe1980/barrel/internal/posting"
	"github.com/hupe1980/barrel/model"
)

// Reader provides access to one barrel. It is safe for concurrent use;
// the posting readers it returns are not.
type Reader struct {
	info  model.BarrelInfo
	blob  blobstore.Blob
	data  []byte
	popts posting.Options

	terms []string
	infos []model.TermInfo
	docs  *roaring.Bitmap
}

// Open opens the barrel described by info. Fields of info that are set
// (DocCount, BaseDocID, LastDocID) must agree with the barrel footer.
func Open(ctx context.Context, store blobstore.BlobStore, info model.BarrelInfo) (*Reader, error) {
	blob, err := store.Open(ctx, info.BlobName())
	if err != nil {
		return nil, fmt.Errorf("open barrel %s: %w", info.Name, err)
	}
	r, err := newReader(ctx, blob, info)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("open barrel %s: %w", info.Name, err)
	}
	return r, nil
}

func newReader(ctx context.Context, blob blobstore.Blob, info model.BarrelInfo) (*Reader, error) {
	r := &Reader{blob: blob}
	if m, ok := blob.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil {
			r.data = data
		}
	}

	size := blob.Size()
	if size < footerSize {
		return nil, fmt.Errorf("%w: blob of %d bytes", ErrCorruptSegment, size)
	}
	fb, err := r.read(ctx, size-footerSize, footerSize)
	if err != nil {
		return nil, err
	}
	f, err := decodeFooter(fb, size)
	if err != nil {
		return nil, err
	}
	if info.DocCount != 0 && (info.DocCount != f.DocCount || info.BaseDocID != f.BaseDocID || info.LastDocID != f.LastDocID) {
		return nil, fmt.Errorf("%w: descriptor %s disagrees with footer (docs=%d base=%d last=%d)",
			ErrCorruptSegment, info, f.DocCount, f.BaseDocID, f.LastDocID)
	}

	c, err := codec.ForKind(f.Kind, int(f.BlockSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSegment, err)
	}
	r.popts = posting.Options{
		Codec:        c,
		BlockSize:    int(f.BlockSize),
		SkipInterval: int(f.SkipInterval),
		Positions:    f.Positions,
	}

	raw, err := r.read(ctx, int64(f.DictOffset), int64(f.DictLength))
	if err != nil {
		return nil, err
	}
	if hash.CRC32C(raw) != f.DictCRC {
		return nil, fmt.Errorf("%w: dictionary checksum mismatch", ErrCorruptSegment)
	}
	dict, err := decompressBlock(raw, f.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("%w: dictionary: %w", ErrCorruptSegment, err)
	}
	if r.terms, r.infos, err = decodeDictionary(dict, f.TermCount, int64(f.DocsOffset)); err != nil {
		return nil, err
	}

	docs, err := r.read(ctx, int64(f.DocsOffset), int64(f.DocsLength))
	if err != nil {
		return nil, err
	}
	r.docs = roaring.New()
	if err := r.docs.UnmarshalBinary(docs); err != nil {
		return nil, fmt.Errorf("%w: doc set: %w", ErrCorruptSegment, err)
	}
	if r.docs.GetCardinality() != f.DocCount {
		return nil, fmt.Errorf("%w: doc set has %d docs, footer %d", ErrCorruptSegment, r.docs.GetCardinality(), f.DocCount)
	}

	info.DocCount = f.DocCount
	info.BaseDocID = f.BaseDocID
	info.LastDocID = f.LastDocID
	info.Kind = f.Kind
	info.CTF = f.CTF
	info.TermCount = f.TermCount
	info.Size = size
	r.info = info
	return r, nil
}

func (r *Reader) read(ctx context.Context, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 || off+length > r.blob.Size() {
		return nil, fmt.Errorf("%w: range [%d,+%d) outside blob", ErrCorruptSegment, off, length)
	}
	if r.data != nil {
		return r.data[off : off+length], nil
	}
	buf := make([]byte, length)
	n, err := r.blob.ReadAt(ctx, buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return nil, err
	}
	return buf, nil
}

// Info returns the barrel descriptor.
func (r *Reader) Info() model.BarrelInfo { return r.info }

// Docs returns the set of documents stored in the barrel. It must not be
// modified.
func (r *Reader) Docs() *roaring.Bitmap { return r.docs }

// NumTerms returns the number of terms.
func (r *Reader) NumTerms() int { return len(r.terms) }

// Lookup returns the statistics of term.
func (r *Reader) Lookup(term string) (model.TermInfo, bool) {
	i := sort.SearchStrings(r.terms, term)
	if i < len(r.terms) && r.terms[i] == term {
		return r.infos[i], true
	}
	return model.TermInfo{}, false
}

// Postings returns a reader over the posting list of term.
func (r *Reader) Postings(ctx context.Context, term string) (*posting.Reader, bool, error) {
	ti, ok := r.Lookup(term)
	if !ok {
		return nil, false, nil
	}
	pr, err := r.PostingsFor(ctx, ti)
	return pr, err == nil, err
}

// PostingsFor returns a reader for a TermInfo obtained from this barrel.
func (r *Reader) PostingsFor(ctx context.Context, ti model.TermInfo) (*posting.Reader, error) {
	start := ti.SkipPointer
	end := ti.PositionPointer + ti.PositionLength
	buf, err := r.read(ctx, start, end-start)
	if err != nil {
		return nil, err
	}
	slice := func(ptr, length int64) []byte {
		if length == 0 {
			return nil
		}
		return buf[ptr-start : ptr-start+length]
	}
	return posting.NewReader(r.popts, ti,
		slice(ti.SkipPointer, ti.SkipLength),
		slice(ti.PostingPointer, ti.PostingLength),
		slice(ti.PositionPointer, ti.PositionLength),
	), nil
}

// HasPositions reports whether the barrel stores term positions.
func (r *Reader) HasPositions() bool { return r.popts.Positions }

// Terms returns an iterator over all terms in ascending order.
func (r *Reader) Terms() *TermIterator {
	return &TermIterator{r: r, i: -1}
}

// Close releases the underlying blob.
func (r *Reader) Close() error {
	return r.blob.Close()
}

// TermIterator walks the dictionary of a barrel.
type TermIterator struct {
	r *Reader
	i int
}

// Next advances to the next term.
func (it *TermIterator) Next() bool {
	if it.i+1 >= len(it.r.terms) {
		it.i = len(it.r.terms)
		return false
	}
	it.i++
	return true
}

// Term returns the current term.
func (it *TermIterator) Term() string { return it.r.terms[it.i] }

// Info returns the statistics of the current term.
func (it *TermIterator) Info() model.TermInfo { return it.r.infos[it.i] }
