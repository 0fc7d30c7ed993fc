package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/internal/posting"
	"github.com/hupe1980/barrel/internal/queue"
	"github.com/hupe1980/barrel/internal/resource"
	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/model"
)

const (
	// inputBufferBytes is the working memory reserved per merge input.
	inputBufferBytes = 256 << 10
	// outputBufferBytes is the working memory reserved for the output writer.
	outputBufferBytes = 1 << 20
)

// Merger merges the barrels of a queue into one barrel.
type Merger interface {
	Merge(ctx context.Context, req Request) (model.BarrelInfo, error)
}

// Request describes one merge.
type Request struct {
	// Queue holds the input barrels. It is drained by the merge.
	Queue *MergeQueue
	// Output carries the ID, Name and Level of the barrel to produce.
	Output model.BarrelInfo
	// Deleted is a snapshot of the deletion filter. May be nil.
	Deleted *roaring.Bitmap
}

// ReplaceEvent announces that Old has been merged into New. New.DocCount is
// zero when every input document was deleted and nothing was written.
type ReplaceEvent struct {
	Old []model.BarrelInfo
	New model.BarrelInfo
	// Purged holds the deleted documents physically dropped by the merge.
	Purged *roaring.Bitmap
	// Elapsed is the time spent reading and writing postings.
	Elapsed time.Duration
}

// ReplaceFunc receives replace events. An error rejects the merge output.
type ReplaceFunc func(ctx context.Context, ev ReplaceEvent) error

// MergerOption configures a SegmentMerger.
type MergerOption func(*SegmentMerger)

// WithResourceController bounds merge memory, concurrency and write rate.
func WithResourceController(rc *resource.Controller) MergerOption {
	return func(m *SegmentMerger) { m.rc = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MergerOption {
	return func(m *SegmentMerger) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithReplaceFunc sets the receiver of replace events.
func WithReplaceFunc(fn ReplaceFunc) MergerOption {
	return func(m *SegmentMerger) { m.onReplace = fn }
}

// SegmentMerger merges barrels stored in a blob store.
type SegmentMerger struct {
	store     blobstore.BlobStore
	opts      segment.Options
	rc        *resource.Controller
	logger    *slog.Logger
	onReplace ReplaceFunc
}

// NewSegmentMerger creates a merger writing barrels with opts. The output
// is always encoded with opts.Kind, so merging also upgrades barrels that
// were written with another compression kind.
func NewSegmentMerger(store blobstore.BlobStore, opts segment.Options, optFns ...MergerOption) *SegmentMerger {
	m := &SegmentMerger{
		store:  store,
		opts:   opts,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Merge implements Merger. An empty queue is a no-op and returns a zero
// descriptor. A corrupt input fails with segment.ErrCorruptSegment and the
// partial output is discarded.
func (m *SegmentMerger) Merge(ctx context.Context, req Request) (model.BarrelInfo, error) {
	if req.Queue == nil || req.Queue.Len() == 0 {
		return model.BarrelInfo{}, nil
	}
	inputs := req.Queue.Drain()
	start := time.Now()

	res, err := m.rc.Reserve(int64(len(inputs))*inputBufferBytes + outputBufferBytes)
	if err != nil {
		return model.BarrelInfo{}, err
	}
	defer res.Release()

	if err := m.rc.AcquireWorker(ctx); err != nil {
		return model.BarrelInfo{}, err
	}
	defer m.rc.ReleaseWorker()

	readers, err := m.openInputs(ctx, inputs)
	if err != nil {
		return model.BarrelInfo{}, err
	}
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()

	out, purged, err := m.write(ctx, req, readers)
	if err != nil {
		return model.BarrelInfo{}, err
	}

	if m.onReplace != nil {
		if err := m.onReplace(ctx, ReplaceEvent{Old: inputs, New: out, Purged: purged, Elapsed: time.Since(start)}); err != nil {
			if out.DocCount > 0 {
				_ = m.store.Delete(ctx, out.BlobName())
			}
			return model.BarrelInfo{}, fmt.Errorf("replace barrels: %w", err)
		}
	}

	m.logger.Debug("barrels merged",
		slog.Int("inputs", len(inputs)),
		slog.String("output", out.Name),
		slog.Uint64("docs", out.DocCount),
		slog.Uint64("purged", purged.GetCardinality()),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (m *SegmentMerger) openInputs(ctx context.Context, inputs []model.BarrelInfo) ([]*segment.Reader, error) {
	readers := make([]*segment.Reader, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, info := range inputs {
		g.Go(func() error {
			r, err := segment.Open(gctx, m.store, info)
			if err != nil {
				return err
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				_ = r.Close()
			}
		}
		return nil, asCorrupt(err)
	}
	return readers, nil
}

func (m *SegmentMerger) write(ctx context.Context, req Request, readers []*segment.Reader) (model.BarrelInfo, *roaring.Bitmap, error) {
	opts := m.opts
	all := roaring.New()
	for _, r := range readers {
		opts.Positions = opts.Positions && r.HasPositions()
		all.Or(r.Docs())
	}
	deleted := req.Deleted
	if deleted == nil {
		deleted = roaring.New()
	}
	purged := roaring.And(all, deleted)

	if m.rc != nil {
		wrap := opts.WrapWriter
		opts.WrapWriter = func(w io.Writer) io.Writer {
			if wrap != nil {
				w = wrap(w)
			}
			return resource.NewThrottledWriter(ctx, w, m.rc)
		}
	}

	w, err := segment.NewWriter(ctx, m.store, req.Output, opts)
	if err != nil {
		return model.BarrelInfo{}, nil, err
	}
	if err := mergeTerms(ctx, w, readers, deleted, opts.Positions); err != nil {
		_ = w.Abort(ctx)
		return model.BarrelInfo{}, nil, asCorrupt(err)
	}

	w.AddDocs(roaring.AndNot(all, deleted))
	for _, r := range readers {
		info := r.Info()
		w.ExtendSpan(info.BaseDocID, info.LastDocID)
	}
	out, err := w.Commit(ctx)
	if err != nil {
		return model.BarrelInfo{}, nil, err
	}
	return out, purged, nil
}

type termCursor struct {
	idx int
	it  *segment.TermIterator
}

func byTerm(a, b termCursor) bool {
	if ta, tb := a.it.Term(), b.it.Term(); ta != tb {
		return ta < tb
	}
	return a.idx < b.idx
}

type docCursor struct {
	idx int
	pr  *posting.Reader
}

func byDoc(a, b docCursor) bool {
	if a.pr.Doc() != b.pr.Doc() {
		return a.pr.Doc() < b.pr.Doc()
	}
	return a.idx < b.idx
}

// mergeTerms advances the term iterators of all inputs in lock-step and
// writes the merged postings of every term.
func mergeTerms(ctx context.Context, w *segment.Writer, readers []*segment.Reader, deleted *roaring.Bitmap, positions bool) error {
	terms := queue.New(byTerm)
	for i, r := range readers {
		it := r.Terms()
		if it.Next() {
			terms.Insert(termCursor{idx: i, it: it})
		}
	}

	docs := queue.New(byDoc)
	for terms.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		top, _ := terms.Top()
		term := top.it.Term()

		docs.Reset()
		for terms.Len() > 0 {
			tc, _ := terms.Top()
			if tc.it.Term() != term {
				break
			}
			pr, err := readers[tc.idx].PostingsFor(ctx, tc.it.Info())
			if err != nil {
				return err
			}
			if pr.Next() {
				docs.Insert(docCursor{idx: tc.idx, pr: pr})
			} else if err := pr.Err(); err != nil {
				return err
			}
			if tc.it.Next() {
				terms.FixTop()
			} else {
				terms.PopTop()
			}
		}

		if err := w.StartTerm(term); err != nil {
			return err
		}
		if err := mergePostings(w, docs, deleted, positions); err != nil {
			return fmt.Errorf("term %q: %w", term, err)
		}
		if err := w.FinishTerm(); err != nil {
			return err
		}
	}
	return nil
}

// mergePostings k-way merges the cursors in ascending doc order. A doc
// present in several inputs is taken from the first input holding it.
func mergePostings(w *segment.Writer, docs *queue.Queue[docCursor], deleted *roaring.Bitmap, positions bool) error {
	var (
		last    model.DocID
		written bool
	)
	for docs.Len() > 0 {
		dc, _ := docs.Top()
		doc := dc.pr.Doc()
		if !deleted.Contains(uint32(doc)) && (!written || doc != last) {
			p := model.Posting{Doc: doc, Freq: dc.pr.Freq()}
			if positions {
				pos, err := dc.pr.Positions()
				if err != nil {
					return err
				}
				p.Positions = pos
			}
			if err := w.Add(p); err != nil {
				return err
			}
			last, written = doc, true
		}
		if dc.pr.Next() {
			docs.FixTop()
			continue
		}
		if err := dc.pr.Err(); err != nil {
			return err
		}
		docs.PopTop()
	}
	return nil
}

// asCorrupt maps decoding failures of merge inputs onto ErrCorruptSegment.
func asCorrupt(err error) error {
	if errors.Is(err, codec.ErrCorruptData) && !errors.Is(err, segment.ErrCorruptSegment) {
		return fmt.Errorf("%w: %w", segment.ErrCorruptSegment, err)
	}
	return err
}
