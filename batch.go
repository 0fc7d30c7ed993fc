package barrel

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/internal/posting"
	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/model"
)

// Batch collects postings in memory and flushes them as one barrel.
//
// A Batch is safe for concurrent use. It can be committed once.
type Batch struct {
	ix *Index

	mu        sync.Mutex
	terms     map[string]map[model.DocID][]uint32
	docs      *roaring.Bitmap
	committed bool
}

// NewBatch starts a new batch.
func (ix *Index) NewBatch() *Batch {
	return &Batch{
		ix:    ix,
		terms: make(map[string]map[model.DocID][]uint32),
		docs:  roaring.New(),
	}
}

// Add records occurrences of term in doc at the given positions. Repeated
// calls for the same doc and term accumulate positions.
func (b *Batch) Add(doc model.DocID, term string, positions ...uint32) error {
	if doc == posting.NoMoreDocs {
		return fmt.Errorf("%w: doc id %d is reserved", ErrIllegalArgument, doc)
	}
	if term == "" {
		return fmt.Errorf("%w: empty term", ErrIllegalArgument)
	}
	if len(positions) == 0 {
		return fmt.Errorf("%w: term %q in doc %d has no positions", ErrIllegalArgument, term, doc)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return fmt.Errorf("%w: batch already committed", ErrIllegalArgument)
	}
	docs, ok := b.terms[term]
	if !ok {
		docs = make(map[model.DocID][]uint32)
		b.terms[term] = docs
	}
	docs[doc] = append(docs[doc], positions...)
	b.docs.Add(uint32(doc))
	return nil
}

// AddDocument records every token of a document, using the token index as
// its position.
func (b *Batch) AddDocument(doc model.DocID, tokens []string) error {
	for i, tok := range tokens {
		if err := b.Add(doc, tok, uint32(i)); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of documents in the batch.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.docs.GetCardinality())
}

// Commit writes the batch as a new barrel, publishes it and schedules it
// for merging. In sync mode the triggered merges run before Commit returns.
func (b *Batch) Commit(ctx context.Context) (model.BarrelInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return model.BarrelInfo{}, fmt.Errorf("%w: batch already committed", ErrIllegalArgument)
	}
	if b.docs.IsEmpty() {
		return model.BarrelInfo{}, ErrEmptySegment
	}
	ix := b.ix
	if ix.closed.Load() {
		return model.BarrelInfo{}, ErrClosed
	}
	b.committed = true

	start := time.Now()
	info, err := b.flush(ctx)
	ix.logger.LogFlush(ctx, info.Name, info.DocCount, info.Size, time.Since(start), err)
	if err != nil {
		return model.BarrelInfo{}, translateError(err)
	}
	ix.metrics.OnFlush(info.DocCount, info.Size, time.Since(start))

	if err := ix.manager.AddSegment(ctx, info); err != nil {
		return info, translateError(err)
	}
	return info, nil
}

func (b *Batch) flush(ctx context.Context) (model.BarrelInfo, error) {
	ix := b.ix
	w, err := segment.NewWriter(ctx, ix.store, ix.set.NextBarrel(0), ix.segOpts)
	if err != nil {
		return model.BarrelInfo{}, err
	}

	for _, term := range slices.Sorted(maps.Keys(b.terms)) {
		if err := w.AddTerm(term, postingsOf(b.terms[term])); err != nil {
			_ = w.Abort(ctx)
			return model.BarrelInfo{}, fmt.Errorf("term %q: %w", term, err)
		}
	}
	w.AddDocs(b.docs)

	info, err := w.Commit(ctx)
	if err != nil {
		return model.BarrelInfo{}, err
	}
	if err := ix.set.Add(ctx, info); err != nil {
		_ = ix.store.Delete(ctx, info.BlobName())
		return model.BarrelInfo{}, err
	}
	return info, nil
}

// postingsOf converts the positions of one term into postings ordered by
// doc id with sorted, distinct positions.
func postingsOf(docs map[model.DocID][]uint32) []model.Posting {
	out := make([]model.Posting, 0, len(docs))
	for _, doc := range slices.Sorted(maps.Keys(docs)) {
		pos := slices.Compact(slices.Sorted(slices.Values(docs[doc])))
		out = append(out, model.Posting{Doc: doc, Freq: uint32(len(pos)), Positions: pos})
	}
	return out
}
