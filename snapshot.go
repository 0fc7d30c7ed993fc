package barrel

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/internal/engine"
	"github.com/hupe1980/barrel/internal/posting"
	"github.com/hupe1980/barrel/internal/queue"
	"github.com/hupe1980/barrel/model"
)

// NoMoreDocs is returned by Postings.Doc once the iterator is exhausted.
const NoMoreDocs = posting.NoMoreDocs

// Snapshot is a consistent view of the barrels and deletions of an Index at
// the time it was taken. Merges published later do not affect it.
type Snapshot struct {
	snap    *engine.Snapshot
	deleted *roaring.Bitmap
	once    sync.Once
}

// Close releases the snapshot. Barrels replaced since the snapshot was taken
// are deleted once no snapshot references them.
func (s *Snapshot) Close() {
	s.once.Do(s.snap.Release)
}

// Barrels returns the descriptors of the barrels in the snapshot.
func (s *Snapshot) Barrels() []model.BarrelInfo {
	return s.snap.Infos()
}

// DocCount returns the number of live documents.
func (s *Snapshot) DocCount() uint64 {
	var n uint64
	for _, b := range s.snap.Barrels() {
		docs := b.Reader().Docs()
		n += docs.GetCardinality() - docs.AndCardinality(s.deleted)
	}
	return n
}

// IsDeleted reports whether doc was deleted when the snapshot was taken.
func (s *Snapshot) IsDeleted(doc model.DocID) bool {
	return s.deleted.Contains(uint32(doc))
}

// DocFreq returns the number of documents containing term. Deleted
// documents are counted until a merge purges them.
func (s *Snapshot) DocFreq(term string) uint64 {
	var df uint64
	for _, b := range s.snap.Barrels() {
		if ti, ok := b.Reader().Lookup(term); ok {
			df += ti.DF
		}
	}
	return df
}

// Postings returns an iterator over the live postings of term across all
// barrels, in ascending doc id order. A term that does not occur yields an
// empty iterator.
func (s *Snapshot) Postings(ctx context.Context, term string) (*Postings, error) {
	p := &Postings{deleted: s.deleted, cursors: queue.New(byCursorDoc), doc: NoMoreDocs}
	for i, b := range s.snap.Barrels() {
		pr, ok, err := b.Reader().Postings(ctx, term)
		if err != nil {
			return nil, translateError(err)
		}
		if !ok {
			continue
		}
		p.pending = append(p.pending, postingCursor{idx: i, pr: pr})
	}
	return p, nil
}

type postingCursor struct {
	idx int
	pr  *posting.Reader
}

func byCursorDoc(a, b postingCursor) bool {
	if a.pr.Doc() != b.pr.Doc() {
		return a.pr.Doc() < b.pr.Doc()
	}
	return a.idx < b.idx
}

// Postings iterates the postings of one term across barrels. A document
// present in several barrels is reported once.
//
//	for p.Next() {
//	    doc, freq := p.Doc(), p.Freq()
//	}
//	if err := p.Err(); err != nil { ... }
type Postings struct {
	deleted *roaring.Bitmap
	cursors *queue.Queue[postingCursor]
	// pending holds the cursors until the first call to Next or SkipTo.
	pending []postingCursor
	started bool
	done    bool
	hasCur  bool
	cur     postingCursor
	doc     model.DocID
	err     error
}

// Next advances to the next live posting.
func (p *Postings) Next() bool {
	if p.hasCur {
		return p.advance(p.doc + 1)
	}
	return p.advance(0)
}

// SkipTo advances to the first live posting with a doc id >= target and
// returns its doc id, or NoMoreDocs. Targets must not decrease.
func (p *Postings) SkipTo(target model.DocID) model.DocID {
	if p.hasCur {
		if p.doc >= target {
			return p.doc
		}
		target = max(target, p.doc+1)
	}
	p.advance(target)
	return p.doc
}

// advance positions on the smallest live doc >= lo.
func (p *Postings) advance(lo model.DocID) bool {
	if p.err != nil || p.done {
		return false
	}
	if !p.started {
		p.started = true
		for _, c := range p.pending {
			doc, err := c.pr.SkipTo(lo)
			if err != nil {
				p.fail(err)
				return false
			}
			if doc != NoMoreDocs {
				p.cursors.Insert(c)
			}
		}
		p.pending = nil
	}

	for {
		top, ok := p.cursors.Top()
		if !ok {
			p.done, p.hasCur, p.doc = true, false, NoMoreDocs
			return false
		}
		doc := top.pr.Doc()
		if doc >= lo && !p.deleted.Contains(uint32(doc)) {
			p.cur, p.doc, p.hasCur = top, doc, true
			return true
		}
		next, err := top.pr.SkipTo(max(lo, doc+1))
		if err != nil {
			p.fail(err)
			return false
		}
		if next == NoMoreDocs {
			p.cursors.PopTop()
		} else {
			p.cursors.FixTop()
		}
	}
}

func (p *Postings) fail(err error) {
	p.err = translateError(err)
	p.hasCur, p.doc = false, NoMoreDocs
}

// Doc returns the current doc id, or NoMoreDocs once exhausted.
func (p *Postings) Doc() model.DocID { return p.doc }

// Freq returns the term frequency in the current doc.
func (p *Postings) Freq() uint32 {
	if !p.hasCur {
		return 0
	}
	return p.cur.pr.Freq()
}

// Positions returns the positions of the term in the current doc. The slice
// is only valid until the next call to Next or SkipTo.
func (p *Postings) Positions() ([]uint32, error) {
	if !p.hasCur {
		return nil, nil
	}
	pos, err := p.cur.pr.Positions()
	if err != nil {
		p.fail(err)
		return nil, p.err
	}
	return pos, nil
}

// Err returns the first error encountered while decoding.
func (p *Postings) Err() error { return p.err }
