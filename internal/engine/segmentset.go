package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/internal/manifest"
	"github.com/hupe1980/barrel/internal/merge"
	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/model"
)

// Barrel is a refcounted open barrel.
type Barrel struct {
	info     model.BarrelInfo
	reader   *segment.Reader
	refs     atomic.Int64
	obsolete atomic.Bool
	set      *SegmentSet
}

// Info returns the barrel descriptor.
func (b *Barrel) Info() model.BarrelInfo { return b.info }

// Reader returns the barrel reader. It stays valid while the snapshot
// that returned the barrel is held.
func (b *Barrel) Reader() *segment.Reader { return b.reader }

func (b *Barrel) incRef() { b.refs.Add(1) }

func (b *Barrel) decRef() {
	if b.refs.Add(-1) != 0 {
		return
	}
	_ = b.reader.Close()
	if b.obsolete.Load() {
		b.set.remove(b.info)
	}
}

// Snapshot is an immutable view of the live barrels, ordered by base doc id.
type Snapshot struct {
	refs    atomic.Int64
	barrels []*Barrel
}

func newSnapshot(barrels []*Barrel) *Snapshot {
	s := &Snapshot{barrels: barrels}
	s.refs.Store(1)
	for _, b := range barrels {
		b.incRef()
	}
	return s
}

// Barrels returns the barrels of the snapshot.
func (s *Snapshot) Barrels() []*Barrel { return s.barrels }

// Infos returns the descriptors of the snapshot's barrels.
func (s *Snapshot) Infos() []model.BarrelInfo {
	out := make([]model.BarrelInfo, len(s.barrels))
	for i, b := range s.barrels {
		out[i] = b.info
	}
	return out
}

// DocCount sums the live documents of the snapshot.
func (s *Snapshot) DocCount() uint64 {
	var n uint64
	for _, b := range s.barrels {
		n += b.info.DocCount
	}
	return n
}

func (s *Snapshot) tryRetain() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops the snapshot. Barrels replaced since it was taken are
// deleted once no snapshot references them.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	for _, b := range s.barrels {
		b.decRef()
	}
}

// SegmentSet publishes the live barrels of an index.
type SegmentSet struct {
	store     blobstore.BlobStore
	manifests *manifest.Store
	logger    *slog.Logger

	// mu serializes mutations and guards m.
	mu      sync.Mutex
	m       *manifest.Manifest
	current atomic.Pointer[Snapshot]
	closed  atomic.Bool
}

// OpenSegmentSet loads the committed manifest from store, reopens its
// barrels and removes blobs left behind by interrupted writes. kind is
// recorded in a freshly created manifest.
func OpenSegmentSet(ctx context.Context, store blobstore.BlobStore, kind model.CompressionKind, logger *slog.Logger) (*SegmentSet, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &SegmentSet{
		store:     store,
		manifests: manifest.NewStore(store),
		logger:    logger,
	}

	m, err := s.manifests.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = manifest.New(kind)
	case err != nil:
		return nil, err
	}
	s.m = m

	barrels := make([]*Barrel, 0, len(m.Barrels))
	for _, info := range m.Barrels {
		r, err := segment.Open(ctx, store, info)
		if err != nil {
			for _, b := range barrels {
				_ = b.reader.Close()
			}
			return nil, err
		}
		barrels = append(barrels, &Barrel{info: r.Info(), reader: r, set: s})
	}
	s.current.Store(newSnapshot(barrels))

	if err := s.removeOrphans(ctx); err != nil {
		logger.Warn("orphan cleanup failed", slog.String("error", err.Error()))
	}
	return s, nil
}

// removeOrphans deletes temporary blobs and barrels the manifest does not
// reference.
func (s *SegmentSet) removeOrphans(ctx context.Context) error {
	names, err := s.store.List(ctx, "")
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(s.m.Barrels))
	for _, b := range s.m.Barrels {
		live[b.BlobName()] = true
	}
	var errs []error
	for _, name := range names {
		orphan := strings.HasSuffix(name, ".tmp") ||
			(strings.HasSuffix(name, ".brl") && !live[name])
		if !orphan {
			continue
		}
		s.logger.Info("removing orphan blob", slog.String("blob", name))
		if err := s.store.Delete(ctx, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if s.m.ID > 0 {
		errs = append(errs, s.manifests.Prune(ctx, s.m.ID, 1))
	}
	return errors.Join(errs...)
}

// Acquire returns the current snapshot. The caller must Release it.
func (s *SegmentSet) Acquire() (*Snapshot, error) {
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		snap := s.current.Load()
		if snap.tryRetain() {
			return snap, nil
		}
	}
}

// Barrels returns the descriptors of the live barrels.
func (s *SegmentSet) Barrels() []model.BarrelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.m.Barrels)
}

// Contains reports whether barrel id is live.
func (s *SegmentSet) Contains(id model.BarrelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.m.Barrels, func(b model.BarrelInfo) bool { return b.ID == id })
}

// Manifest returns a copy of the committed manifest.
func (s *SegmentSet) Manifest() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Clone()
}

// NextBarrel allocates the descriptor of a new barrel.
func (s *SegmentSet) NextBarrel(level int) model.BarrelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.m.NextBarrelID
	s.m.NextBarrelID++
	return model.BarrelInfo{ID: id, Name: model.BarrelName(id), Level: level}
}

// SetMergeCounts records the per-tier merge counts persisted with the next
// manifest.
func (s *SegmentSet) SetMergeCounts(counts []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.MergeCounts = slices.Clone(counts)
}

// Barrier waits until no mutation is in its publish section.
func (s *SegmentSet) Barrier() {
	s.mu.Lock()
	s.mu.Unlock()
}

// Add publishes a freshly written barrel.
func (s *SegmentSet) Add(ctx context.Context, info model.BarrelInfo) error {
	return s.Replace(ctx, merge.ReplaceEvent{New: info})
}

// Replace atomically swaps ev.Old for ev.New. The manifest is persisted
// before the new snapshot becomes visible.
func (s *SegmentSet) Replace(ctx context.Context, ev merge.ReplaceEvent) error {
	return s.ReplaceAndForget(ctx, ev, nil)
}

// ReplaceAndForget is Replace followed by forget, called with the purged
// documents that no live barrel holds anymore. Both run under the publish
// lock, so a barrel published concurrently is either seen by the check or
// published after forget.
func (s *SegmentSet) ReplaceAndForget(ctx context.Context, ev merge.ReplaceEvent, forget func(*roaring.Bitmap)) error {
	if s.closed.Load() {
		return ErrClosed
	}

	var added *Barrel
	if ev.New.DocCount > 0 {
		r, err := segment.Open(ctx, s.store, ev.New)
		if err != nil {
			return err
		}
		added = &Barrel{info: r.Info(), reader: r, set: s}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := make(map[model.BarrelID]bool, len(ev.Old))
	for _, b := range ev.Old {
		old[b.ID] = true
	}

	next := s.m.Clone()
	next.Barrels = next.Barrels[:0]
	for _, b := range s.m.Barrels {
		if !old[b.ID] {
			next.Barrels = append(next.Barrels, b)
		}
	}
	if len(next.Barrels)+len(ev.Old) != len(s.m.Barrels) {
		if added != nil {
			_ = added.reader.Close()
		}
		return fmt.Errorf("replace: %d inputs are no longer live", len(next.Barrels)+len(ev.Old)-len(s.m.Barrels))
	}
	if added != nil {
		next.Barrels = append(next.Barrels, added.info)
	}
	slices.SortFunc(next.Barrels, func(a, b model.BarrelInfo) int {
		if c := cmp.Compare(a.BaseDocID, b.BaseDocID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if err := s.manifests.Save(ctx, next); err != nil {
		if added != nil {
			_ = added.reader.Close()
		}
		return fmt.Errorf("persist manifest: %w", err)
	}
	if err := s.manifests.Prune(ctx, next.ID, 1); err != nil {
		s.logger.Warn("manifest prune failed", slog.String("error", err.Error()))
	}
	s.m = next

	prev := s.current.Load()
	barrels := make([]*Barrel, 0, len(next.Barrels))
	for _, info := range next.Barrels {
		if added != nil && info.ID == added.info.ID {
			barrels = append(barrels, added)
			continue
		}
		for _, b := range prev.barrels {
			if b.info.ID == info.ID {
				barrels = append(barrels, b)
				break
			}
		}
	}
	for _, b := range prev.barrels {
		if old[b.info.ID] {
			b.obsolete.Store(true)
		}
	}
	s.current.Store(newSnapshot(barrels))
	prev.Release()

	if forget != nil && ev.Purged != nil && !ev.Purged.IsEmpty() {
		gone := ev.Purged.Clone()
		for _, b := range barrels {
			gone.AndNot(b.reader.Docs())
		}
		forget(gone)
	}
	return nil
}

// remove deletes the blob of a replaced barrel.
func (s *SegmentSet) remove(info model.BarrelInfo) {
	if err := s.store.Delete(context.Background(), info.BlobName()); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Warn("failed to delete replaced barrel",
			slog.String("barrel", info.Name), slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("replaced barrel deleted", slog.String("barrel", info.Name))
}

// Close releases the set's snapshot. Snapshots still held by readers stay
// valid until released.
func (s *SegmentSet) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Load().Release()
	return nil
}
