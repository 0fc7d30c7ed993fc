package barrel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/docfilter"
	"github.com/hupe1980/barrel/internal/engine"
	"github.com/hupe1980/barrel/internal/merge"
	"github.com/hupe1980/barrel/internal/resource"
	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/model"
)

// DocID identifies a document.
type DocID = model.DocID

// BarrelInfo describes one immutable barrel.
type BarrelInfo = model.BarrelInfo

// Index is an inverted index made of immutable barrels that are merged in
// the background.
//
// All methods are safe for concurrent use.
type Index struct {
	store   blobstore.BlobStore
	cfg     Config
	segOpts segment.Options
	logger  *Logger
	metrics MetricsObserver

	set     *engine.SegmentSet
	filter  *docfilter.Filter
	rc      *resource.Controller
	merger  *merge.SegmentMerger
	manager *engine.Manager

	// filterMu serializes persisting the deletion filter.
	filterMu sync.Mutex
	closed   atomic.Bool
}

// Open opens the index stored in store, creating it if it does not exist.
//
// The committed barrels are reopened and handed to the merge policy without
// triggering merges. Blobs left behind by interrupted writes are removed.
func Open(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	segOpts, err := o.cfg.segmentOptions()
	if err != nil {
		return nil, translateError(err)
	}
	mode, err := engine.ParseMode(o.cfg.MergeMode)
	if err != nil {
		return nil, translateError(err)
	}

	set, err := engine.OpenSegmentSet(ctx, store, segOpts.Kind, o.logger.Logger)
	if err != nil {
		return nil, translateError(err)
	}
	filter, err := docfilter.Load(ctx, store)
	if err != nil {
		_ = set.Close()
		return nil, translateError(err)
	}

	ix := &Index{
		store:   store,
		cfg:     o.cfg,
		segOpts: segOpts,
		logger:  o.logger,
		metrics: o.metricsObserver,
		set:     set,
		filter:  filter,
		rc:      resource.NewController(o.cfg.resourceConfig()),
	}
	ix.merger = merge.NewSegmentMerger(store, segOpts,
		merge.WithResourceController(ix.rc),
		merge.WithLogger(o.logger.Logger),
		merge.WithReplaceFunc(ix.replace),
	)

	namer := func(level int) model.BarrelInfo { return set.NextBarrel(level) }
	policy := merge.NewTieredPolicy(merge.TieredConfig{
		CollisionFactor: o.cfg.CollisionFactor,
		Thresholds:      o.cfg.CollisionThresholds,
		Merger:          ix.merger,
		Namer:           namer,
		Deleted:         filter.Snapshot,
		Logger:          o.logger.Logger,
	})
	m := set.Manifest()
	policy.Restore(m.Barrels, m.MergeCounts)

	ix.manager = engine.NewManager(engine.Config{
		Mode:      mode,
		Set:       set,
		Policy:    policy,
		Optimizer: merge.OptimizePolicy{Merger: ix.merger, Namer: namer, Kind: segOpts.Kind},
		Deleted:   filter.Snapshot,
		Logger:    o.logger.Logger,
		Observer:  managerObserver{ix: ix},
	})
	if err := ix.manager.Start(); err != nil {
		_ = set.Close()
		return nil, translateError(err)
	}

	ix.logger.Info("index opened",
		"barrels", len(m.Barrels),
		"docs", m.DocCount(),
		"deleted", filter.Count(),
		"mode", mode.String(),
	)
	return ix, nil
}

// replace publishes a merge output and drops the purged documents that no
// live barrel still holds from the deletion filter.
func (ix *Index) replace(ctx context.Context, ev merge.ReplaceEvent) error {
	var forgotten *roaring.Bitmap
	if err := ix.set.ReplaceAndForget(ctx, ev, func(gone *roaring.Bitmap) {
		forgotten = gone
		ix.filter.Forget(gone)
	}); err != nil {
		return err
	}

	purged := uint64(0)
	if ev.Purged != nil {
		purged = ev.Purged.GetCardinality()
	}
	if forgotten != nil && !forgotten.IsEmpty() {
		if err := ix.saveFilter(ctx); err != nil {
			ix.logger.WarnContext(ctx, "failed to persist deletion filter", "error", err)
		}
	}

	inputs := make([]string, len(ev.Old))
	for i, b := range ev.Old {
		inputs[i] = b.Name
	}
	ix.metrics.OnMerge(len(ev.Old), ev.New.DocCount, ev.New.Size, ev.Elapsed, nil)
	ix.logger.LogMerge(ctx, inputs, ev.New.Name, ev.New.DocCount, purged, ev.Elapsed)
	return nil
}

func (ix *Index) saveFilter(ctx context.Context) error {
	ix.filterMu.Lock()
	defer ix.filterMu.Unlock()
	return ix.filter.Save(ctx, ix.store)
}

// Delete marks documents as deleted. Deleted documents are hidden from
// snapshots taken afterwards and dropped physically by later merges.
// It returns the number of documents that were not deleted before.
func (ix *Index) Delete(ctx context.Context, docs ...model.DocID) (int, error) {
	if ix.closed.Load() {
		return 0, ErrClosed
	}
	n := ix.filter.Delete(docs...)
	if n == 0 {
		return 0, nil
	}
	if err := ix.saveFilter(ctx); err != nil {
		return n, translateError(err)
	}
	return n, nil
}

// Snapshot returns a consistent view of the live barrels. The caller must
// Close it.
func (ix *Index) Snapshot() (*Snapshot, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	snap, err := ix.set.Acquire()
	if err != nil {
		return nil, translateError(err)
	}
	return &Snapshot{snap: snap, deleted: ix.filter.Snapshot()}, nil
}

// Optimize merges all barrels into one and purges deleted documents.
// Pending background merges are superseded. In async mode the merge runs in
// the background; call WaitForFinish to wait for it.
func (ix *Index) Optimize(ctx context.Context) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	n := len(ix.set.Barrels())
	start := time.Now()
	err := translateError(ix.manager.OptimizeAll(ctx))
	if ix.manager.Status().Mode == engine.Sync {
		ix.logger.LogOptimize(ctx, n, time.Since(start), err)
	}
	return err
}

// Pause stops background merges from starting. A merge in flight finishes.
func (ix *Index) Pause() { ix.manager.Pause() }

// Resume restarts background merging after Pause.
func (ix *Index) Resume() { ix.manager.Resume() }

// WaitForFinish blocks until all scheduled merges completed. A paused index
// is resumed.
func (ix *Index) WaitForFinish() error {
	return translateError(ix.manager.WaitForFinish())
}

// Status returns the compaction state and index statistics.
func (ix *Index) Status() Status {
	ms := ix.manager.Status()
	m := ix.set.Manifest()
	st := Status{
		State:           ms.State.String(),
		Mode:            ms.Mode.String(),
		Pending:         ms.Pending,
		Completed:       ms.Completed,
		Failed:          ms.Failed,
		LastError:       translateError(ms.LastError),
		Barrels:         len(m.Barrels),
		Docs:            m.DocCount(),
		Deleted:         ix.filter.Count(),
		MemoryUsage:     ix.rc.MemoryUsage(),
		PeakMemory:      ix.rc.PeakMemoryUsage(),
		ManifestID:      m.ID,
		NextBarrelID:    uint64(m.NextBarrelID),
		CompressionKind: ix.segOpts.Kind.String(),
	}
	for _, t := range ms.Tiers {
		st.Tiers = append(st.Tiers, TierStatus{
			Level:      t.Level,
			Barrels:    t.Barrels,
			TotalDocs:  t.TotalDocs,
			MergeCount: t.MergeCount,
		})
	}
	return st
}

// Barrels returns the descriptors of the live barrels ordered by base doc id.
func (ix *Index) Barrels() []model.BarrelInfo {
	return ix.set.Barrels()
}

// Config returns the effective configuration.
func (ix *Index) Config() Config { return ix.cfg }

// Close waits for queued merges, stops background compaction and releases
// the index. Snapshots still open stay valid until closed.
func (ix *Index) Close() error {
	if !ix.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	ix.manager.Shutdown()
	err := ix.set.Close()
	if err != nil && !errors.Is(err, engine.ErrClosed) {
		return translateError(err)
	}
	ix.logger.Debug("index closed")
	return nil
}

// Status is a point-in-time view of an Index.
type Status struct {
	// State is idle, running, paused or stopped.
	State string
	// Mode is sync or async.
	Mode      string
	Pending   int
	Completed uint64
	Failed    uint64
	// LastError is the most recent background merge failure.
	LastError error
	Tiers     []TierStatus

	Barrels int
	Docs    uint64
	// Deleted counts deleted documents not yet purged by a merge.
	Deleted uint64

	MemoryUsage     int64
	PeakMemory      int64
	ManifestID      uint64
	NextBarrelID    uint64
	CompressionKind string
}

// TierStatus describes one tier of the merge policy.
type TierStatus struct {
	Level      int
	Barrels    int
	TotalDocs  uint64
	MergeCount uint64
}

type managerObserver struct {
	ix *Index
}

func (o managerObserver) OnQueueDepth(depth int) {
	o.ix.metrics.OnQueueDepth(depth)
}

func (o managerObserver) OnStateChange(s engine.State) {
	o.ix.metrics.OnStateChange(s.String())
	o.ix.logger.LogStateChange(context.Background(), s.String())
}

func (o managerObserver) OnMergeFailure(err error) {
	o.ix.metrics.OnMerge(0, 0, 0, 0, err)
}
