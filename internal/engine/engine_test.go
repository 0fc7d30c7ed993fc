package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/internal/merge"
	"github.com/hupe1980/barrel/internal/resource"
	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/model"
)

type fixture struct {
	store   blobstore.BlobStore
	set     *SegmentSet
	merger  merge.Merger
	manager *Manager
	deleted *roaring.Bitmap
}

type fixtureOpt func(*fixtureCfg)

type fixtureCfg struct {
	mode  Mode
	rc    *resource.Controller
	wrap  func(merge.Merger) merge.Merger
	store blobstore.BlobStore
}

func withMode(m Mode) fixtureOpt { return func(c *fixtureCfg) { c.mode = m } }

func withController(rc *resource.Controller) fixtureOpt { return func(c *fixtureCfg) { c.rc = rc } }

func withMergerWrap(fn func(merge.Merger) merge.Merger) fixtureOpt {
	return func(c *fixtureCfg) { c.wrap = fn }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	cfg := fixtureCfg{mode: Async, store: blobstore.NewMemoryStore()}
	for _, o := range opts {
		o(&cfg)
	}
	set, err := OpenSegmentSet(context.Background(), cfg.store, model.Block, nil)
	require.NoError(t, err)

	f := &fixture{store: cfg.store, set: set, deleted: roaring.New()}
	var m merge.Merger = merge.NewSegmentMerger(cfg.store, segment.DefaultOptions(),
		merge.WithResourceController(cfg.rc),
		merge.WithReplaceFunc(set.Replace),
	)
	if cfg.wrap != nil {
		m = cfg.wrap(m)
	}
	f.merger = m
	namer := func(level int) model.BarrelInfo { return set.NextBarrel(level) }
	deleted := func() *roaring.Bitmap { return f.deleted.Clone() }
	f.manager = NewManager(Config{
		Mode:      cfg.mode,
		Set:       set,
		Policy:    merge.NewTieredPolicy(merge.TieredConfig{Merger: m, Namer: namer, Deleted: deleted}),
		Optimizer: merge.OptimizePolicy{Merger: m, Namer: namer, Kind: model.Block},
		Deleted:   deleted,
	})
	require.NoError(t, f.manager.Start())
	t.Cleanup(func() {
		f.manager.Shutdown()
		_ = set.Close()
	})
	return f
}

// flush writes a barrel with docs [lo, lo+n) and publishes it.
func (f *fixture) flush(t *testing.T, lo, n model.DocID) model.BarrelInfo {
	t.Helper()
	ctx := context.Background()
	w, err := segment.NewWriter(ctx, f.store, f.set.NextBarrel(0), segment.DefaultOptions())
	require.NoError(t, err)
	var ps []model.Posting
	for d := lo; d < lo+n; d++ {
		ps = append(ps, model.Posting{Doc: d, Freq: 1, Positions: []uint32{uint32(d)}})
	}
	require.NoError(t, w.AddTerm("term", ps))
	info, err := w.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, f.set.Add(ctx, info))
	return info
}

func (f *fixture) add(t *testing.T, lo, n model.DocID) error {
	t.Helper()
	return f.manager.AddSegment(context.Background(), f.flush(t, lo, n))
}

func liveDocs(t *testing.T, set *SegmentSet) *roaring.Bitmap {
	t.Helper()
	snap, err := set.Acquire()
	require.NoError(t, err)
	defer snap.Release()
	all := roaring.New()
	var sum uint64
	for _, b := range snap.Barrels() {
		all.Or(b.Reader().Docs())
		sum += b.Info().DocCount
	}
	require.Equal(t, sum, all.GetCardinality(), "barrels overlap")
	return all
}

// gatedMerger blocks its first merge until release is closed.
type gatedMerger struct {
	inner   merge.Merger
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedMerger) Merge(ctx context.Context, req merge.Request) (model.BarrelInfo, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return g.inner.Merge(ctx, req)
}

func TestManager_SyncThreeTwoDocBarrels(t *testing.T) {
	f := newFixture(t, withMode(Sync))
	assert.Equal(t, StateIdle, f.manager.State())

	require.NoError(t, f.add(t, 0, 2))
	require.NoError(t, f.add(t, 2, 2))
	assert.Len(t, f.set.Barrels(), 2)
	require.NoError(t, f.add(t, 4, 2))

	barrels := f.set.Barrels()
	require.Len(t, barrels, 1)
	assert.Equal(t, uint64(6), barrels[0].DocCount)
	assert.Equal(t, 1, barrels[0].Level)
	assert.Equal(t, 1, merge.Level(barrels[0].DocCount, 3))

	st := f.manager.Status()
	assert.Equal(t, StateIdle, st.State)
	require.Len(t, st.Tiers, 2)
	assert.Equal(t, uint64(1), st.Tiers[0].MergeCount)
	assert.Equal(t, 1, st.Tiers[1].Barrels)
	assert.Equal(t, []uint64{1, 0}, f.set.Manifest().MergeCounts)

	names, err := f.store.List(context.Background(), "barrel_")
	require.NoError(t, err)
	assert.Equal(t, []string{barrels[0].BlobName()}, names)
}

func TestManager_PauseResumeWaitForFinish(t *testing.T) {
	var gate *gatedMerger
	f := newFixture(t, withMergerWrap(func(m merge.Merger) merge.Merger {
		gate = &gatedMerger{inner: m, started: make(chan struct{}), release: make(chan struct{})}
		return gate
	}))
	assert.Equal(t, StateRunning, f.manager.State())

	for i := range model.DocID(3) {
		require.NoError(t, f.add(t, i*2, 2))
	}
	<-gate.started

	f.manager.Pause()
	assert.Equal(t, StatePaused, f.manager.State())
	for i := range model.DocID(3) {
		require.NoError(t, f.add(t, 6+i*2, 2))
	}
	close(gate.release)

	assert.Eventually(t, func() bool {
		return f.manager.Status().Completed == 3
	}, 5*time.Second, 5*time.Millisecond, "in-flight merge completes while paused")
	time.Sleep(20 * time.Millisecond)
	st := f.manager.Status()
	assert.Equal(t, uint64(3), st.Completed)
	assert.Equal(t, 2, st.Pending, "one task is held at the pause gate")

	f.manager.Resume()
	require.NoError(t, f.manager.WaitForFinish())
	st = f.manager.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Zero(t, st.Pending)
	assert.Equal(t, uint64(6), st.Completed)

	barrels := f.set.Barrels()
	require.Len(t, barrels, 2)
	assert.Equal(t, uint64(12), liveDocs(t, f.set).GetCardinality())
}

func TestManager_OptimizeAllSupersedesPending(t *testing.T) {
	f := newFixture(t)
	f.manager.Pause()
	for i := range model.DocID(5) {
		require.NoError(t, f.add(t, i*10, 10))
	}
	f.deleted.Add(3)
	require.NoError(t, f.manager.OptimizeAll(context.Background()))
	assert.Equal(t, 1, f.manager.Status().Pending)

	require.NoError(t, f.manager.WaitForFinish())
	barrels := f.set.Barrels()
	require.Len(t, barrels, 1)
	assert.Equal(t, uint64(49), barrels[0].DocCount)
	assert.Equal(t, uint64(0), barrels[0].BaseDocID)
	assert.Zero(t, f.manager.Status().Failed)
	require.Len(t, f.manager.Status().Tiers, 4)
}

func TestManager_BackgroundFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.add(t, 0, 1))
	bad := f.flush(t, 1, 1)
	require.NoError(t, f.store.Put(ctx, bad.BlobName(), []byte("garbage")))
	require.NoError(t, f.manager.AddSegment(ctx, bad))
	require.NoError(t, f.add(t, 2, 1))
	require.NoError(t, f.manager.WaitForFinish())

	st := f.manager.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, uint64(1), st.Failed)
	assert.ErrorIs(t, st.LastError, segment.ErrCorruptSegment)
	assert.Len(t, f.set.Barrels(), 3, "inputs of a failed merge stay live")

	require.NoError(t, f.add(t, 3, 1))
	require.NoError(t, f.manager.WaitForFinish())
	assert.Equal(t, uint64(4), f.manager.Status().Completed+f.manager.Status().Failed)
}

func TestManager_OutOfMemoryStops(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1024})
	f := newFixture(t, withController(rc))

	for i := range model.DocID(3) {
		require.NoError(t, f.add(t, i, 1))
	}
	assert.Eventually(t, func() bool {
		return f.manager.State() == StateStopped
	}, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.manager.LastError(), resource.ErrMemoryLimitExceeded)
	assert.ErrorIs(t, f.manager.AddSegment(context.Background(), model.BarrelInfo{}), ErrStopped)
	assert.ErrorIs(t, f.manager.WaitForFinish(), ErrStopped)
	assert.Len(t, f.set.Barrels(), 3)
}

func TestManager_ConcurrentAdds(t *testing.T) {
	f := newFixture(t)
	const (
		writers   = 8
		perWriter = 12
		docs      = 3
	)
	var wg sync.WaitGroup
	for g := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				base := model.DocID((g*perWriter + i) * docs)
				assert.NoError(t, f.add(t, base, docs))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, f.manager.WaitForFinish())

	all := liveDocs(t, f.set)
	assert.Equal(t, uint64(writers*perWriter*docs), all.GetCardinality())
	assert.Zero(t, f.manager.Status().Failed)

	ctx := context.Background()
	names, err := f.store.List(ctx, "barrel_")
	require.NoError(t, err)
	var live []string
	for _, b := range f.set.Barrels() {
		live = append(live, b.BlobName())
	}
	assert.ElementsMatch(t, live, names, "replaced barrels are deleted exactly once")
}

func TestSegmentSet_SnapshotIsolationAndRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withMode(Sync))
	a := f.flush(t, 0, 5)
	b := f.flush(t, 5, 5)

	snap, err := f.set.Acquire()
	require.NoError(t, err)
	require.Len(t, snap.Barrels(), 2)

	out, err := f.merger.Merge(ctx, merge.Request{
		Queue:  merge.NewMergeQueue(a, b),
		Output: f.set.NextBarrel(1),
	})
	require.NoError(t, err)
	assert.Equal(t, []model.BarrelInfo{out}, f.set.Barrels())

	assert.Equal(t, uint64(10), snap.DocCount())
	pr, ok, err := snap.Barrels()[0].Reader().Postings(ctx, "term")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), pr.DocFreq())

	names, _ := f.store.List(ctx, a.Name)
	assert.Len(t, names, 1, "replaced barrel survives while a snapshot holds it")
	snap.Release()
	names, _ = f.store.List(ctx, a.Name)
	assert.Empty(t, names)

	require.NoError(t, f.store.Put(ctx, "barrel_000777.brl.tmp", []byte("x")))
	require.NoError(t, f.store.Put(ctx, "barrel_000778.brl", []byte("x")))

	reopened, err := OpenSegmentSet(ctx, f.store, model.Block, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, f.set.Barrels(), reopened.Barrels())
	assert.Greater(t, reopened.NextBarrel(0).ID, out.ID)

	names, err = f.store.List(ctx, "barrel_00077")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSegmentSet_Closed(t *testing.T) {
	set, err := OpenSegmentSet(context.Background(), blobstore.NewMemoryStore(), model.Block, nil)
	require.NoError(t, err)
	require.NoError(t, set.Close())
	_, err = set.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, set.Close(), ErrClosed)
	assert.ErrorIs(t, set.Add(context.Background(), model.BarrelInfo{}), ErrClosed)
}

func TestTaskQueue_ClearWorkKeepsShutdown(t *testing.T) {
	q := newTaskQueue()
	q.push(task{kind: taskAddSegment})
	q.push(task{kind: taskShutdown})
	q.push(task{kind: taskAddSegment})
	assert.Equal(t, 2, q.clearWork())
	assert.Equal(t, 1, q.len())
	assert.Equal(t, taskShutdown, q.pop().kind)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("sync")
	require.NoError(t, err)
	assert.Equal(t, Sync, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Async, m)
	_, err = ParseMode("eager")
	assert.Error(t, err)
	assert.Equal(t, "paused", StatePaused.String())
}
