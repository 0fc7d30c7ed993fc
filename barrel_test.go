package barrel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/model"
)

func openIndex(t *testing.T, store blobstore.BlobStore, opts ...Option) *Index {
	t.Helper()
	opts = append([]Option{WithLogger(NoopLogger())}, opts...)
	ix, err := Open(context.Background(), store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

// commitRange indexes docs [lo, hi). Every doc contains "all"; even docs
// also contain "even".
func commitRange(t *testing.T, ix *Index, lo, hi model.DocID) model.BarrelInfo {
	t.Helper()
	b := ix.NewBatch()
	for d := lo; d < hi; d++ {
		tokens := []string{"all", fmt.Sprintf("doc-%d", d)}
		if d%2 == 0 {
			tokens = append(tokens, "even", "all")
		}
		require.NoError(t, b.AddDocument(d, tokens))
	}
	info, err := b.Commit(context.Background())
	require.NoError(t, err)
	return info
}

func collect(t *testing.T, snap *Snapshot, term string) []model.DocID {
	t.Helper()
	p, err := snap.Postings(context.Background(), term)
	require.NoError(t, err)
	var docs []model.DocID
	for p.Next() {
		docs = append(docs, p.Doc())
	}
	require.NoError(t, p.Err())
	return docs
}

func docRange(lo, hi model.DocID, step model.DocID) []model.DocID {
	var out []model.DocID
	for d := lo; d < hi; d += step {
		out = append(out, d)
	}
	return out
}

func TestIndex_CommitAndQuery(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))

	info := commitRange(t, ix, 0, 10)
	assert.Equal(t, uint64(10), info.DocCount)
	assert.Equal(t, uint64(0), info.BaseDocID)
	assert.Equal(t, uint64(9), info.LastDocID)
	commitRange(t, ix, 10, 20)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	assert.Equal(t, uint64(20), snap.DocCount())
	assert.Equal(t, uint64(20), snap.DocFreq("all"))
	assert.Equal(t, uint64(10), snap.DocFreq("even"))
	assert.Zero(t, snap.DocFreq("missing"))
	assert.Equal(t, docRange(0, 20, 2), collect(t, snap, "even"))
	assert.Empty(t, collect(t, snap, "missing"))

	p, err := snap.Postings(context.Background(), "all")
	require.NoError(t, err)
	require.True(t, p.Next())
	assert.Equal(t, uint32(2), p.Freq())
	pos, err := p.Positions()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3}, pos)
	require.True(t, p.Next())
	assert.Equal(t, uint32(1), p.Freq())
}

func TestIndex_TwoTwoTwoMergesIntoTierOne(t *testing.T) {
	mo := &BasicMetricsObserver{}
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"), WithMetricsObserver(mo))

	commitRange(t, ix, 0, 2)
	commitRange(t, ix, 2, 4)
	require.Len(t, ix.Barrels(), 2)
	commitRange(t, ix, 4, 6)

	barrels := ix.Barrels()
	require.Len(t, barrels, 1)
	assert.Equal(t, uint64(6), barrels[0].DocCount)
	assert.Equal(t, uint64(0), barrels[0].BaseDocID)
	assert.Equal(t, uint64(5), barrels[0].LastDocID)

	st := ix.Status()
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, uint64(6), st.Docs)
	var tier1 *TierStatus
	for i := range st.Tiers {
		if st.Tiers[i].Level == 1 {
			tier1 = &st.Tiers[i]
		}
	}
	require.NotNil(t, tier1)
	assert.Equal(t, 1, tier1.Barrels)
	assert.Equal(t, uint64(6), tier1.TotalDocs)

	stats := mo.Stats()
	assert.Equal(t, int64(3), stats.FlushCount)
	assert.Equal(t, int64(1), stats.MergeCount)
	assert.Equal(t, int64(3), stats.MergeInputs)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, docRange(0, 6, 1), collect(t, snap, "all"))
}

func TestIndex_DeleteAndOptimize(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))
	ctx := context.Background()

	commitRange(t, ix, 0, 10)
	commitRange(t, ix, 10, 20)

	n, err := ix.Delete(ctx, 4, 11, 11, 500)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(18), snap.DocCount())
	assert.True(t, snap.IsDeleted(4))
	assert.NotContains(t, collect(t, snap, "all"), model.DocID(4))
	assert.NotContains(t, collect(t, snap, "all"), model.DocID(11))
	assert.Equal(t, uint64(20), snap.DocFreq("all"))
	snap.Close()

	require.NoError(t, ix.Optimize(ctx))
	barrels := ix.Barrels()
	require.Len(t, barrels, 1)
	assert.Equal(t, uint64(18), barrels[0].DocCount)

	st := ix.Status()
	assert.Equal(t, uint64(1), st.Deleted, "doc 500 is not in any barrel")

	snap, err = ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, uint64(18), snap.DocFreq("all"))
	assert.Equal(t, uint64(9), snap.DocFreq("even"))
}

func TestIndex_OptimizeSingleCleanBarrelIsNoop(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))
	info := commitRange(t, ix, 0, 5)

	require.NoError(t, ix.Optimize(context.Background()))
	barrels := ix.Barrels()
	require.Len(t, barrels, 1)
	assert.Equal(t, info.ID, barrels[0].ID)
}

func TestIndex_Reopen(t *testing.T) {
	store := blobstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	ix, err := Open(ctx, store, WithLogger(NoopLogger()), WithMergeMode("sync"))
	require.NoError(t, err)
	commitRange(t, ix, 0, 4)
	commitRange(t, ix, 4, 8)
	_, err = ix.Delete(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, ix.Close())
	assert.ErrorIs(t, ix.Close(), ErrClosed)

	ix = openIndex(t, store, WithMergeMode("sync"))
	st := ix.Status()
	assert.Equal(t, 2, st.Barrels)
	assert.Equal(t, uint64(8), st.Docs)
	assert.Equal(t, uint64(1), st.Deleted)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []model.DocID{0, 2, 3, 4, 5, 6, 7}, collect(t, snap, "all"))
	snap.Close()

	// Restored tiers keep counting towards the next merge.
	commitRange(t, ix, 8, 12)
	assert.Len(t, ix.Barrels(), 1)
	assert.Equal(t, uint64(11), ix.Status().Docs)
}

func TestIndex_AsyncPauseResume(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore())
	assert.Equal(t, "running", ix.Status().State)

	ix.Pause()
	assert.Equal(t, "paused", ix.Status().State)
	commitRange(t, ix, 0, 2)
	commitRange(t, ix, 2, 4)
	commitRange(t, ix, 4, 6)
	assert.Len(t, ix.Barrels(), 3)
	assert.Zero(t, ix.Status().Completed)

	ix.Resume()
	require.NoError(t, ix.WaitForFinish())
	st := ix.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, uint64(3), st.Completed)
	assert.Zero(t, st.Pending)
	require.Len(t, ix.Barrels(), 1)
	assert.Equal(t, uint64(6), ix.Barrels()[0].DocCount)
}

func TestIndex_ConcurrentCommits(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore())

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 9 {
				lo := model.DocID(w*1000 + i*10)
				b := ix.NewBatch()
				for d := lo; d < lo+3; d++ {
					assert.NoError(t, b.Add(d, "all", 0))
				}
				_, err := b.Commit(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ix.WaitForFinish())

	st := ix.Status()
	assert.Zero(t, st.Failed)
	assert.Equal(t, uint64(108), st.Docs)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Len(t, collect(t, snap, "all"), 108)
}

func TestSnapshot_IsolatedFromMerges(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ix := openIndex(t, store, WithMergeMode("sync"))
	a := commitRange(t, ix, 0, 2)
	commitRange(t, ix, 2, 4)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	commitRange(t, ix, 4, 6)
	require.Len(t, ix.Barrels(), 1)

	assert.Len(t, snap.Barrels(), 2)
	assert.Equal(t, docRange(0, 4, 1), collect(t, snap, "all"))

	names, err := store.List(context.Background(), a.Name)
	require.NoError(t, err)
	assert.Contains(t, names, a.BlobName())

	snap.Close()
	snap.Close()
	names, err = store.List(context.Background(), a.Name)
	require.NoError(t, err)
	assert.NotContains(t, names, a.BlobName())
}

func TestPostings_SkipToAcrossBarrels(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))
	commitRange(t, ix, 0, 100)
	commitRange(t, ix, 100, 200)
	_, err := ix.Delete(context.Background(), 150)
	require.NoError(t, err)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	p, err := snap.Postings(context.Background(), "even")
	require.NoError(t, err)
	assert.Equal(t, model.DocID(52), p.SkipTo(51))
	assert.Equal(t, model.DocID(52), p.SkipTo(52))
	assert.Equal(t, model.DocID(100), p.SkipTo(99))
	assert.Equal(t, model.DocID(152), p.SkipTo(150))
	require.True(t, p.Next())
	assert.Equal(t, model.DocID(154), p.Doc())
	assert.Equal(t, NoMoreDocs, p.SkipTo(1000))
	assert.False(t, p.Next())
	assert.Zero(t, p.Freq())
}

func TestPostings_DuplicateDocReportedOnce(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))
	commitRange(t, ix, 0, 4)
	commitRange(t, ix, 2, 6)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, docRange(0, 6, 1), collect(t, snap, "all"))
}

func TestIndex_DeletedDocStaysHiddenInUnmergedBarrel(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))
	ctx := context.Background()

	b := ix.NewBatch()
	for _, d := range append([]model.DocID{1, 3}, docRange(50, 80, 1)...) {
		require.NoError(t, b.AddDocument(d, []string{"all"}))
	}
	_, err := b.Commit(ctx)
	require.NoError(t, err)
	commitRange(t, ix, 2, 6)
	commitRange(t, ix, 3, 7)

	_, err = ix.Delete(ctx, 3)
	require.NoError(t, err)

	// The third four-doc barrel merges tier 1, which drops doc 3 from two
	// inputs while the 32-doc barrel still holds it.
	commitRange(t, ix, 10, 14)
	require.Len(t, ix.Barrels(), 2)
	assert.Equal(t, uint64(1), ix.Status().Deleted)

	snap, err := ix.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.IsDeleted(3))
	assert.NotContains(t, collect(t, snap, "all"), model.DocID(3))
	snap.Close()

	require.NoError(t, ix.Optimize(ctx))
	assert.Equal(t, uint64(0), ix.Status().Deleted)

	snap, err = ix.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.NotContains(t, collect(t, snap, "all"), model.DocID(3))
}

func TestBatch_Errors(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"))
	ctx := context.Background()

	b := ix.NewBatch()
	_, err := b.Commit(ctx)
	assert.ErrorIs(t, err, ErrEmptySegment)

	assert.ErrorIs(t, b.Add(1, "term"), ErrIllegalArgument)
	assert.ErrorIs(t, b.Add(1, "", 0), ErrIllegalArgument)
	assert.ErrorIs(t, b.Add(NoMoreDocs, "term", 0), ErrIllegalArgument)

	require.NoError(t, b.Add(3, "term", 5, 1, 5))
	assert.Equal(t, 1, b.Len())
	info, err := b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.DocCount)
	assert.Equal(t, uint64(2), info.CTF)

	_, err = b.Commit(ctx)
	assert.ErrorIs(t, err, ErrIllegalArgument)
	assert.ErrorIs(t, b.Add(4, "term", 0), ErrIllegalArgument)
}

func TestIndex_OutOfMemory(t *testing.T) {
	ix := openIndex(t, blobstore.NewMemoryStore(), WithMergeMode("sync"), WithMemoryLimit(1024))
	commitRange(t, ix, 0, 2)
	commitRange(t, ix, 2, 4)

	b := ix.NewBatch()
	require.NoError(t, b.AddDocument(4, []string{"all"}))
	_, err := b.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	var merr *MergeError
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Barrels, 3)
	assert.Equal(t, 0, merr.Level)

	assert.Len(t, ix.Barrels(), 3, "failed merge keeps its inputs")
	st := ix.Status()
	assert.Equal(t, uint64(1), st.Failed)
	assert.ErrorIs(t, st.LastError, ErrOutOfMemory)
}

func TestIndex_Closed(t *testing.T) {
	ix, err := Open(context.Background(), blobstore.NewMemoryStore(), WithLogger(NoopLogger()))
	require.NoError(t, err)
	b := ix.NewBatch()
	require.NoError(t, b.Add(1, "term", 0))
	require.NoError(t, ix.Close())

	_, err = b.Commit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ix.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ix.Delete(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ix.Optimize(context.Background()), ErrClosed)
	assert.Equal(t, "stopped", ix.Status().State)
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), blobstore.NewMemoryStore(), WithLogger(NoopLogger()), WithCollisionFactor(1))
	assert.ErrorIs(t, err, ErrIllegalArgument)
}
