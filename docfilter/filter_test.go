package docfilter

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/barrel/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_DeleteAndSurvivors(t *testing.T) {
	f := Of(3, 5)
	assert.Equal(t, 1, f.Delete(5, 7))
	assert.Equal(t, uint64(3), f.Count())
	assert.True(t, f.IsDeleted(7))
	assert.False(t, f.IsDeleted(4))

	docs := roaring.BitmapOf(1, 2, 3, 4, 5)
	assert.Equal(t, []uint32{1, 2, 4}, f.Survivors(docs).ToArray())

	snap := f.Snapshot()
	f.Forget(roaring.BitmapOf(3, 5))
	assert.Equal(t, uint64(1), f.Count())
	assert.Equal(t, uint64(3), snap.GetCardinality())

	var nilFilter *Filter
	assert.False(t, nilFilter.IsDeleted(1))
	assert.Equal(t, uint64(5), nilFilter.Survivors(docs).GetCardinality())
}

func TestFilter_Persistence(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	empty, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, empty.Count())

	f := Of(1, 100, 100000)
	require.NoError(t, f.Save(ctx, store))

	loaded, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, f.Snapshot().ToArray(), loaded.Snapshot().ToArray())

	data, err := f.MarshalBinary()
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, store.Put(ctx, BlobName, data))
	_, err = Load(ctx, store)
	assert.ErrorIs(t, err, ErrCorrupt)
}
