package segment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/model"
)

func TestReader_Verify(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	terms := testTerms()
	info := writeBarrel(t, store, "b", DefaultOptions(), terms)

	r, err := Open(ctx, store, info)
	require.NoError(t, err)
	defer r.Close()

	st, err := r.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(terms), st.Terms)
	var postings uint64
	for _, tt := range terms {
		postings += uint64(len(tt.postings))
	}
	assert.Equal(t, postings, st.Postings)
	assert.Equal(t, 2*postings, st.CTF)
	assert.Equal(t, info.CTF, st.CTF)
}

func TestReader_VerifyCorruptPostings(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	info := writeBarrel(t, store, "b", DefaultOptions(), testTerms())

	r, err := Open(ctx, store, info)
	require.NoError(t, err)
	ti, ok := r.Lookup("beta")
	require.True(t, ok)
	require.NoError(t, r.Close())

	data, err := blobstore.ReadAll(ctx, store, info.BlobName())
	require.NoError(t, err)
	for i := ti.PostingPointer; i < ti.PostingPointer+ti.PostingLength; i++ {
		data[i] = 0xFF
	}
	require.NoError(t, store.Put(ctx, "c.brl", data))

	r, err = Open(ctx, store, model.BarrelInfo{Name: "c"})
	require.NoError(t, err, "the dictionary is intact")
	defer r.Close()

	_, err = r.Verify(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptSegment) || errors.Is(err, codec.ErrCorruptData), err.Error())
	assert.Contains(t, err.Error(), `"beta"`)
}

func TestReader_VerifyCanceled(t *testing.T) {
	store := blobstore.NewMemoryStore()
	info := writeBarrel(t, store, "b", DefaultOptions(), testTerms())
	r, err := Open(context.Background(), store, info)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Verify(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
