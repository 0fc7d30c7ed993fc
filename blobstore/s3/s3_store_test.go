package s3

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/barrel/blobstore"
)

func TestIntegration_Store(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	require.NoError(t, err)

	store := NewStore(s3.NewFromConfig(cfg), bucket, fmt.Sprintf("barrel-it-%d/", time.Now().UnixNano()))

	data := make([]byte, 1<<20)
	_, _ = rand.Read(data)

	w, err := store.Create(ctx, "barrel-000001.tmp")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, store.Rename(ctx, "barrel-000001.tmp", "barrel-000001.brl"))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"barrel-000001.brl"}, names)

	b, err := store.Open(ctx, "barrel-000001.brl")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), b.Size())

	buf := make([]byte, 100)
	_, err = b.ReadAt(ctx, buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, data[1024:1124], buf)
	require.NoError(t, b.Close())

	require.NoError(t, store.Delete(ctx, "barrel-000001.brl"))
	_, err = store.Open(ctx, "barrel-000001.brl")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
