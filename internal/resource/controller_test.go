package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Reserve(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	a, err := c.Reserve(60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), c.MemoryUsage())

	_, err = c.Reserve(50)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(60), c.MemoryUsage())

	a.Release()
	a.Release()
	assert.Zero(t, c.MemoryUsage())
	assert.Equal(t, int64(60), c.PeakMemoryUsage())

	b, err := c.Reserve(100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Size())
	b.Release()
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})
	r, err := c.Reserve(1 << 40)
	require.NoError(t, err)
	assert.Zero(t, c.MemoryLimit())
	r.Release()

	var nilc *Controller
	r, err = nilc.Reserve(10)
	require.NoError(t, err)
	r.Release()
	assert.True(t, nilc.TryAcquireWorker())
	require.NoError(t, nilc.WaitIO(context.Background(), 1<<30))
}

func TestController_Workers(t *testing.T) {
	c := NewController(Config{MaxMergeWorkers: 2})
	require.NoError(t, c.AcquireWorker(context.Background()))
	require.NoError(t, c.AcquireWorker(context.Background()))
	assert.False(t, c.TryAcquireWorker())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireWorker(ctx))

	c.ReleaseWorker()
	assert.True(t, c.TryAcquireWorker())
}

func TestThrottledWriter(t *testing.T) {
	var buf bytes.Buffer
	assert.Same(t, &buf, NewThrottledWriter(context.Background(), &buf, nil))

	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	w := NewThrottledWriter(context.Background(), &buf, c)
	n, err := w.Write(make([]byte, 3<<20>>1))
	require.NoError(t, err)
	assert.Equal(t, 3<<20>>1, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewThrottledWriter(ctx, &buf, c).Write(make([]byte, 4<<20))
	assert.Error(t, err)
}
