package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// configured memory budget.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits for background merging.
type Config struct {
	// MemoryLimitBytes caps the memory reserved by concurrent merges.
	// Zero tracks usage without a limit.
	MemoryLimitBytes int64

	// MaxMergeWorkers bounds concurrently running merges. Defaults to 1.
	MaxMergeWorkers int64

	// IOLimitBytesPerSec throttles barrel writes. Zero is unlimited.
	IOLimitBytesPerSec int64
}

// Controller governs memory, merge concurrency and write throughput.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64
	memPeak atomic.Int64

	workers *semaphore.Weighted
	io      *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxMergeWorkers <= 0 {
		cfg.MaxMergeWorkers = 1
	}
	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.MaxMergeWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// Reserve reserves n bytes without blocking. The returned Reservation must
// be released.
func (c *Controller) Reserve(n int64) (*Reservation, error) {
	if c == nil || n <= 0 {
		return &Reservation{}, nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(n) {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use",
			ErrMemoryLimitExceeded, n, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	used := c.memUsed.Add(n)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			break
		}
	}
	return &Reservation{c: c, n: n}, nil
}

func (c *Controller) release(n int64) {
	if c.memSem != nil {
		c.memSem.Release(n)
	}
	c.memUsed.Add(-n)
}

// MemoryUsage returns the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// PeakMemoryUsage returns the highest reservation total observed.
func (c *Controller) PeakMemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// MemoryLimit returns the configured budget, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireWorker blocks until a merge slot is free.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

// TryAcquireWorker reserves a merge slot if one is free.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	return c.workers.TryAcquire(1)
}

// ReleaseWorker frees a merge slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workers.Release(1)
}

// WaitIO blocks until n bytes of write budget are available.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return nil
	}
	burst := c.io.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.io.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Reservation is a memory reservation held by one merge.
type Reservation struct {
	c        *Controller
	n        int64
	released atomic.Bool
}

// Size returns the reserved byte count.
func (r *Reservation) Size() int64 { return r.n }

// Release returns the memory. It is idempotent.
func (r *Reservation) Release() {
	if r == nil || r.c == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.c.release(r.n)
}
