package barrel

import (
	"sync/atomic"
	"time"
)

// MetricsObserver receives operational metrics of an Index.
// Implementations must be safe for concurrent use; merge callbacks run on
// the background compaction goroutine.
//
// See package metrics/prometheus for a Prometheus implementation.
type MetricsObserver interface {
	// OnFlush is called after a batch was written as a new barrel.
	OnFlush(docs uint64, bytes int64, duration time.Duration)

	// OnMerge is called after each merge attempt. err is nil on success.
	OnMerge(inputs int, outputDocs uint64, bytes int64, duration time.Duration, err error)

	// OnQueueDepth reports the number of pending compaction tasks.
	OnQueueDepth(depth int)

	// OnStateChange reports a compaction state transition.
	OnStateChange(state string)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnFlush(uint64, int64, time.Duration)               {}
func (NoopMetricsObserver) OnMerge(int, uint64, int64, time.Duration, error) {}
func (NoopMetricsObserver) OnQueueDepth(int)                                   {}
func (NoopMetricsObserver) OnStateChange(string)                               {}

// BasicMetricsObserver provides simple in-memory metrics collection.
type BasicMetricsObserver struct {
	FlushCount      atomic.Int64
	FlushDocs       atomic.Int64
	FlushBytes      atomic.Int64
	MergeCount      atomic.Int64
	MergeErrors     atomic.Int64
	MergeInputs     atomic.Int64
	MergeBytes      atomic.Int64
	MergeTotalNanos atomic.Int64
	QueueDepth      atomic.Int64
	state           atomic.Value
}

// OnFlush implements MetricsObserver.
func (b *BasicMetricsObserver) OnFlush(docs uint64, bytes int64, _ time.Duration) {
	b.FlushCount.Add(1)
	b.FlushDocs.Add(int64(docs))
	b.FlushBytes.Add(bytes)
}

// OnMerge implements MetricsObserver.
func (b *BasicMetricsObserver) OnMerge(inputs int, _ uint64, bytes int64, duration time.Duration, err error) {
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergeCount.Add(1)
	b.MergeInputs.Add(int64(inputs))
	b.MergeBytes.Add(bytes)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
}

// OnQueueDepth implements MetricsObserver.
func (b *BasicMetricsObserver) OnQueueDepth(depth int) {
	b.QueueDepth.Store(int64(depth))
}

// OnStateChange implements MetricsObserver.
func (b *BasicMetricsObserver) OnStateChange(state string) {
	b.state.Store(state)
}

// Stats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) Stats() BasicMetricsStats {
	s := BasicMetricsStats{
		FlushCount:  b.FlushCount.Load(),
		FlushDocs:   b.FlushDocs.Load(),
		FlushBytes:  b.FlushBytes.Load(),
		MergeCount:  b.MergeCount.Load(),
		MergeErrors: b.MergeErrors.Load(),
		MergeInputs: b.MergeInputs.Load(),
		MergeBytes:  b.MergeBytes.Load(),
		QueueDepth:  b.QueueDepth.Load(),
	}
	if s.MergeCount > 0 {
		s.MergeAvgNanos = b.MergeTotalNanos.Load() / s.MergeCount
	}
	if st, ok := b.state.Load().(string); ok {
		s.State = st
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	FlushCount    int64
	FlushDocs     int64
	FlushBytes    int64
	MergeCount    int64
	MergeErrors   int64
	MergeInputs   int64
	MergeBytes    int64
	MergeAvgNanos int64
	QueueDepth    int64
	State         string
}
