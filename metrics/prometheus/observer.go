// Package prometheus exports the metrics of a barrel.Index to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	obs := barrelprom.New(reg, "search")
//	ix, _ := barrel.Open(ctx, store, barrel.WithMetricsObserver(obs))
//	http.Handle("/metrics", barrelprom.Handler(reg))
package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var states = []string{"idle", "running", "paused", "stopped"}

// Observer implements barrel.MetricsObserver with Prometheus collectors.
type Observer struct {
	FlushesTotal   prometheus.Counter
	FlushedDocs    prometheus.Counter
	FlushedBytes   prometheus.Counter
	FlushDuration  prometheus.Histogram
	MergesTotal    *prometheus.CounterVec
	MergeInputs    prometheus.Histogram
	MergedDocs     prometheus.Counter
	MergedBytes    prometheus.Counter
	MergeDuration  prometheus.Histogram
	QueueDepth     prometheus.Gauge
	CompactorState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. namespace
// prefixes every metric name and may be empty.
func New(reg prometheus.Registerer, namespace string) *Observer {
	o := &Observer{
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrel_flushes_total",
			Help:      "Total number of barrels flushed from batches.",
		}),
		FlushedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrel_flushed_docs_total",
			Help:      "Total documents written by flushes.",
		}),
		FlushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrel_flushed_bytes_total",
			Help:      "Total bytes written by flushes.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barrel_flush_duration_seconds",
			Help:      "Flush latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		MergesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrel_merges_total",
			Help:      "Total merges by status (ok, error).",
		}, []string{"status"}),
		MergeInputs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barrel_merge_inputs",
			Help:      "Number of barrels merged per merge.",
			Buckets:   []float64{2, 3, 4, 6, 9, 12, 18, 27},
		}),
		MergedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrel_merged_docs_total",
			Help:      "Total documents written by merges.",
		}),
		MergedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrel_merged_bytes_total",
			Help:      "Total bytes written by merges.",
		}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barrel_merge_duration_seconds",
			Help:      "Merge latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "barrel_compaction_queue_depth",
			Help:      "Number of pending compaction tasks.",
		}),
		CompactorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "barrel_compaction_state",
			Help:      "Compaction state; 1 for the current state, 0 otherwise.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		o.FlushesTotal,
		o.FlushedDocs,
		o.FlushedBytes,
		o.FlushDuration,
		o.MergesTotal,
		o.MergeInputs,
		o.MergedDocs,
		o.MergedBytes,
		o.MergeDuration,
		o.QueueDepth,
		o.CompactorState,
	)
	return o
}

// OnFlush implements barrel.MetricsObserver.
func (o *Observer) OnFlush(docs uint64, bytes int64, d time.Duration) {
	o.FlushesTotal.Inc()
	o.FlushedDocs.Add(float64(docs))
	o.FlushedBytes.Add(float64(bytes))
	o.FlushDuration.Observe(d.Seconds())
}

// OnMerge implements barrel.MetricsObserver.
func (o *Observer) OnMerge(inputs int, outputDocs uint64, bytes int64, d time.Duration, err error) {
	if err != nil {
		o.MergesTotal.WithLabelValues("error").Inc()
		return
	}
	o.MergesTotal.WithLabelValues("ok").Inc()
	o.MergeInputs.Observe(float64(inputs))
	o.MergedDocs.Add(float64(outputDocs))
	o.MergedBytes.Add(float64(bytes))
	o.MergeDuration.Observe(d.Seconds())
}

// OnQueueDepth implements barrel.MetricsObserver.
func (o *Observer) OnQueueDepth(depth int) {
	o.QueueDepth.Set(float64(depth))
}

// OnStateChange implements barrel.MetricsObserver.
func (o *Observer) OnStateChange(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		o.CompactorState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the scrape HTTP handler for the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
