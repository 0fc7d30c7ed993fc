package barrel

import (
	"log/slog"
)

type options struct {
	cfg             Config
	logger          *Logger
	metricsObserver MetricsObserver
}

// Option configures Open.
type Option func(*options)

// WithConfig replaces the default configuration.
// The config is validated by Open.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithMergeMode selects "sync" or "async" compaction.
func WithMergeMode(mode string) Option {
	return func(o *options) {
		o.cfg.MergeMode = mode
	}
}

// WithCompression selects the posting compression kind of new barrels.
func WithCompression(kind string) Option {
	return func(o *options) {
		o.cfg.Compression = kind
	}
}

// WithCollisionFactor sets the tier base of the merge policy.
func WithCollisionFactor(factor int) Option {
	return func(o *options) {
		o.cfg.CollisionFactor = factor
	}
}

// WithMemoryLimit caps the memory reserved by merges. Zero is unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.cfg.MemoryLimitBytes = bytes
	}
}

// WithIOLimit throttles barrel writes of merges. Zero is unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.cfg.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithMetricsObserver configures a metrics observer.
//
// If nil is passed, metrics are discarded.
func WithMetricsObserver(mo MetricsObserver) Option {
	return func(o *options) {
		if mo == nil {
			mo = NoopMetricsObserver{}
		}
		o.metricsObserver = mo
	}
}

// WithLogger sets the logger. By default a logger is built from the
// log_level and log_format config keys.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel is a convenience option for a text logger at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		cfg:             DefaultConfig(),
		metricsObserver: NoopMetricsObserver{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = newConfiguredLogger(o.cfg.LogLevel, o.cfg.LogFormat)
	}
	return o
}
