package barrel

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/barrel/codec"
	"github.com/hupe1980/barrel/internal/engine"
	"github.com/hupe1980/barrel/internal/resource"
	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/internal/skiplist"
	"github.com/hupe1980/barrel/model"
)

// Config is the YAML configuration of an Index.
type Config struct {
	// MergeMode is "async" (background compaction) or "sync" (inline).
	MergeMode string `yaml:"merge_mode"`
	// Compression is the posting compression kind: bytealign, block or chunk.
	Compression string `yaml:"compression"`
	// BlockSize is the posting block length of the block kind.
	BlockSize int `yaml:"block_size"`
	// ChunkSize is the posting block length of the chunk kind.
	ChunkSize int `yaml:"chunk_size"`
	// MinPaddingSize is the smallest tail padded to a full block.
	MinPaddingSize int `yaml:"min_padding_size"`

	SkipThreshold int `yaml:"skip_threshold"`
	SkipInterval  int `yaml:"skip_interval"`
	MaxSkipLevel  int `yaml:"max_skip_level"`

	// CollisionFactor is the tier base of the merge policy.
	CollisionFactor int `yaml:"collision_factor"`
	// CollisionThresholds overrides the merge threshold of level i.
	CollisionThresholds []int `yaml:"collision_thresholds"`

	// DictionaryCompression is none, lz4 or zstd.
	DictionaryCompression string `yaml:"dictionary_compression"`

	IOLimitBytesPerSec int64 `yaml:"io_limit_bytes_per_sec"`
	MemoryLimitBytes   int64 `yaml:"memory_limit_bytes"`
	MaxMergeWorkers    int64 `yaml:"max_merge_workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MergeMode:             "async",
		Compression:           "block",
		BlockSize:             codec.DefaultBlockSize,
		ChunkSize:             codec.DefaultChunkSize,
		MinPaddingSize:        codec.DefaultMinPaddingSize,
		SkipThreshold:         skiplist.DefaultThreshold,
		SkipInterval:          skiplist.DefaultInterval,
		MaxSkipLevel:          skiplist.DefaultMaxLevels,
		CollisionFactor:       3,
		DictionaryCompression: "lz4",
		MaxMergeWorkers:       1,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// LoadConfig reads a YAML file and applies BARREL_* environment overrides.
// Keys missing from the file keep their defaults. An empty path loads the
// defaults plus overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides reads BARREL_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BARREL_MERGE_MODE"); v != "" {
		cfg.MergeMode = v
	}
	if v := os.Getenv("BARREL_COMPRESSION"); v != "" {
		cfg.Compression = v
	}
	if v := os.Getenv("BARREL_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("BARREL_SKIP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SkipThreshold = n
		}
	}
	if v := os.Getenv("BARREL_COLLISION_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CollisionFactor = n
		}
	}
	if v := os.Getenv("BARREL_COLLISION_THRESHOLDS"); v != "" {
		var levels []int
		for _, s := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				levels = nil
				break
			}
			levels = append(levels, n)
		}
		if levels != nil {
			cfg.CollisionThresholds = levels
		}
	}
	if v := os.Getenv("BARREL_DICTIONARY_COMPRESSION"); v != "" {
		cfg.DictionaryCompression = v
	}
	if v := os.Getenv("BARREL_IO_LIMIT_BYTES_PER_SEC"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.IOLimitBytesPerSec = n
		}
	}
	if v := os.Getenv("BARREL_MEMORY_LIMIT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MemoryLimitBytes = n
		}
	}
	if v := os.Getenv("BARREL_MAX_MERGE_WORKERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxMergeWorkers = n
		}
	}
	if v := os.Getenv("BARREL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BARREL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// Validate reports every invalid field of the config.
//
// block_size and min_padding_size describe the on-disk block layout of the
// block kind, which readers do not record per barrel; only the format
// values are accepted.
func (c Config) Validate() error {
	var errs []error
	if _, err := engine.ParseMode(c.MergeMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := model.ParseCompressionKind(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := segment.ParseCompression(c.DictionaryCompression); err != nil {
		errs = append(errs, err)
	}
	if c.BlockSize != codec.DefaultBlockSize {
		errs = append(errs, fmt.Errorf("block_size must be %d, got %d", codec.DefaultBlockSize, c.BlockSize))
	}
	if c.MinPaddingSize != codec.DefaultMinPaddingSize {
		errs = append(errs, fmt.Errorf("min_padding_size must be %d, got %d", codec.DefaultMinPaddingSize, c.MinPaddingSize))
	}
	if c.ChunkSize < 2 {
		errs = append(errs, fmt.Errorf("chunk_size must be at least 2, got %d", c.ChunkSize))
	}
	if c.SkipThreshold <= 0 {
		errs = append(errs, fmt.Errorf("skip_threshold must be positive, got %d", c.SkipThreshold))
	}
	if c.SkipInterval < 2 {
		errs = append(errs, fmt.Errorf("skip_interval must be at least 2, got %d", c.SkipInterval))
	}
	if c.MaxSkipLevel <= 0 {
		errs = append(errs, fmt.Errorf("max_skip_level must be positive, got %d", c.MaxSkipLevel))
	}
	if c.CollisionFactor < 2 {
		errs = append(errs, fmt.Errorf("collision_factor must be at least 2, got %d", c.CollisionFactor))
	}
	for i, t := range c.CollisionThresholds {
		if t < 2 {
			errs = append(errs, fmt.Errorf("collision_thresholds[%d] must be at least 2, got %d", i, t))
		}
	}
	if c.IOLimitBytesPerSec < 0 || c.MemoryLimitBytes < 0 || c.MaxMergeWorkers < 0 {
		errs = append(errs, errors.New("resource limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrIllegalArgument, err)
	}
	return nil
}

func (c Config) segmentOptions() (segment.Options, error) {
	kind, err := model.ParseCompressionKind(c.Compression)
	if err != nil {
		return segment.Options{}, err
	}
	dict, err := segment.ParseCompression(c.DictionaryCompression)
	if err != nil {
		return segment.Options{}, err
	}
	return segment.Options{
		Kind:          kind,
		ChunkSize:     c.ChunkSize,
		SkipThreshold: c.SkipThreshold,
		SkipInterval:  c.SkipInterval,
		MaxSkipLevels: c.MaxSkipLevel,
		Positions:     true,
		Dictionary:    dict,
	}, nil
}

func (c Config) resourceConfig() resource.Config {
	return resource.Config{
		MemoryLimitBytes:   c.MemoryLimitBytes,
		MaxMergeWorkers:    c.MaxMergeWorkers,
		IOLimitBytesPerSec: c.IOLimitBytesPerSec,
	}
}
