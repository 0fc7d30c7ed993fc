package barrel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/barrel/internal/segment"
	"github.com/hupe1980/barrel/model"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "barrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
merge_mode: sync
compression: chunk
chunk_size: 512
collision_factor: 4
collision_thresholds: [2, 5]
dictionary_compression: zstd
memory_limit_bytes: 1048576
log_format: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sync", cfg.MergeMode)
	assert.Equal(t, "chunk", cfg.Compression)
	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 4, cfg.CollisionFactor)
	assert.Equal(t, []int{2, 5}, cfg.CollisionThresholds)
	assert.Equal(t, int64(1<<20), cfg.MemoryLimitBytes)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 128, cfg.BlockSize, "unset keys keep their defaults")

	opts, err := cfg.segmentOptions()
	require.NoError(t, err)
	assert.Equal(t, model.Chunk, opts.Kind)
	assert.Equal(t, segment.CompressionZSTD, opts.Dictionary)
	assert.True(t, opts.Positions)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "barrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merge_mode: sync\ncollision_factor: 4\n"), 0o600))

	t.Setenv("BARREL_MERGE_MODE", "async")
	t.Setenv("BARREL_COLLISION_THRESHOLDS", "3, 4,6")
	t.Setenv("BARREL_IO_LIMIT_BYTES_PER_SEC", "4096")
	t.Setenv("BARREL_COLLISION_FACTOR", "not-a-number")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "async", cfg.MergeMode)
	assert.Equal(t, []int{3, 4, 6}, cfg.CollisionThresholds)
	assert.Equal(t, int64(4096), cfg.IOLimitBytesPerSec)
	assert.Equal(t, 4, cfg.CollisionFactor)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merge_mode: [oops"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"merge mode", func(c *Config) { c.MergeMode = "eventually" }},
		{"compression", func(c *Config) { c.Compression = "gzip" }},
		{"dictionary", func(c *Config) { c.DictionaryCompression = "brotli" }},
		{"block size", func(c *Config) { c.BlockSize = 64 }},
		{"min padding", func(c *Config) { c.MinPaddingSize = 0 }},
		{"chunk size", func(c *Config) { c.ChunkSize = 1 }},
		{"skip threshold", func(c *Config) { c.SkipThreshold = 0 }},
		{"skip interval", func(c *Config) { c.SkipInterval = 1 }},
		{"max skip level", func(c *Config) { c.MaxSkipLevel = 0 }},
		{"collision factor", func(c *Config) { c.CollisionFactor = 1 }},
		{"thresholds", func(c *Config) { c.CollisionThresholds = []int{3, 0} }},
		{"negative limit", func(c *Config) { c.MemoryLimitBytes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrIllegalArgument)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}
