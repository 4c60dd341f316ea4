// Package config carries Nexus's tunable knobs as a plain
// Config/DefaultConfig struct rather than a builder or a file-backed
// settings library: Open(path, config) takes the struct directly, there
// is no human-edited config file in the loop.
package config

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

type SyncMode string

const (
	SyncFsync SyncMode = "fsync"
	SyncNone  SyncMode = "none"
)

type WALConfig struct {
	SyncMode     SyncMode
	MaxBatchSize int
	MaxBatchAge  time.Duration
	BufferBytes  int
}

type CacheConfig struct {
	PageCacheBytes     int
	ObjectCacheEntries int
	PlanCacheEntries   int
	RelCacheEntries    int
	RelCacheTTL        time.Duration
}

type VectorIndexConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// ConcurrencyConfig sizes the engine facade's fixed worker pool and
// toggles the relationship-traversal fast paths (dense-node bitmap
// promotion, adjacency scan caching) that only pay for themselves on
// graphs with hub-like degree distributions.
type ConcurrencyConfig struct {
	WorkerThreads                  int
	EnableRelationshipOptimizations bool
}

type Config struct {
	WAL                 WALConfig
	Cache               CacheConfig
	Vector              VectorIndexConfig
	Concurrency         ConcurrencyConfig
	RecordStoreGrowStep int64
	DenseNodeThreshold  int
	CheckpointEvery     time.Duration

	// Logger receives every operational event the engine reports; nil
	// means log nothing (zap.NewNop). Excluded from the meta.json config
	// snapshot, which only records serializable tuning knobs.
	Logger *zap.Logger `json:"-"`
}

// DefaultConfig mirrors wal.DefaultOptions's shape: a constructor
// returning a populated literal, not a zero-value struct callers must
// know how to fill in themselves.
func DefaultConfig() Config {
	return Config{
		WAL: WALConfig{
			SyncMode:     SyncFsync,
			MaxBatchSize: 256,
			MaxBatchAge:  5 * time.Millisecond,
			BufferBytes:  64 * 1024,
		},
		Cache: CacheConfig{
			PageCacheBytes:     64 * 1024 * 1024,
			ObjectCacheEntries: 8192,
			PlanCacheEntries:   256,
			RelCacheEntries:    4096,
			RelCacheTTL:        30 * time.Second,
		},
		Vector: VectorIndexConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
		},
		Concurrency: ConcurrencyConfig{
			WorkerThreads:                   runtime.NumCPU(),
			EnableRelationshipOptimizations: true,
		},
		RecordStoreGrowStep: 2 * 1024 * 1024,
		DenseNodeThreshold:  100,
		CheckpointEvery:     30 * time.Second,
	}
}
