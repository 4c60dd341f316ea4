// Package nexus is an embeddable graph database engine: an ACID, MVCC,
// Cypher-subset graph store addressable as a single Go process-local
// library, no server process in front of it.
//
// Engine is the composition root. Open wires the catalog, both record
// stores, the property heap, the four indexes, the lock manager, the
// transaction manager, the WAL writer and the four cache layers behind
// Engine. Engine holds only pointers and reference-counted handles, so a
// shallow copy of it is a valid zero-copy clone.
package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hivellm/nexus/internal/adjacency"
	"github.com/hivellm/nexus/internal/cache"
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/checkpoint"
	"github.com/hivellm/nexus/internal/config"
	"github.com/hivellm/nexus/internal/executor"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/labelindex"
	"github.com/hivellm/nexus/internal/lockmanager"
	"github.com/hivellm/nexus/internal/nerrors"
	"github.com/hivellm/nexus/internal/propheap"
	"github.com/hivellm/nexus/internal/propindex"
	"github.com/hivellm/nexus/internal/recordstore"
	"github.com/hivellm/nexus/internal/txn"
	"github.com/hivellm/nexus/internal/vectorindex"
	"github.com/hivellm/nexus/internal/walog"
)

const (
	nodesFile    = "nodes.rec"
	relsFile     = "rels.rec"
	propsBase    = "props.heap"
	walDirName   = "wal"
	walCurrent   = "CURRENT"
	walSegment   = "0001.log"
	catalogDir   = "catalog"
	labelDir     = "indexes/label"
	knnDir       = "indexes/knn"
	btreeDir     = "indexes/btree"
	metaFile     = "meta.json"
)

// Engine is a single open database. Every exported method is safe to
// call concurrently from multiple goroutines; the components behind it
// carry their own locking.
type Engine struct {
	dir string
	cfg config.Config
	log *zap.Logger

	catalog *catalog.Catalog
	nodes   *recordstore.NodeStore
	rels    *recordstore.RelStore
	props   *propheap.Heap
	labels  *labelindex.Index
	adjOut  *adjacency.Index
	adjIn   *adjacency.Index
	propIdx *propindex.Registry
	locks   *lockmanager.Manager
	txMgr   *txn.Manager
	wal     *walog.Writer

	nodeObjCache *cache.ObjectCache[uint64, gvalue.PropertyMap]
	relObjCache  *cache.ObjectCache[uint64, gvalue.PropertyMap]
	relScanCache *cache.RelCache
	planCache    *cache.PlanCache
	pageCache    *cache.PageCache

	rt *executor.Runtime

	// pool is the fixed-size worker pool: a query acquires a token before
	// running and releases it on return, so at
	// most Concurrency.WorkerThreads queries execute at once regardless
	// of how many callers are blocked in Execute.
	pool chan struct{}

	// wg tracks in-flight Execute/Tx calls so Close can drain them before
	// tearing anything down.
	wg sync.WaitGroup

	// walFailures counts consecutive failed WAL batches; readOnly trips
	// once walFailureLimit is reached and rejects all further writes.
	walFailures atomic.Int32
	readOnly    atomic.Bool

	// chkStop/chkDone bound the optional background checkpoint
	// goroutine's lifecycle: spawned during Open, signalled to drain at
	// Close, exactly like the WAL writer goroutine.
	chkStop chan struct{}
	chkDone chan struct{}

	closeMu sync.Mutex
	closed  bool
}

// Open creates or opens a database rooted at path, replays its WAL to
// reach a consistent state, and starts its background WAL writer. The
// returned Engine owns every file under path until Close.
func Open(path string, cfg config.Config) (*Engine, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &nerrors.IOError{Path: path, Err: err}
	}
	for _, sub := range []string{walDirName, catalogDir, labelDir, knnDir, btreeDir} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return nil, &nerrors.IOError{Path: filepath.Join(path, sub), Err: err}
		}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{dir: path, cfg: cfg, log: log}
	var err error

	e.catalog = catalog.New()
	if err := e.catalog.Load(filepath.Join(path, catalogDir)); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	e.nodes, err = recordstore.OpenNodeStore(filepath.Join(path, nodesFile), cfg.RecordStoreGrowStep)
	if err != nil {
		return nil, fmt.Errorf("open node store: %w", err)
	}
	e.rels, err = recordstore.OpenRelStore(filepath.Join(path, relsFile), cfg.RecordStoreGrowStep)
	if err != nil {
		return nil, fmt.Errorf("open rel store: %w", err)
	}
	e.props, err = propheap.Open(filepath.Join(path, propsBase))
	if err != nil {
		return nil, fmt.Errorf("open property heap: %w", err)
	}

	e.labels, err = labelindex.Load(filepath.Join(path, labelDir))
	if err != nil {
		return nil, fmt.Errorf("load label index: %w", err)
	}
	denseThreshold := cfg.DenseNodeThreshold
	if !cfg.Concurrency.EnableRelationshipOptimizations {
		// No promotion to the dense representation: every node keeps the
		// plain sorted slice regardless of degree.
		denseThreshold = int(^uint(0) >> 1)
	}
	e.adjOut = adjacency.New(denseThreshold)
	e.adjIn = adjacency.New(denseThreshold)

	e.propIdx = propindex.NewRegistry()
	if err := e.propIdx.LoadAll(filepath.Join(path, btreeDir), e.catalog.AllIndexes()); err != nil {
		return nil, fmt.Errorf("load property indexes: %w", err)
	}

	e.locks = lockmanager.New()
	e.txMgr = txn.NewManager(e.locks)

	e.nodeObjCache, err = cache.NewObjectCache[uint64, gvalue.PropertyMap](cfg.Cache.ObjectCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("node object cache: %w", err)
	}
	e.relObjCache, err = cache.NewObjectCache[uint64, gvalue.PropertyMap](cfg.Cache.ObjectCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("rel object cache: %w", err)
	}
	e.relScanCache, err = cache.NewRelCache(cfg.Cache.RelCacheEntries, cfg.Cache.RelCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("rel scan cache: %w", err)
	}
	e.planCache, err = cache.NewPlanCache(cfg.Cache.PlanCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	pages := cfg.Cache.PageCacheBytes / recordstore.NodeRecordSize
	if pages < 1 {
		pages = 1
	}
	e.pageCache = cache.NewPageCache(pages)

	e.rt = &executor.Runtime{
		Log:          log,
		Catalog:      e.catalog,
		Nodes:        e.nodes,
		Rels:         e.rels,
		Props:        e.props,
		Labels:       e.labels,
		AdjOut:       e.adjOut,
		AdjIn:        e.adjIn,
		PropIdx:      e.propIdx,
		Vectors:      make(map[catalog.ID]*vectorindex.Index),
		VectorCfg:    vectorindex.Config{M: cfg.Vector.M, EfConstruction: cfg.Vector.EfConstruction, EfSearch: cfg.Vector.EfSearch, Metric: vectorindex.Cosine},
		Locks:        e.locks,
		TxMgr:        e.txMgr,
		NodeObjCache: e.nodeObjCache,
		RelObjCache:  e.relObjCache,
		RelScanCache: e.relScanCache,
		Pages:        e.pageCache,
		RelOpts:      cfg.Concurrency.EnableRelationshipOptimizations,
	}
	if err := e.loadVectorIndexes(); err != nil {
		return nil, fmt.Errorf("load vector indexes: %w", err)
	}

	walDir := filepath.Join(path, walDirName)
	segment, err := activeWALSegment(walDir)
	if err != nil {
		return nil, fmt.Errorf("resolve wal segment: %w", err)
	}
	walPath := filepath.Join(walDir, segment)

	maxEpoch, err := e.recover(walPath)
	if err != nil {
		return nil, fmt.Errorf("recover from wal: %w", err)
	}
	e.txMgr.FastForward(maxEpoch)

	e.wal, err = walog.NewWriter(walPath, cfg.WAL, log)
	if err != nil {
		return nil, fmt.Errorf("open wal writer: %w", err)
	}

	workers := cfg.Concurrency.WorkerThreads
	if workers < 1 {
		workers = 1
	}
	e.pool = make(chan struct{}, workers)

	if err := e.writeMeta(maxEpoch); err != nil {
		return nil, fmt.Errorf("write meta: %w", err)
	}

	if cfg.CheckpointEvery > 0 {
		e.chkStop = make(chan struct{})
		e.chkDone = make(chan struct{})
		go e.checkpointLoop(cfg.CheckpointEvery)
	}

	return e, nil
}

// checkpointLoop periodically persists every rebuildable structure (the
// catalog snapshot, label bitmaps, property index snapshots and meta.json)
// so an unclean shutdown replays less and loses nothing schema-shaped. A
// checkpoint failure is logged and retried on the next tick rather than
// taking the engine down.
func (e *Engine) checkpointLoop(every time.Duration) {
	defer close(e.chkDone)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-e.chkStop:
			return
		case <-ticker.C:
			if err := e.checkpoint(); err != nil {
				e.log.Warn("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) checkpoint() error {
	e.nodes.FlushAsync()
	e.rels.FlushAsync()
	if err := e.catalog.Save(filepath.Join(e.dir, catalogDir)); err != nil {
		return err
	}
	if err := e.labels.Persist(filepath.Join(e.dir, labelDir)); err != nil {
		return err
	}
	if err := e.propIdx.SaveAll(filepath.Join(e.dir, btreeDir)); err != nil {
		return err
	}
	return e.writeMeta(e.txMgr.CurrentEpoch())
}

// metaSnapshot is the machine-readable meta.json: the config the database
// was last opened with, the catalog schema version and the epoch recovery
// last reached. It is rewritten atomically after every successful open and
// close, never edited in place.
type metaSnapshot struct {
	SchemaVersion   uint64        `json:"schema_version"`
	CheckpointEpoch uint64        `json:"checkpoint_epoch"`
	Config          config.Config `json:"config"`
}

func (e *Engine) writeMeta(checkpointEpoch uint64) error {
	data, err := json.MarshalIndent(metaSnapshot{
		SchemaVersion:   e.catalog.SchemaVersion(),
		CheckpointEpoch: checkpointEpoch,
		Config:          e.cfg,
	}, "", "  ")
	if err != nil {
		return err
	}
	return checkpoint.WriteAtomic(filepath.Join(e.dir, metaFile), append(data, '\n'))
}

// activeWALSegment reads the CURRENT pointer file, creating it (pointing
// at the first segment) on a fresh database.
func activeWALSegment(walDir string) (string, error) {
	currentPath := filepath.Join(walDir, walCurrent)
	data, err := os.ReadFile(currentPath)
	if os.IsNotExist(err) {
		if werr := os.WriteFile(currentPath, []byte(walSegment), 0o644); werr != nil {
			return "", werr
		}
		return walSegment, nil
	}
	if err != nil {
		return "", err
	}
	name := string(data)
	if name == "" {
		return walSegment, nil
	}
	return name, nil
}

func (e *Engine) loadVectorIndexes() error {
	dir := filepath.Join(e.dir, knnDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, ent := range entries {
		var labelID uint32
		if _, scanErr := fmt.Sscanf(ent.Name(), "knn_%d.hnsw", &labelID); scanErr != nil {
			continue
		}
		idx, ok, err := vectorindex.Load(dir, labelID, e.rt.VectorCfg, int64(labelID))
		if err != nil {
			return err
		}
		if ok {
			e.rt.Vectors[catalog.ID(labelID)] = idx
		}
	}
	return nil
}

// Close idempotently drains every in-flight query, flushes the WAL and
// every persisted structure, then releases all underlying file handles.
// A second Close call is a harmless no-op.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	e.wg.Wait()

	if e.chkStop != nil {
		close(e.chkStop)
		<-e.chkDone
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.wal.Close())
	record(e.catalog.Save(filepath.Join(e.dir, catalogDir)))
	record(e.labels.Persist(filepath.Join(e.dir, labelDir)))
	record(e.propIdx.SaveAll(filepath.Join(e.dir, btreeDir)))

	e.rt.VectorsMu.RLock()
	for labelID, idx := range e.rt.Vectors {
		record(idx.Save(filepath.Join(e.dir, knnDir), uint32(labelID)))
	}
	e.rt.VectorsMu.RUnlock()

	record(e.writeMeta(e.txMgr.CurrentEpoch()))
	record(e.props.Close())
	record(e.rels.Close())
	record(e.nodes.Close())
	_ = e.log.Sync()

	return firstErr
}

// Stats exposes the per-layer cache counters that supplement the
// external interface: hit/miss/eviction counts for every cache layer,
// the manager's current active-transaction count, and the catalog's
// total node and relationship counts.
type Stats struct {
	PageCacheHits, PageCacheMisses, PageCacheEvictions          int64
	NodeObjCacheHits, NodeObjCacheMisses, NodeObjCacheEvictions int64
	RelObjCacheHits, RelObjCacheMisses, RelObjCacheEvictions    int64
	PlanCacheHits, PlanCacheMisses, PlanCacheEvictions          int64
	RelScanCacheHits, RelScanCacheMisses, RelScanCacheEvictions int64
	ActiveTransactions                                          int
	TotalNodes, TotalRels                                       int64
}

func (e *Engine) Stats() Stats {
	return Stats{
		PageCacheHits:         e.pageCache.Hits(),
		PageCacheMisses:       e.pageCache.Misses(),
		PageCacheEvictions:    e.pageCache.Evictions(),
		NodeObjCacheHits:      e.nodeObjCache.Hits(),
		NodeObjCacheMisses:    e.nodeObjCache.Misses(),
		NodeObjCacheEvictions: e.nodeObjCache.Evictions(),
		RelObjCacheHits:       e.relObjCache.Hits(),
		RelObjCacheMisses:     e.relObjCache.Misses(),
		RelObjCacheEvictions:  e.relObjCache.Evictions(),
		PlanCacheHits:         e.planCache.Hits(),
		PlanCacheMisses:       e.planCache.Misses(),
		PlanCacheEvictions:    e.planCache.Evictions(),
		RelScanCacheHits:      e.relScanCache.Hits(),
		RelScanCacheMisses:    e.relScanCache.Misses(),
		RelScanCacheEvictions: e.relScanCache.Evictions(),
		ActiveTransactions:    e.txMgr.ActiveCount(),
		TotalNodes:            e.catalog.TotalNodes(),
		TotalRels:             e.catalog.TotalRels(),
	}
}

func (e *Engine) acquireWorker(ctx context.Context) error {
	select {
	case e.pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &nerrors.TimeoutError{}
		}
		return &nerrors.CancelledError{}
	}
}

func (e *Engine) releaseWorker() { <-e.pool }
