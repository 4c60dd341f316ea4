// Package cache implements Nexus's multi-layer cache: a page cache over
// the fixed-width record stores, an object cache over materialized
// node/relationship values, a plan cache keyed by query text hash, and a
// relationship (adjacency scan) cache — each layer exposes hit/miss/
// eviction counters so Engine.Stats() can surface them without reaching
// into private fields.
package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Counters is the common hit/miss/eviction accounting every cache layer
// carries, read with atomics so Stats() never blocks a hot-path lookup.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func (c *Counters) Hits() int64      { return c.hits.Load() }
func (c *Counters) Misses() int64    { return c.misses.Load() }
func (c *Counters) Evictions() int64 { return c.evictions.Load() }

// PageCache caches raw fixed-width record bytes read from a record
// store's mmap, keyed by (store tag, record id). It's a plain
// mutex-guarded map rather than an LRU: once it holds maxLen pages, each
// Put evicts one arbitrary entry (whichever map iteration yields first).
// Pages are not pinned, and checkpoints do not clear the cache.
type PageCache struct {
	Counters
	mu     sync.RWMutex
	pages  map[pageKey][]byte
	maxLen int
}

type pageKey struct {
	store string
	id    uint64
}

func NewPageCache(maxLen int) *PageCache {
	return &PageCache{pages: make(map[pageKey][]byte), maxLen: maxLen}
}

func (p *PageCache) Get(store string, id uint64) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.pages[pageKey{store, id}]
	if ok {
		p.hits.Add(1)
	} else {
		p.misses.Add(1)
	}
	return b, ok
}

func (p *PageCache) Put(store string, id uint64, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) >= p.maxLen {
		for k := range p.pages {
			delete(p.pages, k)
			p.evictions.Add(1)
			break
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	p.pages[pageKey{store, id}] = cp
}

func (p *PageCache) Invalidate(store string, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pages, pageKey{store, id})
}

// ObjectCache caches materialized values (decoded node/relationship
// property maps) keyed by an arbitrary comparable key, backed by
// golang-lru/v2 for true LRU eviction under bounded memory.
type ObjectCache[K comparable, V any] struct {
	Counters
	lru *lru.Cache[K, V]
}

func NewObjectCache[K comparable, V any](size int) (*ObjectCache[K, V], error) {
	l, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &ObjectCache[K, V]{lru: l}, nil
}

func (o *ObjectCache[K, V]) Get(key K) (V, bool) {
	v, ok := o.lru.Get(key)
	if ok {
		o.hits.Add(1)
	} else {
		o.misses.Add(1)
	}
	return v, ok
}

func (o *ObjectCache[K, V]) Put(key K, value V) {
	if o.lru.Add(key, value) {
		o.evictions.Add(1)
	}
}

func (o *ObjectCache[K, V]) Remove(key K) { o.lru.Remove(key) }
func (o *ObjectCache[K, V]) Len() int     { return o.lru.Len() }

// PlanCache memoizes compiled query plans keyed by a hash of the query
// text, invalidated wholesale whenever the catalog's schema version
// advances past the version a cached plan was compiled under — cheaper
// than tracking which plans reference which schema elements.
type PlanCache struct {
	Counters
	lru     *lru.Cache[uint64, planEntry]
	version atomic.Uint64
}

type planEntry struct {
	plan          any
	schemaVersion uint64
}

func NewPlanCache(size int) (*PlanCache, error) {
	l, err := lru.New[uint64, planEntry](size)
	if err != nil {
		return nil, err
	}
	return &PlanCache{lru: l}, nil
}

// paramShapeNamespace seeds ParamShape's UUIDv5 derivation. It has no
// meaning of its own beyond giving uuid.NewSHA1 a fixed namespace so the
// same parameter shape always salts to the same UUID across process
// restarts, which a namespace derived from, say, the process start time
// would not.
var paramShapeNamespace = uuid.Must(uuid.Parse("6f14e3d2-9b77-4b4e-9c8b-1f9a6d2e7a31"))

// ParamShape derives a deterministic identifier for the *shape* of a
// parameter set — the sorted set of parameter names a call binds — without
// depending on any of their values. Plan cache keys are salted with this
// rather than just the raw query text: two Execute calls against the same
// text can still bind different parameter names (an optional filter
// present in one call and omitted in another), and a planner that ever
// special-cases a missing parameter could legitimately compile a different
// plan for the two. Salting by shape keeps such entries from shadowing
// each other in the cache instead of relying on query text alone staying
// a sufficient key forever.
func ParamShape(paramNames []string) uuid.UUID {
	if len(paramNames) == 0 {
		return paramShapeNamespace
	}
	sorted := make([]string, len(paramNames))
	copy(sorted, paramNames)
	sort.Strings(sorted)
	return uuid.NewSHA1(paramShapeNamespace, []byte(strings.Join(sorted, "\x00")))
}

// HashQuery derives the plan cache key from the query text salted with
// the shape of the parameters bound to this call.
func HashQuery(query string, shape uuid.UUID) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(query)
	_, _ = h.Write(shape[:])
	return h.Sum64()
}

func (p *PlanCache) Get(query string, paramNames []string, currentSchemaVersion uint64) (any, bool) {
	key := HashQuery(query, ParamShape(paramNames))
	entry, ok := p.lru.Get(key)
	if !ok || entry.schemaVersion != currentSchemaVersion {
		p.misses.Add(1)
		return nil, false
	}
	p.hits.Add(1)
	return entry.plan, true
}

func (p *PlanCache) Put(query string, paramNames []string, plan any, schemaVersion uint64) {
	key := HashQuery(query, ParamShape(paramNames))
	if p.lru.Add(key, planEntry{plan: plan, schemaVersion: schemaVersion}) {
		p.evictions.Add(1)
	}
}

// RelCache caches adjacency scan results keyed by (nodeID, typeID,
// direction), each entry expiring after ttl — golang-lru/v2 has no
// native TTL support, so entries carry their own expiry and Get treats
// an expired hit as a miss and evicts it.
type RelCache struct {
	Counters
	lru *lru.Cache[RelCacheKey, relEntry]
	ttl time.Duration
	now func() time.Time
}

type RelCacheKey struct {
	NodeID    uint64
	TypeID    uint32
	Direction uint8
}

type relEntry struct {
	relIDs    []uint64
	expiresAt time.Time
}

func NewRelCache(size int, ttl time.Duration) (*RelCache, error) {
	l, err := lru.New[RelCacheKey, relEntry](size)
	if err != nil {
		return nil, err
	}
	return &RelCache{lru: l, ttl: ttl, now: time.Now}, nil
}

func (r *RelCache) Get(key RelCacheKey) ([]uint64, bool) {
	entry, ok := r.lru.Get(key)
	if !ok {
		r.misses.Add(1)
		return nil, false
	}
	if r.now().After(entry.expiresAt) {
		r.lru.Remove(key)
		r.misses.Add(1)
		r.evictions.Add(1)
		return nil, false
	}
	r.hits.Add(1)
	return entry.relIDs, true
}

func (r *RelCache) Put(key RelCacheKey, relIDs []uint64) {
	entry := relEntry{relIDs: relIDs, expiresAt: r.now().Add(r.ttl)}
	if r.lru.Add(key, entry) {
		r.evictions.Add(1)
	}
}

func (r *RelCache) Invalidate(key RelCacheKey) { r.lru.Remove(key) }
