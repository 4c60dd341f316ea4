// Package propindex is Nexus's Property B-tree Index: one
// btreeindex.Tree per explicitly created (label, property
// key) pair, keyed on a composite (label, key, value, node) tuple so that
// many nodes sharing one property value each get their own leaf entry —
// the underlying tree maps one key to one dataPtr, so the node id is
// folded into the key itself rather than the tree gaining a one-to-many
// value type it was never built for.
package propindex

import (
	"sync"

	"github.com/hivellm/nexus/internal/btreeindex"
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/gvalue"
)

// compositeKey orders first by label, then key, then property value, then
// node id — so a range scan fixing (label, key, value) visits every node
// holding that value contiguously, and a full scan over (label, key)
// alone visits entries in property-value order.
type compositeKey struct {
	label catalog.ID
	key   catalog.ID
	value gvalue.Value
	node  uint64
}

func (k compositeKey) Compare(other gvalue.Comparable) int {
	o, ok := other.(compositeKey)
	if !ok {
		return 0
	}
	if k.label != o.label {
		if k.label < o.label {
			return -1
		}
		return 1
	}
	if k.key != o.key {
		if k.key < o.key {
			return -1
		}
		return 1
	}
	if c := k.value.Compare(o.value); c != 0 {
		return c
	}
	if k.node != o.node {
		if k.node < o.node {
			return -1
		}
		return 1
	}
	return 0
}

// Index is one explicit (label, key) property index.
type Index struct {
	Label catalog.ID
	Key   catalog.ID
	tree  *btreeindex.Tree
}

func New(label, key catalog.ID) *Index {
	return &Index{Label: label, Key: key, tree: btreeindex.New(32)}
}

// Tree exposes the underlying teacher-style tree. Persistence does not go
// through it: SaveAll writes the (value, node) pairs Snapshot returns.
func (idx *Index) Tree() *btreeindex.Tree { return idx.tree }

// Add records that nodeID carries value for this index's (label, key).
func (idx *Index) Add(value gvalue.Value, nodeID uint64) error {
	return idx.tree.Insert(compositeKey{label: idx.Label, key: idx.Key, value: value, node: nodeID}, int64(nodeID))
}

// Remove drops nodeID's entry for value.
func (idx *Index) Remove(value gvalue.Value, nodeID uint64) bool {
	return idx.tree.Delete(compositeKey{label: idx.Label, key: idx.Key, value: value, node: nodeID})
}

// Equals returns every node id holding exactly value.
func (idx *Index) Equals(value gvalue.Value) []uint64 {
	var out []uint64
	c := btreeindex.NewCursor(idx.tree)
	defer c.Close()
	start := compositeKey{label: idx.Label, key: idx.Key, value: value, node: 0}
	for c.Seek(start); c.Valid(); c.Next() {
		ck, ok := c.Key().(compositeKey)
		if !ok || ck.label != idx.Label || ck.key != idx.Key {
			break
		}
		if ck.value.Compare(value) != 0 {
			break
		}
		out = append(out, uint64(c.Value()))
	}
	return out
}

// Range returns every node id whose value satisfies pred, scanning the
// whole (label,key) span in value order; pred is the planner's pushed-down
// predicate (e.g. "> x"), evaluated against each distinct stored value.
func (idx *Index) Range(from gvalue.Value, includeFrom bool, pred func(gvalue.Value) bool) []uint64 {
	var out []uint64
	c := btreeindex.NewCursor(idx.tree)
	defer c.Close()
	start := compositeKey{label: idx.Label, key: idx.Key, value: from, node: 0}
	for c.Seek(start); c.Valid(); c.Next() {
		ck, ok := c.Key().(compositeKey)
		if !ok || ck.label != idx.Label || ck.key != idx.Key {
			break
		}
		if !includeFrom && ck.value.Compare(from) == 0 {
			continue
		}
		if pred == nil || pred(ck.value) {
			out = append(out, uint64(c.Value()))
		}
	}
	return out
}

// Registry holds every explicitly created property index, keyed by
// (label, key) — mirroring catalog.IndexSpec's identity. The map itself
// is mutated by schema operations while queries look indexes up, so the
// registry carries its own lock; each Index's tree has its own latching.
type Registry struct {
	mu    sync.RWMutex
	byKey map[catalog.IndexKey]*Index
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[catalog.IndexKey]*Index)}
}

func (r *Registry) Create(label, key catalog.ID) *Index {
	k := catalog.IndexKey{LabelID: label, PropID: key}
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byKey[k]; ok {
		return idx
	}
	idx := New(label, key)
	r.byKey[k] = idx
	return idx
}

func (r *Registry) Lookup(label, key catalog.ID) (*Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byKey[catalog.IndexKey{LabelID: label, PropID: key}]
	return idx, ok
}

func (r *Registry) Drop(label, key catalog.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, catalog.IndexKey{LabelID: label, PropID: key})
}

// All returns a point-in-time copy of the registry's contents.
func (r *Registry) All() map[catalog.IndexKey]*Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[catalog.IndexKey]*Index, len(r.byKey))
	for k, v := range r.byKey {
		out[k] = v
	}
	return out
}
