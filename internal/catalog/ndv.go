package catalog

import (
	"sync"

	"github.com/google/btree"

	"github.com/hivellm/nexus/internal/gvalue"
)

// ndvItem adapts a gvalue.Value to google/btree's classic btree.Item
// interface, ordering entries by the same total order gvalue.Value
// already defines instead of reinventing a Less-only one.
type ndvItem struct {
	gvalue.Value
}

func (i ndvItem) Less(than btree.Item) bool {
	return i.Value.Compare(than.(ndvItem).Value) < 0
}

// ndvSketch is an exact number-of-distinct-values count for one
// (label, property key) pair: a google/btree ordered set of every value
// ever observed, whose Len() is the NDV estimate the planner costs
// property-index equality scans with. The set only grows — removing one
// node's value isn't enough to know the value has no other holder
// without a reference count this sketch doesn't keep — so NDV is a
// monotonic upper bound on the true distinct-value count, which is the
// conservative direction for a selectivity estimate to err in.
type ndvSketch struct {
	mu   sync.Mutex
	tree *btree.BTree
}

func newNDVSketch() *ndvSketch {
	return &ndvSketch{tree: btree.New(32)}
}

func (s *ndvSketch) observe(v gvalue.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(ndvItem{v})
}

func (s *ndvSketch) distinctCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.tree.Len())
}

// RecordPropertyValue folds one observed value into the NDV sketch for
// (labelID, keyID), called whenever a write touches an explicitly
// indexed property. Non-indexed properties are never tracked here: NDV
// is only ever consulted to compare a property-index scan's estimated
// selectivity against a label scan's, so there is nothing to estimate
// for a property with no index in the first place.
func (c *Catalog) RecordPropertyValue(labelID, keyID ID, val gvalue.Value) {
	key := IndexKey{LabelID: labelID, PropID: keyID}
	c.ndvMu.Lock()
	if c.ndv == nil {
		c.ndv = make(map[IndexKey]*ndvSketch)
	}
	sk, ok := c.ndv[key]
	if !ok {
		sk = newNDVSketch()
		c.ndv[key] = sk
	}
	c.ndvMu.Unlock()
	sk.observe(val)
}

// NDV returns the number of distinct values observed for (labelID,
// keyID), or 0 if nothing has been recorded yet — an index declared but
// never backfilled or written to.
func (c *Catalog) NDV(labelID, keyID ID) int64 {
	c.ndvMu.Lock()
	sk, ok := c.ndv[IndexKey{LabelID: labelID, PropID: keyID}]
	c.ndvMu.Unlock()
	if !ok {
		return 0
	}
	return sk.distinctCount()
}

// forgetNDV drops the sketch for a dropped index; a recreated index
// starts counting distinct values fresh rather than inheriting stale
// stats from a property that may have been redefined in between.
func (c *Catalog) forgetNDV(key IndexKey) {
	c.ndvMu.Lock()
	delete(c.ndv, key)
	c.ndvMu.Unlock()
}
