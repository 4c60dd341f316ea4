// Package adjacency is Nexus's Relationship Adjacency structure: a
// per-node, per-direction list of (type, relationship-id) pairs kept
// sorted by relationship id, with a per-type roaring-bitmap bucketing for
// dense nodes. A per-node sync.RWMutex mirrors btreeindex's per-node
// latch, and "dense" nodes promote their edge list to a roaring bitmap
// exactly the way the label bitmap index already represents large id
// sets, rather than inventing a second compressed-set format.
package adjacency

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/hivellm/nexus/internal/catalog"
)

type edgeRef struct {
	typeID catalog.ID
	relID  uint64
}

// nodeAdjacency holds one node's edges in one direction. Below the dense
// threshold it's a single relID-sorted []edgeRef (the typical case: a
// handful of relationships per node); once it exceeds it, each type's
// relationship ids move into their own roaring bitmap, since a hub node's
// edge list is better represented as a compressed per-type bitmap than a
// flat slice every typed traversal linearly re-scans.
type nodeAdjacency struct {
	mu     sync.RWMutex
	edges  []edgeRef
	dense  bool
	byType map[catalog.ID]*roaring.Bitmap
	typeOf map[uint64]catalog.ID // only populated once dense
}

// Index is the adjacency structure for one direction across all nodes.
type Index struct {
	mu             sync.RWMutex
	byNode         map[uint64]*nodeAdjacency
	denseThreshold int
}

func New(denseThreshold int) *Index {
	return &Index{byNode: make(map[uint64]*nodeAdjacency), denseThreshold: denseThreshold}
}

func (idx *Index) entry(nodeID uint64) *nodeAdjacency {
	idx.mu.RLock()
	na, ok := idx.byNode[nodeID]
	idx.mu.RUnlock()
	if ok {
		return na
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if na, ok := idx.byNode[nodeID]; ok {
		return na
	}
	na = &nodeAdjacency{}
	idx.byNode[nodeID] = na
	return na
}

// Add records relID (of relType) as one of nodeID's edges.
func (idx *Index) Add(nodeID uint64, relType catalog.ID, relID uint64) {
	na := idx.entry(nodeID)
	na.mu.Lock()
	defer na.mu.Unlock()

	if na.dense {
		na.addDense(relType, relID)
		return
	}

	na.edges = append(na.edges, edgeRef{typeID: relType, relID: relID})
	sort.Slice(na.edges, func(i, j int) bool { return na.edges[i].relID < na.edges[j].relID })

	if len(na.edges) > idx.denseThreshold {
		na.promoteLocked()
	}
}

func (na *nodeAdjacency) addDense(relType catalog.ID, relID uint64) {
	bm, ok := na.byType[relType]
	if !ok {
		bm = roaring.New()
		na.byType[relType] = bm
	}
	bm.Add(uint32(relID))
	na.typeOf[relID] = relType
}

func (na *nodeAdjacency) promoteLocked() {
	na.dense = true
	na.byType = make(map[catalog.ID]*roaring.Bitmap)
	na.typeOf = make(map[uint64]catalog.ID)
	for _, e := range na.edges {
		na.addDense(e.typeID, e.relID)
	}
	na.edges = nil
}

// Remove drops relID from nodeID's adjacency.
func (idx *Index) Remove(nodeID uint64, relType catalog.ID, relID uint64) {
	na := idx.entry(nodeID)
	na.mu.Lock()
	defer na.mu.Unlock()

	if na.dense {
		if bm, ok := na.byType[relType]; ok {
			bm.Remove(uint32(relID))
			if bm.IsEmpty() {
				delete(na.byType, relType)
			}
		}
		delete(na.typeOf, relID)
		return
	}

	for i, e := range na.edges {
		if e.relID == relID {
			na.edges = append(na.edges[:i], na.edges[i+1:]...)
			break
		}
	}
}

// Edges returns every relationship id adjacent to nodeID, optionally
// restricted to relType (pass the zero value of catalog.ID with
// anyType=true to mean "all types"). Results are in relID order for
// non-dense nodes and per-type bitmap order for dense ones.
func (idx *Index) Edges(nodeID uint64, relType catalog.ID, anyType bool) []uint64 {
	idx.mu.RLock()
	na, ok := idx.byNode[nodeID]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	na.mu.RLock()
	defer na.mu.RUnlock()

	if na.dense {
		if anyType {
			var out []uint64
			for _, bm := range na.byType {
				it := bm.Iterator()
				for it.HasNext() {
					out = append(out, uint64(it.Next()))
				}
			}
			return out
		}
		bm, ok := na.byType[relType]
		if !ok {
			return nil
		}
		var out []uint64
		it := bm.Iterator()
		for it.HasNext() {
			out = append(out, uint64(it.Next()))
		}
		return out
	}

	var out []uint64
	for _, e := range na.edges {
		if anyType || e.typeID == relType {
			out = append(out, e.relID)
		}
	}
	return out
}

func (idx *Index) Degree(nodeID uint64) int {
	idx.mu.RLock()
	na, ok := idx.byNode[nodeID]
	idx.mu.RUnlock()
	if !ok {
		return 0
	}
	na.mu.RLock()
	defer na.mu.RUnlock()
	if na.dense {
		total := 0
		for _, bm := range na.byType {
			total += int(bm.GetCardinality())
		}
		return total
	}
	return len(na.edges)
}
