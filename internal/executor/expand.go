package executor

import (
	"github.com/hivellm/nexus/internal/cache"
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/cypher"
	"github.com/hivellm/nexus/internal/planner"
)

const (
	relDirOut uint8 = 0
	relDirIn  uint8 = 1
)

// adjacencyIDs reads one direction of a node's incident rel-id list,
// consulting the relationship scan cache when traversal optimisations are
// enabled. Entries are invalidated by every commit that adds or removes
// an edge touching the node, so a hit is never staler than the most
// recent committed mutation.
func adjacencyIDs(rt *Runtime, nodeID uint64, dir uint8) []uint64 {
	idx := rt.AdjOut
	if dir == relDirIn {
		idx = rt.AdjIn
	}
	if !rt.RelOpts || rt.RelScanCache == nil {
		return idx.Edges(nodeID, 0, true)
	}
	key := cache.RelCacheKey{NodeID: nodeID, Direction: dir}
	if ids, ok := rt.RelScanCache.Get(key); ok {
		return ids
	}
	ids := idx.Edges(nodeID, 0, true)
	rt.RelScanCache.Put(key, ids)
	return ids
}

// invalidateAdjacency drops both endpoints' cached scan slices after an
// edge mutation, both directions each (an undirected traversal reads
// either list from either end).
func invalidateAdjacency(rt *Runtime, srcID, dstID uint64) {
	if rt.RelScanCache == nil {
		return
	}
	for _, nodeID := range [2]uint64{srcID, dstID} {
		rt.RelScanCache.Invalidate(cache.RelCacheKey{NodeID: nodeID, Direction: relDirOut})
		rt.RelScanCache.Invalidate(cache.RelCacheKey{NodeID: nodeID, Direction: relDirIn})
	}
}

func execExpand(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}

	anyType := len(op.RelTypes) == 0
	var relTypeIDs []catalog.ID
	if !anyType {
		for _, name := range op.RelTypes {
			id, ok := rt.Catalog.LookupRelTypeID(name)
			if !ok {
				return nil, nil // type never allocated, nothing can match
			}
			relTypeIDs = append(relTypeIDs, id)
		}
	}

	var out []Row
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		start, ok := row[op.FromVar]
		if !ok || start.Kind != BindNode {
			continue
		}
		expanded, err := expandFrom(rt, q, start.NodeID, op, relTypeIDs, anyType, row)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

type edge struct {
	relID, otherID uint64
}

// collectEdges returns nodeID's incident edges for the given traversal
// direction, each paired with the id at the opposite end, filtered to
// visible (non-tombstoned, committed-before-snapshot) relationships whose
// type matches relTypeIDs. The relationship record has to be fetched for
// the visibility check regardless, so the type filter runs against the
// record rather than asking the adjacency index for per-type slices —
// one cached scan per direction serves every type set.
func collectEdges(rt *Runtime, q *Query, nodeID uint64, dir cypher.Direction, relTypeIDs []catalog.ID, anyType bool) []edge {
	var ids []uint64
	switch dir {
	case cypher.DirOut:
		ids = adjacencyIDs(rt, nodeID, relDirOut)
	case cypher.DirIn:
		ids = adjacencyIDs(rt, nodeID, relDirIn)
	default:
		out := adjacencyIDs(rt, nodeID, relDirOut)
		ids = make([]uint64, 0, len(out))
		ids = append(ids, out...)
		ids = append(ids, adjacencyIDs(rt, nodeID, relDirIn)...)
	}

	wantType := make(map[catalog.ID]bool, len(relTypeIDs))
	for _, t := range relTypeIDs {
		wantType[t] = true
	}

	seen := make(map[uint64]bool, len(ids))
	var out []edge
	for _, relID := range ids {
		if seen[relID] {
			continue
		}
		seen[relID] = true
		rec, ok, err := readRel(rt, relID)
		if err != nil || !ok {
			continue
		}
		if !anyType && !wantType[rec.TypeID] {
			continue
		}
		if !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
			continue
		}
		other := rec.TargetID
		if rec.SourceID != nodeID {
			other = rec.SourceID
		}
		out = append(out, edge{relID: relID, otherID: other})
	}
	return out
}

func passesNodeFilter(rt *Runtime, q *Query, nodeID uint64, labels []string) bool {
	rec, ok, err := readNode(rt, nodeID)
	if err != nil || !ok {
		return false
	}
	if !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
		return false
	}
	if len(labels) == 0 {
		return true
	}
	have := make(map[string]bool, len(labels))
	for _, n := range nodeLabelNames(rt, nodeID, rec) {
		have[n] = true
	}
	for _, l := range labels {
		if !have[l] {
			return false
		}
	}
	return true
}

// expandFrom walks a breadth-first frontier from startID out to
// op.MaxHops (an internal 1000-hop safety cap stands in for "unbounded"),
// emitting one row per distinct relationship reached within
// [MinHops, MaxHops] — the Expand-side half of the resolved
// multi-label/relationship-traversal duplication decision: a relationship
// reachable via more than one qualifying path still surfaces once, while
// a target reached through several different relationships yields one
// row per relationship.
func expandFrom(rt *Runtime, q *Query, startID uint64, op *planner.Op, relTypeIDs []catalog.ID, anyType bool, baseRow Row) ([]Row, error) {
	maxHops := op.MaxHops
	if maxHops < 0 || maxHops > 1000 {
		maxHops = 1000
	}

	type frontierNode struct{ nodeID uint64 }
	frontier := []frontierNode{{nodeID: startID}}
	visited := map[uint64]bool{startID: true}
	seenEdge := make(map[uint64]bool)

	var out []Row
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		var next []frontierNode
		for _, fn := range frontier {
			for _, e := range collectEdges(rt, q, fn.nodeID, op.Direction, relTypeIDs, anyType) {
				if hop >= op.MinHops && !seenEdge[e.relID] {
					seenEdge[e.relID] = true
					if passesNodeFilter(rt, q, e.otherID, op.ToLabels) {
						row := baseRow.clone()
						if op.ToVar != "" {
							row[op.ToVar] = Binding{Kind: BindNode, NodeID: e.otherID}
						}
						if op.RelVar != "" {
							row[op.RelVar] = Binding{Kind: BindRel, RelID: e.relID}
						}
						out = append(out, row)
					}
				}
				if !visited[e.otherID] {
					visited[e.otherID] = true
					next = append(next, frontierNode{nodeID: e.otherID})
				}
			}
		}
		frontier = next
	}
	return out, nil
}
