package executor

import (
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/gvalue"
)

// RebuildNode reapplies every durable side effect createNode would have
// produced for a node whose record WAL replay has already written: label
// bitmap membership, per-label node counts, property index entries and
// vector index entries. The engine facade's recovery path calls this once
// per surviving node after replaying the log into the record stores,
// since by then the record itself is correct but the in-memory indexes
// built over it are not.
func RebuildNode(rt *Runtime, nodeID uint64, labelIDs []catalog.ID, props gvalue.PropertyMap) {
	for _, lid := range labelIDs {
		rt.Labels.Add(lid, uint32(nodeID))
		rt.Catalog.IncLabelCount(lid, 1)
	}
	rt.Catalog.IncTotalNodes(1)
	maintainPropertyIndexesOnCreate(rt, labelIDs, props, nodeID)
	insertVectorForLabels(rt, labelIDs, nodeID, props)
}

// RebuildRelationship is RebuildNode's counterpart for relationships:
// adjacency membership in both directions plus the per-type rel count.
func RebuildRelationship(rt *Runtime, relID uint64, typeID catalog.ID, srcID, dstID uint64) {
	rt.AdjOut.Add(srcID, typeID, relID)
	rt.AdjIn.Add(dstID, typeID, relID)
	rt.Catalog.IncRelCount(typeID, 1)
}
