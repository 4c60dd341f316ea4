package nexus

import (
	"sort"

	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/gvalue"
)

// IndexDescriptor is one explicitly declared property index, named by
// label and property key rather than by their interned catalog ids — the
// shape ListIndexes hands back to a caller who never sees catalog.ID.
type IndexDescriptor struct {
	Label    string
	Property string
	Unique   bool
}

// CreateIndex declares a B-tree index over (label, property) and backfills
// it over every node currently carrying that label: an index created
// against an existing graph must immediately serve lookups, not just
// future writes. Declaring an index that already exists is a no-op
// beyond the backfill, which simply re-inserts entries an Add call
// already tolerates as a no-op overwrite.
func (e *Engine) CreateIndex(label, property string) error {
	labelID := e.catalog.LabelID(label)
	propID := e.catalog.PropertyKeyID(property)
	key := catalog.IndexKey{LabelID: labelID, PropID: propID}

	e.catalog.DeclareIndex(catalog.IndexSpec{Key: key})
	idx := e.propIdx.Create(labelID, propID)

	bm := e.labels.Nodes(labelID)
	if bm == nil {
		return nil
	}
	it := bm.Iterator()
	for it.HasNext() {
		nodeID := uint64(it.Next())
		rec, allocated, err := e.nodes.Get(nodeID)
		if err != nil || !allocated || rec.Tombstone {
			continue
		}
		if rec.PropertyOffset < 0 {
			continue
		}
		blob, _, err := e.props.Read(rec.PropertyOffset)
		if err != nil {
			continue
		}
		props, err := gvalue.UnmarshalProperties(blob)
		if err != nil {
			continue
		}
		if val, ok := props[propID]; ok {
			_ = idx.Add(val, nodeID)
			e.catalog.RecordPropertyValue(labelID, propID, val)
		}
	}
	return nil
}

// DropIndex removes a previously declared index. Existing lookups simply
// fall back to a label scan afterward; no data is lost since the index
// only ever duplicated information already held by the record stores.
func (e *Engine) DropIndex(label, property string) error {
	labelID, ok := e.catalog.LookupLabelID(label)
	if !ok {
		return nil
	}
	propID, ok := e.catalog.LookupPropertyKeyID(property)
	if !ok {
		return nil
	}
	key := catalog.IndexKey{LabelID: labelID, PropID: propID}
	e.catalog.DropIndex(key)
	e.propIdx.Drop(labelID, propID)
	return nil
}

// ListIndexes reports every explicitly declared property index.
func (e *Engine) ListIndexes() []IndexDescriptor {
	specs := e.catalog.AllIndexes()
	out := make([]IndexDescriptor, 0, len(specs))
	for _, spec := range specs {
		labelName, _ := e.catalog.LabelName(spec.Key.LabelID)
		propName, _ := e.catalog.PropertyKeyName(spec.Key.PropID)
		out = append(out, IndexDescriptor{Label: labelName, Property: propName, Unique: spec.Unique})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Property < out[j].Property
	})
	return out
}

// ListLabels reports every label name ever used in the graph, in
// alphabetical order.
func (e *Engine) ListLabels() []string {
	ids := e.catalog.AllLabelIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := e.catalog.LabelName(id); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ListRelationshipTypes reports every relationship type name ever used in
// the graph, in alphabetical order.
func (e *Engine) ListRelationshipTypes() []string {
	ids := e.catalog.AllRelTypeIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := e.catalog.RelTypeName(id); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
