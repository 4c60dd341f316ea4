package executor

import (
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/recordstore"
)

const (
	pageStoreNodes = "nodes"
	pageStoreRels  = "rels"
)

// readNode reads a node record through the page cache: a hit decodes the
// cached raw bytes without touching the store's mmap at all. Every write
// path invalidates the page it touches inside the same staged commit
// closure, so a cached page is never stale past its writer's commit.
func readNode(rt *Runtime, id uint64) (*recordstore.NodeRecord, bool, error) {
	if rt.Pages != nil {
		if buf, ok := rt.Pages.Get(pageStoreNodes, id); ok {
			rec, allocated := recordstore.DecodeNodeRecord(buf)
			return rec, allocated, nil
		}
	}
	var buf [recordstore.NodeRecordSize]byte
	if err := rt.Nodes.ReadRecord(id, buf[:]); err != nil {
		return nil, false, err
	}
	if rt.Pages != nil {
		rt.Pages.Put(pageStoreNodes, id, buf[:])
	}
	rec, allocated := recordstore.DecodeNodeRecord(buf[:])
	return rec, allocated, nil
}

func readRel(rt *Runtime, id uint64) (*recordstore.RelRecord, bool, error) {
	if rt.Pages != nil {
		if buf, ok := rt.Pages.Get(pageStoreRels, id); ok {
			rec, allocated := recordstore.DecodeRelRecord(buf)
			return rec, allocated, nil
		}
	}
	var buf [recordstore.RelRecordSize]byte
	if err := rt.Rels.ReadRecord(id, buf[:]); err != nil {
		return nil, false, err
	}
	if rt.Pages != nil {
		rt.Pages.Put(pageStoreRels, id, buf[:])
	}
	rec, allocated := recordstore.DecodeRelRecord(buf[:])
	return rec, allocated, nil
}

func invalidateNodePage(rt *Runtime, id uint64) {
	if rt.Pages != nil {
		rt.Pages.Invalidate(pageStoreNodes, id)
	}
}

func invalidateRelPage(rt *Runtime, id uint64) {
	if rt.Pages != nil {
		rt.Pages.Invalidate(pageStoreRels, id)
	}
}

// nodeLabelIDs returns every label id a node record carries: the inline
// slots in the common case, or (once the overflow flag is set) a scan of
// every allocated label id against the bitmap index — cheap, since the
// number of distinct labels in a graph is small even when any one label
// has millions of members.
func nodeLabelIDs(rt *Runtime, nodeID uint64, rec *recordstore.NodeRecord) []catalog.ID {
	if !rec.Overflow {
		out := make([]catalog.ID, rec.InlineLabelCount)
		copy(out, rec.InlineLabels[:rec.InlineLabelCount])
		return out
	}
	var out []catalog.ID
	for _, labelID := range rt.Catalog.AllLabelIDs() {
		bm := rt.Labels.Nodes(labelID)
		if bm != nil && bm.Contains(uint32(nodeID)) {
			out = append(out, labelID)
		}
	}
	return out
}

func nodeLabelNames(rt *Runtime, nodeID uint64, rec *recordstore.NodeRecord) []string {
	ids := nodeLabelIDs(rt, nodeID, rec)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := rt.Catalog.LabelName(id); ok {
			out = append(out, name)
		}
	}
	return out
}

// loadNodeProperties decodes a node's property payload, consulting (and
// populating) the object cache first.
func loadNodeProperties(rt *Runtime, nodeID uint64, propertyOffset int64) (gvalue.PropertyMap, error) {
	if rt.NodeObjCache != nil {
		if props, ok := rt.NodeObjCache.Get(nodeID); ok {
			return props, nil
		}
	}
	if propertyOffset < 0 {
		return gvalue.PropertyMap{}, nil
	}
	blob, _, err := rt.Props.Read(propertyOffset)
	if err != nil {
		return nil, err
	}
	props, err := gvalue.UnmarshalProperties(blob)
	if err != nil {
		return nil, err
	}
	if rt.NodeObjCache != nil {
		rt.NodeObjCache.Put(nodeID, props)
	}
	return props, nil
}

func loadRelProperties(rt *Runtime, relID uint64, propertyOffset int64) (gvalue.PropertyMap, error) {
	if rt.RelObjCache != nil {
		if props, ok := rt.RelObjCache.Get(relID); ok {
			return props, nil
		}
	}
	if propertyOffset < 0 {
		return gvalue.PropertyMap{}, nil
	}
	blob, _, err := rt.Props.Read(propertyOffset)
	if err != nil {
		return nil, err
	}
	props, err := gvalue.UnmarshalProperties(blob)
	if err != nil {
		return nil, err
	}
	if rt.RelObjCache != nil {
		rt.RelObjCache.Put(relID, props)
	}
	return props, nil
}

func propsToValueMap(rt *Runtime, props gvalue.PropertyMap) map[string]gvalue.Value {
	out := make(map[string]gvalue.Value, len(props))
	for keyID, v := range props {
		name, ok := rt.Catalog.PropertyKeyName(keyID)
		if !ok {
			continue
		}
		out[name] = v
	}
	return out
}

// nodeValue materializes a node as a displayable gvalue.Map: its id,
// labels and every decoded property, flattened into one map (Nexus has no
// separate "node object" value kind — the property type union is
// the only Value shape, so a node is represented the same way a plain map
// literal would be).
func nodeValue(rt *Runtime, nodeID uint64) (gvalue.Value, error) {
	rec, ok, err := readNode(rt, nodeID)
	if err != nil || !ok {
		return gvalue.Null(), nil
	}
	props, err := loadNodeProperties(rt, nodeID, rec.PropertyOffset)
	if err != nil {
		return gvalue.Value{}, err
	}
	m := propsToValueMap(rt, props)
	m["_id"] = gvalue.Int(int64(nodeID))
	labelVals := make([]gvalue.Value, 0)
	for _, name := range nodeLabelNames(rt, nodeID, rec) {
		labelVals = append(labelVals, gvalue.String(name))
	}
	m["_labels"] = gvalue.List(labelVals)
	return gvalue.Map(m), nil
}

func relValue(rt *Runtime, relID uint64) (gvalue.Value, error) {
	rec, ok, err := readRel(rt, relID)
	if err != nil || !ok {
		return gvalue.Null(), nil
	}
	props, err := loadRelProperties(rt, relID, rec.PropertyOffset)
	if err != nil {
		return gvalue.Value{}, err
	}
	m := propsToValueMap(rt, props)
	m["_id"] = gvalue.Int(int64(relID))
	if name, ok := rt.Catalog.RelTypeName(rec.TypeID); ok {
		m["_type"] = gvalue.String(name)
	}
	m["_src"] = gvalue.Int(int64(rec.SourceID))
	m["_dst"] = gvalue.Int(int64(rec.TargetID))
	return gvalue.Map(m), nil
}
