package executor

import (
	"fmt"

	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/cypher"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/lockmanager"
	"github.com/hivellm/nexus/internal/nerrors"
	"github.com/hivellm/nexus/internal/planner"
	"github.com/hivellm/nexus/internal/recordstore"
	"github.com/hivellm/nexus/internal/vectorindex"
	"github.com/hivellm/nexus/internal/walog"
)

// DedupeLockKeys collapses repeated (kind, id) pairs — a query that sets
// two properties on the same node, or merges a pattern it already
// matched, would otherwise hand lockmanager.AcquireMultiple the same key
// twice and deadlock locking its own non-reentrant RWMutex a second time.
// The engine facade calls this once over a query's accumulated LockKeys
// right before Tx.Lock, since Tx.Lock itself is a single, non-cumulative
// call (the acquire-multiple primitive assumes a distinct set).
func DedupeLockKeys(keys []lockmanager.Key) []lockmanager.Key {
	seen := make(map[lockmanager.Key]bool, len(keys))
	out := make([]lockmanager.Key, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// evalPropsMap evaluates a pattern's property-literal map into an
// interned PropertyMap, the same payload shape the record property heap
// and WAL entries carry.
func evalPropsMap(rt *Runtime, q *Query, exprs map[string]cypher.Expr, row Row) (gvalue.PropertyMap, error) {
	if len(exprs) == 0 {
		return gvalue.PropertyMap{}, nil
	}
	out := make(gvalue.PropertyMap, len(exprs))
	for name, expr := range exprs {
		val, err := evalExpr(expr, row, q.Params, rt, q)
		if err != nil {
			return nil, err
		}
		out[rt.Catalog.PropertyKeyID(name)] = val
	}
	return out, nil
}

func firstVector(props gvalue.PropertyMap) ([]float32, bool) {
	for _, v := range props {
		if v.Kind() == gvalue.KindVector {
			return v.AsVector(), true
		}
	}
	return nil, false
}

// vectorIndexFor lazily materializes the per-label HNSW index the first
// time a node carrying that label writes a vector-valued property —
// The on-disk layout reserves one KNN index file per label, but the
// accepted Cypher subset has no CREATE VECTOR INDEX clause to
// make that explicit, so "applicable" is resolved at write time instead
// of through a schema statement, unlike the property B-tree index's
// explicit-only resolution (SPEC_FULL.md Open Question 3).
func vectorIndexFor(rt *Runtime, labelID catalog.ID, dim int) *vectorindex.Index {
	rt.VectorsMu.RLock()
	idx, ok := rt.Vectors[labelID]
	rt.VectorsMu.RUnlock()
	if ok {
		return idx
	}
	rt.VectorsMu.Lock()
	defer rt.VectorsMu.Unlock()
	if idx, ok := rt.Vectors[labelID]; ok {
		return idx
	}
	cfg := rt.VectorCfg
	cfg.Dim = dim
	if rt.Vectors == nil {
		rt.Vectors = make(map[catalog.ID]*vectorindex.Index)
	}
	idx = vectorindex.New(cfg, int64(labelID))
	rt.Vectors[labelID] = idx
	return idx
}

func insertVectorForLabels(rt *Runtime, labelIDs []catalog.ID, nodeID uint64, props gvalue.PropertyMap) {
	vec, ok := firstVector(props)
	if !ok {
		return
	}
	for _, lid := range labelIDs {
		vectorIndexFor(rt, lid, len(vec)).Insert(nodeID, vec)
	}
}

func removeVectorForLabels(rt *Runtime, labelIDs []catalog.ID, nodeID uint64) {
	rt.VectorsMu.RLock()
	defer rt.VectorsMu.RUnlock()
	for _, lid := range labelIDs {
		if idx, ok := rt.Vectors[lid]; ok {
			idx.Remove(nodeID)
		}
	}
}

func maintainPropertyIndexesOnCreate(rt *Runtime, labelIDs []catalog.ID, props gvalue.PropertyMap, nodeID uint64) {
	for _, lid := range labelIDs {
		for keyID, val := range props {
			if idx, ok := rt.PropIdx.Lookup(lid, keyID); ok {
				_ = idx.Add(val, nodeID)
				rt.Catalog.RecordPropertyValue(lid, keyID, val)
			}
		}
	}
}

func maintainPropertyIndexesOnDelete(rt *Runtime, labelIDs []catalog.ID, props gvalue.PropertyMap, nodeID uint64) {
	for _, lid := range labelIDs {
		for keyID, val := range props {
			if idx, ok := rt.PropIdx.Lookup(lid, keyID); ok {
				idx.Remove(val, nodeID)
			}
		}
	}
}

// ---- CREATE -----------------------------------------------------------

// execCreate runs op.CreatePattern once per driving row. A CREATE with no
// MATCH before it drives off the single seeded empty row; a CREATE fed by
// a MATCH that produced zero rows correctly creates nothing at all
// (SPEC_FULL.md Open Question 1) because there is simply no row to loop
// over here.
func execCreate(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		cur := row.clone()
		for _, part := range op.CreatePattern {
			if err := createPatternPart(rt, q, part, cur); err != nil {
				return nil, err
			}
		}
		out = append(out, cur)
	}
	return out, nil
}

// createPatternPart walks one comma-separated CREATE pattern left to
// right, reusing any node variable the row already binds (e.g. the
// anchor of `MATCH (a) CREATE (a)-[:KNOWS]->(b:Person)`) and creating a
// fresh node for every other pattern slot.
func createPatternPart(rt *Runtime, q *Query, part cypher.PatternPart, row Row) error {
	prevID, err := resolveOrCreateNode(rt, q, part.Start, row)
	if err != nil {
		return err
	}
	for _, step := range part.Steps {
		toID, err := resolveOrCreateNode(rt, q, step.Node, row)
		if err != nil {
			return err
		}
		relID, err := createRelationship(rt, q, prevID, toID, step.Rel, row)
		if err != nil {
			return err
		}
		if step.Rel.Variable != "" {
			row[step.Rel.Variable] = Binding{Kind: BindRel, RelID: relID}
		}
		prevID = toID
	}
	return nil
}

func resolveOrCreateNode(rt *Runtime, q *Query, np cypher.NodePattern, row Row) (uint64, error) {
	if np.Variable != "" {
		if b, ok := row[np.Variable]; ok && b.Kind == BindNode {
			return b.NodeID, nil
		}
	}
	return createNode(rt, q, np, row)
}

// createNode allocates a node id immediately (ids are never reused, so
// handing one out ahead of commit is safe even if the transaction later
// rolls back) and stages the record write, index updates and counters to
// apply once the transaction durably commits.
func createNode(rt *Runtime, q *Query, np cypher.NodePattern, row Row) (uint64, error) {
	id, err := rt.Nodes.AllocateID()
	if err != nil {
		return 0, err
	}
	q.LockKeys = append(q.LockKeys, lockmanager.Key{Kind: lockmanager.KindNode, ID: id})

	labelIDs := rt.Catalog.LabelIDs(np.Labels)

	props, err := evalPropsMap(rt, q, np.Properties, row)
	if err != nil {
		return 0, err
	}
	propsBlob, err := gvalue.MarshalProperties(props)
	if err != nil {
		return 0, err
	}

	q.WalEntries = append(q.WalEntries, func(epoch uint64) *walog.Entry {
		payload, _ := walog.EncodeNodePut(walog.NodePutPayload{NodeID: id, Labels: labelIDs, Props: propsBlob})
		return walog.NewEntry(walog.EntryPutNode, epoch, payload)
	})

	q.Tx.Stage(func() error {
		epoch := q.Tx.CommitEpoch()
		propOffset := int64(-1)
		if len(props) > 0 {
			off, err := rt.Props.Write(propsBlob, epoch, -1)
			if err != nil {
				return err
			}
			propOffset = off
		}
		rec := &recordstore.NodeRecord{CreateEpoch: epoch, PropertyOffset: propOffset}
		if len(labelIDs) <= 4 {
			rec.InlineLabelCount = uint8(len(labelIDs))
			copy(rec.InlineLabels[:], labelIDs)
		} else {
			rec.Overflow = true
		}
		if err := rt.Nodes.Put(id, rec); err != nil {
			return err
		}
		for _, lid := range labelIDs {
			rt.Labels.Add(lid, uint32(id))
			rt.Catalog.IncLabelCount(lid, 1)
		}
		rt.Catalog.IncTotalNodes(1)
		maintainPropertyIndexesOnCreate(rt, labelIDs, props, id)
		insertVectorForLabels(rt, labelIDs, id, props)
		invalidateNodePage(rt, id)
		if rt.NodeObjCache != nil {
			rt.NodeObjCache.Put(id, props)
		}
		q.Stats.NodesCreated++
		return nil
	})

	if np.Variable != "" {
		row[np.Variable] = Binding{Kind: BindNode, NodeID: id}
	}
	return id, nil
}

// createRelationship honours the pattern's arrow direction when deciding
// source/target; an either-direction arrow (only reachable via a
// relationship pattern with no arrowhead, which the parser accepts for
// MATCH but Cypher never uses for CREATE) is treated as outgoing from the
// left node, the same default Cypher itself uses.
func createRelationship(rt *Runtime, q *Query, prevID, toID uint64, rp cypher.RelPattern, row Row) (uint64, error) {
	if len(rp.Types) != 1 {
		return 0, &nerrors.PlanError{Message: "CREATE relationship pattern must specify exactly one type"}
	}
	typeID := rt.Catalog.RelTypeID(rp.Types[0])
	srcID, dstID := prevID, toID
	if rp.Direction == cypher.DirIn {
		srcID, dstID = toID, prevID
	}

	relID, err := rt.Rels.AllocateID()
	if err != nil {
		return 0, err
	}
	q.LockKeys = append(q.LockKeys, lockmanager.Key{Kind: lockmanager.KindRel, ID: relID})

	props, err := evalPropsMap(rt, q, rp.Properties, row)
	if err != nil {
		return 0, err
	}
	propsBlob, err := gvalue.MarshalProperties(props)
	if err != nil {
		return 0, err
	}

	q.WalEntries = append(q.WalEntries, func(epoch uint64) *walog.Entry {
		payload, _ := walog.EncodeRelPut(walog.RelPutPayload{
			RelID: relID, TypeID: typeID, Source: srcID, Target: dstID, Props: propsBlob,
		})
		return walog.NewEntry(walog.EntryPutRel, epoch, payload)
	})

	q.Tx.Stage(func() error {
		epoch := q.Tx.CommitEpoch()
		propOffset := int64(-1)
		if len(props) > 0 {
			off, err := rt.Props.Write(propsBlob, epoch, -1)
			if err != nil {
				return err
			}
			propOffset = off
		}
		rec := &recordstore.RelRecord{
			CreateEpoch: epoch, TypeID: typeID, SourceID: srcID, TargetID: dstID, PropertyOffset: propOffset,
		}
		if err := rt.Rels.Put(relID, rec); err != nil {
			return err
		}
		rt.AdjOut.Add(srcID, typeID, relID)
		rt.AdjIn.Add(dstID, typeID, relID)
		rt.Catalog.IncRelCount(typeID, 1)
		invalidateRelPage(rt, relID)
		invalidateAdjacency(rt, srcID, dstID)
		if rt.RelObjCache != nil {
			rt.RelObjCache.Put(relID, props)
		}
		q.Stats.RelsCreated++
		return nil
	})

	return relID, nil
}

// ---- DELETE -------------------------------------------------------------

func execDelete(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		for _, ve := range op.DeleteVars {
			v, ok := ve.(cypher.Variable)
			if !ok {
				return nil, &nerrors.PlanError{Message: "DELETE target must be a variable"}
			}
			b, ok := row[v.Name]
			if !ok {
				continue
			}
			switch b.Kind {
			case BindNode:
				if err := deleteNode(rt, q, b.NodeID, op.DeleteDetach); err != nil {
					return nil, err
				}
			case BindRel:
				if err := deleteRelationship(rt, q, b.RelID); err != nil {
					return nil, err
				}
			}
		}
	}
	return rows, nil
}

func deleteRelationship(rt *Runtime, q *Query, relID uint64) error {
	rec, ok, err := readRel(rt, relID)
	if err != nil {
		return err
	}
	if !ok || !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
		return nil
	}
	q.LockKeys = append(q.LockKeys, lockmanager.Key{Kind: lockmanager.KindRel, ID: relID})
	q.WalEntries = append(q.WalEntries, func(epoch uint64) *walog.Entry {
		payload, _ := walog.EncodeTombstone(relID)
		return walog.NewEntry(walog.EntryDelRel, epoch, payload)
	})
	q.Tx.Stage(func() error {
		epoch := q.Tx.CommitEpoch()
		rec.Tombstone = true
		rec.DeleteEpoch = epoch
		if err := rt.Rels.Put(relID, rec); err != nil {
			return err
		}
		rt.AdjOut.Remove(rec.SourceID, rec.TypeID, relID)
		rt.AdjIn.Remove(rec.TargetID, rec.TypeID, relID)
		rt.Catalog.IncRelCount(rec.TypeID, -1)
		invalidateRelPage(rt, relID)
		invalidateAdjacency(rt, rec.SourceID, rec.TargetID)
		if rec.PropertyOffset >= 0 {
			_ = rt.Props.Tombstone(rec.PropertyOffset, epoch)
		}
		if rt.RelObjCache != nil {
			rt.RelObjCache.Remove(relID)
		}
		q.Stats.RelsDeleted++
		return nil
	})
	return nil
}

// deleteNode requires DETACH when the node still has incident edges,
// mirroring Cypher's own refusal to orphan a dangling relationship
// record; DETACH DELETE removes every incident edge first, in the same
// staged order so a replayed WAL never applies the node's tombstone
// before its edges'.
func deleteNode(rt *Runtime, q *Query, nodeID uint64, detach bool) error {
	rec, ok, err := readNode(rt, nodeID)
	if err != nil {
		return err
	}
	if !ok || !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
		return nil
	}

	out := rt.AdjOut.Edges(nodeID, 0, true)
	in := rt.AdjIn.Edges(nodeID, 0, true)
	if len(out)+len(in) > 0 {
		if !detach {
			return &nerrors.ConstraintViolationError{
				Constraint: "delete_requires_detach",
				Detail:     fmt.Sprintf("node %d still has relationships attached", nodeID),
			}
		}
		for _, relID := range out {
			if err := deleteRelationship(rt, q, relID); err != nil {
				return err
			}
		}
		for _, relID := range in {
			if err := deleteRelationship(rt, q, relID); err != nil {
				return err
			}
		}
	}

	labelIDs := nodeLabelIDs(rt, nodeID, rec)
	q.LockKeys = append(q.LockKeys, lockmanager.Key{Kind: lockmanager.KindNode, ID: nodeID})
	q.WalEntries = append(q.WalEntries, func(epoch uint64) *walog.Entry {
		payload, _ := walog.EncodeTombstone(nodeID)
		return walog.NewEntry(walog.EntryDelNode, epoch, payload)
	})

	q.Tx.Stage(func() error {
		epoch := q.Tx.CommitEpoch()
		if rec.PropertyOffset >= 0 {
			if props, err := loadNodeProperties(rt, nodeID, rec.PropertyOffset); err == nil {
				maintainPropertyIndexesOnDelete(rt, labelIDs, props, nodeID)
			}
			_ = rt.Props.Tombstone(rec.PropertyOffset, epoch)
		}
		rec.Tombstone = true
		rec.DeleteEpoch = epoch
		if err := rt.Nodes.Put(nodeID, rec); err != nil {
			return err
		}
		for _, lid := range labelIDs {
			rt.Labels.Remove(lid, uint32(nodeID))
			rt.Catalog.IncLabelCount(lid, -1)
		}
		rt.Catalog.IncTotalNodes(-1)
		removeVectorForLabels(rt, labelIDs, nodeID)
		invalidateNodePage(rt, nodeID)
		if rt.NodeObjCache != nil {
			rt.NodeObjCache.Remove(nodeID)
		}
		q.Stats.NodesDeleted++
		return nil
	})
	return nil
}

// ---- SET ----------------------------------------------------------------

func execSetProperties(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		for _, item := range op.SetItems {
			if err := applySetItem(rt, q, item, row); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

func applySetItem(rt *Runtime, q *Query, item cypher.SetItem, row Row) error {
	pa, ok := item.Target.(cypher.PropertyAccess)
	if !ok {
		return &nerrors.PlanError{Message: "SET target must be a property access"}
	}
	v, ok := pa.Target.(cypher.Variable)
	if !ok {
		return &nerrors.PlanError{Message: "SET target must reference a bound variable"}
	}
	b, ok := row[v.Name]
	if !ok {
		return &nerrors.PlanError{Message: fmt.Sprintf("SET references unbound variable %q", v.Name)}
	}
	val, err := evalExpr(item.Value, row, q.Params, rt, q)
	if err != nil {
		return err
	}
	switch b.Kind {
	case BindNode:
		return setNodeProperty(rt, q, b.NodeID, pa.Key, val)
	case BindRel:
		return setRelProperty(rt, q, b.RelID, pa.Key, val)
	default:
		return &nerrors.PlanError{Message: fmt.Sprintf("SET target %q is not a node or relationship", v.Name)}
	}
}

func setNodeProperty(rt *Runtime, q *Query, nodeID uint64, keyName string, val gvalue.Value) error {
	rec, ok, err := readNode(rt, nodeID)
	if err != nil {
		return err
	}
	if !ok || !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
		return &nerrors.NotFoundError{What: "node", ID: fmt.Sprintf("%d", nodeID)}
	}
	props, err := loadNodeProperties(rt, nodeID, rec.PropertyOffset)
	if err != nil {
		return err
	}
	keyID := rt.Catalog.PropertyKeyID(keyName)
	old, hadOld := props[keyID]
	updated := make(gvalue.PropertyMap, len(props)+1)
	for k, v := range props {
		updated[k] = v
	}
	updated[keyID] = val
	propsBlob, err := gvalue.MarshalProperties(updated)
	if err != nil {
		return err
	}
	labelIDs := nodeLabelIDs(rt, nodeID, rec)

	q.LockKeys = append(q.LockKeys, lockmanager.Key{Kind: lockmanager.KindNode, ID: nodeID})
	q.WalEntries = append(q.WalEntries, func(epoch uint64) *walog.Entry {
		payload, _ := walog.EncodeNodePut(walog.NodePutPayload{NodeID: nodeID, Labels: labelIDs, Props: propsBlob})
		return walog.NewEntry(walog.EntryPutNode, epoch, payload)
	})

	q.Tx.Stage(func() error {
		epoch := q.Tx.CommitEpoch()
		oldOffset := rec.PropertyOffset
		off, err := rt.Props.Write(propsBlob, epoch, oldOffset)
		if err != nil {
			return err
		}
		if oldOffset >= 0 {
			_ = rt.Props.Tombstone(oldOffset, epoch)
		}
		rec.PropertyOffset = off
		if err := rt.Nodes.Put(nodeID, rec); err != nil {
			return err
		}
		for _, lid := range labelIDs {
			if idx, ok := rt.PropIdx.Lookup(lid, keyID); ok {
				if hadOld {
					idx.Remove(old, nodeID)
				}
				_ = idx.Add(val, nodeID)
				rt.Catalog.RecordPropertyValue(lid, keyID, val)
			}
		}
		if val.Kind() == gvalue.KindVector {
			insertVectorForLabels(rt, labelIDs, nodeID, updated)
		}
		invalidateNodePage(rt, nodeID)
		if rt.NodeObjCache != nil {
			rt.NodeObjCache.Put(nodeID, updated)
		}
		q.Stats.PropsSet++
		return nil
	})
	return nil
}

func setRelProperty(rt *Runtime, q *Query, relID uint64, keyName string, val gvalue.Value) error {
	rec, ok, err := readRel(rt, relID)
	if err != nil {
		return err
	}
	if !ok || !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
		return &nerrors.NotFoundError{What: "relationship", ID: fmt.Sprintf("%d", relID)}
	}
	props, err := loadRelProperties(rt, relID, rec.PropertyOffset)
	if err != nil {
		return err
	}
	keyID := rt.Catalog.PropertyKeyID(keyName)
	updated := make(gvalue.PropertyMap, len(props)+1)
	for k, v := range props {
		updated[k] = v
	}
	updated[keyID] = val
	propsBlob, err := gvalue.MarshalProperties(updated)
	if err != nil {
		return err
	}

	q.LockKeys = append(q.LockKeys, lockmanager.Key{Kind: lockmanager.KindRel, ID: relID})
	q.WalEntries = append(q.WalEntries, func(epoch uint64) *walog.Entry {
		payload, _ := walog.EncodeRelPut(walog.RelPutPayload{
			RelID: relID, TypeID: rec.TypeID, Source: rec.SourceID, Target: rec.TargetID, Props: propsBlob,
		})
		return walog.NewEntry(walog.EntryPutRel, epoch, payload)
	})

	q.Tx.Stage(func() error {
		epoch := q.Tx.CommitEpoch()
		oldOffset := rec.PropertyOffset
		off, err := rt.Props.Write(propsBlob, epoch, oldOffset)
		if err != nil {
			return err
		}
		if oldOffset >= 0 {
			_ = rt.Props.Tombstone(oldOffset, epoch)
		}
		rec.PropertyOffset = off
		if err := rt.Rels.Put(relID, rec); err != nil {
			return err
		}
		invalidateRelPage(rt, relID)
		if rt.RelObjCache != nil {
			rt.RelObjCache.Put(relID, updated)
		}
		q.Stats.PropsSet++
		return nil
	})
	return nil
}

// ---- FOREACH --------------------------------------------------------------

// execForeach evaluates op.ForeachList once per input row and runs the
// body once per list element, with the element bound to op.ForeachVar.
// The body's own operator tree is planned exactly like a standalone
// query's first clause (see the planner's buildClause for ForeachClause),
// so its leaf seeds from q.seedRow via the foreachSeeds stack rather than
// from a fresh empty row.
func execForeach(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		listVal, err := evalExpr(op.ForeachList, row, q.Params, rt, q)
		if err != nil {
			return nil, err
		}
		if listVal.Kind() != gvalue.KindList {
			continue
		}
		for _, item := range listVal.AsList() {
			iterRow := row.clone()
			iterRow[op.ForeachVar] = Binding{Kind: BindValue, Value: item}
			for _, inner := range op.ForeachOps {
				q.foreachSeeds = append(q.foreachSeeds, iterRow)
				_, err := dispatch(rt, q, inner)
				q.foreachSeeds = q.foreachSeeds[:len(q.foreachSeeds)-1]
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return rows, nil
}

// ---- MERGE ----------------------------------------------------------------

// execMerge matches op.MergePattern against the live graph; every match
// gets MergeOnMatch applied, and if there were no matches at all the
// pattern is created fresh and MergeOnCreate applied instead. Unlike
// MATCH, MERGE's own matching has to run inline here rather than through
// a planner-built Op subtree, since the planner only carries the raw
// pattern for this clause (MergePattern is cypher.PatternPart, not
// planner.Op) — matchMergePattern reimplements the label/property/
// adjacency lookups MATCH's scan operators use, scoped to the single
// pattern a MERGE clause can carry.
func execMerge(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		matches, err := matchMergePattern(rt, q, op.MergePattern, row)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			for _, m := range matches {
				for _, item := range op.MergeOnMatch {
					if err := applySetItem(rt, q, item, m); err != nil {
						return nil, err
					}
				}
				out = append(out, m)
			}
			continue
		}
		created := row.clone()
		if err := createPatternPart(rt, q, op.MergePattern, created); err != nil {
			return nil, err
		}
		for _, item := range op.MergeOnCreate {
			if err := applySetItem(rt, q, item, created); err != nil {
				return nil, err
			}
		}
		out = append(out, created)
	}
	return out, nil
}

type mergeCandidate struct {
	row Row
	id  uint64
}

func matchMergePattern(rt *Runtime, q *Query, part cypher.PatternPart, row Row) ([]Row, error) {
	startIDs, err := candidateNodes(rt, q, part.Start, row)
	if err != nil {
		return nil, err
	}
	cur := make([]mergeCandidate, 0, len(startIDs))
	for _, id := range startIDs {
		m := row.clone()
		if part.Start.Variable != "" {
			m[part.Start.Variable] = Binding{Kind: BindNode, NodeID: id}
		}
		cur = append(cur, mergeCandidate{row: m, id: id})
	}

	for _, step := range part.Steps {
		anyType := len(step.Rel.Types) == 0
		relTypeIDs := relTypeIDsFor(rt, step.Rel.Types)
		var next []mergeCandidate
		for _, c := range cur {
			if err := checkCancel(q.Ctx); err != nil {
				return nil, err
			}
			for _, e := range collectEdges(rt, q, c.id, step.Rel.Direction, relTypeIDs, anyType) {
				if !passesNodeFilter(rt, q, e.otherID, step.Node.Labels) {
					continue
				}
				if !nodeMatchesProperties(rt, q, e.otherID, step.Node.Properties, c.row) {
					continue
				}
				m := c.row.clone()
				if step.Rel.Variable != "" {
					m[step.Rel.Variable] = Binding{Kind: BindRel, RelID: e.relID}
				}
				if step.Node.Variable != "" {
					m[step.Node.Variable] = Binding{Kind: BindNode, NodeID: e.otherID}
				}
				next = append(next, mergeCandidate{row: m, id: e.otherID})
			}
		}
		cur = next
	}

	out := make([]Row, 0, len(cur))
	for _, c := range cur {
		out = append(out, c.row)
	}
	return out, nil
}

func candidateNodes(rt *Runtime, q *Query, np cypher.NodePattern, row Row) ([]uint64, error) {
	if np.Variable != "" {
		if b, ok := row[np.Variable]; ok && b.Kind == BindNode {
			if nodeMatchesProperties(rt, q, b.NodeID, np.Properties, row) {
				return []uint64{b.NodeID}, nil
			}
			return nil, nil
		}
	}

	var base []uint64
	if len(np.Labels) > 0 {
		labelIDs := make([]uint32, 0, len(np.Labels))
		for _, name := range np.Labels {
			id, ok := rt.Catalog.LookupLabelID(name)
			if !ok {
				return nil, nil
			}
			labelIDs = append(labelIDs, id)
		}
		bm := rt.Labels.And(labelIDs...)
		if bm == nil {
			return nil, nil
		}
		it := bm.Iterator()
		for it.HasNext() {
			base = append(base, uint64(it.Next()))
		}
	} else {
		next := rt.Nodes.NextID()
		for id := uint64(0); id < next; id++ {
			base = append(base, id)
		}
	}

	out := make([]uint64, 0, len(base))
	for _, id := range base {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		rec, ok, err := readNode(rt, id)
		if err != nil || !ok {
			continue
		}
		if !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
			continue
		}
		if !nodeMatchesProperties(rt, q, id, np.Properties, row) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func nodeMatchesProperties(rt *Runtime, q *Query, nodeID uint64, props map[string]cypher.Expr, row Row) bool {
	if len(props) == 0 {
		return true
	}
	rec, ok, err := readNode(rt, nodeID)
	if err != nil || !ok {
		return false
	}
	loaded, err := loadNodeProperties(rt, nodeID, rec.PropertyOffset)
	if err != nil {
		return false
	}
	for name, expr := range props {
		keyID, ok := rt.Catalog.LookupPropertyKeyID(name)
		if !ok {
			return false
		}
		want, err := evalExpr(expr, row, q.Params, rt, q)
		if err != nil {
			return false
		}
		got, ok := loaded[keyID]
		if !ok || got.Compare(want) != 0 {
			return false
		}
	}
	return true
}

func relTypeIDsFor(rt *Runtime, types []string) []catalog.ID {
	if len(types) == 0 {
		return nil
	}
	out := make([]catalog.ID, 0, len(types))
	for _, name := range types {
		if id, ok := rt.Catalog.LookupRelTypeID(name); ok {
			out = append(out, id)
		}
	}
	return out
}
