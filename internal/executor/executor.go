// Package executor pulls rows through a planner.Op tree.
// Rather than a true per-row coroutine pipeline, each operator evaluates
// its whole input batch at once and returns a materialized []Row — a
// pragmatic simplification of a single-pass cursor style chosen so every
// operator stays a small, independently testable function; a cancellation
// check still runs between rows inside each operator body, so a query
// that blows its deadline stops promptly even without true laziness.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hivellm/nexus/internal/adjacency"
	"github.com/hivellm/nexus/internal/cache"
	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/labelindex"
	"github.com/hivellm/nexus/internal/lockmanager"
	"github.com/hivellm/nexus/internal/nerrors"
	"github.com/hivellm/nexus/internal/planner"
	"github.com/hivellm/nexus/internal/propheap"
	"github.com/hivellm/nexus/internal/propindex"
	"github.com/hivellm/nexus/internal/recordstore"
	"github.com/hivellm/nexus/internal/txn"
	"github.com/hivellm/nexus/internal/vectorindex"
	"github.com/hivellm/nexus/internal/walog"
)

// Runtime bundles every storage component a query touches — the engine
// facade owns one Runtime and hands it to every Execute call, so each
// operator's execution context carries a reference to the shared engine.
type Runtime struct {
	Log *zap.Logger

	Catalog *catalog.Catalog
	Nodes   *recordstore.NodeStore
	Rels    *recordstore.RelStore
	Props   *propheap.Heap
	Labels  *labelindex.Index
	AdjOut  *adjacency.Index
	AdjIn   *adjacency.Index
	PropIdx *propindex.Registry
	Vectors   map[catalog.ID]*vectorindex.Index
	VectorsMu sync.RWMutex
	VectorCfg vectorindex.Config
	Locks     *lockmanager.Manager
	TxMgr     *txn.Manager

	NodeObjCache *cache.ObjectCache[uint64, gvalue.PropertyMap]
	RelObjCache  *cache.ObjectCache[uint64, gvalue.PropertyMap]
	RelScanCache *cache.RelCache
	Pages        *cache.PageCache

	// RelOpts mirrors the enable_relationship_optimizations config toggle:
	// when false the adjacency scan cache is bypassed entirely and every
	// traversal reads the adjacency index directly.
	RelOpts bool
}

// Stats accumulates the per-query write counters a ResultSet reports
// (nodes/rels created or deleted, properties set). Read-only queries
// leave it zeroed.
type Stats struct {
	NodesCreated int64
	NodesDeleted int64
	RelsCreated  int64
	RelsDeleted  int64
	PropsSet     int64
}

// Query carries one Execute call's transaction, deadline and parameters.
// Write queries accumulate their row locks and WAL entries here rather
// than acquiring/writing as each operator runs: every lock must be held
// before the commit's WAL write, and the whole mutation batch must be
// durable in one WAL write, so a write op only stages what it would do
// and the engine facade drives Lock/Commit once the full operator tree
// has executed.
type Query struct {
	Ctx    context.Context
	Tx     *txn.Tx
	Params map[string]gvalue.Value
	Write  bool

	Stats      Stats
	LockKeys   []lockmanager.Key
	WalEntries []func(epoch uint64) *walog.Entry

	// foreachSeeds is a stack of the row each nested FOREACH iteration is
	// currently running its body against. A FOREACH body's update clauses
	// plan the same way a standalone query's first clause does — an Input
	// of nil, or an explicit KindSingleRow leaf — which ordinarily seeds
	// one empty row; inside a FOREACH that leaf must instead seed the
	// iteration's row so the body sees the outer MATCH bindings and the
	// FOREACH variable itself.
	foreachSeeds []Row
}

func (q *Query) seedRow() Row {
	if n := len(q.foreachSeeds); n > 0 {
		return q.foreachSeeds[n-1].clone()
	}
	return Row{}
}

// BindKind tags what a Row variable is bound to.
type BindKind uint8

const (
	BindValue BindKind = iota
	BindNode
	BindRel
)

type Binding struct {
	Kind   BindKind
	NodeID uint64
	RelID  uint64
	Value  gvalue.Value
}

// Row is one intermediate tuple of variable bindings flowing between
// operators. Using a map keeps Expand/CrossJoin/Foreach simple (they only
// ever add keys), at the cost of a clone on every branch — acceptable
// since Nexus targets correctness-first graph queries, not an OLAP
// workload where per-row map overhead would dominate.
type Row map[string]Binding

func (r Row) clone() Row {
	out := make(Row, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

func nodeRow(v string, id uint64) Row { return Row{v: {Kind: BindNode, NodeID: id}} }

// checkCancel is called between rows inside every operator's loop. A
// deadline expiry surfaces as a timeout, an explicit cancellation as
// cancelled — distinct kinds, same rollback path.
func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &nerrors.TimeoutError{}
		}
		return &nerrors.CancelledError{}
	default:
		return nil
	}
}

// Run executes op against rt under q, returning the final row batch.
func Run(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	if op == nil {
		return nil, nil
	}
	return dispatch(rt, q, op)
}

func dispatch(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	if err := checkCancel(q.Ctx); err != nil {
		return nil, err
	}
	switch op.Kind {
	case planner.KindSingleRow:
		return []Row{q.seedRow()}, nil
	case planner.KindAllNodes:
		return execAllNodes(rt, q, op)
	case planner.KindNodeByLabel:
		return execNodeByLabel(rt, q, op)
	case planner.KindNodeByProperty:
		return execNodeByProperty(rt, q, op)
	case planner.KindExpand:
		return execExpand(rt, q, op)
	case planner.KindCrossJoin:
		return execCrossJoin(rt, q, op)
	case planner.KindFilter:
		return execFilter(rt, q, op)
	case planner.KindProject:
		return execProject(rt, q, op)
	case planner.KindAggregate:
		return execAggregate(rt, q, op)
	case planner.KindSort:
		return execSort(rt, q, op)
	case planner.KindSkip:
		return execSkip(rt, q, op)
	case planner.KindLimit:
		return execLimit(rt, q, op)
	case planner.KindDistinct:
		return execDistinctRows(rt, q, op)
	case planner.KindUnion:
		return execUnion(rt, q, op)
	case planner.KindUnwind:
		return execUnwind(rt, q, op)
	case planner.KindCreate:
		return execCreate(rt, q, op)
	case planner.KindDelete:
		return execDelete(rt, q, op)
	case planner.KindSetProperties:
		return execSetProperties(rt, q, op)
	case planner.KindForeach:
		return execForeach(rt, q, op)
	case planner.KindMerge:
		return execMerge(rt, q, op)
	default:
		return nil, fmt.Errorf("executor: unhandled op kind %d", op.Kind)
	}
}

func input(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	if op.Input == nil {
		return []Row{q.seedRow()}, nil
	}
	return dispatch(rt, q, op.Input)
}

func execAllNodes(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	var out []Row
	next := rt.Nodes.NextID()
	for id := uint64(0); id < next; id++ {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		rec, allocated, err := readNode(rt, id)
		if err != nil || !allocated {
			continue
		}
		if !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
			continue
		}
		out = append(out, nodeRow(op.Var, id))
	}
	return out, nil
}

// execNodeByLabel intersects the label bitmaps smallest-first (the
// executor, not the planner, has the live cardinalities the label index
// actually holds) and streams matching, visible nodes in id order.
func execNodeByLabel(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	labelIDs := make([]uint32, 0, len(op.Labels))
	for _, name := range op.Labels {
		id, ok := rt.Catalog.LookupLabelID(name)
		if !ok {
			return nil, nil // label never allocated, so it has zero members
		}
		labelIDs = append(labelIDs, id)
	}
	sort.Slice(labelIDs, func(i, j int) bool {
		return rt.Labels.Cardinality(labelIDs[i]) < rt.Labels.Cardinality(labelIDs[j])
	})

	bm := rt.Labels.And(labelIDs...)
	if bm == nil {
		return nil, nil
	}
	var out []Row
	it := bm.Iterator()
	for it.HasNext() {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		id := uint64(it.Next())
		rec, allocated, err := readNode(rt, id)
		if err != nil || !allocated {
			continue
		}
		if !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
			continue
		}
		out = append(out, nodeRow(op.Var, id))
	}
	return out, nil
}

func execNodeByProperty(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	labelID, ok := rt.Catalog.LookupLabelID(op.Labels[0])
	if !ok {
		return nil, nil
	}
	keyID, ok := rt.Catalog.LookupPropertyKeyID(op.PropKey)
	if !ok {
		return nil, nil
	}
	idx, ok := rt.PropIdx.Lookup(labelID, keyID)
	if !ok {
		return nil, nil
	}
	val, err := evalExpr(op.PropPred.Value, Row{}, q.Params, rt, q)
	if err != nil {
		return nil, err
	}
	ids := idx.Equals(val)
	var out []Row
	for _, id := range ids {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		rec, allocated, err := readNode(rt, id)
		if err != nil || !allocated {
			continue
		}
		if !q.Tx.Visible(rec.CreateEpoch, rec.Tombstone, rec.DeleteEpoch) {
			continue
		}
		out = append(out, nodeRow(op.Var, id))
	}
	return out, nil
}

func execCrossJoin(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	left, err := dispatch(rt, q, op.Left)
	if err != nil {
		return nil, err
	}
	right, err := dispatch(rt, q, op.Right)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(left)*len(right))
	for _, l := range left {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		for _, r := range right {
			merged := l.clone()
			for k, v := range r {
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out, nil
}

func execFilter(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		val, err := evalExpr(op.Filter, row, q.Params, rt, q)
		if err != nil {
			return nil, err
		}
		if truthy(val) {
			out = append(out, row)
		}
	}
	return out, nil
}

func truthy(v gvalue.Value) bool {
	switch v.Kind() {
	case gvalue.KindNull:
		return false
	case gvalue.KindBool:
		return v.AsBool()
	default:
		return true
	}
}

func execDistinctRows(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	return dedupeRows(rows), nil
}

func execUnion(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	left, err := dispatch(rt, q, op.Left)
	if err != nil {
		return nil, err
	}
	right, err := dispatch(rt, q, op.Right)
	if err != nil {
		return nil, err
	}
	combined := append(append([]Row{}, left...), right...)
	if op.UnionAll {
		return combined, nil
	}
	return dedupeRows(combined), nil
}

func dedupeRows(rows []Row) []Row {
	seen := make(map[string]bool, len(rows))
	var out []Row
	for _, row := range rows {
		key := rowKey(row)
		if !seen[key] {
			seen[key] = true
			out = append(out, row)
		}
	}
	return out
}

func rowKey(row Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		b := row[k]
		s += k + "=" + fmt.Sprintf("%d:%d:%d:%s", b.Kind, b.NodeID, b.RelID, b.Value.String()) + ";"
	}
	return s
}

func execUnwind(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		val, err := evalExpr(op.UnwindExpr, row, q.Params, rt, q)
		if err != nil {
			return nil, err
		}
		if val.Kind() != gvalue.KindList {
			continue
		}
		for _, item := range val.AsList() {
			child := row.clone()
			child[op.UnwindVar] = Binding{Kind: BindValue, Value: item}
			out = append(out, child)
		}
	}
	return out, nil
}
