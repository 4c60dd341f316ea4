package nexus

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hivellm/nexus/internal/cypher"
	"github.com/hivellm/nexus/internal/executor"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/nerrors"
	"github.com/hivellm/nexus/internal/planner"
	"github.com/hivellm/nexus/internal/txn"
	"github.com/hivellm/nexus/internal/walog"
)

// ResultStats holds the write counters one query accumulated plus how
// long it took to run.
type ResultStats struct {
	NodesCreated int64
	NodesDeleted int64
	RelsCreated  int64
	RelsDeleted  int64
	PropsSet     int64
	ExecutionMS  int64
}

// ResultSet is the external result shape: column names in RETURN order,
// one []Value per output row, and the write/timing stats of the query
// that produced them.
type ResultSet struct {
	Columns []string
	Rows    [][]gvalue.Value
	Stats   ResultStats
}

// plannedQuery is what the plan cache stores: everything Execute needs
// to run a previously-parsed query again without re-lexing or
// re-planning it.
type plannedQuery struct {
	op      *planner.Op
	columns []string
	write   bool
}

// paramNames lists the keys bound in params, used only to salt the plan
// cache key by parameter shape (see cache.ParamShape) — never to build
// the plan itself, since a plan must stay valid across any values those
// names are later bound to.
func paramNames(params map[string]gvalue.Value) []string {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	return names
}

// planQuery parses and plans queryText, consulting the plan cache first
// (keyed by query text salted with the shape of params, invalidated
// whenever the catalog's schema version has advanced past the version
// the cached plan was compiled under).
func (e *Engine) planQuery(queryText string, params map[string]gvalue.Value) (*plannedQuery, error) {
	schemaVersion := e.catalog.SchemaVersion()
	names := paramNames(params)
	if cached, ok := e.planCache.Get(queryText, names, schemaVersion); ok {
		return cached.(*plannedQuery), nil
	}

	ast, err := cypher.Parse(queryText)
	if err != nil {
		return nil, &nerrors.SyntaxError{Message: err.Error()}
	}
	op, err := planner.Build(ast, e.catalog)
	if err != nil {
		return nil, &nerrors.PlanError{Message: err.Error()}
	}
	pq := &plannedQuery{op: op, columns: planner.Columns(ast), write: isWritePlan(op)}
	e.planCache.Put(queryText, names, pq, schemaVersion)
	return pq, nil
}

// isWritePlan walks the operator tree (including FOREACH's nested body
// and UNION/cross-join subtrees) looking for any mutating operator kind,
// so Execute knows whether it needs to take row locks and write a WAL
// batch for a query whose top-level clause happens to be a read (e.g.
// `MATCH (n) SET n.seen = true`, whose root is the SetProperties op but
// whose Input is the scan).
func isWritePlan(op *planner.Op) bool {
	if op == nil {
		return false
	}
	switch op.Kind {
	case planner.KindCreate, planner.KindDelete, planner.KindSetProperties, planner.KindMerge:
		return true
	case planner.KindForeach:
		for _, inner := range op.ForeachOps {
			if isWritePlan(inner) {
				return true
			}
		}
	}
	return isWritePlan(op.Input) || isWritePlan(op.Left) || isWritePlan(op.Right)
}

// Execute runs one query to completion against the engine's own implicit
// transaction: a read query takes a consistent MVCC snapshot and releases
// it when done, a write query locks, durably logs and applies its
// mutations before returning.
func (e *Engine) Execute(ctx context.Context, queryText string, params map[string]gvalue.Value) (*ResultSet, error) {
	if e.isClosed() {
		return nil, &nerrors.ClosedError{}
	}
	e.wg.Add(1)
	defer e.wg.Done()

	if err := e.acquireWorker(ctx); err != nil {
		return nil, err
	}
	defer e.releaseWorker()

	start := time.Now()
	pq, err := e.planQuery(queryText, params)
	if err != nil {
		return nil, err
	}
	if pq.write && e.readOnly.Load() {
		return nil, &nerrors.WALError{Op: "execute", Err: errReadOnly}
	}

	schemaVersionBefore := e.catalog.SchemaVersion()
	tx := e.txMgr.Begin()
	q := &executor.Query{Ctx: ctx, Tx: tx, Params: params, Write: pq.write}

	rows, err := executor.Run(e.rt, q, pq.op)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if pq.write {
		keys := executor.DedupeLockKeys(q.LockKeys)
		tx.Lock(keys)
		if _, err := tx.Commit(func(epoch uint64) error { return e.writeWALBatch(epoch, q.WalEntries) }); err != nil {
			return nil, err
		}
		if e.catalog.SchemaVersion() != schemaVersionBefore {
			if serr := e.catalog.Save(filepath.Join(e.dir, catalogDir)); serr != nil {
				e.log.Warn("catalog durability save failed", zap.Error(serr))
			}
		}
	} else {
		tx.Release()
	}

	return e.buildResultSet(pq.columns, rows, q.Stats, time.Since(start)), nil
}

// errReadOnly is the cause carried by every write rejected after the
// engine degrades to read-only.
var errReadOnly = errors.New("database is read-only after repeated WAL failures")

// walFailureLimit is how many consecutive failed WAL batches the engine
// tolerates before declaring itself read-only: after that, every write
// query fails fast instead of discovering the broken log at commit time.
const walFailureLimit = 3

// writeWALBatch logs one transaction's entire mutation batch as a single
// Begin/.../Commit run, so recovery's first pass (scanCommittedEpochs)
// only ever sees a transaction's entries as all-or-nothing. An I/O error
// gets one retry after a short backoff — re-appending the whole batch is
// safe because a batch without its Commit marker is discarded by
// recovery — and repeated failure counts toward the read-only threshold.
func (e *Engine) writeWALBatch(epoch uint64, entries []func(uint64) *walog.Entry) error {
	err := e.appendWALBatch(epoch, entries)
	if err != nil {
		time.Sleep(e.cfg.WAL.MaxBatchAge)
		err = e.appendWALBatch(epoch, entries)
	}
	if err != nil {
		if e.walFailures.Add(1) >= walFailureLimit {
			e.readOnly.Store(true)
			e.log.Error("wal failures exhausted retries, engine is now read-only", zap.Error(err))
		}
		return err
	}
	e.walFailures.Store(0)
	return nil
}

func (e *Engine) appendWALBatch(epoch uint64, entries []func(uint64) *walog.Entry) error {
	if err := e.wal.WriteEntry(walog.NewEntry(walog.EntryBegin, epoch, nil)); err != nil {
		return err
	}
	for _, mk := range entries {
		if err := e.wal.WriteEntry(mk(epoch)); err != nil {
			return err
		}
	}
	return e.wal.WriteEntry(walog.NewEntry(walog.EntryCommit, epoch, nil))
}

func (e *Engine) buildResultSet(columns []string, rows []executor.Row, stats executor.Stats, elapsed time.Duration) *ResultSet {
	rs := &ResultSet{
		Columns: columns,
		Stats: ResultStats{
			NodesCreated: stats.NodesCreated,
			NodesDeleted: stats.NodesDeleted,
			RelsCreated:  stats.RelsCreated,
			RelsDeleted:  stats.RelsDeleted,
			PropsSet:     stats.PropsSet,
			ExecutionMS:  elapsed.Milliseconds(),
		},
	}
	if len(columns) == 0 {
		return rs
	}
	rs.Rows = make([][]gvalue.Value, 0, len(rows))
	for _, row := range rows {
		out := make([]gvalue.Value, len(columns))
		for i, col := range columns {
			if b, ok := row[col]; ok {
				out[i] = b.Value
			} else {
				out[i] = gvalue.Null()
			}
		}
		rs.Rows = append(rs.Rows, out)
	}
	return rs
}

func (e *Engine) isClosed() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closed
}

// beginSnapshot starts a pure-reader MVCC snapshot for Tx.Execute's
// read-only queries to share across multiple calls within one
// user-facing transaction (see tx.go).
func (e *Engine) beginSnapshot() *txn.Tx { return e.txMgr.Begin() }
