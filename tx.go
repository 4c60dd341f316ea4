package nexus

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hivellm/nexus/internal/executor"
	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/lockmanager"
	"github.com/hivellm/nexus/internal/nerrors"
	"github.com/hivellm/nexus/internal/txn"
	"github.com/hivellm/nexus/internal/walog"
)

// Tx is the explicit multi-statement transaction handle: a caller
// gets one from BeginTx, runs any number of Execute calls against it, and
// ends it with exactly one Commit or Rollback. Every query run through a Tx
// shares one MVCC snapshot and, if any of them wrote, one WAL batch and one
// commit epoch — a crash between two of its Execute calls leaves none of
// them durable, since a transaction is atomic across every statement run
// against it.
type Tx struct {
	engine *Engine
	inner  *txn.Tx

	schemaVersionBefore uint64
	walEntries          []func(uint64) *walog.Entry
	lockKeys            []lockmanager.Key
	stats               executor.Stats
	wrote               bool
	done                bool
}

// BeginTx opens an explicit transaction. The caller must eventually call
// Commit or Rollback; until then the transaction holds one worker-pool slot
// and one MVCC snapshot open.
func (e *Engine) BeginTx(ctx context.Context) (*Tx, error) {
	if e.isClosed() {
		return nil, &nerrors.ClosedError{}
	}
	e.wg.Add(1)
	if err := e.acquireWorker(ctx); err != nil {
		e.wg.Done()
		return nil, err
	}
	return &Tx{
		engine:              e,
		inner:               e.txMgr.Begin(),
		schemaVersionBefore: e.catalog.SchemaVersion(),
	}, nil
}

// Execute runs one statement against the transaction's shared snapshot.
// Its mutations, if any, are staged and its WAL entries buffered rather
// than written immediately; they only become durable when Commit runs.
func (tx *Tx) Execute(ctx context.Context, queryText string, params map[string]gvalue.Value) (*ResultSet, error) {
	if tx.done {
		return nil, &nerrors.InternalError{Detail: "execute called on a finished transaction"}
	}

	start := time.Now()
	pq, err := tx.engine.planQuery(queryText, params)
	if err != nil {
		return nil, err
	}

	if pq.write && tx.engine.readOnly.Load() {
		return nil, &nerrors.WALError{Op: "execute", Err: errReadOnly}
	}

	q := &executor.Query{Ctx: ctx, Tx: tx.inner, Params: params, Write: pq.write}
	rows, err := executor.Run(tx.engine.rt, q, pq.op)
	if err != nil {
		return nil, err
	}

	if pq.write {
		tx.wrote = true
		tx.walEntries = append(tx.walEntries, q.WalEntries...)
		tx.lockKeys = append(tx.lockKeys, q.LockKeys...)
	}
	tx.stats.NodesCreated += q.Stats.NodesCreated
	tx.stats.NodesDeleted += q.Stats.NodesDeleted
	tx.stats.RelsCreated += q.Stats.RelsCreated
	tx.stats.RelsDeleted += q.Stats.RelsDeleted
	tx.stats.PropsSet += q.Stats.PropsSet

	return tx.engine.buildResultSet(pq.columns, rows, q.Stats, time.Since(start)), nil
}

// Commit locks every row touched by the transaction's write statements (if
// any), writes one WAL batch covering all of them under a single commit
// epoch, and applies every staged effect. A read-only transaction just
// releases its snapshot.
func (tx *Tx) Commit() error {
	if tx.done {
		return &nerrors.InternalError{Detail: "commit called on a finished transaction"}
	}
	defer tx.release()

	if !tx.wrote {
		tx.inner.Release()
		return nil
	}

	keys := executor.DedupeLockKeys(tx.lockKeys)
	tx.inner.Lock(keys)
	if _, err := tx.inner.Commit(func(epoch uint64) error {
		return tx.engine.writeWALBatch(epoch, tx.walEntries)
	}); err != nil {
		return err
	}

	if tx.engine.catalog.SchemaVersion() != tx.schemaVersionBefore {
		if err := tx.engine.catalog.Save(filepath.Join(tx.engine.dir, catalogDir)); err != nil {
			tx.engine.log.Warn("catalog durability save failed", zap.Error(err))
		}
	}
	return nil
}

// Rollback discards every staged effect and WAL entry this transaction
// accumulated; nothing it did becomes visible to any other transaction.
func (tx *Tx) Rollback() error {
	if tx.done {
		return &nerrors.InternalError{Detail: "rollback called on a finished transaction"}
	}
	defer tx.release()
	tx.inner.Rollback()
	return nil
}

func (tx *Tx) release() {
	tx.done = true
	tx.engine.releaseWorker()
	tx.engine.wg.Done()
}

// Stats reports the accumulated write counters across every Execute call
// run against this transaction so far.
func (tx *Tx) Stats() ResultStats {
	return ResultStats{
		NodesCreated: tx.stats.NodesCreated,
		NodesDeleted: tx.stats.NodesDeleted,
		RelsCreated:  tx.stats.RelsCreated,
		RelsDeleted:  tx.stats.RelsDeleted,
		PropsSet:     tx.stats.PropsSet,
	}
}
