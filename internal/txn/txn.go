// Package txn is Nexus's Transaction Manager: a global monotonic epoch
// counter plus per-transaction staging, with the same atomic fetch-add
// mechanism and snapshot-captured-at-begin / visibility-compares-against-
// tombstone shape an MVCC store needs regardless of domain. Pending
// mutations accumulate in a per-transaction buffer applied as one batch
// at commit, so concurrent transactions never observe a partially
// indexed write.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hivellm/nexus/internal/lockmanager"
	"github.com/hivellm/nexus/internal/nerrors"
)

// State is the write-transaction state machine: Idle -> Begun -> Staging
// -> Locking -> Durable -> Applied -> Released. Any failure before
// Durable rolls back; failure after Durable is fatal and the tx is
// marked committed (recovery will
// re-apply).
type State uint8

const (
	StateIdle State = iota
	StateBegun
	StateStaging
	StateLocking
	StateDurable
	StateApplied
	StateReleased
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBegun:
		return "begun"
	case StateStaging:
		return "staging"
	case StateLocking:
		return "locking"
	case StateDurable:
		return "durable"
	case StateApplied:
		return "applied"
	case StateReleased:
		return "released"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Manager owns the global epoch counter and the set of currently active
// transactions (their begin-epoch is the input to the low-watermark GC
// threshold: no version tombstoned at or after the watermark can be
// physically reclaimed while an older reader might still observe it).
type Manager struct {
	epoch   atomic.Uint64
	locks   *lockmanager.Manager
	activeMu sync.Mutex
	active  map[*Tx]struct{}
}

func NewManager(locks *lockmanager.Manager) *Manager {
	return &Manager{locks: locks, active: make(map[*Tx]struct{})}
}

// CurrentEpoch returns the last committed epoch without allocating a new
// one (used to stamp a new reader's snapshot at begin).
func (m *Manager) CurrentEpoch() uint64 { return m.epoch.Load() }

func (m *Manager) nextEpoch() uint64 { return m.epoch.Add(1) }

// FastForward raises the epoch counter to at least epoch, used once at
// startup after WAL replay so the next Begin/Commit continues from where
// the last run left off instead of colliding with already-committed
// epochs recovered from the log.
func (m *Manager) FastForward(epoch uint64) {
	for {
		cur := m.epoch.Load()
		if cur >= epoch {
			return
		}
		if m.epoch.CompareAndSwap(cur, epoch) {
			return
		}
	}
}

// LowWatermark is the oldest begin-epoch among active transactions, or the
// current epoch if none are active — the boundary below which tombstoned
// versions are safe to physically reclaim.
func (m *Manager) LowWatermark() uint64 {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	watermark := m.epoch.Load()
	for tx := range m.active {
		if tx.beginEpoch < watermark {
			watermark = tx.beginEpoch
		}
	}
	return watermark
}

func (m *Manager) registerActive(tx *Tx) {
	m.activeMu.Lock()
	m.active[tx] = struct{}{}
	m.activeMu.Unlock()
}

func (m *Manager) unregisterActive(tx *Tx) {
	m.activeMu.Lock()
	delete(m.active, tx)
	m.activeMu.Unlock()
}

// ActiveCount reports the number of transactions currently begun, used by
// Engine.Close to know when it is safe to stop.
func (m *Manager) ActiveCount() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}

// Begin opens a new transaction snapshotted at the manager's current
// epoch. A pure reader never needs to call Lock/Commit; it reads through
// Visible and then calls Release.
func (m *Manager) Begin() *Tx {
	tx := &Tx{mgr: m, state: StateBegun, beginEpoch: m.epoch.Load()}
	m.registerActive(tx)
	return tx
}

// Tx is one transaction's MVCC snapshot plus (for writers) its staged
// mutation buffer. The context is per-transaction and never shared with
// a concurrently executing query.
type Tx struct {
	mgr        *Manager
	state      State
	beginEpoch uint64
	commitEpoch uint64
	unlock     func()
	pending    []func() error
	lockedKeys []lockmanager.Key
}

func (tx *Tx) BeginEpoch() uint64 { return tx.beginEpoch }
func (tx *Tx) State() State       { return tx.state }

// CommitEpoch is only meaningful once the transaction has reached
// StateDurable or later.
func (tx *Tx) CommitEpoch() uint64 { return tx.commitEpoch }

// IsLatestSnapshot reports whether no transaction has committed since tx
// began — i.e. the manager's current epoch still equals tx's own
// beginEpoch. Catalog counters (TotalNodes, NodeCountForLabel, ...) are
// bumped synchronously at commit and carry no epoch tag of their own, so
// a caller that wants to answer a query straight from those counters
// instead of filtering every row through Visible must first confirm
// IsLatestSnapshot — otherwise a commit that landed after tx's snapshot
// was taken would be counted even though tx.Visible would reject it.
func (tx *Tx) IsLatestSnapshot() bool { return tx.mgr.epoch.Load() == tx.beginEpoch }

// Visible implements snapshot isolation: a reader at epoch T observes
// exactly versions with epoch <= T and no tombstone with epoch <= T.
// tombstoned is false for records that have never been deleted; when true,
// deleteEpoch must be compared the same way createEpoch is.
func (tx *Tx) Visible(createEpoch uint64, tombstoned bool, deleteEpoch uint64) bool {
	if createEpoch > tx.beginEpoch {
		return false
	}
	if tombstoned && deleteEpoch != 0 && deleteEpoch <= tx.beginEpoch {
		return false
	}
	return true
}

// Lock acquires every given row lock in a fixed (kind, id) order,
// transitioning the transaction to Locking. The engine calls it at commit
// time, after every statement has staged its effects and before Commit.
func (tx *Tx) Lock(keys []lockmanager.Key) {
	tx.state = StateLocking
	tx.lockedKeys = keys
	tx.unlock = tx.mgr.locks.AcquireMultiple(keys)
}

// Stage buffers one deferred effect (a record write, a bitmap/adjacency/
// B-tree index update, a catalog counter bump) to run at Applied. Nothing
// staged here is visible to any other transaction until Commit succeeds.
func (tx *Tx) Stage(fn func() error) {
	tx.state = StateStaging
	tx.pending = append(tx.pending, fn)
}

// Commit assigns the commit epoch, calls writeWAL to durably persist the
// transaction's mutation batch, then applies every staged effect in order.
// writeWAL failing rolls the transaction back in memory and releases its
// locks (the WAL-write-failed path); any failure from a staged
// effect after writeWAL succeeds is an Internal error — the transaction is
// already durably committed, so the persisted state will be rebuilt
// correctly by WAL replay even though this process's in-memory structures
// are now divergent until restart.
func (tx *Tx) Commit(writeWAL func(epoch uint64) error) (uint64, error) {
	tx.commitEpoch = tx.mgr.nextEpoch()

	if err := writeWAL(tx.commitEpoch); err != nil {
		tx.Rollback()
		return 0, &nerrors.WALError{Op: "commit", Err: err}
	}
	tx.state = StateDurable

	for _, fn := range tx.pending {
		if err := fn(); err != nil {
			tx.state = StateApplied
			if tx.unlock != nil {
				tx.unlock()
			}
			tx.state = StateReleased
			tx.mgr.unregisterActive(tx)
			return tx.commitEpoch, &nerrors.InternalError{
				Detail: fmt.Sprintf("apply staged effect after durable commit: %v", err),
			}
		}
	}
	tx.state = StateApplied
	if tx.unlock != nil {
		tx.unlock()
	}
	tx.state = StateReleased
	tx.mgr.unregisterActive(tx)
	return tx.commitEpoch, nil
}

// Rollback discards the staged buffer and releases any locks. Safe to
// call on a pure reader (no locks held, no-op beyond bookkeeping).
func (tx *Tx) Rollback() {
	tx.pending = nil
	if tx.unlock != nil {
		tx.unlock()
		tx.unlock = nil
	}
	tx.state = StateRolledBack
	tx.mgr.unregisterActive(tx)
}

// Release is called by pure readers once done with their snapshot (no
// locks to drop, just unregisters from the active set so the low
// watermark can advance past this reader).
func (tx *Tx) Release() {
	if tx.state == StateReleased || tx.state == StateRolledBack {
		return
	}
	tx.state = StateReleased
	tx.mgr.unregisterActive(tx)
}
