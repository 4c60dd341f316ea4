package btreeindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hivellm/nexus/internal/nerrors"
)

// Tree is a concurrent B+Tree index over one (label, property key) pair.
// Structural changes (root splits) briefly hold the tree-level mutex;
// everything else uses latch crabbing down from the root.
type Tree struct {
	degree int
	root   *node
	unique bool
	mu     sync.RWMutex
}

func New(degree int) *Tree       { return &Tree{degree: degree, root: newNode(degree, true)} }
func NewUnique(degree int) *Tree { return &Tree{degree: degree, root: newNode(degree, true), unique: true} }

// Insert adds key -> dataPtr, failing with a ConstraintViolationError if
// the index is unique and the key already exists.
func (t *Tree) Insert(key Key, dataPtr int64) error {
	return t.Upsert(key, func(_ int64, exists bool) (int64, error) {
		if exists && t.unique {
			return 0, &nerrors.ConstraintViolationError{Constraint: "unique_index", Detail: fmt.Sprintf("duplicate key %v", key)}
		}
		return dataPtr, nil
	})
}

// Replace force-sets a key's value regardless of prior existence, used
// when an MVCC update rewrites the record a unique index entry points to.
func (t *Tree) Replace(key Key, dataPtr int64) error {
	return t.Upsert(key, func(_ int64, _ bool) (int64, error) { return dataPtr, nil })
}

// Upsert runs fn against the current value for key (if any) while holding
// the leaf's lock, so the read-modify-write is atomic with respect to any
// concurrent descent into the same leaf.
func (t *Tree) Upsert(key Key, fn func(oldValue int64, exists bool) (int64, error)) error {
	t.mu.Lock()
	root := t.root
	root.Lock()

	if root.isFull() {
		newRoot := newNode(t.degree, false)
		newRoot.children = append(newRoot.children, root)
		newRoot.splitChild(0)
		t.root = newRoot
		t.mu.Unlock()

		newRoot.Lock()
		root.Unlock()
		return t.upsertTopDown(newRoot, key, fn)
	}

	t.mu.Unlock()
	return t.upsertTopDown(root, key, fn)
}

// upsertTopDown descends from curr (already locked by the caller),
// splitting any full child before stepping into it so the leaf reached at
// the bottom is guaranteed non-full.
func (t *Tree) upsertTopDown(curr *node, key Key, fn func(int64, bool) (int64, error)) error {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.leaf {
		i := 0
		for i < curr.n && key.Compare(curr.keys[i]) >= 0 {
			i++
		}

		child := curr.children[i]
		child.Lock()

		if child.isFull() {
			curr.splitChild(i)
			if key.Compare(curr.keys[i]) >= 0 {
				child.Unlock()
				child = curr.children[i+1]
				child.Lock()
			}
		}

		curr.Unlock()
		curr = child
	}

	return curr.upsertNonFull(key, fn)
}

// Get looks up key, returning (value, true) if present.
func (t *Tree) Get(key Key) (int64, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.RLock()
	curr := t.root
	if curr == nil {
		t.mu.RUnlock()
		return 0, false
	}
	curr.RLock()
	t.mu.RUnlock()

	for !curr.leaf {
		i := 0
		for i < curr.n && key.Compare(curr.keys[i]) >= 0 {
			i++
		}
		child := curr.children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()
	for j := 0; j < curr.n; j++ {
		if key.Compare(curr.keys[j]) == 0 {
			return curr.dataPtrs[j], true
		}
	}
	return 0, false
}

// Delete removes key, returning whether it was present.
func (t *Tree) Delete(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.remove(key)
}

// seekResult is an opaque handle on a leaf reached via FindLowerBound; the
// caller owns the leaf's read lock until it calls Close (or advances past
// it with Next, which lock-couples to the following leaf).
type seekResult struct {
	leaf *node
	idx  int
}

// FindLowerBound returns the leaf and in-leaf index of the first key >=
// the given key (or index 0 of the first leaf if key is nil, i.e. "scan
// from the start"). The returned leaf is returned RLocked; the caller
// must eventually RUnlock it (directly, or via Cursor.Close/Next).
func (t *Tree) FindLowerBound(key Key) (*node, int) {
	t.mu.RLock()
	curr := t.root
	curr.RLock()
	t.mu.RUnlock()

	for !curr.leaf {
		i := lowerBoundIndex(curr, key)
		child := curr.children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}
	return curr, lowerBoundIndex(curr, key)
}

func lowerBoundIndex(n *node, key Key) int {
	if key == nil {
		return 0
	}
	return sort.Search(n.n, func(i int) bool { return n.keys[i].Compare(key) >= 0 })
}
