// Package labelindex is Nexus's Label Bitmap Index: a map from label id to
// a roaring bitmap of node ids carrying that label, giving O(k) membership
// and traversal instead of an O(N) scan. Grounded directly on the
// retrieval pack's in-memory graph store, which keys a
// map[string]*roaring.Bitmap by file path to track which nodes originated
// from which file — the same "bitmap per bucket, dense integer member ids"
// shape, just keyed by label id instead of file path. Using roaring here
// also sidesteps the classic "label id 0 looks like a missing map entry"
// trap: a Go map lookup never confuses a present key whose bitmap happens
// to include id 0 with an absent key, so no sentinel value is needed.
package labelindex

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

type Index struct {
	mu   sync.RWMutex
	bits map[uint32]*roaring.Bitmap
}

func New() *Index {
	return &Index{bits: make(map[uint32]*roaring.Bitmap)}
}

// Add records that nodeID carries labelID.
func (idx *Index) Add(labelID uint32, nodeID uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bm, ok := idx.bits[labelID]
	if !ok {
		bm = roaring.New()
		idx.bits[labelID] = bm
	}
	bm.Add(nodeID)
}

// Remove drops nodeID from labelID's bitmap, pruning the bitmap entirely
// once it is empty so the index doesn't accumulate dead labels.
func (idx *Index) Remove(labelID uint32, nodeID uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bm, ok := idx.bits[labelID]
	if !ok {
		return
	}
	bm.Remove(nodeID)
	if bm.IsEmpty() {
		delete(idx.bits, labelID)
	}
}

// Nodes returns the bitmap of nodes carrying labelID, or nil if the label
// has no members. Callers must not mutate the returned bitmap.
func (idx *Index) Nodes(labelID uint32) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.bits[labelID]
}

// And intersects the node sets of every given label (used for
// MATCH (n:A:B) multi-label predicates).
func (idx *Index) And(labelIDs ...uint32) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(labelIDs) == 0 {
		return roaring.New()
	}
	result := idx.bits[labelIDs[0]]
	if result == nil {
		return roaring.New()
	}
	result = result.Clone()
	for _, l := range labelIDs[1:] {
		bm := idx.bits[l]
		if bm == nil {
			return roaring.New()
		}
		result.And(bm)
	}
	return result
}

// Or unions the node sets of every given label.
func (idx *Index) Or(labelIDs ...uint32) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	result := roaring.New()
	for _, l := range labelIDs {
		if bm := idx.bits[l]; bm != nil {
			result.Or(bm)
		}
	}
	return result
}

func (idx *Index) Cardinality(labelID uint32) uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bm := idx.bits[labelID]
	if bm == nil {
		return 0
	}
	return bm.GetCardinality()
}

// manifestName names the persisted per-label file list (one label id per
// line, no header), written with the same atomic write-temp-then-rename discipline the
// checkpoint manager uses for the property B-tree.
const (
	manifestName = "labels.manifest"
)

// Persist writes one file per label ("label_<id>.bitmap", roaring's own
// wire format) plus a manifest listing which ids exist, via
// write-temp-then-rename so a crash mid-write never leaves a half-written
// bitmap visible to the next Open.
func (idx *Index) Persist(dir string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var manifest []byte
	for labelID, bm := range idx.bits {
		path := fmt.Sprintf("%s/label_%d.bitmap", dir, labelID)
		tmp := path + ".tmp"
		var buf bytes.Buffer
		if _, err := bm.WriteTo(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return err
		}
		manifest = append(manifest, []byte(fmt.Sprintf("%d\n", labelID))...)
	}

	manifestPath := fmt.Sprintf("%s/%s", dir, manifestName)
	tmp := manifestPath + ".tmp"
	if err := os.WriteFile(tmp, manifest, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, manifestPath)
}

// Load reconstructs the index from a directory written by Persist.
func Load(dir string) (*Index, error) {
	idx := New()
	manifestPath := fmt.Sprintf("%s/%s", dir, manifestName)
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}

	var labelID uint32
	start := 0
	for i, b := range data {
		if b == '\n' {
			if _, err := fmt.Sscanf(string(data[start:i]), "%d", &labelID); err != nil {
				return nil, err
			}
			path := fmt.Sprintf("%s/label_%d.bitmap", dir, labelID)
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			bm := roaring.New()
			if _, err := bm.ReadFrom(bytes.NewReader(raw)); err != nil {
				return nil, err
			}
			idx.bits[labelID] = bm
			start = i + 1
		}
	}
	return idx, nil
}
