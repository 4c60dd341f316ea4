package vectorindex

import (
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hivellm/nexus/internal/checkpoint"
)

// vectorEntry is one node's embedding, the unit Save/Load round-trips.
// The graph topology itself (neighbor lists, levels, entry point) is
// never serialized — rebuilding via Insert reconstructs an equivalent,
// if not byte-identical, graph, the same tradeoff the label bitmap index
// makes by snapshotting bitmaps rather than internal roaring run layout.
type vectorEntry struct {
	ID  uint64    `bson:"id"`
	Vec []float32 `bson:"vec"`
}

func fileName(dir string, labelID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("knn_%d.hnsw", labelID))
}

// All returns every (nodeID, vector) pair currently indexed, in no
// particular order.
func (idx *Index) All() []struct {
	ID  uint64
	Vec []float32
} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]struct {
		ID  uint64
		Vec []float32
	}, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		if n == nil || n.vec == nil {
			continue
		}
		out = append(out, struct {
			ID  uint64
			Vec []float32
		}{ID: n.id, Vec: n.vec})
	}
	return out
}

// Save snapshots idx's embeddings to dir/knn_<label_id>.hnsw (the engine
// passes its indexes/knn directory), keeping only the vectors themselves —
// Load rebuilds the graph by replaying Insert in the order All returned them.
func (idx *Index) Save(dir string, labelID uint32) error {
	entries := idx.All()
	docs := make([]vectorEntry, len(entries))
	for i, e := range entries {
		docs[i] = vectorEntry{ID: e.ID, Vec: e.Vec}
	}
	data, err := bson.Marshal(struct {
		Entries []vectorEntry `bson:"entries"`
	}{Entries: docs})
	if err != nil {
		return err
	}
	return checkpoint.WriteAtomic(fileName(dir, labelID), data)
}

// Load rebuilds an Index for labelID from its snapshot file, or reports
// ok=false if none exists (the label never received a vector-valued
// property write before the last checkpoint).
func Load(dir string, labelID uint32, cfg Config, seed int64) (idx *Index, ok bool, err error) {
	data, err := os.ReadFile(fileName(dir, labelID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc struct {
		Entries []vectorEntry `bson:"entries"`
	}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, false, err
	}
	idx = New(cfg, seed)
	for _, e := range doc.Entries {
		idx.Insert(e.ID, e.Vec)
	}
	return idx, true, nil
}
