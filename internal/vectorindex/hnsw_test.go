package vectorindex

import (
	"math"
	"math/rand"
	"os"
	"sort"
	"testing"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func bruteForceCosine(vectors [][]float32, query []float32, k int) []uint64 {
	type scored struct {
		id  uint64
		sim float64
	}
	qn := normalize(query)
	scoredAll := make([]scored, len(vectors))
	for i, v := range vectors {
		vn := normalize(v)
		var dot float64
		for d := range qn {
			dot += float64(qn[d]) * float64(vn[d])
		}
		scoredAll[i] = scored{id: uint64(i), sim: dot}
	}
	sort.Slice(scoredAll, func(i, j int) bool { return scoredAll[i].sim > scoredAll[j].sim })
	out := make([]uint64, 0, k)
	for i := 0; i < k && i < len(scoredAll); i++ {
		out = append(out, scoredAll[i].id)
	}
	return out
}

func TestSearchRecallAgainstBruteForce(t *testing.T) {
	const (
		n   = 300
		dim = 16
		k   = 10
	)
	vectors := randomVectors(n, dim, 1)

	idx := New(DefaultConfig(dim), 1)
	for i, v := range vectors {
		idx.Insert(uint64(i), v)
	}

	queries := randomVectors(20, dim, 2)
	var hits, total int
	for _, q := range queries {
		want := bruteForceCosine(vectors, q, k)
		wantSet := make(map[uint64]bool, k)
		for _, id := range want {
			wantSet[id] = true
		}
		got := idx.Search(q, k, 0)
		for _, r := range got {
			if wantSet[r.NodeID] {
				hits++
			}
		}
		total += k
	}
	recall := float64(hits) / float64(total)
	if recall < 0.9 {
		t.Fatalf("recall %f below 0.9 at k=%d over %d queries", recall, k, len(queries))
	}
}

func TestInsertNormalizesWithoutMutatingCaller(t *testing.T) {
	idx := New(DefaultConfig(3), 1)
	v := []float32{3, 0, 0}
	idx.Insert(1, v)
	if v[0] != 3 {
		t.Fatalf("Insert mutated the caller's slice: %v", v)
	}

	res := idx.Search([]float32{1, 0, 0}, 1, 0)
	if len(res) != 1 || res[0].NodeID != 1 {
		t.Fatalf("expected node 1, got %v", res)
	}
	if math.Abs(res[0].Score-1.0) > 1e-5 {
		t.Fatalf("expected cosine score 1.0 for a parallel vector, got %f", res[0].Score)
	}
}

func TestRemoveExcludesFromResults(t *testing.T) {
	idx := New(DefaultConfig(4), 1)
	idx.Insert(1, []float32{1, 0, 0, 0})
	idx.Insert(2, []float32{0, 1, 0, 0})
	idx.Insert(3, []float32{0.9, 0.1, 0, 0})

	if !idx.Remove(1) {
		t.Fatalf("remove of present id reported false")
	}
	if idx.Remove(1) {
		t.Fatalf("second remove of same id reported true")
	}

	res := idx.Search([]float32{1, 0, 0, 0}, 3, 0)
	for _, r := range res {
		if r.NodeID == 1 {
			t.Fatalf("removed node still surfaced: %v", res)
		}
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 live nodes, got %d", idx.Len())
	}
}

func TestEuclideanMetric(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Metric = Euclidean
	idx := New(cfg, 1)
	idx.Insert(1, []float32{0, 0})
	idx.Insert(2, []float32{10, 10})

	res := idx.Search([]float32{1, 1}, 1, 0)
	if len(res) != 1 || res[0].NodeID != 1 {
		t.Fatalf("expected nearest node 1, got %v", res)
	}
}

func TestRebuildKeepsMembership(t *testing.T) {
	const n = 50
	vectors := randomVectors(n, 8, 3)
	idx := New(DefaultConfig(8), 3)
	for i, v := range vectors {
		idx.Insert(uint64(i), v)
	}
	idx.Remove(7)
	idx.Rebuild()

	if idx.Len() != n-1 {
		t.Fatalf("expected %d nodes after rebuild, got %d", n-1, idx.Len())
	}
	res := idx.Search(vectors[3], 1, 0)
	if len(res) != 1 || res[0].NodeID != 3 {
		t.Fatalf("expected self-query to return node 3, got %v", res)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "hnsw-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	vectors := randomVectors(40, 8, 4)
	idx := New(DefaultConfig(8), 4)
	for i, v := range vectors {
		idx.Insert(uint64(i), v)
	}
	if err := idx.Save(dir, 5); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := Load(dir, 5, DefaultConfig(8), 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to exist")
	}
	if loaded.Len() != idx.Len() {
		t.Fatalf("expected %d nodes after load, got %d", idx.Len(), loaded.Len())
	}
	res := loaded.Search(vectors[11], 1, 0)
	if len(res) != 1 || res[0].NodeID != 11 {
		t.Fatalf("expected self-query to return node 11, got %v", res)
	}

	// A label that never saved reports ok=false, not an error.
	if _, ok, err := Load(dir, 99, DefaultConfig(8), 4); err != nil || ok {
		t.Fatalf("expected (nil, false, nil) for a missing snapshot, got ok=%v err=%v", ok, err)
	}
}
