package propindex

import (
	"testing"

	"github.com/hivellm/nexus/internal/gvalue"
)

func TestAddAndEqualsFindsExactMatches(t *testing.T) {
	idx := New(1, 2)
	if err := idx.Add(gvalue.String("alice"), 10); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := idx.Add(gvalue.String("bob"), 20); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := idx.Add(gvalue.String("alice"), 30); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got := idx.Equals(gvalue.String("alice"))
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes named alice, got %v", got)
	}
	seen := map[uint64]bool{got[0]: true}
	if len(got) > 1 {
		seen[got[1]] = true
	}
	if !seen[10] || !seen[30] {
		t.Fatalf("expected node ids 10 and 30, got %v", got)
	}

	got = idx.Equals(gvalue.String("bob"))
	if len(got) != 1 || got[0] != 20 {
		t.Fatalf("expected exactly node 20 for bob, got %v", got)
	}

	if got := idx.Equals(gvalue.String("carol")); len(got) != 0 {
		t.Fatalf("expected no match for an absent value, got %v", got)
	}
}

func TestRemoveDropsOnlyThatNode(t *testing.T) {
	idx := New(1, 2)
	_ = idx.Add(gvalue.Int(5), 1)
	_ = idx.Add(gvalue.Int(5), 2)

	if !idx.Remove(gvalue.Int(5), 1) {
		t.Fatalf("expected Remove to report success for an existing entry")
	}
	got := idx.Equals(gvalue.Int(5))
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected only node 2 to remain, got %v", got)
	}

	if idx.Remove(gvalue.Int(5), 999) {
		t.Fatalf("expected Remove of a nonexistent entry to report failure")
	}
}

func TestRangeScansInValueOrderWithPredicate(t *testing.T) {
	idx := New(1, 2)
	_ = idx.Add(gvalue.Int(10), 1)
	_ = idx.Add(gvalue.Int(20), 2)
	_ = idx.Add(gvalue.Int(30), 3)

	// > 10
	got := idx.Range(gvalue.Int(10), false, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes strictly after 10, got %v", got)
	}

	// >= 20 and < 30
	got = idx.Range(gvalue.Int(20), true, func(v gvalue.Value) bool {
		return v.Compare(gvalue.Int(30)) < 0
	})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected only node 2 in [20,30), got %v", got)
	}
}

func TestRegistryCreateIsIdempotentAndDropRemoves(t *testing.T) {
	r := NewRegistry()
	a := r.Create(1, 2)
	b := r.Create(1, 2)
	if a != b {
		t.Fatalf("expected Create to return the same index for the same (label,key)")
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected exactly one registered index, got %d", len(r.All()))
	}

	if _, ok := r.Lookup(1, 2); !ok {
		t.Fatalf("expected Lookup to find the created index")
	}

	r.Drop(1, 2)
	if _, ok := r.Lookup(1, 2); ok {
		t.Fatalf("expected Lookup to fail after Drop")
	}
	if len(r.All()) != 0 {
		t.Fatalf("expected no indexes after drop, got %d", len(r.All()))
	}
}

func TestRegistryLookupMissingFails(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup(9, 9); ok {
		t.Fatalf("expected Lookup on an unregistered (label,key) to fail")
	}
}
