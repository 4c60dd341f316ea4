package catalog

import (
	"os"
	"testing"
)

func TestLabelIDAllocatesOnceAndIsStable(t *testing.T) {
	c := New()
	id1 := c.LabelID("Person")
	id2 := c.LabelID("Person")
	if id1 != id2 {
		t.Fatalf("expected stable id across calls, got %d then %d", id1, id2)
	}
	other := c.LabelID("Company")
	if other == id1 {
		t.Fatalf("expected distinct ids for distinct names")
	}
	name, ok := c.LabelName(id1)
	if !ok || name != "Person" {
		t.Fatalf("expected LabelName to resolve back to Person, got %q %v", name, ok)
	}
}

func TestLabelIDZeroIsValid(t *testing.T) {
	c := New()
	id := c.LabelID("First")
	if id != 0 {
		t.Fatalf("expected first allocated label id to be 0, got %d", id)
	}
	if _, ok := c.LookupLabelID("First"); !ok {
		t.Fatalf("expected LookupLabelID to find an id of 0 as present")
	}
}

func TestLookupMissingNameFails(t *testing.T) {
	c := New()
	if _, ok := c.LookupLabelID("Nope"); ok {
		t.Fatalf("expected lookup of unallocated label to fail")
	}
	if _, ok := c.LabelName(999); ok {
		t.Fatalf("expected LabelName of unallocated id to fail")
	}
}

func TestSchemaVersionBumpsOnAllocation(t *testing.T) {
	c := New()
	before := c.SchemaVersion()
	c.LabelID("X")
	after := c.SchemaVersion()
	if after <= before {
		t.Fatalf("expected schema version to advance, before=%d after=%d", before, after)
	}
	again := c.SchemaVersion()
	c.LabelID("X")
	if c.SchemaVersion() != again {
		t.Fatalf("expected re-resolving an existing label not to bump schema version")
	}
}

func TestAllLabelIDsAndRelTypeIDs(t *testing.T) {
	c := New()
	a := c.LabelID("A")
	b := c.LabelID("B")
	ids := c.AllLabelIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 label ids, got %d", len(ids))
	}
	seen := map[ID]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("expected both allocated label ids present, got %v", ids)
	}

	knows := c.RelTypeID("KNOWS")
	relIDs := c.AllRelTypeIDs()
	if len(relIDs) != 1 || relIDs[0] != knows {
		t.Fatalf("expected exactly one rel type id %d, got %v", knows, relIDs)
	}
}

func TestCountersIndependentPerLabel(t *testing.T) {
	c := New()
	person := c.LabelID("Person")
	company := c.LabelID("Company")

	c.IncLabelCount(person, 3)
	c.IncLabelCount(company, 1)
	c.IncTotalNodes(4)

	if got := c.NodeCountForLabel(person); got != 3 {
		t.Fatalf("expected 3 Person nodes, got %d", got)
	}
	if got := c.NodeCountForLabel(company); got != 1 {
		t.Fatalf("expected 1 Company node, got %d", got)
	}
	if got := c.TotalNodes(); got != 4 {
		t.Fatalf("expected 4 total nodes, got %d", got)
	}

	c.IncLabelCount(person, -1)
	if got := c.NodeCountForLabel(person); got != 2 {
		t.Fatalf("expected Person count to drop to 2, got %d", got)
	}
}

func TestRelCountForTypeAndTotalRels(t *testing.T) {
	c := New()
	knows := c.RelTypeID("KNOWS")
	likes := c.RelTypeID("LIKES")

	c.IncRelCount(knows, 2)
	c.IncRelCount(likes, 5)

	if got := c.RelCountForType(knows); got != 2 {
		t.Fatalf("expected 2 KNOWS rels, got %d", got)
	}
	if got := c.TotalRels(); got != 7 {
		t.Fatalf("expected 7 total rels, got %d", got)
	}
}

func TestDeclareLookupDropIndex(t *testing.T) {
	c := New()
	label := c.LabelID("Person")
	prop := c.PropertyKeyID("name")
	key := IndexKey{LabelID: label, PropID: prop}

	if _, ok := c.LookupIndex(key); ok {
		t.Fatalf("expected no index before declaration")
	}

	c.DeclareIndex(IndexSpec{Key: key, Unique: true})
	spec, ok := c.LookupIndex(key)
	if !ok || !spec.Unique {
		t.Fatalf("expected declared unique index to be found, got %+v %v", spec, ok)
	}
	if len(c.AllIndexes()) != 1 {
		t.Fatalf("expected exactly one declared index")
	}

	c.DropIndex(key)
	if _, ok := c.LookupIndex(key); ok {
		t.Fatalf("expected index gone after drop")
	}
	if len(c.AllIndexes()) != 0 {
		t.Fatalf("expected no declared indexes after drop")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "catalog-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := New()
	person := c.LabelID("Person")
	knows := c.RelTypeID("KNOWS")
	name := c.PropertyKeyID("name")
	c.DeclareIndex(IndexSpec{Key: IndexKey{LabelID: person, PropID: name}, Unique: false})

	if err := c.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := New()
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if id, ok := loaded.LookupLabelID("Person"); !ok || id != person {
		t.Fatalf("expected Person to round-trip to id %d, got %d %v", person, id, ok)
	}
	if id, ok := loaded.LookupRelTypeID("KNOWS"); !ok || id != knows {
		t.Fatalf("expected KNOWS to round-trip to id %d, got %d %v", knows, id, ok)
	}
	if id, ok := loaded.LookupPropertyKeyID("name"); !ok || id != name {
		t.Fatalf("expected name to round-trip to id %d, got %d %v", name, id, ok)
	}
	if _, ok := loaded.LookupIndex(IndexKey{LabelID: person, PropID: name}); !ok {
		t.Fatalf("expected declared index to round-trip")
	}

	// Allocating a brand-new label after Load must not collide with
	// restored ids.
	fresh := loaded.LabelID("Company")
	if fresh == person {
		t.Fatalf("expected freshly allocated id to avoid restored id %d", person)
	}
}

func TestLoadMissingSnapshotIsNotAnError(t *testing.T) {
	dir, err := os.MkdirTemp("", "catalog-empty-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := New()
	if err := c.Load(dir); err != nil {
		t.Fatalf("expected missing snapshot to be a no-op, got error: %v", err)
	}
	if c.SchemaVersion() != 0 {
		t.Fatalf("expected fresh catalog to have schema version 0")
	}
}

func TestLabelIDsBatchAllocation(t *testing.T) {
	c := New()
	existing := c.LabelID("A")
	before := c.SchemaVersion()

	ids := c.LabelIDs([]string{"A", "B", "C"})
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if ids[0] != existing {
		t.Fatalf("expected batch to reuse A's id %d, got %d", existing, ids[0])
	}
	if ids[1] == ids[2] || ids[1] == ids[0] || ids[2] == ids[0] {
		t.Fatalf("expected distinct ids, got %v", ids)
	}
	// The two fresh allocations land in one schema-version bump.
	if got := c.SchemaVersion(); got != before+1 {
		t.Fatalf("expected one version bump for the batch, got %d -> %d", before, got)
	}

	// A fully-resolved batch allocates nothing and bumps nothing.
	again := c.LabelIDs([]string{"B", "C"})
	if again[0] != ids[1] || again[1] != ids[2] {
		t.Fatalf("expected stable ids on re-resolution, got %v", again)
	}
	if c.SchemaVersion() != before+1 {
		t.Fatalf("expected no version bump for an already-resolved batch")
	}
}
