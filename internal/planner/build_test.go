package planner

import (
	"testing"

	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/cypher"
	"github.com/hivellm/nexus/internal/gvalue"
)

func mustBuild(t *testing.T, cat *catalog.Catalog, src string) *Op {
	t.Helper()
	ast, err := cypher.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	op, err := Build(ast, cat)
	if err != nil {
		t.Fatalf("build %q: %v", src, err)
	}
	return op
}

// scanLeaf follows Input links from the plan root (the RETURN projection)
// down to the operator that produces the pattern's starting rows.
func scanLeaf(op *Op) *Op {
	for op.Input != nil {
		op = op.Input
	}
	return op
}

func TestBuildStartNodeUsesIndexWhenNoStatsYet(t *testing.T) {
	cat := catalog.New()
	label := cat.LabelID("Person")
	key := cat.PropertyKeyID("email")
	cat.DeclareIndex(catalog.IndexSpec{Key: catalog.IndexKey{LabelID: label, PropID: key}})

	op := scanLeaf(mustBuild(t, cat, `MATCH (n:Person {email: "a@b.com"}) RETURN n`))
	if op.Kind != KindNodeByProperty {
		t.Fatalf("expected a freshly declared index with no stats to still be used, got %v", op.Kind)
	}
}

func TestBuildStartNodeSkipsIndexWhenNotSelective(t *testing.T) {
	cat := catalog.New()
	label := cat.LabelID("Person")
	key := cat.PropertyKeyID("active")
	cat.DeclareIndex(catalog.IndexSpec{Key: catalog.IndexKey{LabelID: label, PropID: key}})

	for i := 0; i < 100; i++ {
		cat.IncLabelCount(label, 1)
		cat.RecordPropertyValue(label, key, gvalue.Bool(true))
	}

	op := scanLeaf(mustBuild(t, cat, `MATCH (n:Person {active: true}) RETURN n`))
	if op.Kind != KindNodeByLabel {
		t.Fatalf("expected a single-valued indexed property to fall back to a label scan, got %v", op.Kind)
	}
}

func TestBuildStartNodeUsesIndexWhenSelective(t *testing.T) {
	cat := catalog.New()
	label := cat.LabelID("Person")
	key := cat.PropertyKeyID("email")
	cat.DeclareIndex(catalog.IndexSpec{Key: catalog.IndexKey{LabelID: label, PropID: key}})

	for i := 0; i < 100; i++ {
		cat.IncLabelCount(label, 1)
		cat.RecordPropertyValue(label, key, gvalue.String(string(rune('a'+i%26))+"@example.com"))
	}

	op := scanLeaf(mustBuild(t, cat, `MATCH (n:Person {email: "z@example.com"}) RETURN n`))
	if op.Kind != KindNodeByProperty {
		t.Fatalf("expected a highly selective indexed property to use the index, got %v", op.Kind)
	}
}
