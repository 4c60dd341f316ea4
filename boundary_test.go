package nexus

import (
	"context"
	"testing"

	"github.com/hivellm/nexus/internal/gvalue"
)

// Array indexing: negative indexes count from the end, out-of-bounds
// access is null, never an error.
func TestBoundary_ArrayIndexing(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	rs := mustExec(t, e, "RETURN [1,2,3][-1] AS a, [1][5] AS b, [][0] AS c")
	row := rs.Rows[0]
	if row[0].AsInt() != 3 {
		t.Fatalf("expected [1,2,3][-1] = 3, got %v", row[0])
	}
	if !row[1].IsNull() {
		t.Fatalf("expected [1][5] = null, got %v", row[1])
	}
	if !row[2].IsNull() {
		t.Fatalf("expected [][0] = null, got %v", row[2])
	}
}

// Division by zero yields null, not a query error.
func TestBoundary_DivisionByZero(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	rs := mustExec(t, e, "RETURN 1 / 0 AS a, 7 % 0 AS b")
	if !rs.Rows[0][0].IsNull() || !rs.Rows[0][1].IsNull() {
		t.Fatalf("expected null for division by zero, got %v", rs.Rows[0])
	}
}

// Invariant 8: every supported property value kind round-trips through a
// node write and read as an equal value.
func TestInvariant_ValueRoundTrip(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	cases := []struct {
		name string
		val  gvalue.Value
	}{
		{"int", gvalue.Int(-42)},
		{"float", gvalue.Float(3.25)},
		{"string", gvalue.String("hello world")},
		{"bool", gvalue.Bool(true)},
		{"bytes", gvalue.Bytes([]byte{0x00, 0xff, 0x7f})},
		{"list", gvalue.List([]gvalue.Value{gvalue.Int(1), gvalue.String("two")})},
		{"point", gvalue.PointValue(gvalue.Point{X: 1.5, Y: -2.5})},
	}
	ctx := context.Background()
	for _, tc := range cases {
		if _, err := e.Execute(ctx, "CREATE (:RT_"+tc.name+" {p: $v})", map[string]gvalue.Value{"v": tc.val}); err != nil {
			t.Fatalf("%s: create: %v", tc.name, err)
		}
		rs, err := e.Execute(ctx, "MATCH (n:RT_"+tc.name+") RETURN n.p", nil)
		if err != nil {
			t.Fatalf("%s: read: %v", tc.name, err)
		}
		if len(rs.Rows) != 1 {
			t.Fatalf("%s: expected 1 row, got %d", tc.name, len(rs.Rows))
		}
		got := rs.Rows[0][0]
		if got.Kind() != tc.val.Kind() {
			t.Fatalf("%s: kind changed: wrote %v, read %v", tc.name, tc.val.Kind(), got.Kind())
		}
		if got.Compare(tc.val) != 0 {
			t.Fatalf("%s: value changed: wrote %v, read %v", tc.name, tc.val, got)
		}
	}
}

// Invariant 10: a stable ORDER BY key set makes results reproducible
// across repeated executions.
func TestInvariant_DeterministicOrderBy(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		mustExec(t, e, "CREATE (:Ord {name:'"+name+"'})")
	}

	first := mustExec(t, e, "MATCH (n:Ord) RETURN n.name AS name ORDER BY name")
	for i := 0; i < 5; i++ {
		again := mustExec(t, e, "MATCH (n:Ord) RETURN n.name AS name ORDER BY name")
		if len(again.Rows) != len(first.Rows) {
			t.Fatalf("row count changed between runs")
		}
		for j := range first.Rows {
			if first.Rows[j][0].AsString() != again.Rows[j][0].AsString() {
				t.Fatalf("run %d row %d: %q vs %q", i, j, first.Rows[j][0].AsString(), again.Rows[j][0].AsString())
			}
		}
	}
	want := []string{"alpha", "bravo", "charlie", "delta"}
	for i, w := range want {
		if first.Rows[i][0].AsString() != w {
			t.Fatalf("position %d: expected %q, got %q", i, w, first.Rows[i][0].AsString())
		}
	}
}

// Cache counters are observable through Stats and move under load: the
// second execution of the same query text hits the plan cache, and
// re-reading the same nodes hits the page cache.
func TestStatsCountersObservable(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	mustExec(t, e, "CREATE (:Counted {v: 1})")
	mustExec(t, e, "MATCH (n:Counted) RETURN n.v")
	mustExec(t, e, "MATCH (n:Counted) RETURN n.v")

	s := e.Stats()
	if s.PlanCacheHits == 0 {
		t.Fatalf("expected a plan cache hit after re-running the same query, got %+v", s)
	}
	if s.PlanCacheMisses == 0 {
		t.Fatalf("expected at least one plan cache miss on first compile, got %+v", s)
	}
	if s.PageCacheHits == 0 {
		t.Fatalf("expected page cache hits after re-reading the same node, got %+v", s)
	}
	if s.TotalNodes != 1 {
		t.Fatalf("expected 1 node, got %d", s.TotalNodes)
	}
}

// UNION ALL keeps duplicates that plain UNION removes.
func TestUnionAllKeepsDuplicates(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	mustExec(t, e, "CREATE (:P {name:'Alice'})")
	mustExec(t, e, "CREATE (:C {name:'Alice'})")

	all := mustExec(t, e, "MATCH (p:P) RETURN p.name UNION ALL MATCH (c:C) RETURN c.name")
	if len(all.Rows) != 2 {
		t.Fatalf("UNION ALL: expected 2 rows, got %d", len(all.Rows))
	}
	dedup := mustExec(t, e, "MATCH (p:P) RETURN p.name UNION MATCH (c:C) RETURN c.name")
	if len(dedup.Rows) != 1 {
		t.Fatalf("UNION: expected 1 deduplicated row, got %d", len(dedup.Rows))
	}
}

// FOREACH runs its body once per list element against the driving row.
func TestForeachCreatesPerElement(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	mustExec(t, e, "FOREACH (x IN [1,2,3] | CREATE (:Num {v: x}))")
	rs := mustExec(t, e, "MATCH (n:Num) RETURN count(*)")
	if rs.Rows[0][0].AsInt() != 3 {
		t.Fatalf("expected 3 nodes, got %d", rs.Rows[0][0].AsInt())
	}
}

// MERGE matches an existing pattern instead of re-creating it, and
// creates it when absent.
func TestMergeIdempotent(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	mustExec(t, e, "MERGE (n:Settings {key:'theme'})")
	mustExec(t, e, "MERGE (n:Settings {key:'theme'})")

	rs := mustExec(t, e, "MATCH (n:Settings) RETURN count(*)")
	if rs.Rows[0][0].AsInt() != 1 {
		t.Fatalf("expected MERGE to be idempotent, got %d nodes", rs.Rows[0][0].AsInt())
	}
}

// An already-cancelled context surfaces a stable query_cancelled kind
// and leaves no partial effects behind.
func TestQueryCancellation(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, "CREATE (:Doomed)", nil)
	if err == nil {
		t.Fatalf("expected an error from a cancelled context")
	}
	kinded, ok := err.(interface{ Kind() string })
	if !ok || kinded.Kind() != "query_cancelled" {
		t.Fatalf("expected kind query_cancelled, got %v", err)
	}

	rs := mustExec(t, e, "MATCH (n:Doomed) RETURN count(*)")
	if rs.Rows[0][0].AsInt() != 0 {
		t.Fatalf("cancelled query must leave no effects, got %d nodes", rs.Rows[0][0].AsInt())
	}
}

// Relationship traversal crosses Expand in both directions.
func TestTraversalDirections(t *testing.T) {
	e, _ := openTestEngine(t)
	defer e.Close()

	mustExec(t, e, "CREATE (:Person {name:'Alice'})-[:KNOWS]->(:Person {name:'Bob'})")

	out := mustExec(t, e, "MATCH (a:Person {name:'Alice'})-[r:KNOWS]->(b) RETURN b.name")
	if len(out.Rows) != 1 || out.Rows[0][0].AsString() != "Bob" {
		t.Fatalf("outgoing traversal: got %v", out.Rows)
	}
	in := mustExec(t, e, "MATCH (b:Person {name:'Bob'})<-[r:KNOWS]-(a) RETURN a.name")
	if len(in.Rows) != 1 || in.Rows[0][0].AsString() != "Alice" {
		t.Fatalf("incoming traversal: got %v", in.Rows)
	}
	either := mustExec(t, e, "MATCH (a:Person {name:'Alice'})-[r:KNOWS]-(x) RETURN x.name")
	if len(either.Rows) != 1 || either.Rows[0][0].AsString() != "Bob" {
		t.Fatalf("undirected traversal must deduplicate by rel id: got %v", either.Rows)
	}
}
