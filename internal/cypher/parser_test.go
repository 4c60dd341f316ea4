package cypher

import "testing"

func TestParseMatchReturn(t *testing.T) {
	q, err := Parse("MATCH (n:Person {name:'Alice'}) WHERE n.age > 30 RETURN n.name AS name ORDER BY name DESC LIMIT 5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(q.Clauses))
	}
	m, ok := q.Clauses[0].(MatchClause)
	if !ok {
		t.Fatalf("expected MatchClause, got %T", q.Clauses[0])
	}
	if len(m.Patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(m.Patterns))
	}
	np := m.Patterns[0].Start
	if np.Variable != "n" || len(np.Labels) != 1 || np.Labels[0] != "Person" {
		t.Fatalf("unexpected node pattern: %+v", np)
	}
	if _, ok := np.Properties["name"]; !ok {
		t.Fatalf("expected a name property literal")
	}
	if m.Where == nil {
		t.Fatalf("expected a WHERE predicate")
	}
	r, ok := q.Clauses[1].(ReturnClause)
	if !ok {
		t.Fatalf("expected ReturnClause, got %T", q.Clauses[1])
	}
	if len(r.Items) != 1 || r.Items[0].Alias != "name" {
		t.Fatalf("unexpected return items: %+v", r.Items)
	}
	if len(r.OrderBy) != 1 || !r.OrderBy[0].Desc {
		t.Fatalf("expected ORDER BY ... DESC, got %+v", r.OrderBy)
	}
	if r.Limit == nil {
		t.Fatalf("expected a LIMIT expression")
	}
}

func TestParseCreateRelationshipPattern(t *testing.T) {
	q, err := Parse("CREATE (a:Person)-[r:KNOWS {since: 2020}]->(b:Person)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, ok := q.Clauses[0].(CreateClause)
	if !ok {
		t.Fatalf("expected CreateClause, got %T", q.Clauses[0])
	}
	part := c.Patterns[0]
	if len(part.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(part.Steps))
	}
	step := part.Steps[0]
	if step.Rel.Variable != "r" || len(step.Rel.Types) != 1 || step.Rel.Types[0] != "KNOWS" {
		t.Fatalf("unexpected rel pattern: %+v", step.Rel)
	}
	if step.Rel.Direction != DirOut {
		t.Fatalf("expected outgoing direction, got %v", step.Rel.Direction)
	}
	if step.Node.Variable != "b" {
		t.Fatalf("expected target variable b, got %q", step.Node.Variable)
	}
}

func TestParseUndirectedAndIncoming(t *testing.T) {
	q, err := Parse("MATCH (a)<-[:OWNS]-(b) RETURN a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := q.Clauses[0].(MatchClause)
	if m.Patterns[0].Steps[0].Rel.Direction != DirIn {
		t.Fatalf("expected incoming direction")
	}

	q, err = Parse("MATCH (a)-[:OWNS]-(b) RETURN a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m = q.Clauses[0].(MatchClause)
	if m.Patterns[0].Steps[0].Rel.Direction != DirEither {
		t.Fatalf("expected either direction")
	}
}

func TestParseVariableLength(t *testing.T) {
	q, err := Parse("MATCH (a)-[:KNOWS*1..3]->(b) RETURN b")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rel := q.Clauses[0].(MatchClause).Patterns[0].Steps[0].Rel
	if rel.MinHops != 1 || rel.MaxHops != 3 {
		t.Fatalf("expected hops 1..3, got %d..%d", rel.MinHops, rel.MaxHops)
	}
}

func TestParseUnion(t *testing.T) {
	q, err := Parse("MATCH (p:Person) RETURN p.name UNION MATCH (c:Company) RETURN c.name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Union == nil || q.Union.All {
		t.Fatalf("expected a non-ALL union arm")
	}
	if len(q.Union.Right.Clauses) != 2 {
		t.Fatalf("expected right arm with 2 clauses")
	}

	q, err = Parse("MATCH (p:Person) RETURN p.name UNION ALL MATCH (c:Company) RETURN c.name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Union == nil || !q.Union.All {
		t.Fatalf("expected UNION ALL")
	}
}

func TestParseDetachDelete(t *testing.T) {
	q, err := Parse("MATCH (n) DETACH DELETE n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, ok := q.Clauses[1].(DeleteClause)
	if !ok || !d.Detach {
		t.Fatalf("expected DETACH DELETE, got %+v", q.Clauses[1])
	}
}

func TestParseForeach(t *testing.T) {
	q, err := Parse("FOREACH (x IN [1,2,3] | CREATE (:Num {v: x}))")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, ok := q.Clauses[0].(ForeachClause)
	if !ok {
		t.Fatalf("expected ForeachClause, got %T", q.Clauses[0])
	}
	if f.Variable != "x" || len(f.Inner) != 1 {
		t.Fatalf("unexpected foreach: %+v", f)
	}
}

func TestParseMergeOnCreateOnMatch(t *testing.T) {
	q, err := Parse("MERGE (n:Counter {key:'hits'}) ON CREATE SET n.count = 1 ON MATCH SET n.count = n.count + 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, ok := q.Clauses[0].(MergeClause)
	if !ok {
		t.Fatalf("expected MergeClause, got %T", q.Clauses[0])
	}
	if len(m.OnCreate) != 1 || len(m.OnMatch) != 1 {
		t.Fatalf("expected one assignment per branch, got %d/%d", len(m.OnCreate), len(m.OnMatch))
	}
}

func TestParseExpressionPrecedence(t *testing.T) {
	q, err := Parse("RETURN 1 + 2 * 3 AS v")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := q.Clauses[0].(ReturnClause)
	b, ok := r.Items[0].Expr.(BinaryExpr)
	if !ok || b.Op != "+" {
		t.Fatalf("expected top-level +, got %+v", r.Items[0].Expr)
	}
	inner, ok := b.Right.(BinaryExpr)
	if !ok || inner.Op != "*" {
		t.Fatalf("expected * to bind tighter than +, got %+v", b.Right)
	}
}

func TestParseIndexAccess(t *testing.T) {
	q, err := Parse("RETURN [1,2,3][-1] AS v")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := q.Clauses[0].(ReturnClause)
	ia, ok := r.Items[0].Expr.(IndexAccess)
	if !ok {
		t.Fatalf("expected IndexAccess, got %T", r.Items[0].Expr)
	}
	if _, ok := ia.Target.(ListLiteral); !ok {
		t.Fatalf("expected list literal target, got %T", ia.Target)
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"MATCH (n RETURN n",
		"CREATE (n:Person {name:)",
		"MATCH (n) RETURN",
		"FROB (n)",
	} {
		if _, err := Parse(src); err == nil {
			t.Fatalf("expected a parse error for %q", src)
		}
	}
}
