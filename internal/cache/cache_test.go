package cache

import (
	"testing"
	"time"
)

func TestPageCacheGetPutInvalidate(t *testing.T) {
	pc := NewPageCache(2)
	pc.Put("nodes", 1, []byte("abc"))

	data, ok := pc.Get("nodes", 1)
	if !ok || string(data) != "abc" {
		t.Fatalf("expected page hit with 'abc', got %v %v", data, ok)
	}
	if pc.Hits() != 1 {
		t.Fatalf("expected 1 hit, got %d", pc.Hits())
	}

	pc.Invalidate("nodes", 1)
	if _, ok := pc.Get("nodes", 1); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestPageCacheEviction(t *testing.T) {
	pc := NewPageCache(1)
	pc.Put("nodes", 1, []byte("a"))
	pc.Put("nodes", 2, []byte("b"))
	if pc.Evictions() == 0 {
		t.Fatalf("expected at least one eviction")
	}
}

func TestObjectCache(t *testing.T) {
	oc, err := NewObjectCache[uint64, string](2)
	if err != nil {
		t.Fatal(err)
	}
	oc.Put(1, "a")
	if v, ok := oc.Get(1); !ok || v != "a" {
		t.Fatalf("expected hit 'a', got %v %v", v, ok)
	}
	if _, ok := oc.Get(2); ok {
		t.Fatalf("expected miss for missing key")
	}
}

func TestPlanCacheInvalidatesOnSchemaVersionBump(t *testing.T) {
	pc, err := NewPlanCache(4)
	if err != nil {
		t.Fatal(err)
	}
	pc.Put("MATCH (n) RETURN n", nil, "plan-v1", 1)

	if _, ok := pc.Get("MATCH (n) RETURN n", nil, 1); !ok {
		t.Fatalf("expected hit at matching schema version")
	}
	if _, ok := pc.Get("MATCH (n) RETURN n", nil, 2); ok {
		t.Fatalf("expected miss after schema version advances")
	}
}

func TestPlanCacheDisambiguatesByParamShape(t *testing.T) {
	pc, err := NewPlanCache(4)
	if err != nil {
		t.Fatal(err)
	}
	query := "MATCH (n:User) WHERE n.id = $id RETURN n"
	pc.Put(query, []string{"id"}, "plan-by-id", 1)
	pc.Put(query, []string{"id", "email"}, "plan-by-id-and-email", 1)

	byID, ok := pc.Get(query, []string{"id"}, 1)
	if !ok || byID.(string) != "plan-by-id" {
		t.Fatalf("expected the id-shaped entry, got %v, ok=%v", byID, ok)
	}
	byBoth, ok := pc.Get(query, []string{"email", "id"}, 1)
	if !ok || byBoth.(string) != "plan-by-id-and-email" {
		t.Fatalf("expected the id+email-shaped entry regardless of name order, got %v, ok=%v", byBoth, ok)
	}
	if _, ok := pc.Get(query, []string{"name"}, 1); ok {
		t.Fatalf("expected a miss for a shape that was never cached")
	}
}

func TestParamShapeIgnoresOrderAndIsDeterministic(t *testing.T) {
	a := ParamShape([]string{"id", "email"})
	b := ParamShape([]string{"email", "id"})
	if a != b {
		t.Fatalf("ParamShape must be order-independent, got %v != %v", a, b)
	}
	if ParamShape(nil) == ParamShape([]string{"id"}) {
		t.Fatalf("empty and non-empty param shapes must not collide")
	}
}

func TestRelCacheExpiry(t *testing.T) {
	rc, err := NewRelCache(4, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	rc.now = func() time.Time { return start }

	key := RelCacheKey{NodeID: 1, TypeID: 0, Direction: 0}
	rc.Put(key, []uint64{10, 20})

	if ids, ok := rc.Get(key); !ok || len(ids) != 2 {
		t.Fatalf("expected fresh hit, got %v %v", ids, ok)
	}

	rc.now = func() time.Time { return start.Add(time.Second) }
	if _, ok := rc.Get(key); ok {
		t.Fatalf("expected miss after ttl expiry")
	}
}
