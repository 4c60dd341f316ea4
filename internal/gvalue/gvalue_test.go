package gvalue

import "testing"

func TestCompareNumericCrossKind(t *testing.T) {
	if Int(5).Compare(Float(5.0)) != 0 {
		t.Fatalf("expected int 5 to compare equal to float 5.0")
	}
	if Int(3).Compare(Float(4.5)) != -1 {
		t.Fatalf("expected int 3 < float 4.5")
	}
	if Float(10.5).Compare(Int(2)) != 1 {
		t.Fatalf("expected float 10.5 > int 2")
	}
}

func TestCompareDistinctKindsOrderByKind(t *testing.T) {
	if Null().Compare(Bool(false)) != -1 {
		t.Fatalf("expected Null to sort before Bool per Kind declaration order")
	}
	if String("a").Compare(Null()) != 1 {
		t.Fatalf("expected String to sort after Null")
	}
}

func TestCompareStringsLexicographic(t *testing.T) {
	if String("apple").Compare(String("banana")) != -1 {
		t.Fatalf("expected apple < banana")
	}
	if String("banana").Compare(String("apple")) != 1 {
		t.Fatalf("expected banana > apple")
	}
	if String("x").Compare(String("x")) != 0 {
		t.Fatalf("expected equal strings to compare equal")
	}
}

func TestCompareBoolOrdering(t *testing.T) {
	if Bool(false).Compare(Bool(true)) != -1 {
		t.Fatalf("expected false < true")
	}
	if Bool(true).Compare(Bool(true)) != 0 {
		t.Fatalf("expected true == true")
	}
}

func TestCompareBytesLexicographic(t *testing.T) {
	if Bytes([]byte{1, 2}).Compare(Bytes([]byte{1, 2, 3})) != -1 {
		t.Fatalf("expected shorter prefix to sort first")
	}
	if Bytes([]byte{1, 3}).Compare(Bytes([]byte{1, 2, 9})) != 1 {
		t.Fatalf("expected byte-wise comparison to dominate length")
	}
}

func TestComparePointOrdersByXThenY(t *testing.T) {
	a := PointValue(Point{X: 1, Y: 5})
	b := PointValue(Point{X: 1, Y: 9})
	c := PointValue(Point{X: 2, Y: 0})
	if a.Compare(b) != -1 {
		t.Fatalf("expected tie on X to fall through to Y comparison")
	}
	if b.Compare(c) != -1 {
		t.Fatalf("expected smaller X to sort first regardless of Y")
	}
}

func TestIsNull(t *testing.T) {
	if !Null().IsNull() {
		t.Fatalf("expected Null() to report IsNull")
	}
	if Int(0).IsNull() {
		t.Fatalf("expected Int(0) not to report IsNull")
	}
}

func TestBSONRoundTripScalars(t *testing.T) {
	props := PropertyMap{
		1: Null(),
		2: Bool(true),
		3: Int(42),
		4: Float(3.5),
		5: String("hello"),
		6: Bytes([]byte{0xDE, 0xAD}),
	}
	data, err := MarshalProperties(props)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := UnmarshalProperties(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !got[2].AsBool() {
		t.Fatalf("expected bool true to round-trip")
	}
	if got[3].AsInt() != 42 {
		t.Fatalf("expected int 42 to round-trip, got %d", got[3].AsInt())
	}
	if got[4].AsFloat() != 3.5 {
		t.Fatalf("expected float 3.5 to round-trip, got %g", got[4].AsFloat())
	}
	if got[5].AsString() != "hello" {
		t.Fatalf("expected string to round-trip, got %q", got[5].AsString())
	}
	if string(got[6].AsBytes()) != "\xDE\xAD" {
		t.Fatalf("expected bytes to round-trip")
	}
	if !got[1].IsNull() {
		t.Fatalf("expected null to round-trip as null")
	}
}

func TestBSONRoundTripPointVectorListMap(t *testing.T) {
	props := PropertyMap{
		1: PointValue(Point{X: 1.5, Y: -2.5}),
		2: Vector([]float32{0.1, 0.2, 0.3}),
		3: List([]Value{Int(1), String("two"), Bool(false)}),
		4: Map(map[string]Value{"nested": Int(7)}),
	}
	data, err := MarshalProperties(props)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := UnmarshalProperties(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	pt := got[1].AsPoint()
	if pt.X != 1.5 || pt.Y != -2.5 {
		t.Fatalf("expected point to round-trip, got %+v", pt)
	}

	vec := got[2].AsVector()
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("expected vector to round-trip, got %v", vec)
	}

	list := got[3].AsList()
	if len(list) != 3 || list[0].AsInt() != 1 || list[1].AsString() != "two" || list[2].AsBool() != false {
		t.Fatalf("expected list to round-trip element-wise, got %v", list)
	}

	m := got[4].AsMap()
	if m["nested"].AsInt() != 7 {
		t.Fatalf("expected nested map value to round-trip, got %v", m)
	}
}

func TestBSONRoundTripEmptyPropertyMap(t *testing.T) {
	data, err := MarshalProperties(PropertyMap{})
	if err != nil {
		t.Fatalf("marshal of empty map failed: %v", err)
	}
	got, err := UnmarshalProperties(data)
	if err != nil {
		t.Fatalf("unmarshal of empty map failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty property map to round-trip empty, got %v", got)
	}
}

func TestStringRendersEachKind(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Null(), "null"},
		{Bool(true), "true"},
		{Int(7), "7"},
		{String("x"), "x"},
	}
	for _, c := range cases {
		if got := c.v.String(); got != c.want {
			t.Fatalf("expected %q, got %q", c.want, got)
		}
	}
}
