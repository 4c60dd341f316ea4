package catalog

import (
	"testing"

	"github.com/hivellm/nexus/internal/gvalue"
)

func TestNDVCountsDistinctValues(t *testing.T) {
	c := New()
	label := c.LabelID("Person")
	key := c.PropertyKeyID("country")

	if n := c.NDV(label, key); n != 0 {
		t.Fatalf("expected NDV of an unrecorded key to be 0, got %d", n)
	}

	c.RecordPropertyValue(label, key, gvalue.String("BR"))
	c.RecordPropertyValue(label, key, gvalue.String("US"))
	c.RecordPropertyValue(label, key, gvalue.String("BR"))

	if n := c.NDV(label, key); n != 2 {
		t.Fatalf("expected 2 distinct values, got %d", n)
	}
}

func TestNDVIsPerLabelAndKey(t *testing.T) {
	c := New()
	person := c.LabelID("Person")
	company := c.LabelID("Company")
	country := c.PropertyKeyID("country")
	name := c.PropertyKeyID("name")

	c.RecordPropertyValue(person, country, gvalue.String("BR"))
	c.RecordPropertyValue(company, country, gvalue.String("BR"))
	c.RecordPropertyValue(company, country, gvalue.String("US"))
	c.RecordPropertyValue(person, name, gvalue.String("Ana"))

	if n := c.NDV(person, country); n != 1 {
		t.Fatalf("expected Person.country to have 1 distinct value, got %d", n)
	}
	if n := c.NDV(company, country); n != 2 {
		t.Fatalf("expected Company.country to have 2 distinct values, got %d", n)
	}
	if n := c.NDV(person, name); n != 1 {
		t.Fatalf("expected Person.name to have 1 distinct value, got %d", n)
	}
}

func TestDropIndexForgetsNDV(t *testing.T) {
	c := New()
	label := c.LabelID("Person")
	key := c.PropertyKeyID("country")
	idxKey := IndexKey{LabelID: label, PropID: key}

	c.DeclareIndex(IndexSpec{Key: idxKey})
	c.RecordPropertyValue(label, key, gvalue.String("BR"))
	if n := c.NDV(label, key); n != 1 {
		t.Fatalf("expected 1 distinct value before drop, got %d", n)
	}

	c.DropIndex(idxKey)
	if n := c.NDV(label, key); n != 0 {
		t.Fatalf("expected NDV to reset after DropIndex, got %d", n)
	}

	c.DeclareIndex(IndexSpec{Key: idxKey})
	c.RecordPropertyValue(label, key, gvalue.String("US"))
	c.RecordPropertyValue(label, key, gvalue.String("CA"))
	if n := c.NDV(label, key); n != 2 {
		t.Fatalf("expected fresh sketch after redeclaring the index, got %d", n)
	}
}
