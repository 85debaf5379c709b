package arrayformat

import (
	"testing"

	"github.com/google/uuid"
)

func oneFloatColumn() *Format {
	return &Format{
		Columns: []Column{{Offset: 0, Components: 2, ComponentSize: 4}},
		Stride:  8,
	}
}

func TestRegisterInternsEquivalentLayouts(t *testing.T) {
	r := NewRegistry()
	a := r.Register(oneFloatColumn())
	b := r.Register(oneFloatColumn())

	if a != b {
		t.Fatalf("two structurally equal formats should intern to the same pointer")
	}
	if a.ID == uuid.Nil {
		t.Fatalf("interned format should have a non-empty ID")
	}
}

func TestRegisterDistinctLayoutsDoNotIntern(t *testing.T) {
	r := NewRegistry()
	a := r.Register(oneFloatColumn())
	other := &Format{
		Columns: []Column{{Offset: 0, Components: 3, ComponentSize: 4}},
		Stride:  12,
	}
	b := r.Register(other)

	if a == b {
		t.Fatalf("structurally distinct formats must not intern to the same pointer")
	}
}

func TestResolveRoundTrip(t *testing.T) {
	r := NewRegistry()
	f := r.Register(oneFloatColumn())

	got, ok := r.Resolve(f.ID)
	if !ok {
		t.Fatalf("Resolve(%s) failed", f.ID)
	}
	if got != f {
		t.Fatalf("Resolve returned a different pointer than was registered")
	}
}

func TestMustResolveUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.MustResolve(oneFloatColumn().ID)
	if err != ErrUnregistered {
		t.Fatalf("MustResolve on an unregistered format: got %v, want ErrUnregistered", err)
	}
}

func TestColumnSize(t *testing.T) {
	c := Column{Components: 3, ComponentSize: 4}
	if got := c.Size(); got != 12 {
		t.Fatalf("Size() = %d, want 12", got)
	}
}
