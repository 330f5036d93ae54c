// ABOUTME: Tests for the tri-state delta-update Field wrapper
package protocol

import "testing"

func TestMergeTrichotomy(t *testing.T) {
	base := "previous"

	if got := Merge(base, nil); got != base {
		t.Errorf("nil delta should retain base, got %q", got)
	}

	absent := Absent[string]()
	if got := Merge(base, &absent); got != base {
		t.Errorf("absent delta should retain base, got %q", got)
	}

	cleared := Cleared[string]()
	if got := Merge(base, &cleared); got != "" {
		t.Errorf("null delta should clear to zero value, got %q", got)
	}

	present := Present("new")
	if got := Merge(base, &present); got != "new" {
		t.Errorf("present delta should replace, got %q", got)
	}
}

func TestMergePtrNullClearsToNil(t *testing.T) {
	v := "x"
	cleared := Cleared[string]()
	if got := MergePtr(&v, &cleared); got != nil {
		t.Errorf("expected nil after clear, got %v", *got)
	}

	present := Present("y")
	if got := MergePtr(&v, &present); got == nil || *got != "y" {
		t.Errorf("expected replaced value y, got %v", got)
	}
}

func TestFieldLastNonAbsentWins(t *testing.T) {
	// Simulates the receiver-side merge across a sequence of updates,
	// spec §8 property 3: the merged state equals the last non-absent
	// occurrence of the field.
	state := "initial"
	updates := []*Field[string]{
		nil,                 // absent
		ptr(Present("a")),
		nil,                 // absent, retains "a"
		ptr(Cleared[string]()),
		nil, // absent, retains cleared (empty)
		ptr(Present("final")),
	}
	for _, u := range updates {
		state = Merge(state, u)
	}
	if state != "final" {
		t.Errorf("expected final merged value %q, got %q", "final", state)
	}
}

func ptr[T any](f Field[T]) *Field[T] { return &f }
