// ABOUTME: Tri-state JSON field wrapper for delta-update messages
// ABOUTME: Distinguishes absent, null, and present values per spec delta-merge rules
package protocol

import "encoding/json"

// Field represents a delta-update field that can be absent from the JSON
// object (retain prior value), explicitly null (clear prior value), or
// present with a value (replace). encoding/json only calls UnmarshalJSON
// for keys that are actually present, so a zero-value Field (Defined ==
// false) after decoding an object means the key was absent.
type Field[T any] struct {
	Defined bool
	Null    bool
	Value   T
}

// Present constructs a Field carrying a concrete value.
func Present[T any](v T) Field[T] {
	return Field[T]{Defined: true, Value: v}
}

// Cleared constructs a Field representing an explicit JSON null.
func Cleared[T any]() Field[T] {
	return Field[T]{Defined: true, Null: true}
}

// Absent is the zero value; included for readability at call sites.
func Absent[T any]() Field[T] {
	return Field[T]{}
}

// IsAbsent reports whether the field was omitted from the JSON object.
func (f Field[T]) IsAbsent() bool { return !f.Defined }

// MarshalJSON encodes Field per its state: absent fields are only ever
// skipped by the containing struct's "omitempty"-style handling by the
// caller (Go's encoding/json cannot conditionally omit a struct field at
// marshal time without omitempty on a pointer), so message structs that
// embed Field[T] use *Field[T] with omitempty to represent "absent",
// and a non-nil Field[T] with Null=true to represent an explicit null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON is invoked only when the key is present in the source
// object; Defined is therefore always set true here.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Defined = true
	if string(data) == "null" {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// Merge applies delta-merge semantics: an absent incoming field retains
// base, a null incoming field clears it, a present field replaces it.
func Merge[T any](base T, delta *Field[T]) T {
	if delta == nil || delta.IsAbsent() {
		return base
	}
	if delta.Null {
		var zero T
		return zero
	}
	return delta.Value
}

// MergePtr is Merge for pointer-shaped base state, where "cleared" means nil.
func MergePtr[T any](base *T, delta *Field[T]) *T {
	if delta == nil || delta.IsAbsent() {
		return base
	}
	if delta.Null {
		return nil
	}
	v := delta.Value
	return &v
}
