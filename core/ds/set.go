// Package ds provides small generic data structures shared by the replay
// engine and its adapters.
package ds

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
)

// Set is a sorted set of ordered values. Iteration and serialization always
// follow ascending order, so two sets holding the same elements render the
// same way regardless of how they were built.
//
// A Set is treated as a value: every method that changes membership returns
// a new set and leaves the receiver untouched.
type Set[T cmp.Ordered] struct {
	items []T // sorted, unique
}

// NewSet creates a new set with the given items. Duplicates are collapsed.
func NewSet[T cmp.Ordered](items ...T) Set[T] {
	out := slices.Clone(items)
	slices.Sort(out)
	return Set[T]{items: slices.Compact(out)}
}

func (s Set[T]) String() string { return fmt.Sprintf("%v", s.items) }

// Len returns the number of elements in the set.
func (s Set[T]) Len() int { return len(s.items) }

// IsEmpty returns true if the set contains no elements.
func (s Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Contains returns true if v is present in the set.
func (s Set[T]) Contains(v T) bool {
	_, ok := slices.BinarySearch(s.items, v)
	return ok
}

// ContainsAll returns true if all elements of other are present in s.
// Every set contains the empty set.
func (s Set[T]) ContainsAll(other Set[T]) bool {
	for _, v := range other.items {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// With returns a copy of s extended by items.
func (s Set[T]) With(items ...T) Set[T] {
	return NewSet(append(slices.Clone(s.items), items...)...)
}

// Values returns a sorted copy of the elements.
func (s Set[T]) Values() []T { return slices.Clone(s.items) }

// Eq returns true if both sets contain the same elements.
func (s Set[T]) Eq(other Set[T]) bool { return slices.Equal(s.items, other.items) }

// MarshalJSON serializes the set as a sorted JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

// UnmarshalJSON deserializes a JSON array into the set.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}
