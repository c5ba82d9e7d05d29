// Package constraint provides the relay constraint model: Constraint[T],
// the concrete constraint value types and RelayQuery, together with the
// intersection operation used to combine partial constraint sets.
package constraint

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Constraint is either Any (no preference) or Only(v).
// The zero value is Any.
type Constraint[T any] struct {
	value T
	only  bool
}

// Any returns the unconstrained value.
func Any[T any]() Constraint[T] {
	return Constraint[T]{}
}

// Only returns a constraint pinned to v.
func Only[T any](v T) Constraint[T] {
	return Constraint[T]{value: v, only: true}
}

// IsAny reports whether c carries no preference.
func (c Constraint[T]) IsAny() bool {
	return !c.only
}

// Value returns the pinned value; ok is false for Any.
func (c Constraint[T]) Value() (v T, ok bool) {
	return c.value, c.only
}

// Matches reports whether c admits a candidate: Any admits everything,
// Only(v) admits candidates for which pred(v) holds.
func (c Constraint[T]) Matches(pred func(T) bool) bool {
	if !c.only {
		return true
	}
	return pred(c.value)
}

func (c Constraint[T]) String() string {
	if !c.only {
		return "any"
	}
	return fmt.Sprintf("only(%v)", c.value)
}

var anyJSON = []byte(`"any"`)

func (c Constraint[T]) MarshalJSON() ([]byte, error) {
	if !c.only {
		return anyJSON, nil
	}
	return json.Marshal(struct {
		Only T `json:"only"`
	}{Only: c.value})
}

func (c *Constraint[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), anyJSON) {
		*c = Any[T]()
		return nil
	}
	var wrapper struct {
		Only *json.RawMessage `json:"only"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return fmt.Errorf("constraint: must be \"any\" or {\"only\": value}: %w", err)
	}
	if wrapper.Only == nil {
		return fmt.Errorf("constraint: missing \"only\" value")
	}
	var v T
	if err := json.Unmarshal(*wrapper.Only, &v); err != nil {
		return fmt.Errorf("constraint: only: %w", err)
	}
	*c = Only(v)
	return nil
}

// Intersecter is implemented by values with finer-grained overlap semantics
// than plain equality. Intersection must be commutative and associative.
type Intersecter[T any] interface {
	Intersection(other T) (T, bool)
}

// Intersect combines two constraints over an Intersecter type.
// Any is the identity; Only(x) ∩ Only(y) = Only(x ∩ y) or no overlap.
func Intersect[T Intersecter[T]](a, b Constraint[T]) (Constraint[T], bool) {
	switch {
	case !a.only:
		return b, true
	case !b.only:
		return a, true
	}
	v, ok := a.value.Intersection(b.value)
	if !ok {
		return Constraint[T]{}, false
	}
	return Only(v), true
}

// IntersectEq combines two constraints over an equality-only type.
func IntersectEq[T comparable](a, b Constraint[T]) (Constraint[T], bool) {
	switch {
	case !a.only:
		return b, true
	case !b.only:
		return a, true
	case a.value == b.value:
		return a, true
	default:
		return Constraint[T]{}, false
	}
}
