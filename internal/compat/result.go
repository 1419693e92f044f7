// Package compat reduces build records into compatibility results.
//
// Only builds of significant versions (those holding a latest kind) are
// considered; callers filter with [SignificantBuilds] or fetch them from a
// store that performs the same join.
package compat

import (
	"encoding/json"
	"fmt"
)

// Result is either pending (nothing has finished building yet) or the list of
// axis values for which at least one build succeeded.
type Result[T any] struct {
	pending bool
	values  []T
}

// Pending returns a result that carries no values yet.
func Pending[T any]() Result[T] {
	return Result[T]{pending: true}
}

// Available returns a result carrying values. An empty slice means builds
// finished and none succeeded.
func Available[T any](values []T) Result[T] {
	if values == nil {
		values = []T{}
	}
	return Result[T]{values: values}
}

// IsPending reports whether no terminal builds were seen.
func (r Result[T]) IsPending() bool { return r.pending }

// Values returns the compatible axis values; nil when pending.
func (r Result[T]) Values() []T {
	if r.pending {
		return nil
	}
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

type resultJSON[T any] struct {
	Status string `json:"status"`
	Values []T    `json:"values,omitempty"`
}

// MarshalJSON encodes {"status":"pending"} or {"status":"available","values":[...]}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.pending {
		return json.Marshal(resultJSON[T]{Status: "pending"})
	}
	return json.Marshal(resultJSON[T]{Status: "available", Values: r.values})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var raw resultJSON[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Status {
	case "pending":
		*r = Pending[T]()
	case "available":
		*r = Available(raw.Values)
	default:
		return fmt.Errorf("unknown compatibility status %q", raw.Status)
	}
	return nil
}
