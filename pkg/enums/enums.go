// Package enums holds the string-backed enumerations persisted by the
// billing tables and accepted on the HTTP API.
package enums

import (
	"fmt"
	"slices"
	"strings"
)

// set is the ordered list of legal values for one enumeration.
type set[T ~string] struct {
	kind   string
	values []T
	fold   func(string) string
}

func newSet[T ~string](kind string, values ...T) set[T] {
	return set[T]{kind: kind, values: values, fold: strings.TrimSpace}
}

// folding returns a copy of s that normalises input with fold before matching.
func (s set[T]) folding(fold func(string) string) set[T] {
	s.fold = fold
	return s
}

func (s set[T]) has(v T) bool {
	return slices.Contains(s.values, v)
}

func (s set[T]) index(v T) int {
	return slices.Index(s.values, v)
}

func (s set[T]) all() []T {
	return slices.Clone(s.values)
}

func (s set[T]) parse(raw string) (T, error) {
	candidate := T(s.fold(raw))
	if !s.has(candidate) {
		return "", fmt.Errorf("invalid %s %q", s.kind, raw)
	}
	return candidate, nil
}

func normalizeUpper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
