// Package enums holds the string enums stored in the database and accepted by
// the API. Each is backed by a closed value list.
package enums

import (
	"fmt"
	"slices"
)

type closed[T ~string] []T

func (c closed[T]) has(v T) bool {
	return slices.Contains(c, v)
}

func (c closed[T]) parse(kind, raw string) (T, error) {
	if v := T(raw); c.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
