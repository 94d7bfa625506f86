// Package id generates document identifiers.
package id

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a lowercase ULID.
//
// ULIDs sort lexicographically by creation time, and ulid.Make uses
// monotonic entropy within a millisecond, so ids generated by one process
// sort in generation order. Stores that iterate by key therefore return
// documents in insertion order.
func New() string {
	return strings.ToLower(ulid.Make().String())
}
