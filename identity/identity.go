// Package identity produces process-unique, totally ordered operation
// identifiers for the convergence core.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Fresh returns a globally-unique identifier with extremely low collision
// probability, rendered as text. No shared state is required between
// calls: independent callers on different hosts produce distinct values
// with overwhelming probability.
//
// Ordering used for tie-breaking (OT) and merge-sort (RGA) is plain
// byte-lexicographic comparison of this string — callers must not rely
// on any other property of the value.
func Fresh() string {
	return uuid.NewString()
}

// NowMillis returns the current wall-clock time in milliseconds since the
// Unix epoch. It carries no ordering guarantee and is unused by the
// convergence core; it exists for observability call sites that want a
// coarse timestamp alongside an Operation.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
