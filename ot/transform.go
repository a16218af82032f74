// Package ot implements Operational Transformation: rewriting a local
// operation against a concurrent remote one so that index-based clients
// can still apply operations out of causal order and converge.
package ot

import (
	"strings"

	"github.com/Polqt/crdtcollab/crdt"
)

// Transform rewrites a to apply cleanly on top of b's effect, given that
// a and b are concurrent (neither caused the other). It is total, pure,
// and side-effect-free: it never consults replica state, only the two
// Operation values.
//
// Grounded line-for-line on the reference OT table: Insert/Insert ties
// break on lexical id order so every replica decides identically;
// Delete/Delete at the same index is idempotent and never cascades an
// index shift.
func Transform(a, b crdt.Operation) crdt.Operation {
	switch {
	case a.IsInsert() && b.IsInsert():
		return transformInsertInsert(a, b)
	case a.IsInsert() && b.IsDelete():
		return transformInsertDelete(a, b)
	case a.IsDelete() && b.IsInsert():
		return transformDeleteInsert(a, b)
	default: // a.IsDelete() && b.IsDelete()
		return transformDeleteDelete(a, b)
	}
}

func transformInsertInsert(a, b crdt.Operation) crdt.Operation {
	switch {
	case a.Index < b.Index:
		return a
	case a.Index > b.Index:
		return a.WithIndex(a.Index + 1)
	default: // equal index: lexical id order decides who keeps the slot
		switch strings.Compare(a.Id, b.Id) {
		case -1:
			return a
		case 1:
			return a.WithIndex(a.Index + 1)
		default: // identical id: same operation observed twice
			return a
		}
	}
}

func transformInsertDelete(a, b crdt.Operation) crdt.Operation {
	if a.Index <= b.Index {
		return a
	}
	return a.WithIndex(a.Index - 1)
}

func transformDeleteInsert(a, b crdt.Operation) crdt.Operation {
	switch {
	case a.Index < b.Index:
		return a
	case a.Index == b.Index:
		return a
	default:
		return a.WithIndex(a.Index + 1)
	}
}

func transformDeleteDelete(a, b crdt.Operation) crdt.Operation {
	switch {
	case a.Index <= b.Index:
		return a
	default:
		return a.WithIndex(a.Index - 1)
	}
}
