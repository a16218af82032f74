package crdt

import (
	"sort"
	"strings"
	"sync"

	"github.com/Polqt/crdtcollab/crdterrors"
	"github.com/Polqt/crdtcollab/identity"
)

// Element is one character in the replica. Once created, Id and Value
// are immutable; Visible transitions exactly once, from true to false.
// Tombstones are retained forever — GC is a non-goal.
type Element struct {
	Id      OpId `json:"id"`
	Value   rune `json:"value"`
	Visible bool `json:"visible"`
}

// RGA is a Replicated Growable Array: an ordered sequence of Elements
// that converges to an identical document across replicas after merge,
// without a central arbiter.
//
// An RGA is not safe for concurrent writers — exactly one participant
// owns a given replica. The internal mutex only protects readers (e.g.
// Text()) racing a single writer goroutine, it is not a substitute for
// the single-owner discipline.
type RGA struct {
	mu       sync.RWMutex
	elements []Element
}

// New creates an empty RGA replica.
func New() *RGA {
	return &RGA{}
}

// Insert splices value at the given position of the *visible* sequence,
// allocates a fresh OpId, and returns the Insert operation describing
// the change. index may range over [0, VisibleLen()]; one past the end
// is the common append path. Returns ErrIndexOutOfRange otherwise and
// leaves state unmutated.
func (r *RGA) Insert(index int, value rune) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, err := r.splicePosition(index)
	if err != nil {
		return Operation{}, err
	}

	id := identity.Fresh()
	elem := Element{Id: id, Value: value, Visible: true}
	r.elements = append(r.elements, Element{})
	copy(r.elements[pos+1:], r.elements[pos:])
	r.elements[pos] = elem

	return Insert(index, value, id), nil
}

// Delete marks the element currently at the given visible position as
// invisible and returns the Delete operation describing the change. The
// returned Id is the tombstoned element's own id, not a synthesized one,
// so remote replicas can locate the same element without relying on
// index. index must be in [0, VisibleLen()); otherwise
// ErrIndexOutOfRange is returned and state is left unmutated.
func (r *RGA) Delete(index int) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.visibleAt(index)
	if err != nil {
		return Operation{}, err
	}

	r.elements[idx].Visible = false
	return Delete(index, r.elements[idx].Id), nil
}

// Apply applies a remote, already-transformed Operation to this replica.
// It is the delta-application counterpart to Merge's full-state gossip.
func (r *RGA) Apply(op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch op.Kind {
	case OpInsert:
		pos, err := r.splicePosition(op.Index)
		if err != nil {
			return err
		}
		r.elements = append(r.elements, Element{})
		copy(r.elements[pos+1:], r.elements[pos:])
		r.elements[pos] = Element{Id: op.Id, Value: op.Value, Visible: true}
		return nil
	case OpDelete:
		if idx := r.indexOfId(op.Id); idx >= 0 {
			r.elements[idx].Visible = false
			return nil
		}
		// Element absent locally (e.g. never merged in yet): nothing to
		// tombstone. An already-deleted element is still present as a
		// tombstone above, so deleting by id is naturally idempotent.
		return nil
	default:
		return crdterrors.ErrSerialization
	}
}

// Merge folds every Element of other not already present locally in,
// then re-sorts the full sequence (visible and tombstoned alike) by Id
// ascending. Two replicas that have each merged the other's state
// hold the same element ids in the same order — this is the convergence
// property. Visibility of an element already present locally is left as
// it is: a tombstone set only on other's copy is not carried over.
func (r *RGA) Merge(other *RGA) {
	other.mu.RLock()
	incoming := make([]Element, len(other.elements))
	copy(incoming, other.elements)
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[OpId]struct{}, len(r.elements))
	for _, e := range r.elements {
		present[e.Id] = struct{}{}
	}
	for _, e := range incoming {
		if _, ok := present[e.Id]; !ok {
			r.elements = append(r.elements, e)
			present[e.Id] = struct{}{}
		}
	}
	sort.SliceStable(r.elements, func(i, j int) bool {
		return strings.Compare(r.elements[i].Id, r.elements[j].Id) < 0
	})
}

// Text returns the externally observable document: the concatenation of
// Value over elements where Visible == true, in sequence order.
func (r *RGA) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, e := range r.elements {
		if e.Visible {
			b.WriteRune(e.Value)
		}
	}
	return b.String()
}

// Elements returns a defensive copy of the full element sequence,
// tombstones included, for snapshotting or gossip transport.
func (r *RGA) Elements() []Element {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Element, len(r.elements))
	copy(out, r.elements)
	return out
}

// Clone returns an independent copy of the replica, suitable for the
// "apply disjoint histories then merge both ways" commutativity check.
func (r *RGA) Clone() *RGA {
	return &RGA{elements: r.Elements()}
}

// VisibleLen returns the number of visible elements.
func (r *RGA) VisibleLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visibleLenLocked()
}

func (r *RGA) visibleLenLocked() int {
	n := 0
	for _, e := range r.elements {
		if e.Visible {
			n++
		}
	}
	return n
}

// splicePosition translates a visible-index in [0, visibleLen] into a
// physical slice position, skipping tombstones along the way. Must be
// called with r.mu held.
func (r *RGA) splicePosition(index int) (int, error) {
	if index < 0 {
		return 0, crdterrors.ErrIndexOutOfRange
	}
	seen := 0
	for i, e := range r.elements {
		if seen == index {
			return i, nil
		}
		if e.Visible {
			seen++
		}
	}
	if seen == index {
		return len(r.elements), nil
	}
	return 0, crdterrors.ErrIndexOutOfRange
}

// visibleAt translates a visible-index in [0, visibleLen) into the
// physical slice index of that element. Must be called with r.mu held.
func (r *RGA) visibleAt(index int) (int, error) {
	if index < 0 {
		return 0, crdterrors.ErrIndexOutOfRange
	}
	seen := 0
	for i, e := range r.elements {
		if e.Visible {
			if seen == index {
				return i, nil
			}
			seen++
		}
	}
	return 0, crdterrors.ErrIndexOutOfRange
}

func (r *RGA) indexOfId(id OpId) int {
	for i, e := range r.elements {
		if e.Id == id {
			return i
		}
	}
	return -1
}
