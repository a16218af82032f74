package ot_test

import (
	"testing"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/ot"
	"github.com/stretchr/testify/require"
)

func TestTransformTotalityAndPurity(t *testing.T) {
	cases := []struct {
		name string
		a, b crdt.Operation
	}{
		{"insert/insert", crdt.Insert(1, 'a', "1"), crdt.Insert(2, 'b', "2")},
		{"insert/delete", crdt.Insert(1, 'a', "1"), crdt.Delete(2, "2")},
		{"delete/insert", crdt.Delete(1, "1"), crdt.Insert(2, 'b', "2")},
		{"delete/delete", crdt.Delete(1, "1"), crdt.Delete(2, "2")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aBefore := tc.a
			bBefore := tc.b
			result := ot.Transform(tc.a, tc.b)

			require.Equal(t, tc.a.Kind, result.Kind)
			require.GreaterOrEqual(t, result.Index, 0)
			// pure: inputs must not be mutated
			require.Equal(t, aBefore, tc.a)
			require.Equal(t, bBefore, tc.b)
		})
	}
}

func TestInsertInsertTieBreakDeterminism(t *testing.T) {
	a := crdt.Insert(2, 'a', "alpha")
	b := crdt.Insert(2, 'b', "beta")

	ab := ot.Transform(a, b)
	ba := ot.Transform(b, a)

	// "alpha" < "beta" lexically: a keeps its slot, b shifts right.
	require.Equal(t, a, ab)
	require.Equal(t, b.WithIndex(3), ba)
}

func TestDeleteDeleteSameIndexIsIdempotent(t *testing.T) {
	a := crdt.Delete(2, "1")
	b := crdt.Delete(2, "2")
	require.Equal(t, a, ot.Transform(a, b))
}

func TestConcurrentInsertAtHeadConverges(t *testing.T) {
	op1 := crdt.Insert(0, 'H', "1")
	op2 := crdt.Insert(0, 'W', "2")

	t1 := ot.Transform(op1, op2)
	t2 := ot.Transform(op2, op1)

	require.Equal(t, op1, t1)
	require.Equal(t, crdt.Insert(1, 'W', "2"), t2)
}

func TestInsertShiftsLeftPastEarlierConcurrentDelete(t *testing.T) {
	a := crdt.Insert(3, 'a', "1")
	b := crdt.Delete(2, "2")
	require.Equal(t, crdt.Insert(2, 'a', "1"), ot.Transform(a, b))
}

func TestInsertAtLenIsAppend(t *testing.T) {
	// An insert at index == len vs a concurrent delete earlier in the
	// sequence must still resolve to a non-negative index.
	a := crdt.Insert(5, 'z', "1")
	b := crdt.Delete(0, "2")
	result := ot.Transform(a, b)
	require.Equal(t, crdt.Insert(4, 'z', "1"), result)
}
