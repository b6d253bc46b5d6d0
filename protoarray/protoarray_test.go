package protoarray

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/primitives"
)

func root(b byte) primitives.Root {
	var r primitives.Root
	r[31] = b
	return r
}

func block(slot primitives.Slot, self, parent byte) primitives.ProtoBlock {
	return primitives.ProtoBlock{
		Slot:       slot,
		BlockRoot:  root(self),
		ParentRoot: root(parent),
	}
}

func TestOnBlockUnknownParent(t *testing.T) {
	s := New()
	require.NoError(t, s.OnBlock(block(0, 0, 0), 0)) // anchor

	err := s.OnBlock(block(2, 2, 99), 2)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnknownParent)
}

func TestOnBlockIdempotent(t *testing.T) {
	s := New()
	require.NoError(t, s.OnBlock(block(0, 0, 0), 0))
	require.NoError(t, s.OnBlock(block(1, 1, 0), 1))
	require.NoError(t, s.OnBlock(block(1, 1, 0), 1)) // duplicate, no error
	require.Equal(t, 2, s.Len())
}

func TestApplyScoreChangesPicksHeaviestChild(t *testing.T) {
	s := New()
	require.NoError(t, s.OnBlock(block(0, 0, 0), 2))
	require.NoError(t, s.OnBlock(block(1, 1, 0), 2)) // parent P
	require.NoError(t, s.OnBlock(block(2, 2, 1), 2)) // head H1
	require.NoError(t, s.OnBlock(block(2, 3, 1), 2)) // head H2, heavier

	deltas := make([]int64, 4)
	deltas[2] = 29
	deltas[3] = 212

	anchor := primitives.NewCheckpoint(0, root(0))
	require.NoError(t, s.ApplyScoreChanges(deltas, anchor, anchor, 2))

	head, err := s.GetHead()
	require.NoError(t, err)
	require.Equal(t, root(3), head)
}

func TestPruneDropsPreFinalizedNodes(t *testing.T) {
	s := New()
	require.NoError(t, s.OnBlock(block(0, 0, 0), 3))
	require.NoError(t, s.OnBlock(block(1, 1, 0), 3))
	require.NoError(t, s.OnBlock(block(2, 2, 1), 3))

	require.NoError(t, s.Prune(root(1)))
	require.Equal(t, 2, s.Len())
	require.False(t, s.HasBlock(root(0)))
	require.True(t, s.HasBlock(root(1)))
	require.True(t, s.HasBlock(root(2)))
}

func TestComputeDeltasSumsToNetBalanceChange(t *testing.T) {
	s := New()
	require.NoError(t, s.OnBlock(block(0, 0, 0), 1))
	require.NoError(t, s.OnBlock(block(1, 1, 0), 1))

	s.OnAttestation(0, root(1), 1)
	s.OnAttestation(1, root(1), 1)

	// Establish a steady state: both validators' votes already
	// contributed at their current balance.
	base := []uint64{32, 32}
	_, err := s.ComputeDeltas(base, base, nil)
	require.NoError(t, err)

	// Now only the balances change; vote targets stay the same.
	old := []uint64{32, 32}
	cur := []uint64{32, 40}
	deltas, err := s.ComputeDeltas(old, cur, nil)
	require.NoError(t, err)

	var sum int64
	for _, d := range deltas {
		sum += d
	}
	require.Equal(t, int64(40-32), sum)
}

func TestComputeDeltasDropsEquivocatingVote(t *testing.T) {
	s := New()
	require.NoError(t, s.OnBlock(block(0, 0, 0), 1))
	require.NoError(t, s.OnBlock(block(1, 1, 0), 1))
	s.OnAttestation(0, root(1), 1)

	base := []uint64{32}
	_, err := s.ComputeDeltas(base, base, nil)
	require.NoError(t, err)

	deltas, err := s.ComputeDeltas(base, base, map[primitives.ValidatorIndex]bool{0: true})
	require.NoError(t, err)
	require.Equal(t, int64(-32), deltas[1])
}
