package forkchoice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/params"
	"github.com/ethshard/beacon-core/primitives"
)

func testConfig() *params.Config {
	cfg := params.NewConfig(32, 12000, []params.ForkScheduleEntry{
		{Epoch: 0, Name: "genesis"},
	}, []params.BlobScheduleEntry{
		{Epoch: 0, MaxBlobsPerBlock: 6},
	})
	return cfg
}

func root(b byte) primitives.Root {
	var r primitives.Root
	r[31] = b
	return r
}

func TestShouldOverrideForkChoiceUpdateHappyPath(t *testing.T) {
	s := New(testConfig())

	anchor := primitives.ProtoBlock{BlockRoot: root(0), ParentRoot: root(0), Slot: 0}
	require.NoError(t, s.OnBlock(anchor, 0, 2))

	parent := primitives.ProtoBlock{
		BlockRoot: root(1), ParentRoot: root(0), Slot: 1,
		JustifiedEpoch: 0, FinalizedEpoch: 0,
	}
	require.NoError(t, s.OnBlock(parent, 0, 2))

	head := primitives.ProtoBlock{
		BlockRoot: root(2), ParentRoot: root(1), Slot: 2,
		JustifiedEpoch: 0, FinalizedEpoch: 0,
	}
	require.NoError(t, s.OnBlock(head, 100, 2)) // untimely

	s.SetJustifiedBalances(make([]uint64, 0))
	s.committeeWeight = 2560
	s.arr.ApplyScoreChanges([]int64{0, 2000, 100}, primitives.NewCheckpoint(0, root(0)), primitives.NewCheckpoint(0, root(0)), 2)
	s.votesDirty = false

	decision, err := s.ShouldOverrideForkChoiceUpdate(root(2), 3, false)
	require.NoError(t, err)
	require.True(t, decision.Override)
	require.Equal(t, root(1), decision.NewTarget)
}

func TestSetJustifiedBalancesSumsCommitteeWeight(t *testing.T) {
	s := New(testConfig())
	s.SetJustifiedBalances([]uint64{32_000_000_000, 31_000_000_000, 1_500_000_000})
	require.Equal(t, uint64(64_500_000_000), s.committeeWeight)
}

func TestGetHeadAppliesProposerBoostToTimelyCompetingBlock(t *testing.T) {
	s := New(testConfig())

	anchor := primitives.ProtoBlock{BlockRoot: root(0), ParentRoot: root(0), Slot: 0}
	require.NoError(t, s.OnBlock(anchor, 0, 1))

	// Two children of the anchor at the same slot, competing for head.
	// childA has more accumulated vote weight than childB.
	childA := primitives.ProtoBlock{BlockRoot: root(1), ParentRoot: root(0), Slot: 1}
	require.NoError(t, s.OnBlock(childA, 100, 1)) // untimely, arrived well after the cutoff

	childB := primitives.ProtoBlock{BlockRoot: root(2), ParentRoot: root(0), Slot: 1}
	require.NoError(t, s.OnBlock(childB, 0, 1)) // timely, arrives before cutoff

	s.SetJustifiedBalances([]uint64{1_000_000_000})
	s.arr.ApplyScoreChanges([]int64{0, 2000, 100}, primitives.NewCheckpoint(0, root(0)), primitives.NewCheckpoint(0, root(0)), 1)
	s.votesDirty = false

	// Without boost, childA (heavier vote weight) is the head.
	head, err := s.GetHead()
	require.NoError(t, err)
	require.Equal(t, root(1), head)

	// childB arrived timely in the current slot: proposer boost should
	// now outweigh childA's vote-weight lead and flip the head.
	s.mu.Lock()
	s.proposerBoostRoot = root(2)
	s.proposerBoostSlot = 1
	s.proposerBoostActive = true
	s.mu.Unlock()

	head, err = s.GetHead()
	require.NoError(t, err)
	require.Equal(t, root(2), head)

	// After the boost window expires, childA is head again.
	s.UpdateTime(2)
	head, err = s.GetHead()
	require.NoError(t, err)
	require.Equal(t, root(1), head)
}

func TestShouldOverrideForkChoiceUpdateEpochBoundaryDeclines(t *testing.T) {
	s := New(testConfig())

	anchor := primitives.ProtoBlock{BlockRoot: root(0), ParentRoot: root(0), Slot: 0}
	require.NoError(t, s.OnBlock(anchor, 0, 63))

	parent := primitives.ProtoBlock{BlockRoot: root(1), ParentRoot: root(0), Slot: 62}
	require.NoError(t, s.OnBlock(parent, 0, 63))

	head := primitives.ProtoBlock{BlockRoot: root(2), ParentRoot: root(1), Slot: 63}
	require.NoError(t, s.OnBlock(head, 100, 63))

	decision, err := s.ShouldOverrideForkChoiceUpdate(root(2), 64, true)
	require.NoError(t, err)
	require.False(t, decision.Override)
	require.Equal(t, ReorgNotShufflingStable, decision.Reason)
}
