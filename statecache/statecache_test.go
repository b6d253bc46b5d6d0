package statecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/primitives"
)

type fakeState struct{ slot primitives.Slot }

func fakeTransition(_ context.Context, pre State, block *primitives.ProtoBlock, targetSlot primitives.Slot) (State, error) {
	return fakeState{slot: targetSlot}, nil
}

func TestGetPreStateCacheHitAdvancesSlot(t *testing.T) {
	r := New(DefaultConfig(), fakeTransition, nil)
	var parent primitives.Root
	parent[0] = 1
	r.Put(CachedBeaconState{Root: parent, Slot: 5, State: fakeState{slot: 5}})

	st, err := r.GetPreState(context.Background(), parent, 8)
	require.NoError(t, err)
	require.Equal(t, primitives.Slot(8), st.(fakeState).slot)
}

func TestGetPreStateMissUsesLoader(t *testing.T) {
	var loaderCalls int
	loader := func(ctx context.Context, root primitives.Root) (State, error) {
		loaderCalls++
		return fakeState{slot: 10}, nil
	}
	r := New(DefaultConfig(), fakeTransition, loader)

	var parent primitives.Root
	parent[0] = 9
	_, err := r.GetPreState(context.Background(), parent, 12)
	require.NoError(t, err)
	require.Equal(t, 1, loaderCalls)
}

func TestGetPreStateReplayTooDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReplaySlots = 4
	r := New(cfg, fakeTransition, nil)

	var parent primitives.Root
	parent[0] = 2
	r.Put(CachedBeaconState{Root: parent, Slot: 0, State: fakeState{slot: 0}})

	_, err := r.GetPreState(context.Background(), parent, 100)
	require.ErrorIs(t, err, ErrReplayTooDeep)
}

func TestLRUEvictsOldest(t *testing.T) {
	cfg := Config{MaxCachedStates: 2, MaxReplaySlots: 32}
	r := New(cfg, fakeTransition, nil)

	roots := make([]primitives.Root, 3)
	for i := range roots {
		roots[i][0] = byte(i + 1)
		r.Put(CachedBeaconState{Root: roots[i], Slot: primitives.Slot(i), State: fakeState{slot: primitives.Slot(i)}})
	}

	_, ok := r.Get(roots[0])
	require.False(t, ok)
	_, ok = r.Get(roots[2])
	require.True(t, ok)
	require.Equal(t, 2, r.Len())
}

func TestApplyBlockCachesPostState(t *testing.T) {
	r := New(DefaultConfig(), fakeTransition, nil)
	var parent primitives.Root
	parent[0] = 1
	r.Put(CachedBeaconState{Root: parent, Slot: 1, State: fakeState{slot: 1}})

	var self primitives.Root
	self[0] = 2
	block := primitives.ProtoBlock{BlockRoot: self, ParentRoot: parent, Slot: 2}

	_, err := r.ApplyBlock(context.Background(), block)
	require.NoError(t, err)

	cached, ok := r.Get(self)
	require.True(t, ok)
	require.Equal(t, primitives.Slot(2), cached.Slot)
}
