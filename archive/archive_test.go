package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/params"
	"github.com/ethshard/beacon-core/primitives"
)

type fakeBackend struct {
	mu             sync.Mutex
	archivedBlocks []primitives.Root
	archivedStates []primitives.Epoch
	prunedRoots    []primitives.Root
}

func (b *fakeBackend) ArchiveBlock(ctx context.Context, root primitives.Root) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.archivedBlocks = append(b.archivedBlocks, root)
	return nil
}

func (b *fakeBackend) ArchiveState(ctx context.Context, root primitives.Root, epoch primitives.Epoch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.archivedStates = append(b.archivedStates, epoch)
	return nil
}

func (b *fakeBackend) PruneHot(ctx context.Context, root primitives.Root) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prunedRoots = append(b.prunedRoots, root)
	return nil
}

func TestShouldArchiveStateFrequency(t *testing.T) {
	cfg := &params.ArchiveConfig{Mode: params.ArchiveModeFrequency, StateEpochFrequency: 4}
	require.True(t, ShouldArchiveState(cfg, 0))
	require.False(t, ShouldArchiveState(cfg, 1))
	require.True(t, ShouldArchiveState(cfg, 8))
}

func TestJobItemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewJobItemQueue()
	require.NoError(t, q.Enqueue(primitives.NewCheckpoint(1, primitives.Root{})))
	require.NoError(t, q.Enqueue(primitives.NewCheckpoint(2, primitives.Root{})))
	require.Equal(t, 2, q.Len())

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, primitives.Epoch(1), first.Epoch)
}

func TestJobItemQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewJobItemQueue()
	done := make(chan primitives.CheckpointWithHex, 1)
	go func() {
		cp, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		done <- cp
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(primitives.NewCheckpoint(7, primitives.Root{})))

	select {
	case cp := <-done:
		require.Equal(t, primitives.Epoch(7), cp.Epoch)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestArchiverRunProcessesQueueUntilClosed(t *testing.T) {
	q := NewJobItemQueue()
	backend := &fakeBackend{}
	cfg := &params.ArchiveConfig{Mode: params.ArchiveModeFrequency, StateEpochFrequency: 1, PruneHistory: true}
	a := New(q, backend, cfg)

	require.NoError(t, q.Enqueue(primitives.NewCheckpoint(1, primitives.Root{})))
	require.NoError(t, q.Enqueue(primitives.NewCheckpoint(2, primitives.Root{})))
	q.Close()

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, backend.archivedBlocks, 2)
	require.Len(t, backend.archivedStates, 2)
	require.Len(t, backend.prunedRoots, 2)
}
