package das

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/primitives"
)

func TestCoordinatorResolvesOnAllBlobsReceived(t *testing.T) {
	c := NewCoordinator(500, 12*time.Second)
	var root primitives.Root
	root[0] = 1

	input := BlockInput{
		BlockRoot:      root,
		Variant:        VariantBlobs,
		KZGCommitments: []KZGCommitment{{1}, {2}},
	}
	c.Track(input)

	require.NoError(t, c.ReceiveBlob(root, BlobSidecar{Index: 0, KZGCommitment: KZGCommitment{1}}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Wait(ctx, root, 20*time.Millisecond)
	require.Error(t, err) // only 1 of 2 blobs received yet

	require.NoError(t, c.ReceiveBlob(root, BlobSidecar{Index: 1, KZGCommitment: KZGCommitment{2}}))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, c.Wait(ctx2, root, time.Second))
}

func TestCoordinatorRejectsCommitmentMismatch(t *testing.T) {
	c := NewCoordinator(500, 12*time.Second)
	var root primitives.Root
	root[0] = 2

	c.Track(BlockInput{BlockRoot: root, KZGCommitments: []KZGCommitment{{9}}})
	err := c.ReceiveBlob(root, BlobSidecar{Index: 0, KZGCommitment: KZGCommitment{1}})
	require.ErrorIs(t, err, ErrCommitmentMismatch)
}

func TestColumnReconstructionTrackerSchedulesOnceAtThreshold(t *testing.T) {
	tr := NewColumnReconstructionTracker(500)
	var root primitives.Root
	root[0] = 3

	require.False(t, tr.ShouldSchedule(root, ReconstructionThreshold-1))
	require.True(t, tr.ShouldSchedule(root, ReconstructionThreshold))
	require.False(t, tr.ShouldSchedule(root, ReconstructionThreshold+10))

	tr.Reset(root)
	require.True(t, tr.ShouldSchedule(root, ReconstructionThreshold))
}

func TestReceiveColumnTriggersBackgroundReconstruction(t *testing.T) {
	c := NewCoordinator(500, 0)
	var root primitives.Root
	root[0] = 5

	input := BlockInput{
		BlockRoot:      root,
		Slot:           7,
		Variant:        VariantColumns,
		KZGCommitments: []KZGCommitment{{1}},
	}
	c.Track(input)

	for i := 0; i < ReconstructionThreshold; i++ {
		sidecar := DataColumnSidecar{
			Index:  ColumnIndex(i),
			Column: []Cell{{}}, // single blob, zero-valued cell
		}
		require.NoError(t, c.ReceiveColumn(root, sidecar))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx, root, time.Second))

	require.Eventually(t, func() bool {
		state := c.Recon.Collector().GetState(7, 0)
		return state != nil && state.Reconstructed
	}, time.Second, 5*time.Millisecond, "background reconstruction should complete")
}

func TestTriggerGetBlobsOutcomes(t *testing.T) {
	c := NewCoordinator(500, 0)

	noBlobsRoot := primitives.Root{6}
	c.Track(BlockInput{BlockRoot: noBlobsRoot})
	require.Equal(t, OutcomeNotAttemptedNoBlobs, c.TriggerGetBlobs(context.Background(), BlockInput{BlockRoot: noBlobsRoot}, nil, nil))

	blobsRoot := primitives.Root{7}
	blobsInput := BlockInput{
		BlockRoot:      blobsRoot,
		Variant:        VariantBlobs,
		KZGCommitments: []KZGCommitment{{1}},
	}
	c.Track(blobsInput)
	outcome := c.TriggerGetBlobs(context.Background(), blobsInput,
		func(ctx context.Context) ([]BlobSidecar, error) {
			return []BlobSidecar{{Index: 0, KZGCommitment: KZGCommitment{1}}}, nil
		}, nil)
	require.Equal(t, OutcomePreFulu, outcome)

	nullRoot := primitives.Root{8}
	nullInput := BlockInput{
		BlockRoot:      nullRoot,
		Variant:        VariantBlobs,
		KZGCommitments: []KZGCommitment{{1}},
	}
	c.Track(nullInput)
	outcome = c.TriggerGetBlobs(context.Background(), nullInput,
		func(ctx context.Context) ([]BlobSidecar, error) { return nil, nil }, nil)
	require.Equal(t, OutcomeNullResponse, outcome)
}

func TestGetBlobsTrackerDedupesConcurrentFetch(t *testing.T) {
	tr := NewGetBlobsTracker()
	var root primitives.Root
	root[0] = 4

	_, isFetcher1 := tr.StartOrJoin(root)
	require.True(t, isFetcher1)

	_, isFetcher2 := tr.StartOrJoin(root)
	require.False(t, isFetcher2)

	tr.Finish(root)

	_, isFetcher3 := tr.StartOrJoin(root)
	require.True(t, isFetcher3)
}
