package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/db"
	"github.com/ethshard/beacon-core/primitives"
)

func openTestStores(t *testing.T) (hot, cold *db.Store) {
	t.Helper()
	hot, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { hot.Close() })

	cold, err = db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cold.Close() })

	return hot, cold
}

func TestStoreBackendArchivesBlockAndState(t *testing.T) {
	hot, cold := openTestStores(t)
	backend := NewStoreBackend(hot, cold, nil)

	var root primitives.Root
	root[0] = 9

	hotBlocks := db.NewRepo[primitives.Root, []byte](hot, db.BucketBlocksHot, db.RootKeyCodec{}, db.BytesCodec{})
	require.NoError(t, hotBlocks.Put(root, []byte("block-bytes")))

	hotStates := db.NewRepo[primitives.Root, []byte](hot, db.BucketStateHot, db.RootKeyCodec{}, db.BytesCodec{})
	require.NoError(t, hotStates.Put(root, []byte("block-bytes")))

	require.NoError(t, backend.ArchiveBlock(context.Background(), root))
	require.NoError(t, backend.ArchiveState(context.Background(), root, 3))

	coldBlocks := db.NewRepo[primitives.Root, []byte](cold, db.BucketBlocksArchive, db.RootKeyCodec{}, db.BytesCodec{})
	got, err := coldBlocks.Get(root)
	require.NoError(t, err)
	require.Equal(t, []byte("block-bytes"), got)

	require.NoError(t, backend.PruneHot(context.Background(), root))
	_, err = hotBlocks.Get(root)
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestStoreBackendBlobSidecarRoundTripsThroughErasureCoding(t *testing.T) {
	hot, cold := openTestStores(t)
	backend := NewStoreBackend(hot, cold, nil)

	var root primitives.Root
	root[1] = 4

	original := make([]byte, 2048)
	for i := range original {
		original[i] = byte(i)
	}

	require.NoError(t, backend.ArchiveBlobSidecar(context.Background(), root, 2, original))

	got, err := backend.ReconstructArchivedBlob(context.Background(), root, 2)
	require.NoError(t, err)
	require.Equal(t, original, got[:len(original)])
}
