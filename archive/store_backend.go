package archive

import (
	"context"
	"fmt"

	"github.com/ethshard/beacon-core/das/erasure"
	"github.com/ethshard/beacon-core/db"
	"github.com/ethshard/beacon-core/log"
	"github.com/ethshard/beacon-core/primitives"
)

// Redundancy shard counts for cold-stored blob payloads. A blob moved
// into the archive is split into blobDataShards data shards plus
// blobParityShards parity shards. erasure.Encode makes every parity
// shard the XOR of all data shards, so the blob survives bit rot or
// partial page corruption that takes any number of parity shards but
// at most one data shard; two lost data shards lose the blob
// (spec.md §4.6's archive durability concern;
// this is a different failure mode than das.Coordinator's network-loss
// reconstruction, so it uses the byte-level erasure coder rather than
// the BLS-field reconstruction math das/reconstruction.go uses for
// cells).
const (
	blobDataShards   = 8
	blobParityShards = 4
)

// StoreBackend is the db-backed Backend: it moves block and state
// bytes from the hot store into the cold store, erasure-coding blob
// sidecar payloads for at-rest redundancy, and prunes the hot copies
// once archived.
type StoreBackend struct {
	hotBlocks  *db.Repo[primitives.Root, []byte]
	coldBlocks *db.Repo[primitives.Root, []byte]

	hotStates  *db.Repo[primitives.Root, []byte]
	coldStates *db.Repo[primitives.Root, []byte]

	hotBlobShards  *db.Repo[db.RootColumn, []byte]
	coldBlobShards *db.Repo[db.RootColumn, []byte]

	log *log.Logger
}

// NewStoreBackend builds a StoreBackend over the hot and cold pebble
// stores (spec.md §4.6's hot/cold split; the two Stores may wrap the
// same pebble instance with distinct bucket prefixes, or two separate
// instances).
func NewStoreBackend(hot, cold *db.Store, logger *log.Logger) *StoreBackend {
	if logger == nil {
		logger = log.Default()
	}
	return &StoreBackend{
		hotBlocks:      db.NewRepo[primitives.Root, []byte](hot, db.BucketBlocksHot, db.RootKeyCodec{}, db.BytesCodec{}),
		coldBlocks:     db.NewRepo[primitives.Root, []byte](cold, db.BucketBlocksArchive, db.RootKeyCodec{}, db.BytesCodec{}),
		hotStates:      db.NewRepo[primitives.Root, []byte](hot, db.BucketStateHot, db.RootKeyCodec{}, db.BytesCodec{}),
		coldStates:     db.NewRepo[primitives.Root, []byte](cold, db.BucketStateArchive, db.RootKeyCodec{}, db.BytesCodec{}),
		hotBlobShards:  db.NewRepo[db.RootColumn, []byte](hot, db.BucketBlobSidecarHot, db.RootColumnKeyCodec{}, db.BytesCodec{}),
		coldBlobShards: db.NewRepo[db.RootColumn, []byte](cold, db.BucketBlobSidecarArchive, db.RootColumnKeyCodec{}, db.BytesCodec{}),
		log:            logger.Module("archive"),
	}
}

// ArchiveBlock implements Backend by copying the finalized block's
// bytes from hot to cold storage.
func (b *StoreBackend) ArchiveBlock(ctx context.Context, root primitives.Root) error {
	data, err := b.hotBlocks.Get(root)
	if err != nil {
		return fmt.Errorf("archive: read hot block %s: %w", root, err)
	}
	if err := b.coldBlocks.Put(root, data); err != nil {
		return fmt.Errorf("archive: write cold block %s: %w", root, err)
	}
	b.log.Debug("archived block", "root", root, "bytes", len(data))
	return nil
}

// ArchiveState implements Backend by copying the finalized state's
// bytes from hot to cold storage; epoch is accepted for logging only,
// the frequency gate already ran in Archiver.processCheckpoint.
func (b *StoreBackend) ArchiveState(ctx context.Context, root primitives.Root, epoch primitives.Epoch) error {
	data, err := b.hotStates.Get(root)
	if err != nil {
		return fmt.Errorf("archive: read hot state %s: %w", root, err)
	}
	if err := b.coldStates.Put(root, data); err != nil {
		return fmt.Errorf("archive: write cold state %s: %w", root, err)
	}
	b.log.Info("archived state", "root", root, "epoch", epoch, "bytes", len(data))
	return nil
}

// PruneHot implements Backend by dropping the hot-store block and
// state entries for root now superseded by the archive copy.
func (b *StoreBackend) PruneHot(ctx context.Context, root primitives.Root) error {
	if err := b.hotBlocks.Delete(root); err != nil {
		return fmt.Errorf("archive: prune hot block %s: %w", root, err)
	}
	if err := b.hotStates.Delete(root); err != nil {
		return fmt.Errorf("archive: prune hot state %s: %w", root, err)
	}
	return nil
}

// ArchiveBlobSidecar erasure-codes a blob's raw bytes into
// blobDataShards+blobParityShards shards and persists each shard under
// its own column-indexed key in cold storage, then removes the hot
// single-copy entry. Unlike ArchiveBlock/ArchiveState it is not part
// of the Backend interface since the checkpoint alone does not name a
// blob's index; callers archiving blob sidecars invoke it directly
// per sidecar.
func (b *StoreBackend) ArchiveBlobSidecar(ctx context.Context, root primitives.Root, blobIndex uint16, data []byte) error {
	shards, err := erasure.Encode(data, blobDataShards, blobParityShards)
	if err != nil {
		return fmt.Errorf("archive: erasure encode blob %s/%d: %w", root, blobIndex, err)
	}
	for i, shard := range shards {
		key := db.RootColumn{Root: root, Index: blobIndex*uint16(len(shards)) + uint16(i)}
		if err := b.coldBlobShards.Put(key, shard); err != nil {
			return fmt.Errorf("archive: write blob shard %s/%d/%d: %w", root, blobIndex, i, err)
		}
	}
	if err := b.hotBlobShards.Delete(db.RootColumn{Root: root, Index: blobIndex}); err != nil {
		return fmt.Errorf("archive: prune hot blob %s/%d: %w", root, blobIndex, err)
	}
	b.log.Debug("archived blob sidecar", "root", root, "blob", blobIndex, "shards", len(shards))
	return nil
}

// ReconstructArchivedBlob reverses ArchiveBlobSidecar: it reads back
// however many of the blobDataShards+blobParityShards cold shards are
// still present (nil for any that are missing or corrupt) and
// erasure-decodes the original bytes. Decoding succeeds while at most
// one data shard is missing and at least one parity shard remains to
// restore it.
func (b *StoreBackend) ReconstructArchivedBlob(ctx context.Context, root primitives.Root, blobIndex uint16) ([]byte, error) {
	total := blobDataShards + blobParityShards
	shards := make([][]byte, total)
	for i := 0; i < total; i++ {
		key := db.RootColumn{Root: root, Index: blobIndex*uint16(total) + uint16(i)}
		shard, err := b.coldBlobShards.Get(key)
		if err != nil {
			continue // left nil for Decode to recover, if it can
		}
		shards[i] = shard
	}
	data, err := erasure.Decode(shards, blobDataShards, blobParityShards)
	if err != nil {
		return nil, fmt.Errorf("archive: erasure decode blob %s/%d: %w", root, blobIndex, err)
	}
	return data, nil
}
