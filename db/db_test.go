package db

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/primitives"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	pdb, err := pebble.Open("mem", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { pdb.Close() })
	return &Store{pdb: pdb}
}

func TestRepoPutGetDelete(t *testing.T) {
	s := memStore(t)
	repo := NewRepo[primitives.Root, []byte](s, BucketBlocksHot, RootKeyCodec{}, BytesCodec{})

	var r primitives.Root
	r[0] = 7

	_, err := repo.Get(r)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Put(r, []byte("block-bytes")))

	got, err := repo.Get(r)
	require.NoError(t, err)
	require.Equal(t, []byte("block-bytes"), got)

	has, err := repo.Has(r)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, repo.Delete(r))
	has, err = repo.Has(r)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRootColumnKeyCodecOrdersByIndex(t *testing.T) {
	var r primitives.Root
	r[0] = 1
	low := RootColumnKeyCodec{}.Encode(RootColumn{Root: r, Index: 1})
	high := RootColumnKeyCodec{}.Encode(RootColumn{Root: r, Index: 2})
	require.True(t, string(low) < string(high))
}

func TestSlotKeyCodecOrdersBySlot(t *testing.T) {
	a := SlotKeyCodec{}.Encode(primitives.Slot(5))
	b := SlotKeyCodec{}.Encode(primitives.Slot(6))
	require.True(t, string(a) < string(b))
}
