// Package db implements the typed, bucketed key-value layer over an
// embedded pebble store described in spec.md §3 "Persisted keys" and
// §6's KV layout: a hot store (keyed by block root / validator index)
// and a cold/archive store (keyed by slot), composed from one generic
// Repo[K, V] per entity rather than an inheritance hierarchy (spec.md
// §9's "Inheritance (PrefixedRepository, BinaryRepository,
// Repository)" design note).
package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ethshard/beacon-core/primitives"
)

// Bucket prefixes, one byte each, matching spec.md §6's numeric-prefix
// bucket scheme.
const (
	BucketBlocksHot byte = iota
	BucketBlocksArchive
	BucketStateHot
	BucketStateArchive
	BucketDataColumnSidecarHot
	BucketDataColumnSidecarArchive
	BucketBlobSidecarHot
	BucketBlobSidecarArchive
	BucketBackfill
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("db: key not found")
)

// Store wraps a pebble database and exposes bucketed Repo[K, V]
// accessors. Two Stores (hot and cold) compose the split described in
// spec.md §4.6; a single pebble instance may also be shared via
// distinct bucket prefixes when the embedder prefers one file.
type Store struct {
	pdb *pebble.DB
}

// Open opens (creating if absent) a pebble database at dir.
func Open(dir string) (*Store, error) {
	pdb, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", dir, err)
	}
	return &Store{pdb: pdb}, nil
}

// Close closes the underlying pebble database.
func (s *Store) Close() error {
	return s.pdb.Close()
}

// Codec converts between a typed value and its on-disk bytes.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// KeyCodec converts between a typed key and its on-disk bytes. Encode
// must produce keys whose lexicographic order matches the intended
// iteration order (e.g. big-endian for slots).
type KeyCodec[K any] interface {
	Encode(K) []byte
}

// Repo is a single bucketed repository over Store, generic over key
// and value types and their codecs. This is the one composable type
// spec.md §9 asks for in place of a PrefixedRepository/
// BinaryRepository/Repository inheritance chain.
type Repo[K any, V any] struct {
	store  *Store
	bucket byte
	keys   KeyCodec[K]
	vals   Codec[V]
}

// NewRepo builds a Repo over bucket using the given key and value
// codecs.
func NewRepo[K any, V any](store *Store, bucket byte, keys KeyCodec[K], vals Codec[V]) *Repo[K, V] {
	return &Repo[K, V]{store: store, bucket: bucket, keys: keys, vals: vals}
}

func (r *Repo[K, V]) fullKey(k K) []byte {
	kb := r.keys.Encode(k)
	out := make([]byte, 1+len(kb))
	out[0] = r.bucket
	copy(out[1:], kb)
	return out
}

// Put writes value under key.
func (r *Repo[K, V]) Put(k K, v V) error {
	vb, err := r.vals.Encode(v)
	if err != nil {
		return fmt.Errorf("db: encode value: %w", err)
	}
	return r.store.pdb.Set(r.fullKey(k), vb, pebble.Sync)
}

// Get reads the value stored under key, or ErrNotFound.
func (r *Repo[K, V]) Get(k K) (V, error) {
	var zero V
	data, closer, err := r.store.pdb.Get(r.fullKey(k))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("db: get: %w", err)
	}
	defer closer.Close()

	buf := make([]byte, len(data))
	copy(buf, data)
	v, err := r.vals.Decode(buf)
	if err != nil {
		return zero, fmt.Errorf("db: decode value: %w", err)
	}
	return v, nil
}

// Delete removes the value stored under key, if any.
func (r *Repo[K, V]) Delete(k K) error {
	return r.store.pdb.Delete(r.fullKey(k), pebble.Sync)
}

// Has reports whether key has a stored value.
func (r *Repo[K, V]) Has(k K) (bool, error) {
	_, err := r.Get(k)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// RootKeyCodec encodes a primitives.Root as its raw 32 bytes.
type RootKeyCodec struct{}

func (RootKeyCodec) Encode(r primitives.Root) []byte { return r[:] }

// SlotKeyCodec encodes a primitives.Slot as 8-byte big-endian, so
// lexicographic key order matches slot order (spec.md §3's
// "Iteration ranges are [prefix||0, prefix||MAX] inclusive").
type SlotKeyCodec struct{}

func (SlotKeyCodec) Encode(s primitives.Slot) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(s))
	return b[:]
}

// ColumnIndexWidth is the fixed encoding width for a data-column
// index, sufficient for NUMBER_OF_COLUMNS-1 = 127 (spec.md §3).
const ColumnIndexWidth = 2

// RootColumnKeyCodec encodes a (blockRoot, columnIndex) composite key
// as `blockRoot || columnIndex` (spec.md §3's hot key for columns).
type RootColumnKeyCodec struct{}

// RootColumn is a composite key of block root and column index.
type RootColumn struct {
	Root  primitives.Root
	Index uint16
}

func (RootColumnKeyCodec) Encode(k RootColumn) []byte {
	out := make([]byte, len(k.Root)+ColumnIndexWidth)
	copy(out, k.Root[:])
	binary.BigEndian.PutUint16(out[len(k.Root):], k.Index)
	return out
}

// SlotColumnKeyCodec encodes a (slot, columnIndex) composite key as
// `slot || columnIndex` (spec.md §3's archive key for columns).
type SlotColumnKeyCodec struct{}

// SlotColumn is a composite key of slot and column index.
type SlotColumn struct {
	Slot  primitives.Slot
	Index uint16
}

func (SlotColumnKeyCodec) Encode(k SlotColumn) []byte {
	out := make([]byte, 8+ColumnIndexWidth)
	binary.BigEndian.PutUint64(out[:8], uint64(k.Slot))
	binary.BigEndian.PutUint16(out[8:], k.Index)
	return out
}

// BytesCodec is an identity Codec for already-serialized ([]byte)
// values, used for entities the core treats as opaque SSZ-encoded
// blobs (blocks, sidecars, states).
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (BytesCodec) Decode(b []byte) ([]byte, error) { return b, nil }
