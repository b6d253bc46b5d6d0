// Package statecache implements Regen: the pre-state resolver and
// bounded cache of CachedBeaconState handles described in spec.md
// §4.5. The pipeline asks Regen for the pre-state of a block; Regen
// serves it from cache, replays from the nearest ancestor snapshot, or
// falls back to the archive store when a checkpoint state is needed
// that has already been pruned from the hot cache.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethshard/beacon-core/primitives"
)

// Sentinel errors, per spec.md §4.5 and §7.
var (
	ErrStateNotFound  = errors.New("statecache: state not found")
	ErrReplayTooDeep  = errors.New("statecache: replay distance exceeds limit")
	ErrTransitionFunc = errors.New("statecache: no transition function configured")
)

// State is the opaque state handle the rest of the core treats as a
// black box; only the owning package that supplied TransitionFunc
// knows its real representation.
type State any

// TransitionFunc advances pre to the state after applying block, or
// a bare slot-processing step when block is nil (empty-slot advance).
type TransitionFunc func(ctx context.Context, pre State, block *primitives.ProtoBlock, targetSlot primitives.Slot) (State, error)

// Loader fetches a historical state by root from archival storage
// when it is no longer present in the hot cache.
type Loader func(ctx context.Context, root primitives.Root) (State, error)

// CachedBeaconState is a single cache entry: a state snapshot bound to
// the block root and slot it was computed at.
type CachedBeaconState struct {
	Root  primitives.Root
	Slot  primitives.Slot
	State State
}

// Config configures a Regen instance.
type Config struct {
	// MaxCachedStates bounds the in-memory hot cache; the least
	// recently used entry is evicted once the bound is exceeded.
	MaxCachedStates int
	// MaxReplaySlots bounds how many empty slots Regen will replay in
	// a single getPreState call before refusing (spec.md §7's
	// "replay distance exceeds limit").
	MaxReplaySlots uint64
}

// DefaultConfig mirrors mainnet defaults: a modest hot cache and a
// one-epoch replay ceiling.
func DefaultConfig() Config {
	return Config{MaxCachedStates: 3, MaxReplaySlots: 32}
}

type lruEntry struct {
	state CachedBeaconState
	prev, next *lruEntry
}

// Regen is the pre-state resolver and bounded LRU cache of
// CachedBeaconState handles.
type Regen struct {
	mu sync.Mutex

	cfg        Config
	transition TransitionFunc
	loadCheckpoint Loader

	byRoot   map[primitives.Root]*lruEntry
	head, tail *lruEntry
	count int
}

// New builds a Regen. transition must be supplied by the package that
// owns the concrete beacon-state representation and SSZ/state-
// transition logic; loadCheckpoint supplies states evicted from the
// hot cache, typically backed by the archive store.
func New(cfg Config, transition TransitionFunc, loadCheckpoint Loader) *Regen {
	return &Regen{
		cfg:            cfg,
		transition:     transition,
		loadCheckpoint: loadCheckpoint,
		byRoot:         make(map[primitives.Root]*lruEntry),
	}
}

// Put installs a freshly computed state into the hot cache, evicting
// the least recently used entry if the cache is full.
func (r *Regen) Put(s CachedBeaconState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(s)
}

func (r *Regen) putLocked(s CachedBeaconState) {
	if e, ok := r.byRoot[s.Root]; ok {
		e.state = s
		r.moveToFrontLocked(e)
		return
	}
	e := &lruEntry{state: s}
	r.byRoot[s.Root] = e
	r.pushFrontLocked(e)
	r.count++

	if r.count > r.cfg.MaxCachedStates && r.tail != nil {
		evicted := r.tail
		r.removeLocked(evicted)
		delete(r.byRoot, evicted.state.Root)
		r.count--
	}
}

func (r *Regen) pushFrontLocked(e *lruEntry) {
	e.prev = nil
	e.next = r.head
	if r.head != nil {
		r.head.prev = e
	}
	r.head = e
	if r.tail == nil {
		r.tail = e
	}
}

func (r *Regen) removeLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		r.tail = e.prev
	}
}

func (r *Regen) moveToFrontLocked(e *lruEntry) {
	if r.head == e {
		return
	}
	r.removeLocked(e)
	r.pushFrontLocked(e)
}

// Get returns a cached state for root without triggering replay.
func (r *Regen) Get(root primitives.Root) (CachedBeaconState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byRoot[root]
	if !ok {
		return CachedBeaconState{}, false
	}
	r.moveToFrontLocked(e)
	return e.state, true
}

// Evict drops root from the hot cache, used after finalization when
// the archive store has durably persisted any state worth keeping
// (spec.md §4.6's "pruneOnFinalized").
func (r *Regen) Evict(root primitives.Root) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byRoot[root]; ok {
		r.removeLocked(e)
		delete(r.byRoot, root)
		r.count--
	}
}

// GetPreState resolves the pre-state for processing a block with the
// given parent root and slot: a cache hit returns immediately; a miss
// falls back to the loader, then replays empty slots up to the
// block's slot if the loaded state lags behind (spec.md §4.5's
// "getPreState").
func (r *Regen) GetPreState(ctx context.Context, parentRoot primitives.Root, blockSlot primitives.Slot) (State, error) {
	if r.transition == nil {
		return nil, ErrTransitionFunc
	}

	if cached, ok := r.Get(parentRoot); ok {
		return r.advanceToSlot(ctx, cached, blockSlot)
	}

	if r.loadCheckpoint == nil {
		return nil, fmt.Errorf("%w: root %s", ErrStateNotFound, parentRoot)
	}
	loaded, err := r.loadCheckpoint(ctx, parentRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateNotFound, err)
	}

	// The loader only returns the state itself; slot bookkeeping for
	// the cache entry is the caller's responsibility via Put once the
	// resulting post-state is known, so cache at blockSlot-as-lower-
	// bound here is skipped and the loaded state is replayed directly.
	return r.transition(ctx, loaded, nil, blockSlot)
}

// advanceToSlot replays empty slots from cached up to targetSlot,
// refusing if the distance exceeds MaxReplaySlots.
func (r *Regen) advanceToSlot(ctx context.Context, cached CachedBeaconState, targetSlot primitives.Slot) (State, error) {
	if targetSlot < cached.Slot {
		return nil, fmt.Errorf("%w: target slot %d precedes cached slot %d", ErrStateNotFound, targetSlot, cached.Slot)
	}
	if uint64(targetSlot-cached.Slot) > r.cfg.MaxReplaySlots {
		return nil, fmt.Errorf("%w: %d slots", ErrReplayTooDeep, targetSlot-cached.Slot)
	}
	if targetSlot == cached.Slot {
		return cached.State, nil
	}
	return r.transition(ctx, cached.State, nil, targetSlot)
}

// ApplyBlock computes the post-state of applying block to its parent's
// pre-state, caching the result keyed by the block's own root.
func (r *Regen) ApplyBlock(ctx context.Context, block primitives.ProtoBlock) (State, error) {
	pre, err := r.GetPreState(ctx, block.ParentRoot, block.Slot)
	if err != nil {
		return nil, err
	}
	post, err := r.transition(ctx, pre, &block, block.Slot)
	if err != nil {
		return nil, err
	}
	r.Put(CachedBeaconState{Root: block.BlockRoot, Slot: block.Slot, State: post})
	return post, nil
}

// Len reports the number of states currently held in the hot cache.
func (r *Regen) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
