// forkchoice_tracker.go provides client-side bookkeeping for the
// ForkchoiceUpdated calls this core issues to the execution client: it
// records a debug history of each call and response, flags conflicting
// updates sent in short succession (a sign of a local forkchoice bug
// rather than the EL's), caches the payload IDs handed back so a later
// GetPayload call can look them up, and tracks reorgs by diffing
// successive heads this core sent. Unlike forkchoice/ (which computes
// the head in the first place), everything here is a passive record of
// calls already made.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethshard/beacon-core/primitives"
)

// ForkchoiceTracker errors.
var (
	ErrFCTNilUpdate       = errors.New("fc_tracker: nil forkchoice update")
	ErrFCTZeroHead        = errors.New("fc_tracker: head block hash is zero")
	ErrFCTConflict        = errors.New("fc_tracker: conflicting forkchoice update detected")
	ErrFCTHistoryEmpty    = errors.New("fc_tracker: no forkchoice history")
	ErrFCTPayloadIDExists = errors.New("fc_tracker: payload ID already cached")
	ErrFCTPayloadNotFound = errors.New("fc_tracker: payload ID not found")
	ErrFCTBlockNotFound   = errors.New("fc_tracker: block not found in chain")
)

// FCURecord stores a single forkchoice update for the debug history.
type FCURecord struct {
	// Timestamp is when the update was received.
	Timestamp time.Time

	// State is the forkchoice state sent with this update.
	State ForkchoiceStateV1

	// HasAttributes indicates whether payload attributes were attached.
	HasAttributes bool

	// PayloadID is the assigned payload ID (zero if no build started).
	PayloadID PayloadID

	// Result is the status returned for this update.
	Result string
}

// HeadChain tracks the head, safe, and finalized blocks.
type HeadChain struct {
	mu        sync.RWMutex
	head      primitives.Root
	safe      primitives.Root
	finalized primitives.Root
	headNum   uint64
	safeNum   uint64
	finalNum  uint64
}

// NewHeadChain creates an empty head chain tracker.
func NewHeadChain() *HeadChain {
	return &HeadChain{}
}

// Update sets new head/safe/finalized values.
func (hc *HeadChain) Update(head, safe, finalized primitives.Root, headNum, safeNum, finalNum uint64) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.head = head
	hc.safe = safe
	hc.finalized = finalized
	hc.headNum = headNum
	hc.safeNum = safeNum
	hc.finalNum = finalNum
}

// Head returns the current head hash and number.
func (hc *HeadChain) Head() (primitives.Root, uint64) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.head, hc.headNum
}

// Safe returns the current safe hash and number.
func (hc *HeadChain) Safe() (primitives.Root, uint64) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.safe, hc.safeNum
}

// Finalized returns the current finalized hash and number.
func (hc *HeadChain) Finalized() (primitives.Root, uint64) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.finalized, hc.finalNum
}

// FCUHistory stores recent forkchoice updates for debugging and analytics.
type FCUHistory struct {
	mu         sync.RWMutex
	records    []FCURecord
	maxRecords int
}

// NewFCUHistory creates a history buffer with the given max size.
func NewFCUHistory(maxRecords int) *FCUHistory {
	if maxRecords <= 0 {
		maxRecords = 256
	}
	return &FCUHistory{
		records:    make([]FCURecord, 0, maxRecords),
		maxRecords: maxRecords,
	}
}

// Add appends a record to the history, evicting the oldest if at capacity.
func (h *FCUHistory) Add(record FCURecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) >= h.maxRecords {
		h.records = h.records[1:]
	}
	h.records = append(h.records, record)
}

// Len returns the number of records in the history.
func (h *FCUHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Latest returns the most recent record, or an error if empty.
func (h *FCUHistory) Latest() (FCURecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return FCURecord{}, ErrFCTHistoryEmpty
	}
	return h.records[len(h.records)-1], nil
}

// All returns a copy of all records.
func (h *FCUHistory) All() []FCURecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]FCURecord, len(h.records))
	copy(result, h.records)
	return result
}

// ConflictDetector detects when the CL sends conflicting forkchoice updates:
// a finalized hash that changes to a different non-zero hash. Head and safe
// hashes are not checked.
type ConflictDetector struct {
	mu            sync.RWMutex
	lastState     *ForkchoiceStateV1
	conflictCount uint64
}

// NewConflictDetector creates a new conflict detector.
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// Check compares a new update against the previous one and returns a conflict
// description if the finalized hash regressed (changed to a different non-zero value).
func (cd *ConflictDetector) Check(update ForkchoiceStateV1) (bool, string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.lastState == nil {
		cd.lastState = &update
		return false, ""
	}

	prev := cd.lastState

	// Finalized hash regression: it changed to a different non-zero hash.
	if prev.FinalizedBlockHash != (primitives.Root{}) &&
		update.FinalizedBlockHash != (primitives.Root{}) &&
		update.FinalizedBlockHash != prev.FinalizedBlockHash {
		cd.conflictCount++
		cd.lastState = &update
		return true, fmt.Sprintf("finalized changed: %s -> %s",
			prev.FinalizedBlockHash.String(), update.FinalizedBlockHash.String())
	}

	cd.lastState = &update
	return false, ""
}

// ConflictCount returns the total number of detected conflicts.
func (cd *ConflictDetector) ConflictCount() uint64 {
	cd.mu.RLock()
	defer cd.mu.RUnlock()
	return cd.conflictCount
}

// PayloadIDCache remembers the payload IDs the execution client has
// handed back from ForkchoiceUpdated calls with attributes, so a later
// GetPayload call knows which IDs are still outstanding. Unlike the
// execution client, this core never generates a payload ID itself.
type PayloadIDCache struct {
	mu     sync.Mutex
	cached map[PayloadID]uint64 // payloadID -> timestamp received
}

// NewPayloadIDCache creates an empty cache.
func NewPayloadIDCache() *PayloadIDCache {
	return &PayloadIDCache{
		cached: make(map[PayloadID]uint64),
	}
}

// Record stores a payload ID returned by the execution client, keyed by
// the local time it was received. Returns an error if the ID is already
// cached (the execution client should never reuse an outstanding ID).
func (a *PayloadIDCache) Record(id PayloadID, receivedAt uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.cached[id]; exists {
		return ErrFCTPayloadIDExists
	}
	a.cached[id] = receivedAt
	return nil
}

// Has returns true if the given payload ID is cached.
func (a *PayloadIDCache) Has(id PayloadID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.cached[id]
	return ok
}

// Count returns the number of cached payload IDs.
func (a *PayloadIDCache) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cached)
}

// Prune removes payload IDs received before the given timestamp (they
// were never collected with GetPayload and the execution client has
// long since discarded the build).
func (a *PayloadIDCache) Prune(beforeTimestamp uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	pruned := 0
	for id, ts := range a.cached {
		if ts < beforeTimestamp {
			delete(a.cached, id)
			pruned++
		}
	}
	return pruned
}

// ReorgTracker identifies head reorgs and tracks their depth.
type ReorgTracker struct {
	mu       sync.RWMutex
	lastHead primitives.Root
	lastNum  uint64
	// blocks provides ancestry lookup.
	blocks map[primitives.Root]*BlockInfo
	// history of detected reorgs.
	reorgs     []TrackedReorg
	maxHistory int
}

// TrackedReorg records a single reorg detection event.
type TrackedReorg struct {
	OldHead    primitives.Root
	NewHead    primitives.Root
	OldHeadNum uint64
	NewHeadNum uint64
	Depth      uint64
	Timestamp  time.Time
}

// NewReorgTracker creates a reorg tracker.
func NewReorgTracker(maxHistory int) *ReorgTracker {
	if maxHistory <= 0 {
		maxHistory = 128
	}
	return &ReorgTracker{
		blocks:     make(map[primitives.Root]*BlockInfo),
		reorgs:     make([]TrackedReorg, 0),
		maxHistory: maxHistory,
	}
}

// AddBlock registers a block for ancestry lookup.
func (rt *ReorgTracker) AddBlock(info *BlockInfo) {
	if info == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.blocks[info.Hash] = info
}

// ProcessHead checks for a reorg when the head changes. Returns the reorg
// if detected, or nil if the head is a direct extension.
func (rt *ReorgTracker) ProcessHead(newHead primitives.Root, newNum uint64) *TrackedReorg {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	oldHead := rt.lastHead
	oldNum := rt.lastNum
	rt.lastHead = newHead
	rt.lastNum = newNum

	if oldHead == (primitives.Root{}) || oldHead == newHead {
		return nil
	}

	// Check if newHead is a descendant of oldHead (no reorg).
	if rt.isAncestorLocked(oldHead, newHead) {
		return nil
	}

	depth := rt.reorgDepthLocked(oldHead, newHead)
	reorg := TrackedReorg{
		OldHead:    oldHead,
		NewHead:    newHead,
		OldHeadNum: oldNum,
		NewHeadNum: newNum,
		Depth:      depth,
		Timestamp:  time.Now(),
	}

	if len(rt.reorgs) >= rt.maxHistory {
		rt.reorgs = rt.reorgs[1:]
	}
	rt.reorgs = append(rt.reorgs, reorg)

	return &reorg
}

// ReorgCount returns the total detected reorgs.
func (rt *ReorgTracker) ReorgCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.reorgs)
}

// Reorgs returns a copy of all tracked reorgs.
func (rt *ReorgTracker) Reorgs() []TrackedReorg {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	result := make([]TrackedReorg, len(rt.reorgs))
	copy(result, rt.reorgs)
	return result
}

// isAncestorLocked checks ancestry. Caller must hold rt.mu.
func (rt *ReorgTracker) isAncestorLocked(ancestor, descendant primitives.Root) bool {
	current := descendant
	for i := 0; i < 1024; i++ {
		if current == ancestor {
			return true
		}
		info, ok := rt.blocks[current]
		if !ok {
			return false
		}
		if info.ParentHash == current {
			return false
		}
		current = info.ParentHash
	}
	return false
}

// reorgDepthLocked computes reorg depth. Caller must hold rt.mu.
func (rt *ReorgTracker) reorgDepthLocked(oldHead, newHead primitives.Root) uint64 {
	oldAnc := make(map[primitives.Root]uint64)
	current := oldHead
	for d := uint64(0); d < 1024; d++ {
		oldAnc[current] = d
		info, ok := rt.blocks[current]
		if !ok || info.ParentHash == current {
			break
		}
		current = info.ParentHash
	}

	current = newHead
	for d := uint64(0); d < 1024; d++ {
		if oldDist, found := oldAnc[current]; found {
			if d > oldDist {
				return d
			}
			return oldDist
		}
		info, ok := rt.blocks[current]
		if !ok || info.ParentHash == current {
			break
		}
		current = info.ParentHash
	}
	return 0
}

// ForkchoiceTracker is the top-level tracker that composes HeadChain,
// FCUHistory, ConflictDetector, PayloadIDCache, and ReorgTracker around
// the ForkchoiceUpdated calls this core sends to the execution client.
type ForkchoiceTracker struct {
	Chain     *HeadChain
	History   *FCUHistory
	Conflicts *ConflictDetector
	Payloads  *PayloadIDCache
	Reorgs    *ReorgTracker
}

// NewForkchoiceTracker creates a fully-initialized forkchoice tracker.
func NewForkchoiceTracker(historySize, reorgHistorySize int) *ForkchoiceTracker {
	return &ForkchoiceTracker{
		Chain:     NewHeadChain(),
		History:   NewFCUHistory(historySize),
		Conflicts: NewConflictDetector(),
		Payloads:  NewPayloadIDCache(),
		Reorgs:    NewReorgTracker(reorgHistorySize),
	}
}

// ProcessUpdate handles a full forkchoice update: tracks state, detects
// conflicts and reorgs, and records the update in history.
func (ft *ForkchoiceTracker) ProcessUpdate(
	state ForkchoiceStateV1,
	hasAttrs bool,
	headNum, safeNum, finalNum uint64,
) (conflict bool, conflictReason string, reorg *TrackedReorg) {
	// Detect conflicts.
	conflict, conflictReason = ft.Conflicts.Check(state)

	// Update head chain.
	ft.Chain.Update(state.HeadBlockHash, state.SafeBlockHash,
		state.FinalizedBlockHash, headNum, safeNum, finalNum)

	// Detect reorgs.
	reorg = ft.Reorgs.ProcessHead(state.HeadBlockHash, headNum)

	// Record in history.
	record := FCURecord{
		Timestamp:     time.Now(),
		State:         state,
		HasAttributes: hasAttrs,
		Result:        StatusValid,
	}
	ft.History.Add(record)

	return conflict, conflictReason, reorg
}
