// Package protoarray implements the flat-array block DAG described in
// spec.md §4.1: a vector of ProtoNodes plus a per-validator vote
// vector, supporting onBlock/onAttestation/applyScoreChanges/prune and
// head/justified/finalized/ancestor queries. All mutation is confined
// to callers holding the store's lock (spec.md §5 "single-threaded
// cooperative" confinement); Store itself uses an RWMutex so it can be
// embedded safely behind a worker boundary if a caller chooses to.
package protoarray

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethshard/beacon-core/primitives"
)

// NullIndex is the sentinel for "no such node" used throughout the
// array (parent, bestChild, bestDescendant).
const NullIndex = ^uint64(0)

// Sentinel errors. Kind() buckets them per spec.md §7's taxonomy.
var (
	ErrUnknownParent   = errors.New("protoarray: unknown parent")
	ErrInvalidNodeDelta = errors.New("protoarray: invalid node index in delta")
	ErrNodeNotFound    = errors.New("protoarray: node not found")
)

// Error wraps a sentinel with structured context and a taxonomy kind.
type Error struct {
	Err  error
	Kind string
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func protocolErr(err error) error { return &Error{Err: err, Kind: "protocol"} }
func fatalErr(err error) error    { return &Error{Err: err, Kind: "fatal"} }

// ProtoNode is a ProtoBlock extended with DAG bookkeeping (spec.md §3).
type ProtoNode struct {
	primitives.ProtoBlock

	Parent         uint64 // NullIndex if none
	Weight         int64
	BestChild      uint64 // NullIndex if none
	BestDescendant uint64 // NullIndex if none
}

// Store is the in-memory DAG of ProtoNodes plus vote accounting.
type Store struct {
	mu sync.RWMutex

	nodes       []ProtoNode
	indices     map[primitives.Root]uint64
	votes       []primitives.VoteTracker
	balances    []uint64

	justifiedEpoch primitives.Epoch
	justifiedRoot  primitives.Root
	finalizedEpoch primitives.Epoch
	finalizedRoot  primitives.Root
}

// New builds an empty store anchored at nothing; the first onBlock
// call establishes the anchor (its parentRoot is treated as known).
func New() *Store {
	return &Store{
		indices: make(map[primitives.Root]uint64),
	}
}

// Len returns the number of nodes currently retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// HasBlock reports whether root is a known node.
func (s *Store) HasBlock(root primitives.Root) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indices[root]
	return ok
}

// OnBlock inserts a node for block. Idempotent on duplicate roots.
// Fails with ErrUnknownParent when parentRoot is neither a known node
// nor the anchor (the very first block inserted).
func (s *Store) OnBlock(block primitives.ProtoBlock, currentSlot primitives.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[block.BlockRoot]; ok {
		return nil // idempotent on duplicate
	}

	parentIndex := NullIndex
	if len(s.nodes) > 0 {
		idx, ok := s.indices[block.ParentRoot]
		if !ok {
			return protocolErr(fmt.Errorf("%w: %s", ErrUnknownParent, block.ParentRoot))
		}
		parentIndex = idx
	}

	node := ProtoNode{
		ProtoBlock:     block,
		Parent:         parentIndex,
		Weight:         0,
		BestChild:      NullIndex,
		BestDescendant: NullIndex,
	}
	index := uint64(len(s.nodes))
	s.nodes = append(s.nodes, node)
	s.indices[block.BlockRoot] = index

	return nil
}

// OnAttestation records validatorIndex's vote for blockRoot at epoch,
// updating nextIndex/nextEpoch (spec.md §4.1). An unknown blockRoot is
// recorded as a null vote.
func (s *Store) OnAttestation(validatorIndex primitives.ValidatorIndex, blockRoot primitives.Root, epoch primitives.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for uint64(len(s.votes)) <= uint64(validatorIndex) {
		s.votes = append(s.votes, primitives.VoteTracker{
			CurrentIndex: primitives.NullValidatorIndex,
			NextIndex:    primitives.NullValidatorIndex,
		})
	}

	v := &s.votes[validatorIndex]
	if epoch <= v.NextEpoch && v.NextIndex != primitives.NullValidatorIndex {
		return // stale vote, spec.md onAttestation applies iff epoch > vote.nextEpoch
	}

	idx, ok := s.indices[blockRoot]
	if !ok {
		v.NextIndex = primitives.NullValidatorIndex
	} else {
		v.NextIndex = idx
	}
	v.NextEpoch = epoch
}

// ComputeDeltas walks the vote vector and returns a per-node delta
// vector reflecting balance changes and vote-target changes since the
// last call (spec.md §4.1's computeDeltas algorithm, §8.5's invariant
// that sum(deltas) equals the net balance change across tracked
// indices).
func (s *Store) ComputeDeltas(oldBalances, newBalances []uint64, equivocating map[primitives.ValidatorIndex]bool) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltas := make([]int64, len(s.nodes))

	balanceAt := func(balances []uint64, i int) int64 {
		if i < 0 || i >= len(balances) {
			return 0
		}
		return int64(balances[i])
	}

	for i := range s.votes {
		v := &s.votes[i]

		oldBal := balanceAt(oldBalances, i)
		newBal := balanceAt(newBalances, i)

		if equivocating[primitives.ValidatorIndex(i)] {
			if v.CurrentIndex != primitives.NullValidatorIndex {
				if v.CurrentIndex >= uint64(len(deltas)) {
					return nil, fatalErr(fmt.Errorf("%w: current index %d", ErrInvalidNodeDelta, v.CurrentIndex))
				}
				deltas[v.CurrentIndex] -= oldBal
			}
			v.CurrentIndex = primitives.NullValidatorIndex
			continue
		}

		if v.CurrentIndex == v.NextIndex && oldBal == newBal {
			continue
		}

		if v.CurrentIndex != primitives.NullValidatorIndex {
			if v.CurrentIndex >= uint64(len(deltas)) {
				return nil, fatalErr(fmt.Errorf("%w: current index %d", ErrInvalidNodeDelta, v.CurrentIndex))
			}
			deltas[v.CurrentIndex] -= oldBal
		}
		if v.NextIndex != primitives.NullValidatorIndex {
			if v.NextIndex >= uint64(len(deltas)) {
				return nil, fatalErr(fmt.Errorf("%w: next index %d", ErrInvalidNodeDelta, v.NextIndex))
			}
			deltas[v.NextIndex] += newBal
		}

		v.CurrentIndex = v.NextIndex
	}

	s.balances = append([]uint64(nil), newBalances...)
	return deltas, nil
}

// isViableHead reports whether node's justified/finalized epochs
// match the store's current checkpoints, under the genesis-epoch
// carve-out (spec.md §4.1's filter).
func (s *Store) isViableHead(n *ProtoNode) bool {
	justifiedOK := n.JustifiedEpoch == s.justifiedEpoch || s.justifiedEpoch == 0
	finalizedOK := n.FinalizedEpoch == s.finalizedEpoch || s.finalizedEpoch == 0
	return justifiedOK && finalizedOK
}

// ApplyScoreChanges mutates node weights by deltas, then recomputes
// bestChild/bestDescendant bottom-up under the justified/finalized
// filter, breaking ties by lexicographically larger block root
// (spec.md §4.1).
func (s *Store) ApplyScoreChanges(deltas []int64, justified, finalized primitives.CheckpointWithHex, currentSlot primitives.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(deltas) != len(s.nodes) {
		return fatalErr(fmt.Errorf("%w: delta length %d != node count %d", ErrInvalidNodeDelta, len(deltas), len(s.nodes)))
	}

	s.justifiedEpoch = justified.Epoch
	s.justifiedRoot = justified.Root
	s.finalizedEpoch = finalized.Epoch
	s.finalizedRoot = finalized.Root

	for i := range s.nodes {
		s.nodes[i].Weight += deltas[i]
		s.nodes[i].BestChild = NullIndex
		s.nodes[i].BestDescendant = NullIndex
	}

	// Process from the tip backward so a parent always sees its
	// children's bestDescendant already resolved.
	for i := len(s.nodes) - 1; i >= 0; i-- {
		n := &s.nodes[i]
		if n.Parent == NullIndex {
			continue
		}
		parent := &s.nodes[n.Parent]

		candidateBestDescendant := uint64(i)
		if n.BestDescendant != NullIndex {
			candidateBestDescendant = n.BestDescendant
		}

		if !s.isViableHead(&s.nodes[candidateBestDescendant]) {
			continue
		}

		if parent.BestChild == NullIndex {
			parent.BestChild = uint64(i)
			parent.BestDescendant = candidateBestDescendant
			continue
		}

		current := &s.nodes[parent.BestChild]
		currentDescendant := parent.BestDescendant

		better := n.Weight > current.Weight ||
			(n.Weight == current.Weight && greaterRoot(n.BlockRoot, current.BlockRoot))

		if better {
			parent.BestChild = uint64(i)
			parent.BestDescendant = candidateBestDescendant
		}
		_ = currentDescendant
	}

	return nil
}

func greaterRoot(a, b primitives.Root) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// GetHead returns the best descendant of the justified root, or the
// justified root itself if it has no viable descendants.
func (s *Store) GetHead() (primitives.Root, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headLocked(NullIndex, 0)
}

// GetHeadWithBoost is GetHead with boostRoot's weight temporarily
// raised by boostWeight for the purposes of this call only (spec.md
// §4.2's proposer boost). Nothing is mutated: the bottom-up
// best-child/best-descendant walk from ApplyScoreChanges is redone
// against a local copy of the weight vector, so a later plain GetHead
// (after the boost window expires) sees the unboosted tree again.
func (s *Store) GetHeadWithBoost(boostRoot primitives.Root, boostWeight int64) (primitives.Root, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boostIdx, ok := s.indices[boostRoot]
	if !ok || boostWeight == 0 {
		return s.headLocked(NullIndex, 0)
	}
	return s.headLocked(boostIdx, boostWeight)
}

// headLocked resolves the head, optionally adding boostWeight to node
// boostIdx's own weight before resolving best-child/best-descendant.
// Callers must hold s.mu for reading.
func (s *Store) headLocked(boostIdx uint64, boostWeight int64) (primitives.Root, error) {
	idx, ok := s.indices[s.justifiedRoot]
	if !ok {
		return primitives.Root{}, protocolErr(fmt.Errorf("%w: justified root %s", ErrNodeNotFound, s.justifiedRoot))
	}

	if boostIdx == NullIndex {
		n := &s.nodes[idx]
		if n.BestDescendant == NullIndex {
			return n.BlockRoot, nil
		}
		return s.nodes[n.BestDescendant].BlockRoot, nil
	}

	weight := make([]int64, len(s.nodes))
	for i := range s.nodes {
		weight[i] = s.nodes[i].Weight
	}
	weight[boostIdx] += boostWeight

	bestChild := make([]uint64, len(s.nodes))
	bestDescendant := make([]uint64, len(s.nodes))
	for i := range bestChild {
		bestChild[i] = NullIndex
		bestDescendant[i] = NullIndex
	}

	for i := len(s.nodes) - 1; i >= 0; i-- {
		n := &s.nodes[i]
		if n.Parent == NullIndex {
			continue
		}

		candidateBestDescendant := uint64(i)
		if bestDescendant[i] != NullIndex {
			candidateBestDescendant = bestDescendant[i]
		}

		if !s.isViableHead(&s.nodes[candidateBestDescendant]) {
			continue
		}

		if bestChild[n.Parent] == NullIndex {
			bestChild[n.Parent] = uint64(i)
			bestDescendant[n.Parent] = candidateBestDescendant
			continue
		}

		currentBest := bestChild[n.Parent]
		better := weight[i] > weight[currentBest] ||
			(weight[i] == weight[currentBest] && greaterRoot(n.BlockRoot, s.nodes[currentBest].BlockRoot))

		if better {
			bestChild[n.Parent] = uint64(i)
			bestDescendant[n.Parent] = candidateBestDescendant
		}
	}

	if bestDescendant[idx] == NullIndex {
		return s.nodes[idx].BlockRoot, nil
	}
	return s.nodes[bestDescendant[idx]].BlockRoot, nil
}

// GetJustifiedBlock returns the current justified checkpoint's root.
func (s *Store) GetJustifiedBlock() primitives.CheckpointWithHex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return primitives.NewCheckpoint(s.justifiedEpoch, s.justifiedRoot)
}

// GetFinalizedBlock returns the current finalized checkpoint's root.
func (s *Store) GetFinalizedBlock() primitives.CheckpointWithHex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return primitives.NewCheckpoint(s.finalizedEpoch, s.finalizedRoot)
}

// GetAncestorAtSlot walks parent links from root until it finds the
// node at or immediately before slot.
func (s *Store) GetAncestorAtSlot(root primitives.Root, slot primitives.Slot) (primitives.Root, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[root]
	if !ok {
		return primitives.Root{}, protocolErr(fmt.Errorf("%w: %s", ErrNodeNotFound, root))
	}

	for {
		n := &s.nodes[idx]
		if n.Slot <= slot {
			return n.BlockRoot, nil
		}
		if n.Parent == NullIndex {
			return n.BlockRoot, nil
		}
		idx = n.Parent
	}
}

// Heads enumerates every leaf node (a node that is nobody's parent).
func (s *Store) Heads() []primitives.Root {
	s.mu.RLock()
	defer s.mu.RUnlock()

	isParent := make(map[uint64]bool, len(s.nodes))
	for i := range s.nodes {
		if s.nodes[i].Parent != NullIndex {
			isParent[s.nodes[i].Parent] = true
		}
	}
	var heads []primitives.Root
	for i := range s.nodes {
		if !isParent[uint64(i)] {
			heads = append(heads, s.nodes[i].BlockRoot)
		}
	}
	return heads
}

// Prune drops every node whose best descendant is not within the
// finalized subtree, preserving vote references via NullIndex
// (spec.md §4.1, §8.4).
func (s *Store) Prune(finalizedRoot primitives.Root) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalizedIndex, ok := s.indices[finalizedRoot]
	if !ok {
		return protocolErr(fmt.Errorf("%w: finalized root %s", ErrNodeNotFound, finalizedRoot))
	}
	if finalizedIndex == 0 {
		return nil // nothing to prune
	}

	// Children are always stored after their parent, so a single
	// forward scan finds the finalized subtree.
	inSubtree := map[uint64]bool{finalizedIndex: true}
	for i := finalizedIndex + 1; i < uint64(len(s.nodes)); i++ {
		if p := s.nodes[i].Parent; p != NullIndex && inSubtree[p] {
			inSubtree[i] = true
		}
	}

	oldToNew := make(map[uint64]uint64, len(s.nodes)-int(finalizedIndex))
	newNodes := make([]ProtoNode, 0, len(s.nodes)-int(finalizedIndex))
	newIndices := make(map[primitives.Root]uint64, len(newNodes))

	for i := finalizedIndex; i < uint64(len(s.nodes)); i++ {
		if !inSubtree[i] {
			continue
		}
		n := s.nodes[i]
		newIdx := uint64(len(newNodes))
		oldToNew[i] = newIdx
		newNodes = append(newNodes, n)
		newIndices[n.BlockRoot] = newIdx
	}

	for i := range newNodes {
		n := &newNodes[i]
		if n.Parent != NullIndex {
			if mapped, ok := oldToNew[n.Parent]; ok {
				n.Parent = mapped
			} else {
				n.Parent = NullIndex // the new anchor
			}
		}
		if n.BestChild != NullIndex {
			if mapped, ok := oldToNew[n.BestChild]; ok {
				n.BestChild = mapped
			} else {
				n.BestChild = NullIndex
			}
		}
		if n.BestDescendant != NullIndex {
			if mapped, ok := oldToNew[n.BestDescendant]; ok {
				n.BestDescendant = mapped
			} else {
				n.BestDescendant = NullIndex
			}
		}
	}

	// Vote indices pointing outside the retained subtree become null;
	// this is the spec's "preserves vote references via the NULL
	// sentinel" requirement.
	for i := range s.votes {
		v := &s.votes[i]
		if v.CurrentIndex != primitives.NullValidatorIndex {
			if mapped, ok := oldToNew[v.CurrentIndex]; ok {
				v.CurrentIndex = mapped
			} else {
				v.CurrentIndex = primitives.NullValidatorIndex
			}
		}
		if v.NextIndex != primitives.NullValidatorIndex {
			if mapped, ok := oldToNew[v.NextIndex]; ok {
				v.NextIndex = mapped
			} else {
				v.NextIndex = primitives.NullValidatorIndex
			}
		}
	}

	s.nodes = newNodes
	s.indices = newIndices
	return nil
}

// Node returns a copy of the node for root, for callers (forkchoice)
// that need direct field access beyond the Store's query surface.
func (s *Store) Node(root primitives.Root) (ProtoNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[root]
	if !ok {
		return ProtoNode{}, false
	}
	return s.nodes[idx], true
}

// SetExecutionStatus updates the execution status of every descendant
// of root (inclusive), used when the engine reports Invalid with a
// latest-valid-hash (spec.md §8 "invalidateFromParentBlockRoot").
func (s *Store) SetExecutionStatus(root primitives.Root, status primitives.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[root]
	if !ok {
		return protocolErr(fmt.Errorf("%w: %s", ErrNodeNotFound, root))
	}

	// Children are always stored after their parent, so a single
	// forward scan finds every descendant of idx.
	descendant := make(map[uint64]bool)
	descendant[idx] = true
	for i := idx + 1; i < uint64(len(s.nodes)); i++ {
		if s.nodes[i].Parent != NullIndex && descendant[s.nodes[i].Parent] {
			descendant[i] = true
		}
	}
	for i := range descendant {
		s.nodes[i].ExecutionStatus = status
	}
	return nil
}
