// Package forkchoice wraps protoarray with the FFG filter, justified
// balance snapshot, proposer-boost, and proposer-reorg override
// described in spec.md §4.2.
package forkchoice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ethshard/beacon-core/params"
	"github.com/ethshard/beacon-core/primitives"
	"github.com/ethshard/beacon-core/protoarray"
)

// Sentinel errors, per spec.md §4.2 and §7.
var (
	ErrUnknownParent         = errors.New("forkchoice: unknown parent")
	ErrInvalidSlot           = errors.New("forkchoice: invalid slot")
	ErrFinalizedSlotReverted = errors.New("forkchoice: block would revert finalized slot")
	ErrInvalidAttestationTarget = errors.New("forkchoice: attestation target epoch exceeds current epoch")
)

// ReorgReason explains why shouldOverrideForkChoiceUpdate declined to
// reorg, for observability (spec.md §8's "NotShufflingStable" etc).
type ReorgReason string

const (
	ReorgNone               ReorgReason = ""
	ReorgNotShufflingStable ReorgReason = "NotShufflingStable"
	ReorgHeadTimely         ReorgReason = "HeadTimely"
	ReorgNotSingleSlot      ReorgReason = "NotSingleSlot"
	ReorgFinalizationStale  ReorgReason = "FinalizationStale"
	ReorgNotFFGCompetitive  ReorgReason = "NotFFGCompetitive"
	ReorgParentTooLight     ReorgReason = "ParentTooLight"
	ReorgHeadTooHeavy       ReorgReason = "HeadTooHeavy"
)

// Store wraps a protoarray.Store with the additional state needed to
// compute the head under proposer-boost and reorg policy.
type Store struct {
	mu sync.RWMutex

	arr *protoarray.Store
	cfg *params.Config

	justifiedBalances []uint64
	votesDirty        bool

	currentSlot primitives.Slot

	proposerBoostRoot  primitives.Root
	proposerBoostSlot  primitives.Slot
	proposerBoostActive bool

	committeeWeight uint64
}

// New builds a Store over a fresh protoarray.Store.
func New(cfg *params.Config) *Store {
	return &Store{
		arr: protoarray.New(),
		cfg: cfg,
	}
}

// HasBlock reports whether root is known to the DAG.
func (s *Store) HasBlock(root primitives.Root) bool {
	return s.arr.HasBlock(root)
}

// OnBlock validates and inserts block, recording its timeliness for
// proposer-boost (spec.md §4.2).
func (s *Store) OnBlock(block primitives.ProtoBlock, blockDelaySec float64, currentSlot primitives.Slot) error {
	s.mu.Lock()

	if block.Slot > currentSlot {
		s.mu.Unlock()
		return fmt.Errorf("%w: block slot %d > current slot %d", ErrInvalidSlot, block.Slot, currentSlot)
	}

	if parent, ok := s.arr.Node(block.ParentRoot); ok {
		if parent.Slot >= block.Slot {
			s.mu.Unlock()
			return fmt.Errorf("%w: parent slot %d >= block slot %d", ErrInvalidSlot, parent.Slot, block.Slot)
		}
	}

	finalized := s.arr.GetFinalizedBlock()
	if uint64(block.Slot) < s.cfg.SlotsPerEpoch*uint64(finalized.Epoch) {
		s.mu.Unlock()
		return ErrFinalizedSlotReverted
	}

	block.Timely = blockDelaySec <= float64(s.cfg.SlotDurationMS)/1000.0/3.0
	s.mu.Unlock()

	if err := s.arr.OnBlock(block, currentSlot); err != nil {
		if errors.Is(err, protoarray.ErrUnknownParent) {
			return fmt.Errorf("%w: %v", ErrUnknownParent, err)
		}
		return err
	}

	s.mu.Lock()
	if block.Timely && block.Slot == currentSlot {
		s.proposerBoostRoot = block.BlockRoot
		s.proposerBoostSlot = block.Slot
		s.proposerBoostActive = true
	}
	s.votesDirty = true
	s.mu.Unlock()

	return nil
}

// OnAttestation applies indexedAttestation's votes. forceImport skips
// the current-epoch bound, used for attestations discovered via block
// processing rather than gossip.
func (s *Store) OnAttestation(validatorIndices []primitives.ValidatorIndex, blockRoot primitives.Root, targetEpoch, currentEpoch primitives.Epoch, forceImport bool) error {
	if !forceImport && targetEpoch > currentEpoch {
		return fmt.Errorf("%w: target %d > current %d", ErrInvalidAttestationTarget, targetEpoch, currentEpoch)
	}
	for _, idx := range validatorIndices {
		s.arr.OnAttestation(idx, blockRoot, targetEpoch)
	}
	s.mu.Lock()
	s.votesDirty = true
	s.mu.Unlock()
	return nil
}

// UpdateTime advances time-dependent state, expiring proposer boost at
// the slot boundary (spec.md §4.2).
func (s *Store) UpdateTime(currentSlot primitives.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSlot = currentSlot
	if s.proposerBoostActive && currentSlot > s.proposerBoostSlot {
		s.proposerBoostActive = false
	}
}

// SetJustifiedBalances installs the balance snapshot used for
// computeDeltas and proposer-boost scaling; called whenever the
// justified checkpoint changes.
func (s *Store) SetJustifiedBalances(balances []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.justifiedBalances = balances

	// Summed with uint256 rather than a plain uint64 accumulator: a
	// full validator set's effective balances can, in aggregate,
	// approach the range where a uint64 sum risks wrapping, and
	// uint256 avoids that without math/big's allocation overhead in
	// this per-epoch hot path.
	total := new(uint256.Int)
	var b64 uint256.Int
	for _, b := range balances {
		b64.SetUint64(b)
		total.Add(total, &b64)
	}
	s.committeeWeight = ^uint64(0)
	if total.IsUint64() {
		s.committeeWeight = total.Uint64()
	}
}

// applyPendingScoreChanges recomputes node weights from accumulated
// votes if any have changed since the last GetHead call.
func (s *Store) applyPendingScoreChanges(equivocating map[primitives.ValidatorIndex]bool) error {
	s.mu.Lock()
	dirty := s.votesDirty
	balances := s.justifiedBalances
	s.mu.Unlock()

	if !dirty {
		return nil
	}

	deltas, err := s.arr.ComputeDeltas(balances, balances, equivocating)
	if err != nil {
		return err
	}

	justified := s.arr.GetJustifiedBlock()
	finalized := s.arr.GetFinalizedBlock()
	if err := s.arr.ApplyScoreChanges(deltas, justified, finalized, s.currentSlot); err != nil {
		return err
	}

	s.mu.Lock()
	s.votesDirty = false
	s.mu.Unlock()
	return nil
}

// GetHead triggers score-change application if votes changed, then
// returns the head under the FFG filter augmented by proposer boost:
// PROPOSER_SCORE_BOOST/100 * committee weight is added to the weight
// of the block proposed in the current slot that arrived before the
// attestation cutoff, for the duration of the boost window (spec.md
// §4.2).
func (s *Store) GetHead() (primitives.Root, error) {
	if err := s.applyPendingScoreChanges(nil); err != nil {
		return primitives.Root{}, err
	}

	s.mu.RLock()
	boostActive := s.proposerBoostActive
	boostRoot := s.proposerBoostRoot
	committeeWeight := s.committeeWeight
	boostPct := s.cfg.Reorg.ProposerScoreBoost
	s.mu.RUnlock()

	if !boostActive {
		return s.arr.GetHead()
	}

	boostWeight := int64(committeeWeight * boostPct / 100)
	return s.arr.GetHeadWithBoost(boostRoot, boostWeight)
}

// ReorgDecision is the result of ShouldOverrideForkChoiceUpdate.
type ReorgDecision struct {
	Override bool
	NewTarget primitives.Root
	Reason   ReorgReason
}

// ShouldOverrideForkChoiceUpdate implements spec.md §4.2's proposer
// reorg: override the FCU when the head is untimely, the proposal slot
// is not an epoch boundary, head and parent are FFG-competitive,
// finalization is within the configured staleness bound, the reorg
// spans exactly one slot, the parent's weight clears the parent
// threshold, and the head's weight stays below the head threshold.
func (s *Store) ShouldOverrideForkChoiceUpdate(head primitives.Root, proposalSlot primitives.Slot, isEpochBoundary bool) (ReorgDecision, error) {
	headNode, ok := s.arr.Node(head)
	if !ok {
		return ReorgDecision{}, fmt.Errorf("%w: head %s", ErrUnknownParent, head)
	}

	if headNode.Timely {
		return ReorgDecision{Reason: ReorgHeadTimely}, nil
	}
	if isEpochBoundary {
		return ReorgDecision{Reason: ReorgNotShufflingStable}, nil
	}
	if proposalSlot != headNode.Slot+1 {
		return ReorgDecision{Reason: ReorgNotSingleSlot}, nil
	}

	parentNode, ok := s.arr.Node(headNode.ParentRoot)
	if !ok {
		return ReorgDecision{}, fmt.Errorf("%w: parent of head %s", ErrUnknownParent, head)
	}

	finalized := s.arr.GetFinalizedBlock()
	currentEpoch := primitives.Epoch(uint64(proposalSlot) / s.cfg.SlotsPerEpoch)
	if currentEpoch-finalized.Epoch > s.cfg.Reorg.ReorgMaxEpochsSinceFinalization {
		return ReorgDecision{Reason: ReorgFinalizationStale}, nil
	}

	justified := s.arr.GetJustifiedBlock()
	if headNode.JustifiedEpoch != justified.Epoch || parentNode.JustifiedEpoch != justified.Epoch {
		return ReorgDecision{Reason: ReorgNotFFGCompetitive}, nil
	}

	s.mu.RLock()
	committeeWeight := s.committeeWeight
	s.mu.RUnlock()

	// Thresholds are fractions of committee weight expressed in 256ths,
	// matching the mainnet-default knob values in params.ReorgPolicy.
	parentThreshold := committeeWeight * s.cfg.Reorg.ReorgParentWeightThreshold / 256
	headThreshold := committeeWeight * s.cfg.Reorg.ReorgHeadWeightThreshold / 256

	if uint64(parentNode.Weight) <= parentThreshold {
		return ReorgDecision{Reason: ReorgParentTooLight}, nil
	}
	if uint64(headNode.Weight) >= headThreshold {
		return ReorgDecision{Reason: ReorgHeadTooHeavy}, nil
	}

	return ReorgDecision{Override: true, NewTarget: headNode.ParentRoot}, nil
}

// Prune delegates to the underlying ProtoArray.
func (s *Store) Prune(finalizedRoot primitives.Root) error {
	return s.arr.Prune(finalizedRoot)
}

// GetJustifiedBlock returns the current justified checkpoint.
func (s *Store) GetJustifiedBlock() primitives.CheckpointWithHex {
	return s.arr.GetJustifiedBlock()
}

// GetFinalizedBlock returns the current finalized checkpoint.
func (s *Store) GetFinalizedBlock() primitives.CheckpointWithHex {
	return s.arr.GetFinalizedBlock()
}

// InvalidateFromParentBlockRoot marks every descendant of lvh's
// successor as execution-invalid (spec.md §7's "invalidateFromParentBlockRoot").
func (s *Store) InvalidateFromParentBlockRoot(root primitives.Root) error {
	return s.arr.SetExecutionStatus(root, primitives.ExecutionInvalid)
}
