// Package primitives defines the fixed-width identifiers and small value
// types shared across the beacon-chain core: slots, epochs, roots, and the
// block/vote records that the fork-choice DAG and the availability
// subsystem pass between each other. It intentionally carries no behavior
// beyond conversions and formatting — every stateful component lives in its
// own package.
package primitives

import (
	"encoding/hex"
	"fmt"
)

// Slot is a consensus-layer slot number. Genesis is slot 0.
type Slot uint64

// Epoch is a consensus-layer epoch number. Genesis is epoch 0.
type Epoch uint64

// ValidatorIndex identifies a validator by its position in the registry.
type ValidatorIndex uint64

// Root is the 32-byte SSZ hash-tree-root identifying a block, state, or
// other Merkleized container.
type Root [32]byte

// String renders the root as a 0x-prefixed hex string.
func (r Root) String() string {
	return "0x" + hex.EncodeToString(r[:])
}

// IsZero reports whether r is the all-zero root (used as the "unset" value
// for optional roots such as execution payload block hashes).
func (r Root) IsZero() bool {
	return r == Root{}
}

// RootFromHex parses a 0x-prefixed or bare hex string into a Root.
func RootFromHex(s string) (Root, error) {
	var r Root
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, fmt.Errorf("primitives: invalid root hex: %w", err)
	}
	if len(b) != len(r) {
		return r, fmt.Errorf("primitives: root must be %d bytes, got %d", len(r), len(b))
	}
	copy(r[:], b)
	return r, nil
}

// Version is a 4-byte fork version, as used in domain separation.
type Version [4]byte

// Address is a 20-byte execution-layer account address.
type Address [20]byte

// CheckpointWithHex is a finality checkpoint annotated with the hex
// encoding of its root, retained alongside the raw bytes so that API and
// log call sites never need to re-derive the string form.
type CheckpointWithHex struct {
	Epoch  Epoch
	Root   Root
	RootHex string
}

// NewCheckpoint builds a CheckpointWithHex with RootHex derived from Root,
// preserving the invariant RootHex == hex(Root).
func NewCheckpoint(epoch Epoch, root Root) CheckpointWithHex {
	return CheckpointWithHex{Epoch: epoch, Root: root, RootHex: root.String()}
}

// ExecutionStatus tracks the execution-layer validity of a block as last
// reported by the engine API.
type ExecutionStatus uint8

const (
	// ExecutionPreMerge marks a block produced before the terminal total
	// difficulty transition; it carries no execution payload.
	ExecutionPreMerge ExecutionStatus = iota
	// ExecutionSyncing means the engine returned SYNCING for the payload;
	// the block is optimistically imported.
	ExecutionSyncing
	// ExecutionValid means the engine validated the payload.
	ExecutionValid
	// ExecutionInvalid means the engine rejected the payload; the block
	// and its descendants must be pruned from fork choice.
	ExecutionInvalid
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionPreMerge:
		return "pre_merge"
	case ExecutionSyncing:
		return "syncing"
	case ExecutionValid:
		return "valid"
	case ExecutionInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// DataAvailabilityStatus tracks whether a block's blobs or data columns
// have been fully observed.
type DataAvailabilityStatus uint8

const (
	// DataAvailabilityNotChecked is the status of a block whose required
	// sidecars have not yet all arrived.
	DataAvailabilityNotChecked DataAvailabilityStatus = iota
	// DataAvailabilityAvailable means every required blob/column for the
	// block has been verified present.
	DataAvailabilityAvailable
	// DataAvailabilityOutOfRange means the block is older than the node's
	// retention window and availability was never evaluated.
	DataAvailabilityOutOfRange
)

// NullValidatorIndex is the sentinel used by vote trackers for a slot that
// has never cast a vote, or whose vote target is unknown to the DAG
// (pruned, or targeting an as-yet-unseen block).
const NullValidatorIndex = ^uint64(0)

// ProtoBlock is the summary of a beacon block as stored in the fork-choice
// DAG. It holds exactly the fields fork choice needs to compute the head;
// everything else about the block lives in the DB and state cache.
type ProtoBlock struct {
	Slot       Slot
	BlockRoot  Root
	ParentRoot Root
	StateRoot  Root
	TargetRoot Root

	JustifiedEpoch Epoch
	JustifiedRoot  Root
	FinalizedEpoch Epoch
	FinalizedRoot  Root

	// Unrealized checkpoints reflect justification/finalization implied by
	// the block's own attestations, before the next epoch transition makes
	// them canonical. Invariant: Unrealized{Justified,Finalized} >= the
	// realized counterpart.
	UnrealizedJustifiedEpoch Epoch
	UnrealizedJustifiedRoot  Root
	UnrealizedFinalizedEpoch Epoch
	UnrealizedFinalizedRoot  Root

	ExecutionStatus            ExecutionStatus
	ExecutionPayloadBlockHash  Root
	DataAvailabilityStatus     DataAvailabilityStatus

	// Timely is true when the block arrived before one third of the slot
	// had elapsed, making it eligible for proposer-boost.
	Timely bool
}

// VoteTracker records a single validator's current and pending fork-choice
// vote. CurrentIndex/NextIndex are node indices into a ProtoArray, or
// NullValidatorIndex when the validator has never voted, has had its vote
// pruned, or has equivocated.
type VoteTracker struct {
	CurrentIndex uint64
	NextIndex    uint64
	NextEpoch    Epoch
}
