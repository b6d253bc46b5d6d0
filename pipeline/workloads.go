package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethshard/beacon-core/crypto"
	"github.com/ethshard/beacon-core/das"
	"github.com/ethshard/beacon-core/engine"
	"github.com/ethshard/beacon-core/primitives"
	"github.com/ethshard/beacon-core/statecache"
)

// PayloadSource supplies the full Cancun execution payload, its blob
// versioned hashes, and parent beacon block root for a block
// identified by root. ProtoBlock itself only carries the payload's
// declared block hash for fork-choice bookkeeping, not the payload
// body, so the pipeline's caller (which holds the decoded signed
// block) supplies this lookup.
type PayloadSource func(root primitives.Root) (payload *engine.ExecutionPayloadV3, blobVersionedHashes []primitives.Root, parentBeaconBlockRoot primitives.Root, err error)

// SignatureSetSource supplies a block's signature set for batch
// verification: one message and pubkey per signed artifact (block
// signature, included attestations, ...) aggregated under sig.
type SignatureSetSource func(root primitives.Root) (pubkeys [][48]byte, msgs [][]byte, sig [96]byte, err error)

// NewDefaultWorkloads wires the four pipeline workloads to this core's
// real subsystems, replacing the zero-value no-ops New falls back to
// in tests: engineClient issues engine_newPayloadV3 over the Engine
// API (spec.md §6), availability waits on das.Coordinator for the
// block's blobs/columns (spec.md §4.4), regen drives the state
// transition through statecache (spec.md §4.5), and sigSets feeds
// crypto.VerifyAggregate for the signature batch (spec.md §4.3 step
// 4).
func NewDefaultWorkloads(
	engineClient *engine.Client,
	availability *das.Coordinator,
	availabilityTimeout time.Duration,
	regen *statecache.Regen,
	payloads PayloadSource,
	sigSets SignatureSetSource,
) Workloads {
	return Workloads{
		VerifyExecutionPayload: func(ctx context.Context, block primitives.ProtoBlock) (ExecutionStatus, error) {
			payload, blobHashes, parentBeaconRoot, err := payloads(block.BlockRoot)
			if err != nil {
				return ExecutionStatusUnknown, fmt.Errorf("load execution payload for %s: %w", block.BlockRoot, err)
			}
			status, err := engineClient.NewPayloadV3(ctx, payload, blobHashes, parentBeaconRoot)
			if err != nil {
				return ExecutionStatusUnknown, err
			}
			return translatePayloadStatus(status), nil
		},
		WaitForAvailability: func(ctx context.Context, block primitives.ProtoBlock) error {
			return availability.Wait(ctx, block.BlockRoot, availabilityTimeout)
		},
		TransitionState: func(ctx context.Context, block primitives.ProtoBlock) (any, error) {
			return regen.ApplyBlock(ctx, block)
		},
		VerifySignatures: func(ctx context.Context, block primitives.ProtoBlock) error {
			pubkeys, msgs, sig, err := sigSets(block.BlockRoot)
			if err != nil {
				return fmt.Errorf("load signature set for %s: %w", block.BlockRoot, err)
			}
			if len(pubkeys) == 0 {
				return nil
			}
			if !crypto.VerifyAggregate(pubkeys, msgs, sig) {
				return fmt.Errorf("aggregate signature verification failed for block %s", block.BlockRoot)
			}
			return nil
		},
	}
}

// translatePayloadStatus maps the execution client's engine_newPayload
// response onto the pipeline's own ExecutionStatus: SYNCING/ACCEPTED
// are both treated as optimistic, since in either case the execution
// client has not yet confirmed validity and this core must track the
// block as optimistically imported (spec.md §7).
func translatePayloadStatus(status *engine.PayloadStatusV1) ExecutionStatus {
	switch status.Status {
	case engine.StatusValid:
		return ExecutionStatusValid
	case engine.StatusInvalid, engine.StatusInvalidBlockHash:
		return ExecutionStatusInvalid
	default:
		return ExecutionStatusOptimistic
	}
}
