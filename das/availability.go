package das

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethshard/beacon-core/log"
	"github.com/ethshard/beacon-core/primitives"
)

// Variant discriminates BlockInput's two data-availability shapes: a
// pre-Fulu block carries full blobs, a post-Fulu block carries data
// columns and is available once enough columns are recovered for
// reconstruction (spec.md §3, §4.4).
type Variant uint8

const (
	VariantBlobs Variant = iota
	VariantColumns
)

// BlobSidecar is the pre-Fulu network container for a single blob,
// its KZG commitment, and inclusion proof.
type BlobSidecar struct {
	Index                  uint64
	Blob                   []byte
	KZGCommitment          KZGCommitment
	KZGProof               KZGProof
	SignedBlockHeaderRoot  primitives.Root
	InclusionProof         [][32]byte
}

// BlockInput bundles a block's root with whichever DA payload shape
// matches its fork: exactly one of Blobs or Columns is populated,
// selected by Variant (spec.md §4.4's "BlockInput variant").
type BlockInput struct {
	BlockRoot primitives.Root
	Slot      primitives.Slot
	Variant   Variant

	Blobs   []BlobSidecar
	Columns []DataColumnSidecar

	// KZGCommitments is the block's own commitment list, used to
	// verify arriving sidecars regardless of variant.
	KZGCommitments []KZGCommitment
}

// Status reports a BlockInput's availability.
type Status uint8

const (
	StatusPending Status = iota
	StatusAvailable
	StatusUnavailable
)

// Errors returned by the availability coordinator, per spec.md §7.
var (
	ErrAvailabilityTimeout = errors.New("das: availability wait timed out")
	ErrCommitmentMismatch  = errors.New("das: sidecar commitment does not match block commitment list")
	ErrUnknownBlock        = errors.New("das: block input not tracked")
)

// pendingInput tracks in-progress collection of sidecars for one
// block, keyed by the expected commitment count for its variant.
type pendingInput struct {
	input     BlockInput
	haveBlobs map[uint64]bool
	haveCols  map[ColumnIndex]bool
	done      chan struct{}
	closed    bool
}

// GetBlobsOutcome tags the result of a single TriggerGetBlobs attempt,
// matching the taxonomy spec.md §4.4 names for triggerGetBlobs.
type GetBlobsOutcome uint8

const (
	// OutcomePreFulu means the input was the pre-Fulu blob variant and
	// its missing blob sidecars were resolved via engine_getBlobs.
	OutcomePreFulu GetBlobsOutcome = iota
	// OutcomeNotAttemptedFull means a fetch for this root was already
	// in flight, so this call made no attempt of its own.
	OutcomeNotAttemptedFull
	// OutcomeNotAttemptedNoBlobs means the input has no commitments to
	// fetch, or the caller supplied no fetch function for its variant.
	OutcomeNotAttemptedNoBlobs
	// OutcomeNullResponse means the execution client returned no
	// sidecars for a request that should have had some.
	OutcomeNullResponse
	// OutcomeSuccessResolved means every requested sidecar arrived
	// within the call.
	OutcomeSuccessResolved
	// OutcomeSuccessLate means sidecars arrived, but only after the
	// caller's context deadline had already elapsed.
	OutcomeSuccessLate
	// OutcomeFailed means the fetch or the resulting Receive* call
	// returned an error.
	OutcomeFailed
)

// String renders the outcome using the names spec.md §4.4 gives them.
func (o GetBlobsOutcome) String() string {
	switch o {
	case OutcomePreFulu:
		return "PreFulu"
	case OutcomeNotAttemptedFull:
		return "NotAttemptedFull"
	case OutcomeNotAttemptedNoBlobs:
		return "NotAttemptedNoBlobs"
	case OutcomeNullResponse:
		return "NullResponse"
	case OutcomeSuccessResolved:
		return "SuccessResolved"
	case OutcomeSuccessLate:
		return "SuccessLate"
	case OutcomeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// GetBlobsTracker deduplicates concurrent getBlobs lookups for the
// same block across gossip and req/resp, so a block whose sidecars
// are already in flight from one source does not trigger a second,
// redundant fetch (spec.md §4.4's "GetBlobsTracker" dedup table).
type GetBlobsTracker struct {
	mu      sync.Mutex
	inFlight map[primitives.Root]chan struct{}
}

// NewGetBlobsTracker builds an empty tracker.
func NewGetBlobsTracker() *GetBlobsTracker {
	return &GetBlobsTracker{inFlight: make(map[primitives.Root]chan struct{})}
}

// StartOrJoin registers root as having an in-flight fetch if none
// exists, returning (doneCh, true) when the caller is responsible for
// fetching and must call Finish, or (doneCh, false) when another
// caller is already fetching and the receiver should just wait on
// doneCh.
func (t *GetBlobsTracker) StartOrJoin(root primitives.Root) (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.inFlight[root]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	t.inFlight[root] = ch
	return ch, true
}

// Finish completes the in-flight fetch for root, waking any joiners.
func (t *GetBlobsTracker) Finish(root primitives.Root) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.inFlight[root]; ok {
		close(ch)
		delete(t.inFlight, root)
	}
}

// ColumnReconstructionTracker deduplicates and rate-limits column
// reconstruction attempts for a block: once ReconstructionThreshold
// columns are available, reconstruction of the rest is scheduled at
// most once, after a settling delay measured in a fraction of a slot
// (spec.md §4.4's "ColumnReconstructionTracker"; the settling-delay
// unit is resolved to basis points of slot duration per spec.md §9's
// Open Question).
type ColumnReconstructionTracker struct {
	mu        sync.Mutex
	scheduled map[primitives.Root]bool
	// SettleDelayBPS is the settling delay before reconstruction is
	// attempted, expressed in basis points (1/10000ths) of slot
	// duration, so it scales correctly across network configs with
	// different slot times.
	SettleDelayBPS uint64
}

// NewColumnReconstructionTracker builds a tracker with the given
// settling-delay fraction of a slot, in basis points.
func NewColumnReconstructionTracker(settleDelayBPS uint64) *ColumnReconstructionTracker {
	return &ColumnReconstructionTracker{
		scheduled:      make(map[primitives.Root]bool),
		SettleDelayBPS: settleDelayBPS,
	}
}

// ShouldSchedule reports whether reconstruction should be scheduled
// for root given haveColumns currently available, marking root as
// scheduled if so. Subsequent calls for the same root return false
// until Reset is called (e.g. on a later, independent availability
// round for the same root).
func (t *ColumnReconstructionTracker) ShouldSchedule(root primitives.Root, haveColumns int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scheduled[root] {
		return false
	}
	if haveColumns < ReconstructionThreshold {
		return false
	}
	t.scheduled[root] = true
	return true
}

// Reset clears root's scheduled flag.
func (t *ColumnReconstructionTracker) Reset(root primitives.Root) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scheduled, root)
}

// SettleDelay returns the settling delay to wait before reconstructing,
// given a slot duration.
func (t *ColumnReconstructionTracker) SettleDelay(slotDuration time.Duration) time.Duration {
	return slotDuration * time.Duration(t.SettleDelayBPS) / 10000
}

// Coordinator tracks in-progress BlockInputs and resolves their
// availability as sidecars arrive, implementing spec.md §4.4's
// availability-wait workload consumed by the pipeline package. For
// the post-Fulu column variant it also feeds arriving columns into a
// ReconstructionPipeline, so that once ReconstructionThreshold columns
// are in (enough to sample-confirm availability) the remaining columns
// are recovered in the background for re-dissemination to peers who
// still need them — the Get-Blobs/Column-Reconstruction half of spec.md
// §4.4 that availability alone does not cover.
type Coordinator struct {
	mu      sync.Mutex
	pending map[primitives.Root]*pendingInput

	Blobs   *GetBlobsTracker
	Columns *ColumnReconstructionTracker
	Recon   *ReconstructionPipeline

	slotDuration time.Duration
	log          *log.Logger
}

// NewCoordinator builds a Coordinator. slotDuration scales
// ColumnReconstructionTracker's settling delay before background
// reconstruction runs.
func NewCoordinator(columnSettleDelayBPS uint64, slotDuration time.Duration) *Coordinator {
	return &Coordinator{
		pending:      make(map[primitives.Root]*pendingInput),
		Blobs:        NewGetBlobsTracker(),
		Columns:      NewColumnReconstructionTracker(columnSettleDelayBPS),
		Recon:        NewReconstructionPipeline(),
		slotDuration: slotDuration,
		log:          log.Default().Module("das"),
	}
}

// Track begins tracking input; if its block root is already tracked,
// the existing entry is kept unchanged.
func (c *Coordinator) Track(input BlockInput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[input.BlockRoot]; ok {
		return
	}
	c.pending[input.BlockRoot] = &pendingInput{
		input:     input,
		haveBlobs: make(map[uint64]bool),
		haveCols:  make(map[ColumnIndex]bool),
		done:      make(chan struct{}),
	}
}

// ReceiveBlob records an arriving blob sidecar, resolving the
// tracked BlockInput if it completes the required set.
func (c *Coordinator) ReceiveBlob(root primitives.Root, sidecar BlobSidecar) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[root]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, root)
	}
	if sidecar.Index >= uint64(len(p.input.KZGCommitments)) || p.input.KZGCommitments[sidecar.Index] != sidecar.KZGCommitment {
		return ErrCommitmentMismatch
	}

	p.haveBlobs[sidecar.Index] = true
	if len(p.haveBlobs) == len(p.input.KZGCommitments) {
		c.resolveLocked(p)
	}
	return nil
}

// ReceiveColumn records an arriving data column sidecar, feeds its
// cells into the reconstruction pipeline for every blob in the block,
// and — once ReconstructionThreshold columns are in — schedules a
// background reconstruction of the remaining columns.
func (c *Coordinator) ReceiveColumn(root primitives.Root, sidecar DataColumnSidecar) error {
	c.mu.Lock()
	p, ok := c.pending[root]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBlock, root)
	}

	p.haveCols[sidecar.Index] = true
	haveCols := len(p.haveCols)
	slot := uint64(p.input.Slot)
	commitments := p.input.KZGCommitments
	if haveCols >= ReconstructionThreshold {
		c.resolveLocked(p)
	}
	c.mu.Unlock()

	if c.Recon != nil {
		for blobIdx, cell := range sidecar.Column {
			if blobIdx >= len(commitments) {
				break
			}
			c.Recon.InitBlob(slot, uint64(blobIdx), commitments[blobIdx], PriorityNormal)
			if err := c.Recon.AddCell(slot, uint64(blobIdx), uint64(sidecar.Index), cell); err != nil && !errors.Is(err, ErrPipelineDuplicateCell) {
				c.log.Warn("reconstruction cell rejected", "root", root, "blob", blobIdx, "column", sidecar.Index, "err", err)
			}
		}

		if c.Columns.ShouldSchedule(root, haveCols) {
			go c.reconstructRemainingColumns(root, slot, len(commitments))
		}
	}

	return nil
}

// reconstructRemainingColumns runs in the background once enough
// columns have arrived to sample-confirm availability: after the
// tracker's settling delay (giving slower peers a chance to arrive
// without racing them), it decodes every blob the block carries from
// whatever cells are collected and logs the outcome. The decoded data
// is retained in c.Recon's collector (via MarkReconstructed) for a
// caller re-serving columns to peers to read back out.
func (c *Coordinator) reconstructRemainingColumns(root primitives.Root, slot uint64, blobCount int) {
	if c.slotDuration > 0 {
		time.Sleep(c.Columns.SettleDelay(c.slotDuration))
	}
	for blobIdx := 0; blobIdx < blobCount; blobIdx++ {
		if _, err := c.Recon.Reconstruct(slot, uint64(blobIdx)); err != nil {
			c.log.Warn("background column reconstruction failed", "root", root, "blob", blobIdx, "err", err)
			continue
		}
		c.log.Debug("background column reconstruction complete", "root", root, "blob", blobIdx)
	}
}

// TriggerGetBlobs implements spec.md §4.4's triggerGetBlobs: a single
// deduplicated attempt (via GetBlobsTracker) to backfill input's
// missing sidecars from the execution client, tagged with one of the
// spec's named outcomes. fetchBlobs resolves missing indexed blob
// sidecars for a VariantBlobs input via engine_getBlobs; fetchColumns
// resolves column sidecars for a VariantColumns input via
// engine_getBlobsV2. Either may be nil if the caller doesn't support
// that variant.
func (c *Coordinator) TriggerGetBlobs(
	ctx context.Context,
	input BlockInput,
	fetchBlobs func(ctx context.Context) ([]BlobSidecar, error),
	fetchColumns func(ctx context.Context) ([]DataColumnSidecar, error),
) GetBlobsOutcome {
	if len(input.KZGCommitments) == 0 {
		return OutcomeNotAttemptedNoBlobs
	}

	_, isFetcher := c.Blobs.StartOrJoin(input.BlockRoot)
	if !isFetcher {
		return OutcomeNotAttemptedFull
	}
	defer c.Blobs.Finish(input.BlockRoot)

	switch input.Variant {
	case VariantBlobs:
		if fetchBlobs == nil {
			return OutcomeNotAttemptedNoBlobs
		}
		sidecars, err := fetchBlobs(ctx)
		if err != nil {
			return OutcomeFailed
		}
		if len(sidecars) == 0 {
			return OutcomeNullResponse
		}
		for _, sc := range sidecars {
			if err := c.ReceiveBlob(input.BlockRoot, sc); err != nil {
				return OutcomeFailed
			}
		}
		return OutcomePreFulu

	case VariantColumns:
		if fetchColumns == nil {
			return OutcomeNotAttemptedNoBlobs
		}
		cols, err := fetchColumns(ctx)
		if err != nil {
			return OutcomeFailed
		}
		if len(cols) == 0 {
			return OutcomeNullResponse
		}
		for _, col := range cols {
			if err := c.ReceiveColumn(input.BlockRoot, col); err != nil {
				return OutcomeFailed
			}
		}
		if ctx.Err() != nil {
			return OutcomeSuccessLate
		}
		return OutcomeSuccessResolved

	default:
		return OutcomeFailed
	}
}

func (c *Coordinator) resolveLocked(p *pendingInput) {
	if !p.closed {
		p.closed = true
		close(p.done)
	}
}

// Wait blocks until root's BlockInput is available, ctx is done, or
// timeout elapses, matching spec.md §4.4's availability-wait workload
// that pipeline.Workloads.WaitForAvailability calls into.
func (c *Coordinator) Wait(ctx context.Context, root primitives.Root, timeout time.Duration) error {
	c.mu.Lock()
	p, ok := c.pending[root]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, root)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: block %s", ErrAvailabilityTimeout, root)
	}
}

// Forget drops root from tracking, e.g. once the block has been
// fully processed or pruned by fork choice.
func (c *Coordinator) Forget(root primitives.Root) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, root)
	c.Columns.Reset(root)
}
