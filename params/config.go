// Package params defines the immutable fork schedule, network
// parameters, and reorg-policy knobs consumed by clock, protoarray,
// forkchoice, and pipeline. It performs no I/O and has no third-party
// dependencies: it is pure value-typed configuration, constructed once
// at process start and never mutated after.
package params

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethshard/beacon-core/primitives"
)

// Errors returned by Config.Validate.
var (
	ErrConfigNoForkSchedule     = errors.New("params: fork schedule must not be empty")
	ErrConfigForkEpochOrder     = errors.New("params: fork schedule epochs must be strictly increasing")
	ErrConfigNoBlobSchedule     = errors.New("params: blob schedule must not be empty")
	ErrConfigSlotsPerEpochZero  = errors.New("params: slots per epoch must be nonzero")
	ErrConfigSlotDurationZero   = errors.New("params: slot duration must be nonzero")
)

// ForkScheduleEntry pairs a fork's activation epoch with its 4-byte
// version, used for domain separation and fork-digest computation.
type ForkScheduleEntry struct {
	Epoch   primitives.Epoch
	Version primitives.Version
	Name    string
}

// BlobScheduleEntry pairs an activation epoch with the max blobs per
// block effective from that epoch onward (spec.md §6, §8.10).
type BlobScheduleEntry struct {
	Epoch          primitives.Epoch
	MaxBlobsPerBlock uint64
}

// ReorgPolicy holds the proposer-boost / proposer-reorg knobs from
// spec.md §4.2 and §6.
type ReorgPolicy struct {
	// ProposerScoreBoost is the percent of justified balance added to
	// a timely proposer's block score (default 40).
	ProposerScoreBoost uint64

	// ReorgHeadWeightThreshold is the maximum head-block weight, in
	// 256ths of committee weight, below which a reorg is considered
	// (default 20).
	ReorgHeadWeightThreshold uint64

	// ReorgParentWeightThreshold is the minimum parent-block weight, in
	// 256ths of committee weight, required to consider a reorg
	// (default 160).
	ReorgParentWeightThreshold uint64

	// ReorgMaxEpochsSinceFinalization bounds how stale finalization may
	// be for a reorg override to be considered (default 2).
	ReorgMaxEpochsSinceFinalization primitives.Epoch
}

// DefaultReorgPolicy returns the mainnet-default reorg policy knobs.
func DefaultReorgPolicy() ReorgPolicy {
	return ReorgPolicy{
		ProposerScoreBoost:              40,
		ReorgHeadWeightThreshold:        20,
		ReorgParentWeightThreshold:      160,
		ReorgMaxEpochsSinceFinalization: 2,
	}
}

// ArchiveMode selects the archival strategy; only Frequency is
// supported per spec.md §6.
type ArchiveMode uint8

const (
	ArchiveModeFrequency ArchiveMode = iota
)

// ArchiveConfig holds the finalization-driven archival knobs from
// spec.md §4.6 and §6.
type ArchiveConfig struct {
	Mode ArchiveMode

	// StateEpochFrequency is the number of epochs between persisted
	// states (default 1024).
	StateEpochFrequency primitives.Epoch

	// BlobEpochs bounds how long blob/column sidecars are retained in
	// archive before pruning.
	BlobEpochs primitives.Epoch

	PruneHistory              bool
	ServeHistoricalState      bool
	DisableArchiveOnCheckpoint bool

	// FinalizedCheckpointQueueLength bounds the archival job queue
	// (spec.md §6 PROCESS_FINALIZED_CHECKPOINT_QUEUE_LENGTH).
	FinalizedCheckpointQueueLength int
}

// ReqRespConfig holds the ReqResp self rate-limiter and history-window
// knobs from spec.md §5 and §6.
type ReqRespConfig struct {
	MaxConcurrentRequests int

	MinEpochsForBlobSidecarsRequests        primitives.Epoch
	MinEpochsForDataColumnSidecarsRequests primitives.Epoch

	FuluForkEpoch primitives.Epoch
}

// Config is the immutable, validated configuration consumed by the
// core. Build with NewConfig then Validate before use.
type Config struct {
	SlotsPerEpoch   uint64
	SlotDurationMS  uint64

	ForkSchedule []ForkScheduleEntry
	BlobSchedule []BlobScheduleEntry

	Reorg   ReorgPolicy
	Archive ArchiveConfig
	ReqResp ReqRespConfig
}

// NewConfig constructs a Config from the given fork and blob
// schedules, sorting both by epoch ascending (spec.md §8.10: "unsorted
// input is accepted and sorted").
func NewConfig(slotsPerEpoch, slotDurationMS uint64, forks []ForkScheduleEntry, blobs []BlobScheduleEntry) *Config {
	fs := append([]ForkScheduleEntry(nil), forks...)
	sort.Slice(fs, func(i, j int) bool { return fs[i].Epoch < fs[j].Epoch })

	bs := append([]BlobScheduleEntry(nil), blobs...)
	sort.Slice(bs, func(i, j int) bool { return bs[i].Epoch < bs[j].Epoch })

	return &Config{
		SlotsPerEpoch:  slotsPerEpoch,
		SlotDurationMS: slotDurationMS,
		ForkSchedule:   fs,
		BlobSchedule:   bs,
		Reorg:          DefaultReorgPolicy(),
		Archive: ArchiveConfig{
			Mode:                 ArchiveModeFrequency,
			StateEpochFrequency:  1024,
			FinalizedCheckpointQueueLength: 16,
		},
		ReqResp: ReqRespConfig{
			MaxConcurrentRequests: 2,
		},
	}
}

// Validate checks structural invariants and returns the first
// violation found.
func (c *Config) Validate() error {
	if c.SlotsPerEpoch == 0 {
		return ErrConfigSlotsPerEpochZero
	}
	if c.SlotDurationMS == 0 {
		return ErrConfigSlotDurationZero
	}
	if len(c.ForkSchedule) == 0 {
		return ErrConfigNoForkSchedule
	}
	for i := 1; i < len(c.ForkSchedule); i++ {
		if c.ForkSchedule[i].Epoch <= c.ForkSchedule[i-1].Epoch {
			return fmt.Errorf("%w: %s at %d <= %s at %d",
				ErrConfigForkEpochOrder,
				c.ForkSchedule[i].Name, c.ForkSchedule[i].Epoch,
				c.ForkSchedule[i-1].Name, c.ForkSchedule[i-1].Epoch)
		}
	}
	if len(c.BlobSchedule) == 0 {
		return ErrConfigNoBlobSchedule
	}
	return nil
}

// MaxBlobsPerBlock returns the entry with the greatest epoch <= the
// requested epoch (spec.md §8.10). Panics-free: callers must have
// validated a non-empty schedule via Validate.
func (c *Config) MaxBlobsPerBlock(epoch primitives.Epoch) uint64 {
	best := c.BlobSchedule[0]
	for _, e := range c.BlobSchedule {
		if e.Epoch <= epoch && e.Epoch >= best.Epoch {
			best = e
		}
	}
	return best.MaxBlobsPerBlock
}

// ActiveForkBoundaries returns every fork schedule entry whose epoch
// falls within [epoch-lookahead, nextEpoch+lookahead]; coincident
// forks collapse to the latest (spec.md §8.9).
func (c *Config) ActiveForkBoundaries(epoch primitives.Epoch, lookahead primitives.Epoch) []ForkScheduleEntry {
	lo := epoch - lookahead
	if lookahead > epoch {
		lo = 0
	}
	hi := epoch + 1 + lookahead

	byEpoch := make(map[primitives.Epoch]ForkScheduleEntry)
	for _, f := range c.ForkSchedule {
		if f.Epoch >= lo && f.Epoch <= hi {
			byEpoch[f.Epoch] = f // later entries in sorted order win ties
		}
	}
	out := make([]ForkScheduleEntry, 0, len(byEpoch))
	for _, f := range byEpoch {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}
