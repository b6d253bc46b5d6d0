// Package clock maps wall-clock time to slots and epochs from a
// genesis timestamp, and exposes the slot-component timing cutoffs
// (attestation due, aggregate due, sync-message due, proposer-boost
// cutoff) that forkchoice and pipeline key their timeliness
// calculations on.
package clock

import (
	"time"

	"github.com/ethshard/beacon-core/params"
	"github.com/ethshard/beacon-core/primitives"
)

// Clock converts between wall-clock time and slot/epoch numbers for a
// single genesis.
type Clock struct {
	genesis        time.Time
	slotDuration   time.Duration
	slotsPerEpoch  uint64
}

// New builds a Clock from the given genesis time and config.
func New(genesis time.Time, cfg *params.Config) *Clock {
	return &Clock{
		genesis:       genesis,
		slotDuration:  time.Duration(cfg.SlotDurationMS) * time.Millisecond,
		slotsPerEpoch: cfg.SlotsPerEpoch,
	}
}

// GenesisTime returns the configured genesis time.
func (c *Clock) GenesisTime() time.Time {
	return c.genesis
}

// CurrentSlot returns the slot containing the current time. Times
// before genesis map to slot 0.
func (c *Clock) CurrentSlot() primitives.Slot {
	return c.SlotAt(time.Now())
}

// SlotAt returns the slot containing t.
func (c *Clock) SlotAt(t time.Time) primitives.Slot {
	if t.Before(c.genesis) {
		return 0
	}
	elapsed := t.Sub(c.genesis)
	return primitives.Slot(elapsed / c.slotDuration)
}

// SlotStart returns the wall-clock time at which slot begins.
func (c *Clock) SlotStart(slot primitives.Slot) time.Time {
	return c.genesis.Add(time.Duration(slot) * c.slotDuration)
}

// EpochAt returns the epoch containing slot.
func (c *Clock) EpochAt(slot primitives.Slot) primitives.Epoch {
	return primitives.Epoch(uint64(slot) / c.slotsPerEpoch)
}

// EpochStartSlot returns the first slot of epoch.
func (c *Clock) EpochStartSlot(epoch primitives.Epoch) primitives.Slot {
	return primitives.Slot(uint64(epoch) * c.slotsPerEpoch)
}

// IsEpochBoundary reports whether slot is the first slot of its epoch.
func (c *Clock) IsEpochBoundary(slot primitives.Slot) bool {
	return uint64(slot)%c.slotsPerEpoch == 0
}

// SecondsIntoSlot returns how far into its containing slot t falls.
func (c *Clock) SecondsIntoSlot(t time.Time) time.Duration {
	slot := c.SlotAt(t)
	return t.Sub(c.SlotStart(slot))
}

// AttestationDue returns the time at which attestations for slot
// become due: one third of the way into the slot.
func (c *Clock) AttestationDue(slot primitives.Slot) time.Time {
	return c.SlotStart(slot).Add(c.slotDuration / 3)
}

// AggregateDue returns the time at which aggregate attestations for
// slot become due: two thirds of the way into the slot.
func (c *Clock) AggregateDue(slot primitives.Slot) time.Time {
	return c.SlotStart(slot).Add(2 * c.slotDuration / 3)
}

// SyncMessageDue returns the time at which sync-committee messages for
// slot become due, identical to AttestationDue.
func (c *Clock) SyncMessageDue(slot primitives.Slot) time.Time {
	return c.AttestationDue(slot)
}

// IsTimely reports whether a block proposed for slot and observed at
// arrival arrived before the proposer-boost cutoff (one third of the
// slot, spec.md §4.2).
func (c *Clock) IsTimely(slot primitives.Slot, arrival time.Time) bool {
	return !arrival.After(c.AttestationDue(slot))
}
