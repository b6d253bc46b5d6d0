// Package archive implements the finalization-driven archival job
// queue and frequency-based state archive strategy from spec.md §4.6:
// each newly finalized checkpoint is enqueued, drained one at a time,
// and used to decide which blocks/states/sidecars migrate from the
// hot store into the cold archive store and which hot entries are
// pruned.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethshard/beacon-core/params"
	"github.com/ethshard/beacon-core/primitives"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("archive: queue closed")

// Backend performs the actual migration/pruning I/O for a single
// finalized checkpoint; the concrete implementation is backed by
// db.Store but archive itself stays storage-agnostic so it can be
// tested without pebble.
type Backend interface {
	// ArchiveBlock moves a finalized block from hot to cold storage.
	ArchiveBlock(ctx context.Context, root primitives.Root) error
	// ArchiveState persists a finalized state snapshot to cold storage.
	// Archiver calls it only for epochs that qualify under the
	// configured frequency strategy (ShouldArchiveState).
	ArchiveState(ctx context.Context, root primitives.Root, epoch primitives.Epoch) error
	// PruneHot drops hot-store entries for root now superseded by the
	// archive copy.
	PruneHot(ctx context.Context, root primitives.Root) error
}

// JobItemQueue is an unbounded FIFO queue of finalized checkpoints
// awaiting archival, matching spec.md §9's "JobItemQueue<Checkpoint>"
// design note: a plain slice-backed queue guarded by a mutex and
// condition variable, not a channel, since the queue must support
// introspection (Len) for backpressure metrics.
type JobItemQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []primitives.CheckpointWithHex
	closed bool
}

// NewJobItemQueue builds an empty queue.
func NewJobItemQueue() *JobItemQueue {
	q := &JobItemQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends checkpoint to the queue, waking one waiting reader.
func (q *JobItemQueue) Enqueue(cp primitives.CheckpointWithHex) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, cp)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until an item is available, the queue is closed, or
// ctx is done.
func (q *JobItemQueue) Dequeue(ctx context.Context) (primitives.CheckpointWithHex, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return primitives.CheckpointWithHex{}, ctx.Err()
		}
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return primitives.CheckpointWithHex{}, ErrQueueClosed
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// Len reports the number of pending items.
func (q *JobItemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed, waking all blocked Dequeue callers.
func (q *JobItemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// ShouldArchiveState implements the frequency-based state archive
// strategy: a checkpoint's state is archived only every
// StateEpochFrequency epochs, matching spec.md §4.6's cost/storage
// tradeoff note.
func ShouldArchiveState(cfg *params.ArchiveConfig, epoch primitives.Epoch) bool {
	if cfg.Mode != params.ArchiveModeFrequency {
		return true
	}
	if cfg.StateEpochFrequency == 0 {
		return true
	}
	return uint64(epoch)%cfg.StateEpochFrequency == 0
}

// Archiver drains a JobItemQueue, applying Backend migrations for
// each finalized checkpoint in order.
type Archiver struct {
	queue   *JobItemQueue
	backend Backend
	cfg     *params.ArchiveConfig
}

// New builds an Archiver over queue and backend.
func New(queue *JobItemQueue, backend Backend, cfg *params.ArchiveConfig) *Archiver {
	return &Archiver{queue: queue, backend: backend, cfg: cfg}
}

// Run drains the queue until ctx is done or the queue is closed,
// processing one checkpoint at a time (spec.md §4.6's "archival is
// serialized, never concurrent, to keep cold-store writes ordered").
func (a *Archiver) Run(ctx context.Context) error {
	for {
		cp, err := a.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := a.processCheckpoint(ctx, cp); err != nil {
			return fmt.Errorf("archive: checkpoint epoch %d: %w", cp.Epoch, err)
		}
	}
}

func (a *Archiver) processCheckpoint(ctx context.Context, cp primitives.CheckpointWithHex) error {
	if err := a.backend.ArchiveBlock(ctx, cp.Root); err != nil {
		return fmt.Errorf("archive block: %w", err)
	}
	if ShouldArchiveState(a.cfg, cp.Epoch) {
		if err := a.backend.ArchiveState(ctx, cp.Root, cp.Epoch); err != nil {
			return fmt.Errorf("archive state: %w", err)
		}
	}
	if a.cfg.PruneHistory {
		if err := a.backend.PruneHot(ctx, cp.Root); err != nil {
			return fmt.Errorf("prune hot: %w", err)
		}
	}
	return nil
}
