// Package pipeline implements the block verification pipeline
// described in spec.md §4.3: four concurrent workloads (execution
// payload verification, data-availability wait, state transition, and
// signature batch verification) coordinated with abort-on-first-
// failure semantics, followed by a ChainEvent publication once every
// workload succeeds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ethshard/beacon-core/primitives"
)

// BlockError classifies why a block failed the pipeline, per spec.md
// §7's error taxonomy: callers branch on Kind to decide whether to
// penalize the sending peer, queue the block for later retry, or drop
// it permanently.
type BlockError struct {
	Kind string
	Err  error
}

func (e *BlockError) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Kind, e.Err) }
func (e *BlockError) Unwrap() error { return e.Err }

// Error kinds, matching spec.md §7's taxonomy.
const (
	KindInvalid     = "invalid"      // block is provably malformed or violates a consensus rule
	KindOptimistic  = "optimistic"   // execution payload status is unknown, block accepted provisionally
	KindUnavailable = "unavailable"  // required blob/column data did not arrive in time
	KindDeferred    = "deferred"     // block's parent or pre-state is not yet known
)

func invalidErr(err error) error    { return &BlockError{Kind: KindInvalid, Err: err} }
func unavailableErr(err error) error { return &BlockError{Kind: KindUnavailable, Err: err} }
func deferredErr(err error) error   { return &BlockError{Kind: KindDeferred, Err: err} }

// ExecutionStatus is the outcome of execution payload verification.
type ExecutionStatus int

const (
	ExecutionStatusUnknown ExecutionStatus = iota
	ExecutionStatusValid
	ExecutionStatusInvalid
	ExecutionStatusOptimistic
)

// Workloads bundles the four verification functions the pipeline runs
// concurrently. Each is supplied by a different subsystem: engine,
// das, statecache, and crypto respectively (spec.md §4.3's component
// diagram); pipeline only sequences them.
type Workloads struct {
	// VerifyExecutionPayload calls engine_newPayload (or an
	// equivalent) and reports the resulting status.
	VerifyExecutionPayload func(ctx context.Context, block primitives.ProtoBlock) (ExecutionStatus, error)
	// WaitForAvailability blocks until the block's required blobs or
	// columns are available, or ctx is done.
	WaitForAvailability func(ctx context.Context, block primitives.ProtoBlock) error
	// TransitionState computes and validates the post-state,
	// returning the state handle for downstream caching.
	TransitionState func(ctx context.Context, block primitives.ProtoBlock) (any, error)
	// VerifySignatures batch-verifies the block's signature set.
	VerifySignatures func(ctx context.Context, block primitives.ProtoBlock) error
}

// ChainEvent is published once a block clears every workload.
type ChainEvent struct {
	Block primitives.ProtoBlock
	State any
	ExecutionStatus ExecutionStatus
}

// EventSink receives ChainEvents; typically the fork-choice store and
// any gossip re-publication logic subscribe here.
type EventSink func(ChainEvent)

// Pipeline runs the four-workload verification sequence for each
// incoming block.
type Pipeline struct {
	workloads Workloads
	sinks     []EventSink
}

// New builds a Pipeline over workloads. Any unset workload is treated
// as an immediate no-op success, which is only appropriate in tests —
// production callers should build workloads with NewDefaultWorkloads,
// which wires engine, das, statecache, and crypto in.
func New(workloads Workloads) *Pipeline {
	if workloads.VerifyExecutionPayload == nil {
		workloads.VerifyExecutionPayload = func(context.Context, primitives.ProtoBlock) (ExecutionStatus, error) {
			return ExecutionStatusValid, nil
		}
	}
	if workloads.WaitForAvailability == nil {
		workloads.WaitForAvailability = func(context.Context, primitives.ProtoBlock) error { return nil }
	}
	if workloads.TransitionState == nil {
		workloads.TransitionState = func(context.Context, primitives.ProtoBlock) (any, error) { return nil, nil }
	}
	if workloads.VerifySignatures == nil {
		workloads.VerifySignatures = func(context.Context, primitives.ProtoBlock) error { return nil }
	}
	return &Pipeline{workloads: workloads}
}

// Subscribe registers sink to receive ChainEvents for every block that
// clears verification.
func (p *Pipeline) Subscribe(sink EventSink) {
	p.sinks = append(p.sinks, sink)
}

// ProcessBlock runs all four workloads concurrently via an errgroup
// bound to ctx, so that any workload's failure cancels the others
// (spec.md §5's "abort-controller" semantics), then publishes a
// ChainEvent to every subscriber on success.
func (p *Pipeline) ProcessBlock(ctx context.Context, block primitives.ProtoBlock) (ChainEvent, error) {
	g, gctx := errgroup.WithContext(ctx)

	var execStatus ExecutionStatus
	var state any

	g.Go(func() error {
		status, err := p.workloads.VerifyExecutionPayload(gctx, block)
		if err != nil {
			return invalidErr(fmt.Errorf("execution payload: %w", err))
		}
		if status == ExecutionStatusInvalid {
			return invalidErr(errors.New("execution payload marked invalid"))
		}
		execStatus = status
		return nil
	})

	g.Go(func() error {
		if err := p.workloads.WaitForAvailability(gctx, block); err != nil {
			return unavailableErr(fmt.Errorf("data availability: %w", err))
		}
		return nil
	})

	g.Go(func() error {
		st, err := p.workloads.TransitionState(gctx, block)
		if err != nil {
			return deferredOrInvalid(err)
		}
		state = st
		return nil
	})

	g.Go(func() error {
		if err := p.workloads.VerifySignatures(gctx, block); err != nil {
			return invalidErr(fmt.Errorf("signature batch: %w", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return ChainEvent{}, err
	}

	event := ChainEvent{Block: block, State: state, ExecutionStatus: execStatus}
	for _, sink := range p.sinks {
		sink(event)
	}
	return event, nil
}

// deferredOrInvalid classifies a state-transition failure as deferred
// (the pre-state for this block's parent is not yet known, so the
// block should be requeued rather than discarded) or invalid
// otherwise, based on the sentinel the statecache package returns.
// Matching on string content rather than importing statecache keeps
// pipeline decoupled from the concrete state representation.
func deferredOrInvalid(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "state not found") || strings.Contains(err.Error(), "replay distance") {
		return deferredErr(fmt.Errorf("state transition: %w", err))
	}
	return invalidErr(fmt.Errorf("state transition: %w", err))
}
