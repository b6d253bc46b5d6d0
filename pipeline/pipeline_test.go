package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/primitives"
)

func TestProcessBlockHappyPathPublishesEvent(t *testing.T) {
	var published []ChainEvent
	p := New(Workloads{})
	p.Subscribe(func(e ChainEvent) { published = append(published, e) })

	block := primitives.ProtoBlock{Slot: 5}
	event, err := p.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusValid, event.ExecutionStatus)
	require.Len(t, published, 1)
}

func TestProcessBlockAbortsOnSignatureFailure(t *testing.T) {
	p := New(Workloads{
		VerifySignatures: func(ctx context.Context, b primitives.ProtoBlock) error {
			return errors.New("bad signature")
		},
	})

	_, err := p.ProcessBlock(context.Background(), primitives.ProtoBlock{})
	require.Error(t, err)
	var be *BlockError
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindInvalid, be.Kind)
}

func TestProcessBlockUnavailableData(t *testing.T) {
	p := New(Workloads{
		WaitForAvailability: func(ctx context.Context, b primitives.ProtoBlock) error {
			return errors.New("blobs missing")
		},
	})

	_, err := p.ProcessBlock(context.Background(), primitives.ProtoBlock{})
	var be *BlockError
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindUnavailable, be.Kind)
}

func TestProcessBlockDeferredOnMissingPreState(t *testing.T) {
	p := New(Workloads{
		TransitionState: func(ctx context.Context, b primitives.ProtoBlock) (any, error) {
			return nil, errors.New("statecache: state not found: root deadbeef")
		},
	})

	_, err := p.ProcessBlock(context.Background(), primitives.ProtoBlock{})
	var be *BlockError
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindDeferred, be.Kind)
}
