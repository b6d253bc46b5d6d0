package reqresp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethshard/beacon-core/primitives"
)

func TestWriteReadChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a signed beacon block, ssz-encoded")
	require.NoError(t, WriteChunk(&buf, payload))

	got, err := ReadChunk(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadChunkRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUvarint(&buf, MaxChunkSize+1))

	_, err := ReadChunk(&buf)
	require.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestProtocolID(t *testing.T) {
	require.Equal(t, "/eth2/beacon_chain/req/status/1/ssz_snappy", ProtocolID(ProtocolStatus, 1, "ssz_snappy"))
}

func TestLimiterAllowsBurstThenThrottles(t *testing.T) {
	l := NewLimiter(LimiterConfig{RequestsPerSecond: 1, Burst: 2, DisconnectedTimeout: time.Minute})
	var peer primitives.Root
	peer[0] = 1

	require.True(t, l.Allow(peer))
	require.True(t, l.Allow(peer))
	require.False(t, l.Allow(peer))
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := NewLimiter(LimiterConfig{RequestsPerSecond: 0.001, Burst: 1, DisconnectedTimeout: time.Minute})
	var peer primitives.Root
	peer[0] = 2

	require.True(t, l.Allow(peer))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, peer)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestConcurrentRequestGate(t *testing.T) {
	g := NewConcurrentRequestGate(2)
	var peer primitives.Root
	peer[0] = 3

	require.True(t, g.Acquire(peer))
	require.True(t, g.Acquire(peer))
	require.False(t, g.Acquire(peer))

	g.Release(peer)
	require.True(t, g.Acquire(peer))
}
