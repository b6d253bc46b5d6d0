// Package reqresp implements the libp2p Req/Resp wire framing and
// self rate-limiting described in spec.md §5 and §6: each request or
// response chunk is length-prefixed with an unsigned LEB128 varint
// and Snappy-frame compressed. A per-peer token bucket bounds the
// request rate and a per-peer gate bounds how many concurrent requests
// the local node will serve.
package reqresp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/snappy"
	"golang.org/x/time/rate"

	"github.com/ethshard/beacon-core/primitives"
)

// Errors returned by the framing layer, per spec.md §7.
var (
	ErrChunkTooLarge   = errors.New("reqresp: chunk exceeds maximum size")
	ErrMalformedVarint = errors.New("reqresp: malformed length prefix")
	ErrRateLimited     = errors.New("reqresp: local rate limit exceeded")
)

// MaxChunkSize bounds a single request/response payload before
// compression, matching mainnet's MAX_PAYLOAD_SIZE for post-Deneb
// protocols.
const MaxChunkSize = 10 * 1 << 20

// WriteChunk writes length-prefixed, Snappy-frame-compressed payload
// to w: <uvarint len(payload)><snappy-frame(payload)>.
func WriteChunk(w io.Writer, payload []byte) error {
	if len(payload) > MaxChunkSize {
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(payload))
	}

	bw := bufio.NewWriter(w)
	if err := writeUvarint(bw, uint64(len(payload))); err != nil {
		return err
	}

	sw := snappy.NewBufferedWriter(bw)
	if _, err := sw.Write(payload); err != nil {
		return fmt.Errorf("reqresp: snappy write: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("reqresp: snappy close: %w", err)
	}
	return bw.Flush()
}

// ReadChunk reads one length-prefixed, Snappy-frame-compressed payload
// from r.
func ReadChunk(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	length, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	if length > MaxChunkSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrChunkTooLarge, length)
	}

	sr := snappy.NewReader(br)
	payload := make([]byte, length)
	if _, err := io.ReadFull(sr, payload); err != nil {
		return nil, fmt.Errorf("reqresp: snappy read: %w", err)
	}
	return payload, nil
}

func writeUvarint(w io.ByteWriter, v uint64) error {
	for v >= 0x80 {
		if err := w.WriteByte(byte(v) | 0x80); err != nil {
			return err
		}
		v >>= 7
	}
	return w.WriteByte(byte(v))
}

func readUvarint(r io.ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedVarint, err)
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
	return 0, ErrMalformedVarint
}

// ProtocolID builds a libp2p protocol id string of the form
// /eth2/beacon_chain/req/<name>/<version>/<encoding>, per spec.md §6.
func ProtocolID(name string, version int, encoding string) string {
	return fmt.Sprintf("/eth2/beacon_chain/req/%s/%d/%s", name, version, encoding)
}

// Well-known protocol names, per spec.md §6's ReqResp surface.
const (
	ProtocolStatus               = "status"
	ProtocolGoodbye              = "goodbye"
	ProtocolBeaconBlocksByRange  = "beacon_blocks_by_range"
	ProtocolBeaconBlocksByRoot   = "beacon_blocks_by_root"
	ProtocolBlobSidecarsByRange  = "blob_sidecars_by_range"
	ProtocolBlobSidecarsByRoot   = "blob_sidecars_by_root"
	ProtocolDataColumnSidecarsByRange = "data_column_sidecars_by_range"
	ProtocolDataColumnSidecarsByRoot  = "data_column_sidecars_by_root"
)

// Limiter enforces a self rate limit per peer, independent of any
// gossip-level scoring: spec.md §5's "the node limits itself, it does
// not merely penalize peers that exceed a limit."
type Limiter struct {
	mu       sync.Mutex
	perPeer  map[primitives.Root]*rate.Limiter
	rps      rate.Limit
	burst    int
	disconnectAfter time.Duration
	lastSeen map[primitives.Root]time.Time
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// RequestsPerSecond is the sustained rate a single peer may issue
	// requests at.
	RequestsPerSecond float64
	// Burst is the maximum number of requests admitted instantaneously.
	Burst int
	// DisconnectedTimeout is how long a peer's bucket is retained after
	// its last request before GC (spec.md §6's DISCONNECTED_TIMEOUT).
	DisconnectedTimeout time.Duration
}

// NewLimiter builds a Limiter from cfg.
func NewLimiter(cfg LimiterConfig) *Limiter {
	return &Limiter{
		perPeer:         make(map[primitives.Root]*rate.Limiter),
		rps:             rate.Limit(cfg.RequestsPerSecond),
		burst:           cfg.Burst,
		disconnectAfter: cfg.DisconnectedTimeout,
		lastSeen:        make(map[primitives.Root]time.Time),
	}
}

// Allow reports whether peer may issue one more request right now,
// consuming a token if so.
func (l *Limiter) Allow(peer primitives.Root) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.perPeer[peer]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.perPeer[peer] = lim
	}
	l.lastSeen[peer] = time.Now()
	return lim.Allow()
}

// Wait blocks until peer may issue one more request, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, peer primitives.Root) error {
	l.mu.Lock()
	lim, ok := l.perPeer[peer]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.perPeer[peer] = lim
	}
	l.lastSeen[peer] = time.Now()
	l.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// GC drops buckets for peers not seen within DisconnectedTimeout,
// bounding the limiter's memory use as peers churn.
func (l *Limiter) GC() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.disconnectAfter)
	for peer, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.perPeer, peer)
			delete(l.lastSeen, peer)
		}
	}
}

// ConcurrentRequestGate bounds how many requests a single peer may
// have in flight simultaneously (spec.md §6's MAX_CONCURRENT_REQUESTS),
// distinct from the token-bucket rate above which bounds requests per
// unit time.
type ConcurrentRequestGate struct {
	mu       sync.Mutex
	inFlight map[primitives.Root]int
	max      int
}

// NewConcurrentRequestGate builds a gate admitting at most max
// concurrent requests per peer.
func NewConcurrentRequestGate(max int) *ConcurrentRequestGate {
	return &ConcurrentRequestGate{inFlight: make(map[primitives.Root]int), max: max}
}

// Acquire reserves one concurrent request slot for peer, returning
// false if the peer is already at its limit.
func (g *ConcurrentRequestGate) Acquire(peer primitives.Root) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[peer] >= g.max {
		return false
	}
	g.inFlight[peer]++
	return true
}

// Release frees one concurrent request slot for peer.
func (g *ConcurrentRequestGate) Release(peer primitives.Root) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[peer] > 0 {
		g.inFlight[peer]--
	}
}
