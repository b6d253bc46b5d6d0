// client.go implements the Engine API client: the consensus core is
// always the caller here, issuing engine_newPayload/forkchoiceUpdated/
// getPayload/getBlobs calls outbound to an execution node over
// authenticated JSON-RPC (spec.md §6). This mirrors how a real execution
// node dispatches those same methods on its own authenticated RPC
// server, except every call here originates from us.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/ethshard/beacon-core/log"
	"github.com/ethshard/beacon-core/primitives"
)

// callTimeout bounds a single outbound Engine API call; the execution
// client is expected to respond well within this (8s matches the
// execution-apis spec's recommended newPayload/forkchoiceUpdated
// timeout).
const callTimeout = 8 * time.Second

// ClientVersionV1 identifies a CL or EL client implementation, exchanged
// via engine_getClientVersionV1.
type ClientVersionV1 struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// clientCode and clientName identify this consensus core to the paired
// execution client during engine_getClientVersionV1 capability exchange.
const (
	clientCode = "BC"
	clientName = "beacon-core"
)

// Client is an outbound Engine API client bound to a single execution
// node endpoint. One Client instance is normally shared by the whole
// pipeline for the node's lifetime.
type Client struct {
	rpc *gethrpc.Client
	log *log.Logger
}

// LoadJWTSecret reads a hex-encoded 32-byte JWT secret from disk, in the
// format execution clients write at startup (geth's
// --authrpc.jwtsecret convention: a single hex string, optionally
// "0x"-prefixed, optionally newline-terminated).
func LoadJWTSecret(path string) ([32]byte, error) {
	var secret [32]byte
	raw, err := os.ReadFile(path)
	if err != nil {
		return secret, fmt.Errorf("engine: read jwt secret %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"))
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return secret, fmt.Errorf("engine: decode jwt secret %s: %w", path, err)
	}
	if len(decoded) != len(secret) {
		return secret, fmt.Errorf("engine: jwt secret %s: want %d bytes, got %d", path, len(secret), len(decoded))
	}
	copy(secret[:], decoded)
	return secret, nil
}

// Dial connects to an execution node's authenticated Engine API endpoint
// (conventionally served on a distinct port, e.g. :8551) and attaches
// jwtSecret as an HS256 bearer token to every outbound call per
// EIP-3675.
func Dial(ctx context.Context, endpoint string, jwtSecret [32]byte) (*Client, error) {
	rc, err := gethrpc.DialOptions(ctx, endpoint, gethrpc.WithHTTPAuth(gethrpc.NewJWTAuth(jwtSecret)))
	if err != nil {
		return nil, fmt.Errorf("engine: dial %s: %w", endpoint, err)
	}
	return &Client{rpc: rc, log: log.Default().Module("engine")}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		c.log.Warn("engine call failed", "method", method, "err", err)
		return fmt.Errorf("engine: %s: %w", method, err)
	}
	return nil
}

// NewPayloadV3 submits a Cancun execution payload to the execution
// client via engine_newPayloadV3.
func (c *Client) NewPayloadV3(ctx context.Context, payload *ExecutionPayloadV3, expectedBlobVersionedHashes []primitives.Root, parentBeaconBlockRoot primitives.Root) (*PayloadStatusV1, error) {
	var status PayloadStatusV1
	err := c.call(ctx, &status, "engine_newPayloadV3", payload, expectedBlobVersionedHashes, parentBeaconBlockRoot)
	return &status, err
}

// NewPayloadV4 submits a Prague execution payload (adds execution
// requests) via engine_newPayloadV4.
func (c *Client) NewPayloadV4(ctx context.Context, payload *ExecutionPayloadV3, expectedBlobVersionedHashes []primitives.Root, parentBeaconBlockRoot primitives.Root, executionRequests [][]byte) (*PayloadStatusV1, error) {
	var status PayloadStatusV1
	err := c.call(ctx, &status, "engine_newPayloadV4", payload, expectedBlobVersionedHashes, parentBeaconBlockRoot, executionRequests)
	return &status, err
}

// NewPayloadV5 submits an Amsterdam execution payload (adds the block
// access list) via engine_newPayloadV5.
func (c *Client) NewPayloadV5(ctx context.Context, payload *ExecutionPayloadV5, expectedBlobVersionedHashes []primitives.Root, parentBeaconBlockRoot primitives.Root, executionRequests [][]byte) (*PayloadStatusV1, error) {
	var status PayloadStatusV1
	err := c.call(ctx, &status, "engine_newPayloadV5", payload, expectedBlobVersionedHashes, parentBeaconBlockRoot, executionRequests)
	return &status, err
}

// ForkchoiceUpdatedV3 notifies the execution client of a new fork choice
// state and, if attrs is non-nil, requests a Cancun payload build.
func (c *Client) ForkchoiceUpdatedV3(ctx context.Context, state *ForkchoiceStateV1, attrs *PayloadAttributesV3) (*ForkchoiceUpdatedResult, error) {
	var result ForkchoiceUpdatedResult
	err := c.call(ctx, &result, "engine_forkchoiceUpdatedV3", state, attrs)
	return &result, err
}

// ForkchoiceUpdatedV4 notifies the execution client of a new fork choice
// state and, if attrs is non-nil, requests an Amsterdam payload build.
func (c *Client) ForkchoiceUpdatedV4(ctx context.Context, state *ForkchoiceStateV1, attrs *PayloadAttributesV4) (*ForkchoiceUpdatedResult, error) {
	var result ForkchoiceUpdatedResult
	err := c.call(ctx, &result, "engine_forkchoiceUpdatedV4", state, attrs)
	return &result, err
}

// GetPayloadV3 retrieves a previously requested Cancun payload build.
func (c *Client) GetPayloadV3(ctx context.Context, id PayloadID) (*GetPayloadV3Response, error) {
	var resp GetPayloadV3Response
	err := c.call(ctx, &resp, "engine_getPayloadV3", id)
	return &resp, err
}

// GetPayloadV4 retrieves a previously requested Prague payload build.
func (c *Client) GetPayloadV4(ctx context.Context, id PayloadID) (*GetPayloadV4Response, error) {
	var resp GetPayloadV4Response
	err := c.call(ctx, &resp, "engine_getPayloadV4", id)
	return &resp, err
}

// GetPayloadV6 retrieves a previously requested Amsterdam payload build.
func (c *Client) GetPayloadV6(ctx context.Context, id PayloadID) (*GetPayloadV6Response, error) {
	var resp GetPayloadV6Response
	err := c.call(ctx, &resp, "engine_getPayloadV6", id)
	return &resp, err
}

// GetBlobsV1 fetches blobs the execution client holds in its mempool by
// versioned hash (engine_getBlobsV1, used to backfill blob sidecars the
// core could not obtain over the DAS/ReqResp path — spec.md §4.4's
// "Get-Blobs" fallback).
func (c *Client) GetBlobsV1(ctx context.Context, versionedHashes []primitives.Root) ([]*BlobAndProofV1, error) {
	var blobs []*BlobAndProofV1
	err := c.call(ctx, &blobs, "engine_getBlobsV1", versionedHashes)
	return blobs, err
}

// GetBlobsV2 is the Fulu/PeerDAS variant of GetBlobsV1, returning cell
// proofs alongside each blob so the response can serve column
// reconstruction directly instead of only whole-blob recovery.
func (c *Client) GetBlobsV2(ctx context.Context, versionedHashes []primitives.Root) ([]*BlobAndProofV2, error) {
	var blobs []*BlobAndProofV2
	err := c.call(ctx, &blobs, "engine_getBlobsV2", versionedHashes)
	return blobs, err
}

// ExchangeCapabilities exchanges the set of supported Engine API methods
// with the execution client (engine_exchangeCapabilities).
func (c *Client) ExchangeCapabilities(ctx context.Context, supported []string) ([]string, error) {
	var caps []string
	err := c.call(ctx, &caps, "engine_exchangeCapabilities", supported)
	return caps, err
}

// GetClientVersionV1 exchanges client identification with the execution
// client (engine_getClientVersionV1).
func (c *Client) GetClientVersionV1(ctx context.Context) ([]ClientVersionV1, error) {
	self := ClientVersionV1{Code: clientCode, Name: clientName}
	var versions []ClientVersionV1
	err := c.call(ctx, &versions, "engine_getClientVersionV1", self)
	return versions, err
}

// BlobAndProofV1 is a single blob plus its KZG proof, as returned by
// engine_getBlobsV1. A nil entry at a given index means the execution
// client did not have that versioned hash.
type BlobAndProofV1 struct {
	Blob  []byte `json:"blob"`
	Proof []byte `json:"proof"`
}

// BlobAndProofV2 is the PeerDAS variant: one proof per cell rather than
// a single whole-blob proof.
type BlobAndProofV2 struct {
	Blob   []byte   `json:"blob"`
	Proofs [][]byte `json:"proofs"`
}
