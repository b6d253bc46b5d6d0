// payload_validation.go implements structural validation of execution
// payloads received via the Engine API. It checks field-level invariants
// that the consensus layer must enforce itself — timestamp progression,
// base fee sign, gas bounds, extra data length, blob gas bounds, and
// withdrawals — before handing the payload to engine_newPayload.
//
// Recomputing the payload's block hash would require decoding raw
// transactions and RLP-encoding an execution header, which duplicates the
// execution client's own job; the core treats engine_newPayload's
// {status, latestValidHash, validationError} response as authoritative
// for block-hash and transaction-level correctness instead.
package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethshard/beacon-core/primitives"
)

// Payload validation constants.
const (
	// MaxExtraDataSize is the maximum allowed length of ExtraData, in bytes.
	MaxExtraDataSize = 32

	// MinGasLimit is the minimum allowed gas limit.
	MinGasLimit = 5000

	// GasLimitBoundDivisor bounds how much the gas limit may drift from its
	// parent in a single block.
	GasLimitBoundDivisor = 1024

	// BaseFeeChangeDenominator bounds the EIP-1559 base fee's per-block
	// change.
	BaseFeeChangeDenominator = 8

	// MaxTransactionsPerPayload is the soft limit for transactions per payload.
	MaxTransactionsPerPayload = 1 << 20 // ~1M

	// MaxTransactionSize is the maximum allowed size for a single encoded transaction.
	MaxTransactionSize = 1 << 24 // 16 MiB

	// MaxWithdrawalsPerPayloadV2 is the max withdrawals in a payload.
	MaxWithdrawalsPerPayloadV2 = 16

	// MaxBlobGasPerBlock is the maximum total blob gas a single payload may consume.
	MaxBlobGasPerBlock = 1 << 20

	// BlobGasPerBlob is the blob gas consumed by a single blob.
	BlobGasPerBlob = 1 << 17
)

// Payload validation errors.
var (
	ErrPayloadNil             = errors.New("payload is nil")
	ErrTimestampNotIncreasing = errors.New("timestamp must be greater than parent")
	ErrTimestampZero         = errors.New("timestamp must not be zero")
	ErrBaseFeeNil            = errors.New("base fee per gas must not be nil")
	ErrBaseFeeNegative       = errors.New("base fee per gas must not be negative")
	ErrBaseFeeZero           = errors.New("base fee per gas must not be zero")
	ErrBaseFeeInvalid        = errors.New("base fee does not match expected value")
	ErrGasLimitTooLow        = errors.New("gas limit below minimum")
	ErrGasLimitChangeTooLarge = errors.New("gas limit change exceeds 1/1024 bound")
	ErrGasUsedExceedsLimit   = errors.New("gas used exceeds gas limit")
	ErrExtraDataTooLong      = errors.New("extra data exceeds 32 bytes")
	ErrTransactionEmpty      = errors.New("empty transaction bytes")
	ErrTransactionTooLarge   = errors.New("transaction exceeds maximum size")
	ErrTooManyTransactions   = errors.New("too many transactions in payload")
	ErrBlobGasUsedNotAligned = errors.New("blob gas used not aligned to blob gas per blob")
	ErrBlobGasUsedExceedsMax = errors.New("blob gas used exceeds maximum")
	ErrWithdrawalsNil        = errors.New("withdrawals list must not be nil post-Shanghai")
	ErrWithdrawalsTooMany    = errors.New("too many withdrawals")
	ErrWithdrawalInvalid     = errors.New("invalid withdrawal entry")
	ErrBeaconRootMissing     = errors.New("parent beacon block root must be present post-Cancun")
)

// PayloadValidator validates execution payloads received via the Engine API.
// It checks structural correctness and field consistency; it never
// re-derives execution-layer state.
type PayloadValidator struct {
	// maxBlobsPerBlock is the configured max blobs per block.
	maxBlobsPerBlock int

	// blobGasPerBlob is the gas consumed per blob.
	blobGasPerBlob uint64
}

// NewPayloadValidator creates a new PayloadValidator with default EIP-4844 params.
func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{
		maxBlobsPerBlock: MaxBlobGasPerBlock / BlobGasPerBlob,
		blobGasPerBlob:   BlobGasPerBlob,
	}
}

// ValidatePayloadFull runs all structural validation checks on the payload,
// returning every error found rather than stopping at the first.
func (v *PayloadValidator) ValidatePayloadFull(payload *ExecutionPayloadV3) []error {
	if payload == nil {
		return []error{ErrPayloadNil}
	}

	var errs []error

	if err := ValidateExtraData(payload.ExtraData); err != nil {
		errs = append(errs, err)
	}

	if payload.GasUsed > payload.GasLimit {
		errs = append(errs, fmt.Errorf("%w: used %d, limit %d",
			ErrGasUsedExceedsLimit, payload.GasUsed, payload.GasLimit))
	}

	if payload.BaseFeePerGas == nil {
		errs = append(errs, ErrBaseFeeNil)
	} else if payload.BaseFeePerGas.Sign() < 0 {
		errs = append(errs, ErrBaseFeeNegative)
	} else if payload.BaseFeePerGas.Sign() == 0 {
		errs = append(errs, ErrBaseFeeZero)
	}

	if payload.Timestamp == 0 {
		errs = append(errs, ErrTimestampZero)
	}

	if err := ValidateTransactionBytes(payload.Transactions); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateBlobGasUsed(payload.BlobGasUsed); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateWithdrawals(payload.Withdrawals); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// ValidateTimestamp checks that the payload timestamp is strictly greater than
// the parent timestamp. The payload timestamp must be nonzero.
func ValidateTimestamp(parentTimestamp, payloadTimestamp uint64) error {
	if payloadTimestamp == 0 {
		return ErrTimestampZero
	}
	if payloadTimestamp <= parentTimestamp {
		return fmt.Errorf("%w: parent=%d, payload=%d",
			ErrTimestampNotIncreasing, parentTimestamp, payloadTimestamp)
	}
	return nil
}

// ValidateBaseFee validates the EIP-1559 base fee calculation using big.Int.
// Given parent base fee, parent gas used, and parent gas target (gasLimit / elasticity),
// it computes the expected base fee and compares against the current base fee.
func ValidateBaseFee(parent, current *big.Int, parentGasUsed, parentGasTarget uint64) error {
	if parent == nil || current == nil {
		return ErrBaseFeeNil
	}
	if parent.Sign() <= 0 {
		return fmt.Errorf("%w: parent base fee is non-positive", ErrBaseFeeInvalid)
	}
	if current.Sign() <= 0 {
		return ErrBaseFeeZero
	}

	expected := CalcBaseFeeBig(parent, parentGasUsed, parentGasTarget)
	if expected.Cmp(current) != 0 {
		return fmt.Errorf("%w: expected %s, got %s",
			ErrBaseFeeInvalid, expected.String(), current.String())
	}
	return nil
}

// CalcBaseFeeBig computes the EIP-1559 base fee for the next block using big.Int
// arithmetic.
// If parentGasUsed == parentGasTarget, base fee stays the same.
// If parentGasUsed > parentGasTarget, base fee increases.
// If parentGasUsed < parentGasTarget, base fee decreases.
func CalcBaseFeeBig(parentBaseFee *big.Int, parentGasUsed, parentGasTarget uint64) *big.Int {
	if parentGasTarget == 0 {
		return new(big.Int).Set(parentBaseFee)
	}

	parentGasUsedBig := new(big.Int).SetUint64(parentGasUsed)
	parentGasTargetBig := new(big.Int).SetUint64(parentGasTarget)

	if parentGasUsed == parentGasTarget {
		return new(big.Int).Set(parentBaseFee)
	}

	if parentGasUsed > parentGasTarget {
		// delta = max(parentBaseFee * (parentGasUsed - parentGasTarget) / parentGasTarget / denominator, 1)
		gasUsedDelta := new(big.Int).Sub(parentGasUsedBig, parentGasTargetBig)
		x := new(big.Int).Mul(parentBaseFee, gasUsedDelta)
		x.Div(x, parentGasTargetBig)
		x.Div(x, new(big.Int).SetUint64(BaseFeeChangeDenominator))

		if x.Sign() == 0 {
			x.SetUint64(1)
		}
		return new(big.Int).Add(parentBaseFee, x)
	}

	// delta = parentBaseFee * (parentGasTarget - parentGasUsed) / parentGasTarget / denominator
	gasUsedDelta := new(big.Int).Sub(parentGasTargetBig, parentGasUsedBig)
	x := new(big.Int).Mul(parentBaseFee, gasUsedDelta)
	x.Div(x, parentGasTargetBig)
	x.Div(x, new(big.Int).SetUint64(BaseFeeChangeDenominator))

	result := new(big.Int).Sub(parentBaseFee, x)
	if result.Sign() <= 0 {
		result.SetUint64(1)
	}
	return result
}

// ValidateGasLimit checks that the payload gas limit is within the allowed
// range of the parent gas limit (plus or minus 1/1024).
func ValidateGasLimit(parentGasLimit, payloadGasLimit uint64) error {
	if payloadGasLimit < MinGasLimit {
		return fmt.Errorf("%w: %d < minimum %d",
			ErrGasLimitTooLow, payloadGasLimit, MinGasLimit)
	}

	diff := parentGasLimit / GasLimitBoundDivisor
	if diff == 0 {
		diff = 1
	}

	if payloadGasLimit > parentGasLimit+diff {
		return fmt.Errorf("%w: %d > parent %d + %d",
			ErrGasLimitChangeTooLarge, payloadGasLimit, parentGasLimit, diff)
	}
	if payloadGasLimit+diff < parentGasLimit {
		return fmt.Errorf("%w: %d < parent %d - %d",
			ErrGasLimitChangeTooLarge, payloadGasLimit, parentGasLimit, diff)
	}

	return nil
}

// ValidateExtraData checks that the extra data does not exceed 32 bytes.
func ValidateExtraData(extra []byte) error {
	if len(extra) > MaxExtraDataSize {
		return fmt.Errorf("%w: length %d", ErrExtraDataTooLong, len(extra))
	}
	return nil
}

// ValidateTransactionBytes checks the raw (opaque) transaction list for
// structural bounds only. The core never decodes transaction contents;
// that is the execution client's responsibility.
func ValidateTransactionBytes(txBytes [][]byte) error {
	if len(txBytes) > MaxTransactionsPerPayload {
		return fmt.Errorf("%w: %d transactions", ErrTooManyTransactions, len(txBytes))
	}
	for i, raw := range txBytes {
		if len(raw) == 0 {
			return fmt.Errorf("%w at index %d", ErrTransactionEmpty, i)
		}
		if len(raw) > MaxTransactionSize {
			return fmt.Errorf("%w at index %d: size %d",
				ErrTransactionTooLarge, i, len(raw))
		}
	}
	return nil
}

// ValidateBlobGasUsed checks that the payload's declared blob gas used is
// aligned to the per-blob gas cost and does not exceed the configured
// maximum. It does not cross-check against decoded transaction contents.
func (v *PayloadValidator) ValidateBlobGasUsed(blobGasUsed uint64) error {
	if blobGasUsed%v.blobGasPerBlob != 0 {
		return fmt.Errorf("%w: %d not divisible by %d",
			ErrBlobGasUsedNotAligned, blobGasUsed, v.blobGasPerBlob)
	}
	maxGas := uint64(v.maxBlobsPerBlock) * v.blobGasPerBlob
	if blobGasUsed > maxGas {
		return fmt.Errorf("%w: %d > max %d",
			ErrBlobGasUsedExceedsMax, blobGasUsed, maxGas)
	}
	return nil
}

// ValidateWithdrawals checks the withdrawals list for structural validity.
// Post-Shanghai, withdrawals must not be nil and must not exceed the maximum count.
func ValidateWithdrawals(withdrawals []*Withdrawal) error {
	if withdrawals == nil {
		return ErrWithdrawalsNil
	}
	if len(withdrawals) > MaxWithdrawalsPerPayloadV2 {
		return fmt.Errorf("%w: %d > max %d",
			ErrWithdrawalsTooMany, len(withdrawals), MaxWithdrawalsPerPayloadV2)
	}

	seen := make(map[uint64]bool, len(withdrawals))
	for i, w := range withdrawals {
		if w == nil {
			return fmt.Errorf("%w: nil withdrawal at index %d", ErrWithdrawalInvalid, i)
		}
		if w.Address == (primitives.Address{}) {
			return fmt.Errorf("%w: zero address at index %d", ErrWithdrawalInvalid, i)
		}
		if seen[w.Index] {
			return fmt.Errorf("%w: duplicate index %d", ErrWithdrawalInvalid, w.Index)
		}
		seen[w.Index] = true
	}
	return nil
}

// ValidateParentBeaconBlockRoot checks that the parent beacon block root is
// present (non-zero). Required post-Cancun per EIP-4788.
func ValidateParentBeaconBlockRoot(root *primitives.Root) error {
	if root == nil {
		return ErrBeaconRootMissing
	}
	if *root == (primitives.Root{}) {
		return fmt.Errorf("%w: root is zero hash", ErrBeaconRootMissing)
	}
	return nil
}
