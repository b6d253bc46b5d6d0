package crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKZGCommitAndVerifyProofRoundTrip(t *testing.T) {
	secret := big.NewInt(42) // matches kzgTrustedSetupG2's [42]G2
	polyAtS := big.NewInt(100)
	z := big.NewInt(5)
	y := big.NewInt(100) // constant polynomial: p(z) == p(s) for all z

	commitment := KZGCommit(polyAtS)
	proof := KZGComputeProof(secret, z, polyAtS, y)

	require.True(t, KZGVerifyProof(commitment, z, y, proof))
	require.False(t, KZGVerifyProof(commitment, z, big.NewInt(101), proof))
}

func TestKZGCompressDecompressG1RoundTrip(t *testing.T) {
	commitment := KZGCommit(big.NewInt(7))
	compressed := KZGCompressG1(commitment)
	require.Len(t, compressed, kzgCompressedG1Size)

	decompressed, err := KZGDecompressG1(compressed)
	require.NoError(t, err)
	x1, y1 := commitment.blsG1ToAffine()
	x2, y2 := decompressed.blsG1ToAffine()
	require.Equal(t, 0, x1.Cmp(x2))
	require.Equal(t, 0, y1.Cmp(y2))
}

func TestValidateBlobRejectsWrongSize(t *testing.T) {
	require.ErrorIs(t, ValidateBlob(make([]byte, 10)), ErrKZGInvalidBlobSize)
}

func TestPlaceholderKZGBackendComputeCells(t *testing.T) {
	backend := &PlaceholderKZGBackend{}
	blob := kzgBlobWithFieldElement(0, 1)

	cells, err := backend.ComputeCells(blob)
	require.NoError(t, err)
	require.Len(t, cells, KZGCellsPerExtBlob)
}
