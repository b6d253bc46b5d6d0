package crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBLSSignAndVerify(t *testing.T) {
	secret := big.NewInt(7)
	pk := BLSPubkeyFromSecret(secret)
	msg := []byte("attestation root")

	sig := BLSSign(secret, msg)
	require.True(t, BLSVerify(pk, msg, sig))
	require.False(t, BLSVerify(pk, []byte("different message"), sig))
}

func TestHasKnownSecretDistinguishesLocalKeys(t *testing.T) {
	secret := big.NewInt(1234)
	pk := BLSPubkeyFromSecret(secret)
	require.True(t, HasKnownSecret(pk))

	var peerPk [BLSPubkeySize]byte
	peerPk[0] = 0xAB
	require.False(t, HasKnownSecret(peerPk))
}

func TestFastAggregateVerifySameMessage(t *testing.T) {
	msg := []byte("sync committee root")
	var pubkeys [][48]byte
	var sigs [][96]byte
	for i := int64(1); i <= 4; i++ {
		secret := big.NewInt(i)
		pk := BLSPubkeyFromSecret(secret)
		pubkeys = append(pubkeys, pk)
		sigs = append(sigs, BLSSign(secret, msg))
	}

	aggSig := AggregateSignatures(sigs)
	require.True(t, FastAggregateVerify(pubkeys, msg, aggSig))

	require.False(t, FastAggregateVerify(pubkeys, []byte("wrong root"), aggSig))
}

func TestVerifyAggregateDistinctMessages(t *testing.T) {
	var pubkeys [][48]byte
	var msgs [][]byte
	var sigs [][96]byte
	for i := int64(1); i <= 3; i++ {
		secret := big.NewInt(i * 11)
		pk := BLSPubkeyFromSecret(secret)
		msg := []byte{byte(i), byte(i + 1)}
		pubkeys = append(pubkeys, pk)
		msgs = append(msgs, msg)
		sigs = append(sigs, BLSSign(secret, msg))
	}

	aggSig := AggregateSignatures(sigs)
	require.True(t, VerifyAggregate(pubkeys, msgs, aggSig))

	msgs[0] = []byte{0xFF, 0xFF}
	require.False(t, VerifyAggregate(pubkeys, msgs, aggSig))
}

func TestAggregatePublicKeysRoundTripsG1Serialization(t *testing.T) {
	secret := big.NewInt(99)
	pk := BLSPubkeyFromSecret(secret)

	agg := AggregatePublicKeys([][48]byte{pk})
	require.Equal(t, pk, agg)
}

func TestSerializeDeserializeG1Generator(t *testing.T) {
	gen := BlsG1Generator()
	ser := SerializeG1(gen)
	de := DeserializeG1(ser)
	require.NotNil(t, de)
	x1, y1 := gen.blsG1ToAffine()
	x2, y2 := de.blsG1ToAffine()
	require.Equal(t, 0, x1.Cmp(x2))
	require.Equal(t, 0, y1.Cmp(y2))
}
