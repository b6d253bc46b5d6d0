package era

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteVersion())
	require.NoError(t, w.WriteBlock(0, []byte("block-0")))
	require.NoError(t, w.WriteBlock(1, []byte("block-1")))
	require.NoError(t, w.WriteState([]byte("state-snapshot")))
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	require.NoError(t, r.ReadVersion())

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, TypeCompressedBlock, rec.Type)
	val, err := DecodeValue(rec)
	require.NoError(t, err)
	require.Equal(t, []byte("block-0"), val)

	rec, err = r.Next()
	require.NoError(t, err)
	val, err = DecodeValue(rec)
	require.NoError(t, err)
	require.Equal(t, []byte("block-1"), val)

	rec, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, TypeCompressedState, rec.Type)

	rec, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, TypeSlotIndex, rec.Type)
	idx, err := DecodeSlotIndex(rec)
	require.NoError(t, err)
	require.Len(t, idx, 2)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadVersionRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteBlock(0, []byte("oops")))
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	err := r.ReadVersion()
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestReservedBytesMustBeZero(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteVersion())
	require.NoError(t, w.Close())

	corrupted := buf.Bytes()
	corrupted[6] = 0xFF

	r := NewReader(bytes.NewReader(corrupted))
	err := r.ReadVersion()
	require.ErrorIs(t, err, ErrReservedBytes)
}
