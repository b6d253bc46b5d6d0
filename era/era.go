// Package era implements the e2store-based era file archival
// container from spec.md §4.7: an append-only sequence of TLV records
// (type, length, value) holding a fork-version header, Snappy-
// compressed signed blocks and states, and a trailing slot index for
// O(1) random access.
package era

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Record type tags, per spec.md §4.7 and the upstream e2store layout.
var (
	TypeVersion              = [2]byte{'e', '2'}
	TypeCompressedBlock      = [2]byte{0x01, 0x00}
	TypeCompressedState      = [2]byte{0x02, 0x00}
	TypeSlotIndex            = [2]byte{0x69, 0x32}
	TypeEmpty                = [2]byte{0x00, 0x00}
)

// headerLen is the fixed TLV header size: 2-byte type, 4-byte length,
// 2 reserved bytes (always zero).
const headerLen = 8

var (
	// ErrBadMagic is returned when an era file does not start with a
	// Version record.
	ErrBadMagic = errors.New("era: missing version record")
	// ErrReservedBytes is returned when a record's reserved bytes are
	// not zero; spec.md §9's Open Question resolves this as a hard
	// decode error rather than a silently-ignored field.
	ErrReservedBytes = errors.New("era: reserved header bytes must be zero")
	// ErrTruncated is returned when a record's declared length runs
	// past the end of the file.
	ErrTruncated = errors.New("era: record truncated")
)

// Record is a single decoded TLV entry; Value is still Snappy-
// compressed for Type == TypeCompressedBlock/TypeCompressedState.
type Record struct {
	Type  [2]byte
	Value []byte
}

// Writer appends records to an e2store-formatted stream. The caller
// is responsible for opening/closing the underlying file.
type Writer struct {
	w       *bufio.Writer
	slots   []uint64 // slot -> byte offset of the block record, for the trailing index
	offset  int64
	wroteHdr bool
}

// NewWriter wraps w, ready to accept WriteVersion then block/state
// records.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteVersion writes the leading Version record; must be called
// exactly once, before any other record.
func (ew *Writer) WriteVersion() error {
	if ew.wroteHdr {
		return errors.New("era: version already written")
	}
	ew.wroteHdr = true
	return ew.writeRecord(TypeVersion, nil)
}

// WriteBlock compresses and appends a signed beacon block at slot,
// recording its offset for the trailing slot index.
func (ew *Writer) WriteBlock(slot uint64, sszBytes []byte) error {
	for uint64(len(ew.slots)) <= slot {
		ew.slots = append(ew.slots, 0)
	}
	ew.slots[slot] = uint64(ew.offset)
	return ew.writeRecord(TypeCompressedBlock, snappy.Encode(nil, sszBytes))
}

// WriteState compresses and appends a beacon state snapshot.
func (ew *Writer) WriteState(sszBytes []byte) error {
	return ew.writeRecord(TypeCompressedState, snappy.Encode(nil, sszBytes))
}

func (ew *Writer) writeRecord(typ [2]byte, value []byte) error {
	var hdr [headerLen]byte
	hdr[0], hdr[1] = typ[0], typ[1]
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(len(value)))
	// hdr[6:8] reserved, left zero.

	if _, err := ew.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("era: write header: %w", err)
	}
	if _, err := ew.w.Write(value); err != nil {
		return fmt.Errorf("era: write value: %w", err)
	}
	ew.offset += int64(headerLen + len(value))
	return nil
}

// Close writes the trailing slot index record and flushes the
// underlying writer.
func (ew *Writer) Close() error {
	idx := make([]byte, 8*len(ew.slots))
	for i, off := range ew.slots {
		binary.LittleEndian.PutUint64(idx[i*8:], off)
	}
	if err := ew.writeRecord(TypeSlotIndex, idx); err != nil {
		return err
	}
	return ew.w.Flush()
}

// Reader sequentially decodes an e2store stream.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for sequential record decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadVersion consumes and validates the leading Version record.
func (er *Reader) ReadVersion() error {
	rec, err := er.next()
	if err != nil {
		return err
	}
	if rec.Type != TypeVersion {
		return ErrBadMagic
	}
	return nil
}

// Next returns the next record, or io.EOF once the stream is
// exhausted. Compressed values are returned compressed; callers
// decompress via DecodeValue.
func (er *Reader) Next() (Record, error) {
	return er.next()
}

func (er *Reader) next() (Record, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(er.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if hdr[6] != 0 || hdr[7] != 0 {
		return Record{}, ErrReservedBytes
	}

	length := binary.LittleEndian.Uint32(hdr[2:6])
	value := make([]byte, length)
	if _, err := io.ReadFull(er.r, value); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	return Record{Type: [2]byte{hdr[0], hdr[1]}, Value: value}, nil
}

// DecodeValue decompresses a block or state record's value.
func DecodeValue(rec Record) ([]byte, error) {
	return snappy.Decode(nil, rec.Value)
}

// DecodeSlotIndex parses a TypeSlotIndex record's value into a slice
// of byte offsets indexed by slot.
func DecodeSlotIndex(rec Record) ([]uint64, error) {
	if rec.Type != TypeSlotIndex {
		return nil, fmt.Errorf("era: record type %v is not a slot index", rec.Type)
	}
	if len(rec.Value)%8 != 0 {
		return nil, fmt.Errorf("%w: slot index length %d not a multiple of 8", ErrTruncated, len(rec.Value))
	}
	out := make([]uint64, len(rec.Value)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(rec.Value[i*8:])
	}
	return out, nil
}
