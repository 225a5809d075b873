package osh

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxNameLength is the largest Name a BDP832 pair can carry (name length is
// a single byte).
const MaxNameLength = 0xFF

// ErrTruncated is returned by ReadPair when the buffer ends mid-pair.
var ErrTruncated = errors.New("osh: truncated BDP832 pair")

// Pair is a decoded BDP832 Name/Value pair plus the number of input bytes
// it consumed.
type Pair struct {
	Name     []byte
	Value    []byte
	Consumed int
}

// ReadPair decodes one BDP832 pair from the front of data: one byte of name
// length, the name bytes, a little-endian uint32 value length, then the
// value bytes. It never copies: Name and Value alias data.
func ReadPair(data []byte) (Pair, error) {
	if len(data) < 1 {
		return Pair{}, ErrTruncated
	}
	nameLen := int(data[0])
	off := 1
	if len(data) < off+nameLen+4 {
		return Pair{}, ErrTruncated
	}
	name := data[off : off+nameLen]
	off += nameLen
	valueLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if len(data) < off+valueLen {
		return Pair{}, ErrTruncated
	}
	value := data[off : off+valueLen]
	off += valueLen
	return Pair{Name: name, Value: value, Consumed: off}, nil
}

// WritePair appends a complete BDP832 pair (name length, name, little-endian
// value length, value) to buf and returns the new slice.
func WritePair(buf []byte, name []byte, value []byte) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, errors.Errorf("osh: name too long (%d > %d)", len(name), MaxNameLength)
	}
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = appendUint32LE(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf, nil
}

// WriteName appends just the name-length-prefixed name segment of a pair,
// for building a pair incrementally (header now, value streamed in later).
func WriteName(buf []byte, name []byte) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, errors.Errorf("osh: name too long (%d > %d)", len(name), MaxNameLength)
	}
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	return buf, nil
}

// WriteValue appends the length-prefixed value segment of a pair.
func WriteValue(buf []byte, value []byte) []byte {
	buf = appendUint32LE(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf
}

// PutUint32LE writes v as 4 little-endian bytes at buf[off:off+4]. Used to
// patch a previously reserved jump-offset slot in place.
func PutUint32LE(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// Uint32LE reads 4 little-endian bytes at buf[off:off+4].
func Uint32LE(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
