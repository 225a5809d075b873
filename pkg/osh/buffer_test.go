package osh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferWriteAndLen(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte("abc"))
	b.WriteByte('d')
	require.Equal(t, "abcd", string(b.Bytes()))
	require.Equal(t, 4, b.Len())
}

func TestBufferRepeatReservesZeroedSlot(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte("?"))
	slot := b.Len()
	b.Repeat(0, OSHFormat)
	require.Equal(t, []byte{0, 0, 0, 0}, b.Bytes()[slot:])
}

func TestBufferWriteLengthPatchesInPlace(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte("?"))
	slot := b.Len()
	b.Repeat(0, OSHFormat)
	b.WriteLength(slot, 42, OSHFormat)
	require.Equal(t, uint32(42), Uint32LE(b.Bytes(), slot))
}

func TestBufferWriteAtOverwritesInPlace(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte("XXXX"))
	b.WriteAt(1, []byte("YY"))
	require.Equal(t, "XYYX", string(b.Bytes()))
}

func TestBufferMoveRightOpensGap(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte("abcdef"))
	b.MoveRight(2, 3)
	require.Equal(t, 9, b.Len())
	require.Equal(t, "ab", string(b.Bytes()[:2]))
	require.Equal(t, []byte{0, 0, 0}, b.Bytes()[2:5])
	require.Equal(t, "cdef", string(b.Bytes()[5:]))
}

func TestBufferMoveRightThenWriteAtSplicesIdentifier(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte("x + 1"))
	// Rewrite "x" at offset 0 into "__local__x__" in place.
	prefix, suffix := []byte("__local__"), []byte("__")
	b.MoveRight(1, len(prefix)+len(suffix))
	b.WriteAt(0, append(append([]byte{}, prefix...), 'x'))
	b.WriteAt(1+len(prefix), suffix)
	require.Equal(t, "__local__x__ + 1", string(b.Bytes()))
}

func TestBufferWritePairAndWriteNameValue(t *testing.T) {
	b := NewBuffer(0)
	require.NoError(t, b.WritePair([]byte("p"), []byte("hi")))
	pair, err := ReadPair(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), pair.Value)

	b2 := NewBuffer(0)
	require.NoError(t, b2.WriteName([]byte("x")))
	b2.WriteValue([]byte("y"))
	pair2, err := ReadPair(b2.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("x"), pair2.Name)
	require.Equal(t, []byte("y"), pair2.Value)
}

func TestConstBufferMatchAndFind(t *testing.T) {
	cb := NewConstBuffer([]byte("Hello [|name|]!"))
	require.True(t, cb.MatchAt(6, []byte("[|")))
	require.False(t, cb.MatchAt(0, []byte("[|")))
	require.True(t, NewConstBuffer([]byte("[|x")).Match([]byte("[|")))

	idx := cb.Find([]byte("|]"))
	require.Equal(t, 12, idx)
	require.Equal(t, -1, cb.Find([]byte("nope")))
	require.Equal(t, len(cb.Data), cb.End())
}

func TestConstBufferFindIndexRespectsOffset(t *testing.T) {
	cb := NewConstBuffer([]byte("[|a|] [|b|]"))
	first := cb.FindIndex(0, []byte("[|"))
	require.Equal(t, 0, first)
	second := cb.FindIndex(first+1, []byte("[|"))
	require.Equal(t, 6, second)
}
