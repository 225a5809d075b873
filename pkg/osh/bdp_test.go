package osh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadPairRoundTrip(t *testing.T) {
	buf, err := WritePair(nil, []byte("t"), []byte("ctx.name"))
	require.NoError(t, err)

	pair, err := ReadPair(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("t"), pair.Name)
	require.Equal(t, []byte("ctx.name"), pair.Value)
	require.Equal(t, len(buf), pair.Consumed)
}

func TestReadPairTruncated(t *testing.T) {
	buf, err := WritePair(nil, []byte("p"), []byte("hello"))
	require.NoError(t, err)

	for i := 0; i < len(buf); i++ {
		_, err := ReadPair(buf[:i])
		require.ErrorIs(t, err, ErrTruncated)
	}
}

func TestWritePairRejectsOversizedName(t *testing.T) {
	name := make([]byte, MaxNameLength+1)
	_, err := WritePair(nil, name, nil)
	require.Error(t, err)
}

func TestPutUint32LERoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutUint32LE(buf, 2, 0x01020304)
	require.Equal(t, uint32(0x01020304), Uint32LE(buf, 2))
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf[2:6])
}

func TestReadPairSequence(t *testing.T) {
	var all []byte
	all, _ = WritePair(all, []byte("p"), []byte("Hello "))
	all, _ = WritePair(all, []byte("t"), []byte("name"))

	pair, err := ReadPair(all)
	require.NoError(t, err)
	require.Equal(t, []byte("p"), pair.Name)

	pair2, err := ReadPair(all[pair.Consumed:])
	require.NoError(t, err)
	require.Equal(t, []byte("t"), pair2.Name)
	require.Equal(t, []byte("name"), pair2.Value)
}
