package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: "alpha", Timestamp: 1000, Value: []byte("one")},
		{Key: "beta", Timestamp: 2000, Value: []byte{}},
		{Key: "gamma", Timestamp: 3000, Deleted: true},
	}

	blob := Pack(entries)
	out, err := Unpack(blob)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "alpha", out[0].Key)
	assert.Equal(t, uint64(1000), out[0].Timestamp)
	assert.Equal(t, []byte("one"), out[0].Value)
	assert.False(t, out[0].Deleted)

	assert.True(t, out[2].Deleted)
	assert.Nil(t, out[2].Value)
}

func TestUnpackTrailingGarbageErrors(t *testing.T) {
	blob := Pack([]Entry{{Key: "k", Timestamp: 1, Value: []byte("v")}})
	blob = append(blob, 0xAB)
	_, err := Unpack(blob)
	assert.Error(t, err)
}

func TestIDIsStableAndBounded(t *testing.T) {
	for _, numGroups := range []uint32{1, 7, 256} {
		id, err := ID("some/key", numGroups)
		require.NoError(t, err)
		assert.Less(t, id, numGroups)

		id2, err := ID("some/key", numGroups)
		require.NoError(t, err)
		assert.Equal(t, id, id2)
	}
}

func TestIDRejectsZeroGroups(t *testing.T) {
	_, err := ID("k", 0)
	assert.Error(t, err)
}
