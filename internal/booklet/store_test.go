package booklet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Path: dir, Mode: ReadWrite, NBuckets: 1024})
	require.NoError(t, err)
	defer s.Close()

	ok := s.Contains("k1")
	assert.False(t, ok)

	require.NoError(t, s.Set("k1", []byte("v1"), 100))
	v, ok, err := s.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, 1, s.Len())

	ts, ok, err := s.GetTimestamp("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), ts)

	deleted, err := s.Delete("k1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, s.Len())
}

func TestStoreMetadataAndHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Path: dir, Mode: ReadWrite, NBuckets: 512})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetMetadata([]byte("meta"), 55))
	v, ts, ok, err := s.GetMetadata()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("meta"), v)
	assert.Equal(t, uint64(55), ts)

	assert.NotEqual(t, [16]byte{}, s.UUID())
	assert.Equal(t, uint32(512), s.NBuckets())

	hdr := s.InitBytesWithZeroedKeyCount()
	decoded, err := decodeHeader(hdr[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), decoded.nKeys)
}

func TestStoreSecondWriterIsLocked(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Path: dir, Mode: ReadWrite})
	require.NoError(t, err)
	defer s.Close()

	_, err = acquireProcessLock(dir)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestStoreIteration(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Path: dir, Mode: ReadWrite})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("a", []byte("1"), 10))
	require.NoError(t, s.Set("b", []byte("2"), 20))

	entries, err := s.IterValues()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
