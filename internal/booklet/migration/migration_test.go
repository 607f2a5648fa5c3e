package migration

import (
	"path/filepath"
	"testing"

	pebblev1 "github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mullenkamp/ebooklet/internal/booklet"
)

func writeV1Record(t *testing.T, db *pebblev1.DB, key string, ts uint64, value []byte) {
	t.Helper()
	rec := make([]byte, 7+len(value))
	for i := 6; i >= 0; i-- {
		rec[i] = byte(ts)
		ts >>= 8
	}
	copy(rec[7:], value)

	wireKey := append([]byte{0x01}, []byte(key)...)
	require.NoError(t, db.Set(wireKey, rec, nil))
}

func TestNeedsMigrationDetectsLegacyStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")

	db, err := pebblev1.Open(dir, &pebblev1.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ok, err := NeedsMigration(dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNeedsMigrationFalseForMissingDir(t *testing.T) {
	ok, err := NeedsMigration(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrateCopiesRecords(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	dstDir := filepath.Join(t.TempDir(), "dst")

	db, err := pebblev1.Open(srcDir, &pebblev1.Options{})
	require.NoError(t, err)
	writeV1Record(t, db, "alpha", 100, []byte("one"))
	writeV1Record(t, db, "beta", 200, []byte("two"))
	require.NoError(t, db.Close())

	require.NoError(t, Migrate(srcDir, dstDir, 1024))

	dst, err := booklet.Open(booklet.Options{Path: dstDir, Mode: booklet.ReadWrite, NBuckets: 1024})
	require.NoError(t, err)
	defer dst.Close()

	v, ok, err := dst.Get("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	ts, ok, err := dst.GetTimestamp("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), ts)

	v, ok, err = dst.Get("beta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), v)
}
