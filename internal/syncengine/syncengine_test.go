package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/remoteindex"
)

func newTestStore(t *testing.T) *booklet.Store {
	t.Helper()
	s, err := booklet.Open(booklet.Options{Path: t.TempDir(), Mode: booklet.ReadWrite, NBuckets: 64})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestIndex(t *testing.T) *remoteindex.Index {
	t.Helper()
	idx, err := remoteindex.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func newTestChangelog(t *testing.T) *changelog {
	t.Helper()
	c, err := openChangelog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.close() })
	return c
}

func TestPushThenPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	local := newTestStore(t)
	idx := newTestIndex(t)
	log := newTestChangelog(t)
	remote := newFakeTransport("db/mydb")

	require.NoError(t, local.Set("k1", []byte("v1"), 100))
	require.NoError(t, local.Set("k2", []byte("v2"), 200))

	result, err := Push(ctx, local, remote, idx, log, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.KeysPushed)
	assert.Empty(t, result.Failed)

	// A second local store, fresh, pulling the same key lazily. It bootstraps
	// its header from the remote's init_bytes metadata first so its UUID
	// matches the pushing store's, the way ebooklet.Open does for a brand-new
	// local directory.
	initBytes, err := PrepareLocalInit(ctx, false, remote)
	require.NoError(t, err)
	otherDir := t.TempDir()
	other, err := booklet.Open(booklet.Options{Path: otherDir, Mode: booklet.ReadWrite, NBuckets: 64, InitBytes: initBytes})
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	otherIdx := newTestIndex(t)
	refreshed, err := Reconcile(ctx, other, remote, otherIdx)
	require.NoError(t, err)
	assert.True(t, refreshed)

	val, ts, ok, err := EnsureFresh(ctx, other, remote, otherIdx, 4, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
	assert.Equal(t, uint64(100), ts)
}

func TestPushDeletionRemovesGroupEntry(t *testing.T) {
	ctx := context.Background()
	local := newTestStore(t)
	idx := newTestIndex(t)
	log := newTestChangelog(t)
	remote := newFakeTransport("db/mydb")

	require.NoError(t, local.Set("only-key", []byte("v1"), 100))
	_, err := Push(ctx, local, remote, idx, log, 2, 2)
	require.NoError(t, err)

	deleted, err := local.Delete("only-key")
	require.NoError(t, err)
	assert.True(t, deleted)

	result, err := Push(ctx, local, remote, idx, log, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, result.KeysPushed)

	_, has := idx.Get("only-key")
	assert.False(t, has)
}

func TestReconcileDetectsUUIDMismatch(t *testing.T) {
	ctx := context.Background()
	storeA := newTestStore(t)
	idxA := newTestIndex(t)
	logA := newTestChangelog(t)
	remote := newFakeTransport("db/mydb")

	require.NoError(t, storeA.Set("k", []byte("v"), 10))
	_, err := Push(ctx, storeA, remote, idxA, logA, 2, 2)
	require.NoError(t, err)

	storeB := newTestStore(t) // a different, unrelated local store (different UUID)
	idxB := newTestIndex(t)
	_, err = Reconcile(ctx, storeB, remote, idxB)
	assert.ErrorIs(t, err, ErrUUIDMismatch)
}
