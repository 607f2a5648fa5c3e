package ebooklet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	dbKey   string
	objects map[string][]byte
	tsByKey map[string]uint64
	dbMeta  transport.DBObjectMeta
}

func newFakeTransport(dbKey string) *fakeTransport {
	return &fakeTransport{dbKey: dbKey, objects: map[string][]byte{}, tsByKey: map[string]uint64{}}
}

func (f *fakeTransport) DBKey() string                          { return f.dbKey }
func (f *fakeTransport) Kind() string                           { return "fake" }
func (f *fakeTransport) Readable() bool                         { return true }
func (f *fakeTransport) Writable(context.Context) (bool, error) { return true, nil }
func (f *fakeTransport) Close() error                           { return nil }

func (f *fakeTransport) get(key string) (*transport.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return &transport.Object{}, nil
	}
	meta := transport.ObjectMeta{Exists: true, Timestamp: f.tsByKey[key]}
	if key == f.dbKey {
		meta.UUID = f.dbMeta.UUID
		meta.Type = f.dbMeta.Type
		meta.InitBytes = f.dbMeta.InitBytes
		meta.NumGroups = f.dbMeta.NumGroups
	}
	return &transport.Object{ObjectMeta: meta, Data: append([]byte(nil), data...)}, nil
}

func (f *fakeTransport) head(key string) (*transport.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	if !ok {
		return &transport.ObjectMeta{}, nil
	}
	meta := &transport.ObjectMeta{Exists: true, Timestamp: f.tsByKey[key]}
	if key == f.dbKey {
		meta.UUID = f.dbMeta.UUID
		meta.Type = f.dbMeta.Type
		meta.InitBytes = f.dbMeta.InitBytes
		meta.NumGroups = f.dbMeta.NumGroups
	}
	return meta, nil
}

func (f *fakeTransport) put(key string, data []byte, ts uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	f.tsByKey[key] = ts
	return nil
}

func (f *fakeTransport) GetDBObject(context.Context) (*transport.Object, error) { return f.get(f.dbKey) }
func (f *fakeTransport) HeadDBObject(context.Context) (*transport.ObjectMeta, error) {
	return f.head(f.dbKey)
}
func (f *fakeTransport) PutDBObject(_ context.Context, data []byte, meta transport.DBObjectMeta) error {
	f.mu.Lock()
	f.dbMeta = meta
	f.mu.Unlock()
	return f.put(f.dbKey, data, meta.Timestamp)
}
func (f *fakeTransport) GetObject(_ context.Context, key string) (*transport.Object, error) {
	return f.get(f.dbKey + "/" + key)
}
func (f *fakeTransport) HeadObject(_ context.Context, key string) (*transport.ObjectMeta, error) {
	return f.head(f.dbKey + "/" + key)
}
func (f *fakeTransport) PutObject(_ context.Context, key string, data []byte, ts uint64) error {
	return f.put(f.dbKey+"/"+key, data, ts)
}
func (f *fakeTransport) DeleteObjects(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, f.dbKey+"/"+k)
	}
	return nil
}
func (f *fakeTransport) DeleteAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = map[string][]byte{}
	return nil
}
func (f *fakeTransport) ListObjectVersions(context.Context, string) ([]transport.ObjectVersion, error) {
	return nil, nil
}

func TestDatabaseLocalOnly(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Path: t.TempDir(), Mode: booklet.ReadWrite, NBuckets: 64})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set("k1", []byte("v1")))
	v, ok, err := db.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	assert.Nil(t, db.Changes())
}

func TestDatabaseWithRemotePushAndReopen(t *testing.T) {
	ctx := context.Background()
	remote := newFakeTransport("db/mydb")

	dir1 := t.TempDir()
	db1, err := Open(ctx, Options{Path: dir1, Remote: remote, Mode: booklet.ReadWrite, NBuckets: 64, NumGroups: 4})
	require.NoError(t, err)

	require.NoError(t, db1.Set("alpha", []byte("one")))
	require.NoError(t, db1.Set("beta", []byte("two")))

	changes := db1.Changes()
	require.NotNil(t, changes)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, changes.IterChanges())

	result, err := changes.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.KeysPushed)
	require.NoError(t, db1.Close())

	dir2 := t.TempDir()
	db2, err := Open(ctx, Options{Path: dir2, Remote: remote, Mode: booklet.ReadWrite, NBuckets: 64, NumGroups: 4})
	require.NoError(t, err)
	defer db2.Close()

	v, ok, err := db2.Get(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)
}

func TestReadOnlyClientWithNoLocalFileCanOpenAndRead(t *testing.T) {
	ctx := context.Background()
	remote := newFakeTransport("db/mydb")

	writer, err := Open(ctx, Options{Path: t.TempDir(), Remote: remote, Mode: booklet.ReadWrite, NBuckets: 64, NumGroups: 4})
	require.NoError(t, err)
	require.NoError(t, writer.Set("a", []byte("1")))
	_, err = writer.Changes().Push(ctx)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	// A second client with no local file opens read-only and reads "a".
	reader, err := Open(ctx, Options{Path: t.TempDir(), Remote: remote, Mode: booklet.ReadOnly, NBuckets: 64, NumGroups: 4})
	require.NoError(t, err)
	defer reader.Close()

	v, ok, err := reader.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	err = reader.Set("b", []byte("2"))
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestSetRejectsReservedMetadataKey(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Path: t.TempDir(), Mode: booklet.ReadWrite, NBuckets: 64})
	require.NoError(t, err)
	defer db.Close()

	err = db.Set("_metadata", []byte("x"))
	assert.ErrorIs(t, err, ErrReservedKey)
}

func TestMetadataSurvivesPushAndPull(t *testing.T) {
	ctx := context.Background()
	remote := newFakeTransport("db/mydb")

	writer, err := Open(ctx, Options{Path: t.TempDir(), Remote: remote, Mode: booklet.ReadWrite, NBuckets: 64, NumGroups: 4})
	require.NoError(t, err)
	require.NoError(t, writer.SetMetadata([]byte("schema-v1")))
	_, err = writer.Changes().Push(ctx)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader, err := Open(ctx, Options{Path: t.TempDir(), Remote: remote, Mode: booklet.ReadOnly, NBuckets: 64, NumGroups: 4})
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, reader.Changes().Pull(ctx))
	v, ok, err := reader.GetMetadata()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("schema-v1"), v)
}
