package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mullenkamp/ebooklet/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	dbKey   string
	objects map[string][]byte
}

func newFake() *fakeTransport {
	return &fakeTransport{dbKey: "db/lockdb", objects: map[string][]byte{}}
}

func (f *fakeTransport) DBKey() string                          { return f.dbKey }
func (f *fakeTransport) Kind() string                           { return "fake" }
func (f *fakeTransport) Readable() bool                         { return true }
func (f *fakeTransport) Writable(context.Context) (bool, error) { return true, nil }
func (f *fakeTransport) Close() error                           { return nil }

func (f *fakeTransport) GetObject(_ context.Context, key string) (*transport.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return &transport.Object{}, nil
	}
	return &transport.Object{ObjectMeta: transport.ObjectMeta{Exists: true}, Data: data}, nil
}

func (f *fakeTransport) PutObject(_ context.Context, key string, data []byte, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) DeleteObjects(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, k)
	}
	return nil
}

func (f *fakeTransport) DeleteAll(context.Context) error { return nil }
func (f *fakeTransport) HeadObject(context.Context, string) (*transport.ObjectMeta, error) {
	return &transport.ObjectMeta{}, nil
}
func (f *fakeTransport) GetDBObject(context.Context) (*transport.Object, error) {
	return &transport.Object{}, nil
}
func (f *fakeTransport) HeadDBObject(context.Context) (*transport.ObjectMeta, error) {
	return &transport.ObjectMeta{}, nil
}
func (f *fakeTransport) PutDBObject(context.Context, []byte, transport.DBObjectMeta) error { return nil }
func (f *fakeTransport) ListObjectVersions(context.Context, string) ([]transport.ObjectVersion, error) {
	return nil, nil
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := newFake()

	l, err := Acquire(ctx, remote, "owner-a", time.Minute, false)
	require.NoError(t, err)

	_, err = Acquire(ctx, remote, "owner-b", time.Minute, false)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, l.Release(ctx))

	_, err = Acquire(ctx, remote, "owner-b", time.Minute, false)
	require.NoError(t, err)
}

func TestAcquireBreakOther(t *testing.T) {
	ctx := context.Background()
	remote := newFake()

	_, err := Acquire(ctx, remote, "owner-a", time.Minute, false)
	require.NoError(t, err)

	_, err = Acquire(ctx, remote, "owner-b", time.Minute, true)
	require.NoError(t, err)
}

func TestRejectsForeignClaimObject(t *testing.T) {
	ctx := context.Background()
	remote := newFake()
	require.NoError(t, remote.PutObject(ctx, lockKey(remote.DBKey()), []byte("not-a-jwt"), 0))

	// A malformed claim should not block a new acquisition.
	l, err := Acquire(ctx, remote, "owner-a", time.Minute, false)
	require.NoError(t, err)
	assert.NotNil(t, l)
}
