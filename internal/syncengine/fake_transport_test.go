package syncengine

import (
	"context"
	"sync"

	"github.com/mullenkamp/ebooklet/internal/transport"
)

// fakeTransport is an in-memory transport.Transport used to exercise the
// sync engine without a real S3 bucket.
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
	meta := transport.ObjectMeta{Exists: true, Size: int64(len(data)), Timestamp: f.tsByKey[key]}
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
	data, ok := f.objects[key]
	if !ok {
		return &transport.ObjectMeta{}, nil
	}
	meta := &transport.ObjectMeta{Exists: true, Size: int64(len(data)), Timestamp: f.tsByKey[key]}
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
