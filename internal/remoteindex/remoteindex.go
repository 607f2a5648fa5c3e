// Package remoteindex implements the Remote Index (spec component C3): a
// local mirror of the remote's per-key write timestamps, used to decide
// which keys are stale locally without round-tripping to the remote on
// every read. Grounded on original_source/ebooklet/utils.py's
// check_local_remote_sync and the remote_index.sync()/get_remote_index_file
// call sites in update_remote.
package remoteindex

import (
	"path/filepath"

	"github.com/mullenkamp/ebooklet/internal/fixedstore"
)

const valueLen = 7 // packed microsecond timestamp width

// Index is the local mirror of the remote's per-key timestamps.
type Index struct {
	store *fixedstore.Store
}

// Open loads or creates the index snapshot file at dir/remote_index.
func Open(dir string) (*Index, error) {
	s, err := fixedstore.Open(filepath.Join(dir, "remote_index"), valueLen)
	if err != nil {
		return nil, err
	}
	return &Index{store: s}, nil
}

// Get returns the remote-known timestamp for key.
func (idx *Index) Get(key string) (uint64, bool) {
	v, ok := idx.store.Get(key)
	if !ok {
		return 0, false
	}
	return bytesToUint56(v), true
}

// Set records the remote-known timestamp for key.
func (idx *Index) Set(key string, ts uint64) error {
	return idx.store.Set(key, uint56ToBytes(ts))
}

// Delete removes key from the index, used when a key is confirmed deleted on
// the remote.
func (idx *Index) Delete(key string) bool {
	return idx.store.Delete(key)
}

// Len returns the number of keys tracked.
func (idx *Index) Len() int { return idx.store.Len() }

// Keys returns every tracked key in ascending order, the iteration order the
// façade uses when a Remote Index is present (spec invariant: Remote Index
// order takes precedence over Local Store order).
func (idx *Index) Keys() []string { return idx.store.Keys() }

// Entries returns every (key, timestamp) pair currently tracked.
func (idx *Index) Entries() []Entry {
	raw := idx.store.Entries()
	out := make([]Entry, len(raw))
	for i, e := range raw {
		out[i] = Entry{Key: e.Key, Timestamp: bytesToUint56(e.Value)}
	}
	return out
}

// Entry pairs a key with its remote-known timestamp.
type Entry struct {
	Key       string
	Timestamp uint64
}

// Serialize encodes the whole index as the blob a push uploads as the db
// object's body.
func (idx *Index) Serialize() []byte { return idx.store.Serialize() }

// LoadBytes replaces the index's contents from a downloaded remote index
// object body, the pull-side counterpart of Serialize.
func (idx *Index) LoadBytes(data []byte) error { return idx.store.LoadBytes(data) }

// Sync flushes the index snapshot to disk.
func (idx *Index) Sync() error { return idx.store.Flush() }

// Close flushes and releases the index.
func (idx *Index) Close() error { return idx.store.Close() }

func uint56ToBytes(v uint64) []byte {
	b := make([]byte, valueLen)
	for i := valueLen - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func bytesToUint56(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
