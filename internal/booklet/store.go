// Package booklet implements the Local Store primitive: an embedded,
// hash-bucketed key/value file that pairs every value with a microsecond
// write timestamp. Everything above this package (sync engine, façade,
// remote index) treats its on-disk layout as opaque and only depends on the
// operations exposed here.
package booklet

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	nsHeader   byte = 0x00
	nsData     byte = 0x01
	nsMetadata byte = 0x02
)

// Mode selects whether a store is opened for mutation or for read-only
// access. A reader never takes the process lock.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Options configure Open.
type Options struct {
	Path      string
	Mode      Mode
	Engine    EngineKind
	NBuckets  uint32
	InitBytes *[HeaderSize]byte // when set, bootstraps a brand-new store's header from a remote's header bytes
}

// Store is the Local Store primitive (spec component C1).
type Store struct {
	mu     sync.RWMutex
	eng    engine
	lock   *processLock
	mode   Mode
	hdr    header
	closed bool
}

// Open creates or opens a Local Store at opts.Path.
func Open(opts Options) (*Store, error) {
	eng, err := openEngine(opts.Engine, opts.Path, opts.Mode == ReadOnly)
	if err != nil {
		return nil, err
	}

	var lock *processLock
	if opts.Mode == ReadWrite {
		lock, err = acquireProcessLock(opts.Path)
		if err != nil {
			_ = eng.Close()
			return nil, err
		}
	}

	s := &Store{eng: eng, lock: lock, mode: opts.Mode}

	raw, err := eng.Get([]byte{nsHeader})
	switch err {
	case nil:
		h, derr := decodeHeader(raw)
		if derr != nil {
			_ = s.Close()
			return nil, derr
		}
		s.hdr = h
	case ErrKeyNotFound:
		if opts.Mode == ReadOnly {
			_ = s.Close()
			return nil, ErrKeyNotFound
		}
		h, ierr := s.initHeader(opts)
		if ierr != nil {
			_ = s.Close()
			return nil, ierr
		}
		s.hdr = h
	default:
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initHeader(opts Options) (header, error) {
	nBuckets := opts.NBuckets
	if nBuckets == 0 {
		nBuckets = 1 << 20
	}

	var h header
	if opts.InitBytes != nil {
		decoded, err := decodeHeader(opts.InitBytes[:])
		if err != nil {
			return header{}, err
		}
		h = decoded
		h.nKeys = 0 // n_keys is meaningless once inherited from a remote group-split header
	} else {
		h = newHeader(uuid.New(), nBuckets, nowMicros())
	}

	if err := s.eng.Set([]byte{nsHeader}, encodeHeaderBytes(h)); err != nil {
		return header{}, err
	}
	return h, nil
}

func encodeHeaderBytes(h header) []byte {
	b := h.encode()
	return b[:]
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

func dataKey(key string) []byte {
	out := make([]byte, 1+len(key))
	out[0] = nsData
	copy(out[1:], key)
	return out
}

func keyFromDataKey(raw []byte) string {
	return string(raw[1:])
}

func encodeRecord(ts uint64, value []byte) []byte {
	rec := make([]byte, TimestampBytesLen+len(value))
	putUint56(rec[:TimestampBytesLen], ts)
	copy(rec[TimestampBytesLen:], value)
	return rec
}

func decodeRecord(rec []byte) (uint64, []byte) {
	ts := getUint56(rec[:TimestampBytesLen])
	val := rec[TimestampBytesLen:]
	return ts, val
}

// Get returns the current value for key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	_, v, ok, err := s.GetWithTimestamp(key)
	return v, ok, err
}

// GetWithTimestamp returns the value for key along with its write timestamp.
func (s *Store) GetWithTimestamp(key string) (uint64, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, nil, false, ErrClosed
	}
	raw, err := s.eng.Get(dataKey(key))
	if err == ErrKeyNotFound {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	ts, v := decodeRecord(raw)
	return ts, v, true, nil
}

// GetTimestamp returns only the write timestamp for key.
func (s *Store) GetTimestamp(key string) (uint64, bool, error) {
	ts, _, ok, err := s.GetWithTimestamp(key)
	return ts, ok, err
}

// Set writes value for key at the given microsecond timestamp. Passing ts=0
// stamps the current time.
func (s *Store) Set(key string, value []byte, ts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.mode == ReadOnly {
		return ErrReadOnly
	}
	if ts == 0 {
		ts = nowMicros()
	}
	dk := dataKey(key)
	_, err := s.eng.Get(dk)
	isNew := err == ErrKeyNotFound
	if err != nil && err != ErrKeyNotFound {
		return err
	}
	if err := s.eng.Set(dk, encodeRecord(ts, value)); err != nil {
		return err
	}
	if isNew {
		s.hdr.nKeys++
	}
	return s.flushHeader()
}

// Delete removes key, returning false if it did not exist.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if s.mode == ReadOnly {
		return false, ErrReadOnly
	}
	dk := dataKey(key)
	_, err := s.eng.Get(dk)
	if err == ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.eng.Delete(dk); err != nil {
		return false, err
	}
	if s.hdr.nKeys > 0 {
		s.hdr.nKeys--
	}
	return true, s.flushHeader()
}

// Contains reports whether key currently exists.
func (s *Store) Contains(key string) bool {
	_, _, ok, _ := s.GetWithTimestamp(key)
	return ok
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.hdr.nKeys)
}

// Entry is a single (key, timestamp[, value]) record yielded by an iterator.
type Entry struct {
	Key       string
	Timestamp uint64
	Value     []byte
}

// Iter returns every key and its write timestamp, in engine key order.
func (s *Store) Iter() ([]Entry, error) {
	return s.iterate(false)
}

// IterValues returns every key, timestamp, and value, in engine key order.
func (s *Store) IterValues() ([]Entry, error) {
	return s.iterate(true)
}

func (s *Store) iterate(withValue bool) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	it := s.eng.NewIterator([]byte{nsData})
	defer it.Close()

	var out []Entry
	for it.Next() {
		ts, v := decodeRecord(it.Value())
		e := Entry{Key: keyFromDataKey(it.Key()), Timestamp: ts}
		if withValue {
			e.Value = append([]byte(nil), v...)
		}
		out = append(out, e)
	}
	return out, nil
}

// Prune deletes every key whose timestamp is strictly older than cutoff. A
// nil cutoff prunes nothing and merely triggers engine compaction. It
// returns the number of keys removed.
func (s *Store) Prune(cutoff *uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.mode == ReadOnly {
		return 0, ErrReadOnly
	}
	if cutoff == nil {
		return 0, s.eng.Flush()
	}

	it := s.eng.NewIterator([]byte{nsData})
	var toDelete [][]byte
	for it.Next() {
		ts, _ := decodeRecord(it.Value())
		if ts < *cutoff {
			toDelete = append(toDelete, append([]byte(nil), it.Key()...))
		}
	}
	it.Close()

	for _, k := range toDelete {
		if err := s.eng.Delete(k); err != nil {
			return 0, err
		}
	}
	if uint32(len(toDelete)) > s.hdr.nKeys {
		s.hdr.nKeys = 0
	} else {
		s.hdr.nKeys -= uint32(len(toDelete))
	}
	return len(toDelete), s.flushHeader()
}

// SetMetadata writes the store-level metadata blob (the reserved "_metadata"
// key in the façade's terms) at the given timestamp.
func (s *Store) SetMetadata(value []byte, ts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.mode == ReadOnly {
		return ErrReadOnly
	}
	if ts == 0 {
		ts = nowMicros()
	}
	return s.eng.Set([]byte{nsMetadata}, encodeRecord(ts, value))
}

// GetMetadata returns the store-level metadata blob and its timestamp.
func (s *Store) GetMetadata() ([]byte, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, false, ErrClosed
	}
	raw, err := s.eng.Get([]byte{nsMetadata})
	if err == ErrKeyNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	ts, v := decodeRecord(raw)
	return v, ts, true, nil
}

// UUID returns the store's identity, stable for the store's lifetime.
func (s *Store) UUID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdr.uuid
}

// FileTimestamp returns the store's own bookkeeping timestamp, distinct from
// any individual key's timestamp.
func (s *Store) FileTimestamp() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdr.fileTS
}

// SetFileTimestamp updates the store's bookkeeping timestamp, used by the
// sync engine after a successful push or pull.
func (s *Store) SetFileTimestamp(ts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hdr.fileTS = ts
	return s.flushHeader()
}

// NBuckets returns the store's configured bucket count.
func (s *Store) NBuckets() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdr.nBuckets
}

// InitBytes returns the opaque HeaderSize-byte header blob, the same bytes a
// push uploads as the leading content of a remote db object and a pull can
// hand back to Options.InitBytes to bootstrap a new local store.
func (s *Store) InitBytes() [HeaderSize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdr.encode()
}

// InitBytesWithZeroedKeyCount returns InitBytes with the key-count field
// zeroed, the form a push uploads: a remote db object's key count is
// meaningless once its data lives split across group objects.
func (s *Store) InitBytesWithZeroedKeyCount() [HeaderSize]byte {
	h := s.hdr
	h.nKeys = 0
	return h.encode()
}

func (s *Store) flushHeader() error {
	return s.eng.Set([]byte{nsHeader}, encodeHeaderBytes(s.hdr))
}

// Sync flushes the engine to stable storage.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.eng.Flush()
}

// Close releases the engine and, for write-mode stores, the process lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.eng.Close()
	if lerr := s.lock.release(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
