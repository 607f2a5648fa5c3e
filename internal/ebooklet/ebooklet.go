// Package ebooklet implements the Database façade (spec component C6): a
// mapping-style API over a Local Store, optionally synchronized against a
// remote bucket through internal/syncengine. Grounded on
// original_source/ebooklet/main.py's EBooklet class.
package ebooklet

import (
	"context"
	"errors"
	"os"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/syncengine"
	"github.com/mullenkamp/ebooklet/internal/syncmetrics"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

// ErrReadOnly is returned by every mutating call on a database opened with
// Mode: booklet.ReadOnly.
var ErrReadOnly = booklet.ErrReadOnly

// ErrClosed is returned once the database has been closed.
var ErrClosed = errors.New("ebooklet: database is closed")

// ErrReservedKey is returned by Set when called with the reserved metadata
// key name; use SetMetadata instead.
var ErrReservedKey = errors.New("ebooklet: \"_metadata\" is a reserved key, use SetMetadata")

// reservedMetadataKey is the façade-level name users must not pass to Set.
const reservedMetadataKey = "_metadata"

// DefaultNumGroups is used when Options.NumGroups is left at zero.
const DefaultNumGroups = 256

// Options configure Open.
type Options struct {
	Path      string
	Remote    transport.Transport // nil for a local-only database
	Mode      booklet.Mode
	Engine    booklet.EngineKind
	NBuckets  uint32
	NumGroups uint32
	Workers   int
	Metrics   syncmetrics.Recorder
}

// Database is the façade over a Local Store, optionally synchronized with a
// remote bucket.
type Database struct {
	opts    Options
	local   *booklet.Store
	eng     *syncengine.Engine
	metrics syncmetrics.Recorder
	closed  bool
}

// Open creates or opens the database at opts.Path. When opts.Remote is set
// and the local directory does not yet exist, the new local store inherits
// the remote's UUID so the two sides recognize each other as the same
// database from the first sync.
func Open(ctx context.Context, opts Options) (*Database, error) {
	if opts.NumGroups == 0 {
		opts.NumGroups = DefaultNumGroups
	}
	if opts.Metrics == nil {
		opts.Metrics = syncmetrics.Noop{}
	}

	localExists := dirHasContent(opts.Path)

	var initBytes *[booklet.HeaderSize]byte
	if opts.Remote != nil {
		var err error
		initBytes, err = syncengine.PrepareLocalInit(ctx, localExists, opts.Remote)
		if err != nil {
			return nil, err
		}
	}

	// The Local Store is always opened ReadWrite regardless of opts.Mode: a
	// read-only database still needs to absorb lazily-pulled remote values
	// (EnsureFresh writes through local.Set) and, for a brand-new directory,
	// still needs to run the InitBytes bootstrap. Matches
	// original_source/ebooklet/utils.py's init_local_file, which loads the
	// local file for write unconditionally; opts.Mode is enforced instead at
	// this façade's own mutator methods.
	local, err := booklet.Open(booklet.Options{
		Path:      opts.Path,
		Mode:      booklet.ReadWrite,
		Engine:    opts.Engine,
		NBuckets:  opts.NBuckets,
		InitBytes: initBytes,
	})
	if err != nil {
		return nil, err
	}

	db := &Database{opts: opts, local: local, metrics: opts.Metrics}

	if opts.Remote != nil {
		eng, err := syncengine.NewEngine(local, opts.Remote, opts.Path, opts.NumGroups, opts.Workers)
		if err != nil {
			_ = local.Close()
			return nil, err
		}
		if _, err := eng.Reconcile(ctx); err != nil {
			_ = eng.Close()
			_ = local.Close()
			return nil, err
		}
		db.eng = eng
	}

	return db, nil
}

// checkWritable returns ErrReadOnly when the database was opened with
// Mode: booklet.ReadOnly. Every mutator calls this first; read-only mode is
// enforced here rather than on the always-ReadWrite Local Store underneath.
func (d *Database) checkWritable() error {
	if d.opts.Mode == booklet.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

func dirHasContent(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Get returns key's current value, pulling a fresher remote copy first when
// a remote is configured and the Remote Index shows the local copy is
// stale.
func (d *Database) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if d.closed {
		return nil, false, ErrClosed
	}
	if d.eng != nil {
		v, _, ok, err := d.eng.Get(ctx, key)
		return v, ok, err
	}
	return d.local.Get(key)
}

// GetTimestamp returns key's write timestamp.
func (d *Database) GetTimestamp(ctx context.Context, key string) (uint64, bool, error) {
	if d.closed {
		return 0, false, ErrClosed
	}
	if d.eng != nil {
		_, ts, ok, err := d.eng.Get(ctx, key)
		return ts, ok, err
	}
	return d.local.GetTimestamp(key)
}

// Set writes value for key, stamped with the current time. key must not be
// the reserved metadata name; use SetMetadata for that.
func (d *Database) Set(key string, value []byte) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return err
	}
	if key == reservedMetadataKey {
		return ErrReservedKey
	}
	return d.local.Set(key, value, 0)
}

// SetTimestamp rewrites key's timestamp without changing its value. The key
// must already exist.
func (d *Database) SetTimestamp(key string, ts uint64) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return err
	}
	v, ok, err := d.local.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return d.local.Set(key, v, ts)
}

// Delete removes key, returning false if it did not exist locally.
func (d *Database) Delete(key string) (bool, error) {
	if d.closed {
		return false, ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return false, err
	}
	return d.local.Delete(key)
}

// Contains reports whether key exists in the local store (it does not
// trigger a remote lookup; use Get for the pull-on-read behavior).
func (d *Database) Contains(key string) bool {
	if d.closed {
		return false
	}
	return d.local.Contains(key)
}

// Len returns the number of keys in the local store.
func (d *Database) Len() int {
	if d.closed {
		return 0
	}
	return d.local.Len()
}

// Keys returns every key. When a Remote Index is present its key order is
// used (the spec's iteration-order invariant); otherwise keys come back in
// Local Store order.
func (d *Database) Keys() ([]string, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.eng != nil && d.eng.Index.Len() > 0 {
		return d.eng.Index.Keys(), nil
	}
	entries, err := d.local.Iter()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}

// Items returns every (key, value) pair currently in the local store. If a
// remote is configured, every key is prefetched first so stale local values
// are refreshed before being read.
func (d *Database) Items(ctx context.Context) (map[string][]byte, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.eng != nil {
		keys, err := d.Keys()
		if err != nil {
			return nil, err
		}
		if err := d.eng.Prefetch(ctx, keys); err != nil {
			return nil, err
		}
	}
	entries, err := d.local.IterValues()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// Update bulk-sets every key/value pair in kv, each stamped with the
// current time.
func (d *Database) Update(kv map[string][]byte) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return err
	}
	for k, v := range kv {
		if k == reservedMetadataKey {
			return ErrReservedKey
		}
		if err := d.local.Set(k, v, 0); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes every key from the local store. It does not touch the
// remote; call Changes().Push afterward to propagate the deletions.
func (d *Database) Clear() error {
	if d.closed {
		return ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return err
	}
	entries, err := d.local.Iter()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := d.local.Delete(e.Key); err != nil {
			return err
		}
	}
	return nil
}

// Prune deletes every local key older than cutoff.
func (d *Database) Prune(cutoff *uint64) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return 0, err
	}
	return d.local.Prune(cutoff)
}

// GetMetadata returns the store-level metadata blob.
func (d *Database) GetMetadata() ([]byte, bool, error) {
	if d.closed {
		return nil, false, ErrClosed
	}
	v, _, ok, err := d.local.GetMetadata()
	return v, ok, err
}

// SetMetadata writes the store-level metadata blob, stamped with the
// current time.
func (d *Database) SetMetadata(value []byte) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.checkWritable(); err != nil {
		return err
	}
	return d.local.SetMetadata(value, 0)
}

// Sync flushes the local store (and, if configured, the Remote Index
// mirror) to stable storage without contacting the remote.
func (d *Database) Sync() error {
	if d.closed {
		return ErrClosed
	}
	if err := d.local.Sync(); err != nil {
		return err
	}
	if d.eng != nil {
		return d.eng.Index.Sync()
	}
	return nil
}

// Changes returns the handle for inspecting and propagating pending local
// changes against the remote. It returns nil if the database was opened
// without a remote.
func (d *Database) Changes() *Changes {
	if d.eng == nil {
		return nil
	}
	return &Changes{db: d}
}

// Close releases the local store and, if configured, the sync engine's
// state.
func (d *Database) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.eng != nil {
		err = d.eng.Close()
	}
	if lerr := d.local.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
