package syncengine

import (
	"path/filepath"

	"github.com/mullenkamp/ebooklet/internal/fixedstore"
)

const changelogValueLen = 14 // local_ts(7) || remote_ts(7)

// changelog is the ephemeral record of keys whose local timestamp is ahead
// of what the Remote Index believes the remote holds. Grounded on
// original_source/ebooklet/utils.py's create_changelog: for every local key,
// compare its timestamp against the Remote Index entry (0 if absent) and
// record it here when local is newer.
type changelog struct {
	store *fixedstore.Store
}

func openChangelog(dir string) (*changelog, error) {
	s, err := fixedstore.Open(filepath.Join(dir, "changelog"), changelogValueLen)
	if err != nil {
		return nil, err
	}
	return &changelog{store: s}, nil
}

func (c *changelog) record(key string, localTS, remoteTS uint64) error {
	buf := make([]byte, changelogValueLen)
	putUint56(buf[:7], localTS)
	putUint56(buf[7:], remoteTS)
	return c.store.Set(key, buf)
}

func (c *changelog) entries() []changelogEntry {
	raw := c.store.Entries()
	out := make([]changelogEntry, len(raw))
	for i, e := range raw {
		out[i] = changelogEntry{
			Key:      e.Key,
			LocalTS:  getUint56(e.Value[:7]),
			RemoteTS: getUint56(e.Value[7:]),
		}
	}
	return out
}

func (c *changelog) clear() { c.store.Clear() }

func (c *changelog) remove(key string) bool { return c.store.Delete(key) }

func (c *changelog) close() error { return c.store.Close() }

type changelogEntry struct {
	Key      string
	LocalTS  uint64
	RemoteTS uint64
}

func putUint56(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

func getUint56(src []byte) uint64 {
	var v uint64
	for _, c := range src {
		v = v<<8 | uint64(c)
	}
	return v
}
