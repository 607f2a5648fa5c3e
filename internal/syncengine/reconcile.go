package syncengine

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/remoteindex"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

// ErrUUIDMismatch is returned when a local store's UUID does not match the
// remote db object's UUID: the local directory and the remote key point at
// two different, unrelated databases.
var ErrUUIDMismatch = fmt.Errorf("syncengine: local store UUID does not match remote db object UUID")

// syncTimestampKey is a reserved Remote Index entry recording the remote db
// object's timestamp as of the last time the index was refreshed from the
// remote, so Reconcile can tell a stale mirror from a fresh one without
// trusting local bookkeeping alone.
const syncTimestampKey = "\x00__remote_sync_ts__"

// PrepareLocalInit decides what header bytes, if any, a brand-new local
// store should be bootstrapped from. When localExists is true the existing
// local header always wins and nil is returned. Otherwise, if the remote
// already has a db object, its header bytes are fetched so the new local
// store inherits the remote's UUID — matching
// original_source/ebooklet/utils.py's init_local_file branch for "local
// absent, remote present".
func PrepareLocalInit(ctx context.Context, localExists bool, remote transport.Transport) (*[booklet.HeaderSize]byte, error) {
	if localExists {
		return nil, nil
	}
	meta, err := remote.HeadDBObject(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.Exists || len(meta.InitBytes) == 0 {
		return nil, nil
	}
	if len(meta.InitBytes) != booklet.HeaderSize {
		return nil, fmt.Errorf("syncengine: remote init_bytes metadata has wrong length")
	}
	var hdr [booklet.HeaderSize]byte
	copy(hdr[:], meta.InitBytes)
	return &hdr, nil
}

// Reconcile checks that an already-open local store agrees with the remote
// db object's identity, and refreshes the Remote Index mirror from the
// remote whenever the remote has moved since the index was last synced.
// Grounded on check_local_remote_sync: a UUID mismatch is a hard error, an
// unchanged remote timestamp skips the index refresh, and anything else
// triggers a full remote_index re-download.
func Reconcile(ctx context.Context, local *booklet.Store, remote transport.Transport, idx *remoteindex.Index) (refreshed bool, err error) {
	meta, err := remote.HeadDBObject(ctx)
	if err != nil {
		return false, err
	}
	if !meta.Exists {
		return false, nil // fresh remote: nothing to reconcile against yet
	}

	if meta.UUID != "" {
		remoteUUID, err := hex.DecodeString(meta.UUID)
		if err != nil || len(remoteUUID) != booklet.UUIDLen {
			return false, fmt.Errorf("syncengine: remote db object has malformed uuid metadata")
		}
		localUUID := local.UUID()
		for i := range remoteUUID {
			if remoteUUID[i] != localUUID[i] {
				return false, ErrUUIDMismatch
			}
		}
	}

	lastSynced, have := idx.Get(syncTimestampKey)
	if have && lastSynced == meta.Timestamp {
		return false, nil // index mirror already reflects this remote revision
	}

	obj, err := remote.GetDBObject(ctx)
	if err != nil {
		return false, err
	}
	if obj.Exists && len(obj.Data) > 0 {
		if err := idx.LoadBytes(obj.Data); err != nil {
			return false, err
		}
	}
	if err := idx.Set(syncTimestampKey, meta.Timestamp); err != nil {
		return false, err
	}
	return true, nil
}
