package syncengine

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/group"
	"github.com/mullenkamp/ebooklet/internal/remoteindex"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

// metadataKey is the reserved façade-level key name for the store's
// metadata blob. Unlike ordinary keys it is never folded into a group
// object: it is uploaded and pulled as its own object at DBKey()/_metadata,
// matching original_source/ebooklet/utils.py's update_remote, which excludes
// "_metadata" from affected_group_ids and uploads it with its own
// upload_value call.
const metadataKey = "_metadata"

// PushResult summarizes one push: how many group objects were rewritten,
// how many keys advanced in the Remote Index, and which keys failed to
// upload (left untouched in the changelog for the next push attempt).
type PushResult struct {
	GroupsPushed int
	KeysPushed   int
	Failed       []string
}

// Push builds a fresh changelog against the current Remote Index, rewrites
// every affected group object on the remote, advances the Remote Index and
// changelog for the keys that succeeded, and finally re-uploads the db
// object header and the Remote Index snapshot. Grounded on
// original_source/ebooklet/utils.py's update_remote.
func Push(ctx context.Context, local *booklet.Store, remote transport.Transport, idx *remoteindex.Index, log *changelog, numGroups uint32, workers int) (*PushResult, error) {
	if writable, err := remote.Writable(ctx); err != nil {
		return nil, err
	} else if !writable {
		return nil, transport.ErrNotWritable
	}

	log.clear()

	live := map[string]struct{}{}
	entries, err := local.Iter()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		live[e.Key] = struct{}{}
		remoteTS, _ := idx.Get(e.Key)
		if e.Timestamp > remoteTS {
			if err := log.record(e.Key, e.Timestamp, remoteTS); err != nil {
				return nil, err
			}
		}
	}

	metaVal, metaTS, metaOK, err := local.GetMetadata()
	if err != nil {
		return nil, err
	}
	metaChanged := false
	if metaOK {
		remoteTS, _ := idx.Get(metadataKey)
		if metaTS > remoteTS {
			metaChanged = true
			if err := log.record(metadataKey, metaTS, remoteTS); err != nil {
				return nil, err
			}
		}
	}

	deleted := make([]string, 0)
	for _, k := range idx.Keys() {
		if k == syncTimestampKey || k == metadataKey {
			continue
		}
		if _, ok := live[k]; !ok {
			deleted = append(deleted, k)
		}
	}

	changed := log.entries()
	keyChanges := changed[:0:0]
	for _, c := range changed {
		if c.Key != metadataKey {
			keyChanges = append(keyChanges, c)
		}
	}

	if len(keyChanges) == 0 && len(deleted) == 0 && !metaChanged {
		return &PushResult{}, nil
	}

	// A group object is always rewritten whole, so every affected group's
	// job carries every currently-live key that hashes into it, not just the
	// ones that changed, matching update_remote's own
	// `[key for key in local_file.keys() if group_id(key, n_groups) == gid]`.
	fullGroupKeys := map[uint32][]string{}
	for k := range live {
		gid, err := group.ID(k, numGroups)
		if err != nil {
			return nil, err
		}
		fullGroupKeys[gid] = append(fullGroupKeys[gid], k)
	}

	affectedGids := map[uint32]struct{}{}
	for _, c := range keyChanges {
		gid, err := group.ID(c.Key, numGroups)
		if err != nil {
			return nil, err
		}
		affectedGids[gid] = struct{}{}
	}
	for _, k := range deleted {
		gid, err := group.ID(k, numGroups)
		if err != nil {
			return nil, err
		}
		affectedGids[gid] = struct{}{}
		fullGroupKeys[gid] = append(fullGroupKeys[gid], k)
	}

	jobKeys := map[uint32][]string{}
	for gid := range affectedGids {
		jobKeys[gid] = fullGroupKeys[gid]
	}

	result, err := pushGroups(ctx, local, remote, idx, log, jobKeys, deleted, workers)
	if err != nil {
		return nil, err
	}

	if metaChanged {
		if err := remote.PutObject(ctx, metadataKey, metaVal, metaTS); err != nil {
			result.Failed = append(result.Failed, metadataKey)
		} else {
			idx.Set(metadataKey, metaTS)
			log.remove(metadataKey)
			result.KeysPushed++
		}
	}

	now := nowMicros()
	if err := idx.Set(syncTimestampKey, now); err != nil {
		return result, err
	}

	localUUID := local.UUID()
	hdr := local.InitBytesWithZeroedKeyCount()
	dbMeta := transport.DBObjectMeta{
		Timestamp: now,
		UUID:      hex.EncodeToString(localUUID[:]),
		Type:      remote.Kind(),
		InitBytes: hdr[:],
	}
	if numGroups > 0 {
		dbMeta.NumGroups = numGroups
	}
	if err := remote.PutDBObject(ctx, idx.Serialize(), dbMeta); err != nil {
		return result, err
	}
	if err := idx.Sync(); err != nil {
		return result, err
	}
	if err := log.store.Flush(); err != nil {
		return result, err
	}
	return result, nil
}

func pushGroups(ctx context.Context, local *booklet.Store, remote transport.Transport, idx *remoteindex.Index, log *changelog, affected map[uint32][]string, deleted []string, workers int) (*PushResult, error) {
	deletedSet := make(map[string]struct{}, len(deleted))
	for _, k := range deleted {
		deletedSet[k] = struct{}{}
	}

	if workers <= 0 {
		workers = 8
	}
	type groupJob struct {
		gid  uint32
		keys []string
	}
	jobs := make(chan groupJob)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := &PushResult{}

	worker := func() {
		defer wg.Done()
		for job := range jobs {
			entries, keyTS, err := buildGroupEntries(local, job.keys, deletedSet)
			if err != nil {
				mu.Lock()
				result.Failed = append(result.Failed, job.keys...)
				mu.Unlock()
				continue
			}
			blob := group.Pack(entries)
			putErr := remote.PutObject(ctx, groupObjectKey(job.gid), blob, nowMicros())

			mu.Lock()
			if putErr != nil {
				result.Failed = append(result.Failed, job.keys...)
			} else {
				result.GroupsPushed++
				for key, ts := range keyTS {
					if _, isDeleted := deletedSet[key]; isDeleted {
						idx.Delete(key)
					} else {
						idx.Set(key, ts)
					}
					log.remove(key)
					result.KeysPushed++
				}
			}
			mu.Unlock()
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	for gid, keys := range affected {
		jobs <- groupJob{gid: gid, keys: keys}
	}
	close(jobs)
	wg.Wait()

	return result, nil
}

// buildGroupEntries reassembles the full contents of one group object: every
// currently-live key that hashes to this group (read fresh from the Local
// Store, not just the changed ones) plus tombstones for keys this push is
// deleting. A group object is always rewritten whole; Push never attempts a
// partial in-place edit of one.
func buildGroupEntries(local *booklet.Store, keys []string, deletedSet map[string]struct{}) ([]group.Entry, map[string]uint64, error) {
	keyTS := make(map[string]uint64, len(keys))

	all, err := local.IterValues()
	if err != nil {
		return nil, nil, err
	}
	byKey := make(map[string]booklet.Entry, len(all))
	for _, e := range all {
		byKey[e.Key] = e
	}

	var entries []group.Entry
	seen := map[string]struct{}{}
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if _, isDeleted := deletedSet[k]; isDeleted {
			ts := nowMicros()
			entries = append(entries, group.Entry{Key: k, Timestamp: ts, Deleted: true})
			keyTS[k] = ts
			continue
		}

		if e, ok := byKey[k]; ok {
			entries = append(entries, group.Entry{Key: k, Timestamp: e.Timestamp, Value: e.Value})
			keyTS[k] = e.Timestamp
		}
	}
	return entries, keyTS, nil
}

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }
