package ebooklet

import (
	"context"

	"github.com/mullenkamp/ebooklet/internal/syncengine"
)

// Changes is the handle for inspecting and propagating the difference
// between the local store and the remote, grounded on
// original_source/ebooklet/main.py's Change class (pull/update/iter_changes/
// discard/push).
type Changes struct {
	db *Database
}

// IterChanges returns the keys currently recorded as locally ahead of the
// remote — the set Push would attempt to upload right now.
func (c *Changes) IterChanges() []string {
	return c.db.eng.ChangedKeys()
}

// Pull refreshes the Remote Index mirror from the remote and prefetches
// every key the index shows as changed, bringing the local store up to
// date with the remote without uploading anything.
func (c *Changes) Pull(ctx context.Context) error {
	if _, err := c.db.eng.Reconcile(ctx); err != nil {
		return err
	}
	keys := c.db.eng.Index.Keys()
	return c.db.eng.Prefetch(ctx, keys)
}

// Discard clears the changelog without pushing, abandoning the record of
// which local keys are ahead of the remote (the underlying data is
// untouched; only the push bookkeeping is reset).
func (c *Changes) Discard() {
	c.db.eng.DiscardChanges()
}

// Push uploads every locally-ahead key to the remote and returns a summary
// of what was uploaded and what failed.
func (c *Changes) Push(ctx context.Context) (*syncengine.PushResult, error) {
	if err := c.db.checkWritable(); err != nil {
		return nil, err
	}
	return c.db.eng.Push(ctx)
}
