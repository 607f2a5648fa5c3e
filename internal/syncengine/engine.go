package syncengine

import (
	"context"

	"github.com/mullenkamp/ebooklet/internal/booklet"
	"github.com/mullenkamp/ebooklet/internal/remoteindex"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

// Engine bundles a Local Store, its Remote Transport, its Remote Index
// mirror, and its changelog into the operations the façade (internal/ebooklet,
// spec component C6) drives: reconciliation on open, lazy pull-on-read, and
// push. It is the concrete form of spec component C5.
type Engine struct {
	Local     *booklet.Store
	Remote    transport.Transport
	Index     *remoteindex.Index
	NumGroups uint32
	Workers   int

	log *changelog
}

// NewEngine opens the Remote Index and changelog snapshots alongside local
// and wires them to remote.
func NewEngine(local *booklet.Store, remote transport.Transport, stateDir string, numGroups uint32, workers int) (*Engine, error) {
	idx, err := remoteindex.Open(stateDir)
	if err != nil {
		return nil, err
	}
	log, err := openChangelog(stateDir)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	return &Engine{Local: local, Remote: remote, Index: idx, NumGroups: numGroups, Workers: workers, log: log}, nil
}

// Reconcile checks the local store's identity against the remote and
// refreshes the Remote Index mirror if the remote has moved on. Call it once
// after opening, before relying on lazy pulls.
func (e *Engine) Reconcile(ctx context.Context) (refreshed bool, err error) {
	return Reconcile(ctx, e.Local, e.Remote, e.Index)
}

// Get returns key's value, pulling a fresher copy from the remote first if
// the Remote Index shows one.
func (e *Engine) Get(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	return EnsureFresh(ctx, e.Local, e.Remote, e.Index, e.NumGroups, key)
}

// Prefetch ensures every key in keys is locally fresh, fanned out across a
// bounded worker pool.
func (e *Engine) Prefetch(ctx context.Context, keys []string) error {
	return EnsureFreshMany(ctx, e.Local, e.Remote, e.Index, e.NumGroups, keys, e.Workers)
}

// Push uploads every locally-ahead key to the remote.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	return Push(ctx, e.Local, e.Remote, e.Index, e.log, e.NumGroups, e.Workers)
}

// ChangedKeys returns the keys currently recorded in the changelog: the set
// a Push would attempt to upload right now.
func (e *Engine) ChangedKeys() []string {
	entries := e.log.entries()
	keys := make([]string, len(entries))
	for i, en := range entries {
		keys[i] = en.Key
	}
	return keys
}

// DiscardChanges clears the changelog without pushing, the engine-level
// counterpart of the façade's Changes.Discard.
func (e *Engine) DiscardChanges() {
	e.log.clear()
}

// Close releases the Remote Index and changelog snapshots.
func (e *Engine) Close() error {
	err := e.log.close()
	if ierr := e.Index.Close(); ierr != nil && err == nil {
		err = ierr
	}
	return err
}
