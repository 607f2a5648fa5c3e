// Package transport implements the Remote Transport abstraction (spec
// component C2): a uniform interface over an S3-compatible bucket (readable
// and writable) and a plain anonymous HTTP endpoint (readable only).
// Grounded on original_source/ebooklet/remotes.py's BaseRemoteRead /
// BaseRemoteReadWrite split and on the teacher's internal/replication/s3client.go
// for the aws-sdk-go-v2 wiring style.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotWritable is returned by any mutating call against a read-only
// transport (an HTTP transport, or an S3 transport whose credentials lack
// write access).
var ErrNotWritable = errors.New("transport: remote is not writable")

// Error wraps a non-2xx, non-404 response from the remote with its status
// code, the way the original surfaces urllib3.exceptions.HTTPError.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %s: status %d", e.Op, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// ObjectMeta describes a remote object's header metadata without its body.
// UUID, Type, InitBytes, and NumGroups are only ever populated on the db
// object (the header object at DBKey()); ordinary key and group objects
// leave them zero.
type ObjectMeta struct {
	Exists    bool
	Size      int64
	Timestamp uint64 // microseconds, from the object's "timestamp" custom metadata
	ETag      string
	VersionID string

	UUID      string // 32 hex chars, from the db object's "uuid" custom metadata
	Type      string // from the db object's "type" custom metadata
	InitBytes []byte // decoded 200-byte Local Store header, from "init_bytes"
	NumGroups uint32 // from "num_groups", 0 if absent (ungrouped)
}

// Object pairs ObjectMeta with the object's full body.
type Object struct {
	ObjectMeta
	Data []byte
}

// DBObjectMeta is the custom metadata a push attaches to the db object: the
// session identity a session must be able to parse eagerly on open, per
// SPEC_FULL.md §4.1/§6.
type DBObjectMeta struct {
	Timestamp uint64
	UUID      string // 32 hex chars
	Type      string
	InitBytes []byte // exactly HeaderSize bytes, n_keys zeroed
	NumGroups uint32 // 0 means omit the field (ungrouped)
}

// ObjectVersion identifies one version of one key, as returned by
// ListObjectVersions; used by the sync engine to find every version of a
// deleted key so it can be purged with DeleteObjects.
type ObjectVersion struct {
	Key       string
	VersionID string
}

// Transport is the uniform remote access surface the sync engine and lock
// package depend on. DBKey returns the logical database's root key; the db
// object itself lives at DBKey() and its body is the Remote Index file bytes
// (the db object's custom metadata carries the header, per SPEC_FULL.md §6);
// per-key/group objects live at DBKey()+"/"+key.
type Transport interface {
	DBKey() string
	Kind() string // short tag ("s3", "http") attached to the db object's "type" metadata
	Readable() bool
	Writable(ctx context.Context) (bool, error)

	GetDBObject(ctx context.Context) (*Object, error)
	HeadDBObject(ctx context.Context) (*ObjectMeta, error)
	PutDBObject(ctx context.Context, indexData []byte, meta DBObjectMeta) error

	GetObject(ctx context.Context, key string) (*Object, error)
	HeadObject(ctx context.Context, key string) (*ObjectMeta, error)
	PutObject(ctx context.Context, key string, data []byte, timestamp uint64) error

	DeleteObjects(ctx context.Context, keys []string) error
	DeleteAll(ctx context.Context) error
	ListObjectVersions(ctx context.Context, prefix string) ([]ObjectVersion, error)

	Close() error
}

func notFound(status int) bool { return status == 404 }
