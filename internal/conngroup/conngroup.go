// Package conngroup implements the Remote Conn Group (spec component C7): a
// database-of-databases that catalogs a set of member ebooklet databases by
// UUID, with an optional SQLite mirror for fast filtering by bucket or type.
// Grounded on original_source/ebooklet/main.py's commented-out, never-wired
// Bookcase class — this package finishes that sketch rather than leaving it
// dead, per SPEC_FULL.md's conn-group requirement.
package conngroup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mullenkamp/ebooklet/internal/ebooklet"
	"github.com/mullenkamp/ebooklet/internal/transport"
)

// MemberDescriptor records everything needed to reach one member database:
// its identity, which remote bucket and key it lives at, and enough
// connection details to reopen it with CloneMember.
type MemberDescriptor struct {
	UUID      string            `json:"uuid"`
	Type      string            `json:"type"` // "s3" or "http"
	Bucket    string            `json:"bucket,omitempty"`
	Region    string            `json:"region,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
	DBKey     string            `json:"db_key"`
	CreatedAt int64             `json:"created_at"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ConnGroup is a catalog of member databases.
type ConnGroup struct {
	catalogDB *ebooklet.Database
	sqlite    *sql.DB
}

// Open opens (or creates) the catalog's own local ebooklet database at
// opts.Path, plus an optional SQLite mirror at sqlitePath (pass "" to skip
// the mirror and rely on scanning the catalog database directly).
func Open(ctx context.Context, opts ebooklet.Options, sqlitePath string) (*ConnGroup, error) {
	catalogDB, err := ebooklet.Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	cg := &ConnGroup{catalogDB: catalogDB}

	if sqlitePath != "" {
		db, err := sql.Open("sqlite", sqlitePath)
		if err != nil {
			_ = catalogDB.Close()
			return nil, err
		}
		if _, err := db.ExecContext(ctx, createCatalogTableSQL); err != nil {
			_ = db.Close()
			_ = catalogDB.Close()
			return nil, err
		}
		cg.sqlite = db
	}

	return cg, nil
}

const createCatalogTableSQL = `
CREATE TABLE IF NOT EXISTS members (
	uuid TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	bucket TEXT,
	db_key TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// AddMember registers desc in the catalog database and, if present, the
// SQLite mirror.
func (cg *ConnGroup) AddMember(ctx context.Context, desc MemberDescriptor) error {
	blob, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	if err := cg.catalogDB.Set(desc.UUID, blob); err != nil {
		return err
	}
	if cg.sqlite != nil {
		_, err := cg.sqlite.ExecContext(ctx,
			`INSERT INTO members (uuid, type, bucket, db_key, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(uuid) DO UPDATE SET type=excluded.type, bucket=excluded.bucket, db_key=excluded.db_key, created_at=excluded.created_at`,
			desc.UUID, desc.Type, desc.Bucket, desc.DBKey, desc.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetMember looks up a member by UUID.
func (cg *ConnGroup) GetMember(ctx context.Context, uuid string) (*MemberDescriptor, bool, error) {
	raw, ok, err := cg.catalogDB.Get(ctx, uuid)
	if err != nil || !ok {
		return nil, false, err
	}
	var desc MemberDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, false, err
	}
	return &desc, true, nil
}

// RemoveMember deletes a member from both the catalog database and the
// SQLite mirror.
func (cg *ConnGroup) RemoveMember(ctx context.Context, uuid string) error {
	if _, err := cg.catalogDB.Delete(uuid); err != nil {
		return err
	}
	if cg.sqlite != nil {
		if _, err := cg.sqlite.ExecContext(ctx, `DELETE FROM members WHERE uuid = ?`, uuid); err != nil {
			return err
		}
	}
	return nil
}

// ListByBucket returns every member UUID registered against bucket. It uses
// the SQLite mirror when available, falling back to a full catalog scan
// otherwise.
func (cg *ConnGroup) ListByBucket(ctx context.Context, bucket string) ([]string, error) {
	if cg.sqlite != nil {
		rows, err := cg.sqlite.QueryContext(ctx, `SELECT uuid FROM members WHERE bucket = ?`, bucket)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var uuid string
			if err := rows.Scan(&uuid); err != nil {
				return nil, err
			}
			out = append(out, uuid)
		}
		return out, rows.Err()
	}

	items, err := cg.catalogDB.Items(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for uuid, raw := range items {
		var desc MemberDescriptor
		if json.Unmarshal(raw, &desc) == nil && desc.Bucket == bucket {
			out = append(out, uuid)
		}
	}
	return out, nil
}

// CloneMember opens a fresh local ebooklet.Database at localPath synchronized
// against the remote identified by a member's descriptor. Only S3 members
// can be cloned, since an HTTP member is read-only by construction.
// Supplements the original's never-finished indirect_copy_remote sketch.
func (cg *ConnGroup) CloneMember(ctx context.Context, uuid, localPath string, s3cfg transport.S3Config) (*ebooklet.Database, error) {
	desc, ok, err := cg.GetMember(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("conngroup: member %q not found", uuid)
	}
	if desc.Type != "s3" {
		return nil, fmt.Errorf("conngroup: member %q is type %q, only s3 members can be cloned for writing", uuid, desc.Type)
	}

	s3cfg.Bucket = desc.Bucket
	s3cfg.Region = desc.Region
	s3cfg.Endpoint = desc.Endpoint

	remote, err := transport.NewS3Transport(s3cfg, desc.DBKey)
	if err != nil {
		return nil, err
	}

	return ebooklet.Open(ctx, ebooklet.Options{Path: localPath, Remote: remote})
}

// Close closes the catalog database and, if open, the SQLite mirror.
func (cg *ConnGroup) Close() error {
	var err error
	if cg.sqlite != nil {
		err = cg.sqlite.Close()
	}
	if cerr := cg.catalogDB.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
