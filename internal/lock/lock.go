// Package lock implements the Remote Conn Group / Sync Engine's advisory S3
// lock (spec component C8): a sentinel object whose body is a signed claim
// token, used to serialize concurrent pushes against the same remote
// database. Grounded on original_source/ebooklet/remotes.py's
// BaseS3RemoteReadWrite.lock, reworked from the original's bare
// session.s3lock into a token the holder can prove it owns.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mullenkamp/ebooklet/internal/transport"
)

// ErrHeld is returned by Acquire when the lock is currently held by another
// owner and the caller did not ask to break it.
var ErrHeld = errors.New("lock: currently held by another owner")

// ErrClaimInvalid is returned when a lock object's body does not parse as a
// well-formed, correctly signed claim token — it is some other object that
// happens to occupy the lock's key, not an ebooklet lock.
var ErrClaimInvalid = errors.New("lock: existing object is not a valid lock claim")

// protocolSigningKey is a fixed, shared HMAC key. The lock is advisory: its
// signature only proves a claim object is a well-formed ebooklet lock
// (and not an unrelated object squatting the same key), not an access
// control boundary, so a single constant key is sufficient. See DESIGN.md.
var protocolSigningKey = []byte("ebooklet-lock-claim-v1")

type claims struct {
	Owner      string `json:"owner"`
	AcquiredAt int64  `json:"acquired_at"`
	jwt.RegisteredClaims
}

// Lock is an acquired advisory lock on one remote database key.
type Lock struct {
	remote  transport.Transport
	key     string
	owner   string
	expires time.Time
}

func lockKey(dbKey string) string { return dbKey + ".lock" }

// Acquire attempts to claim the lock at remote's db key for ttl. If the lock
// is already held and unexpired, Acquire returns ErrHeld unless breakOther
// is true, in which case it overwrites the existing claim (the "break and
// claim" protocol).
func Acquire(ctx context.Context, remote transport.Transport, owner string, ttl time.Duration, breakOther bool) (*Lock, error) {
	if writable, err := remote.Writable(ctx); err != nil {
		return nil, err
	} else if !writable {
		return nil, transport.ErrNotWritable
	}

	existing, err := remote.GetObject(ctx, lockKey(remote.DBKey()))
	if err != nil {
		return nil, err
	}
	if existing.Exists {
		c, perr := parseClaim(existing.Data)
		if perr == nil && c.ExpiresAt.After(time.Now()) && !breakOther {
			return nil, ErrHeld
		}
	}

	now := time.Now()
	expires := now.Add(ttl)
	token, err := signClaim(owner, now, expires)
	if err != nil {
		return nil, err
	}
	if err := remote.PutObject(ctx, lockKey(remote.DBKey()), token, uint64(now.UnixMicro())); err != nil {
		return nil, err
	}
	return &Lock{remote: remote, key: lockKey(remote.DBKey()), owner: owner, expires: expires}, nil
}

// Release removes the lock claim, but only if it is still the same claim
// this Lock acquired (another owner may have legitimately broken it first).
func (l *Lock) Release(ctx context.Context) error {
	existing, err := l.remote.GetObject(ctx, l.key)
	if err != nil {
		return err
	}
	if !existing.Exists {
		return nil
	}
	c, err := parseClaim(existing.Data)
	if err != nil || c.Owner != l.owner {
		return nil // not ours anymore; nothing to release
	}
	return l.remote.DeleteObjects(ctx, []string{l.key})
}

// Renew extends the lock's expiry by ttl, re-signing the claim in place.
func (l *Lock) Renew(ctx context.Context, ttl time.Duration) error {
	now := time.Now()
	l.expires = now.Add(ttl)
	token, err := signClaim(l.owner, now, l.expires)
	if err != nil {
		return err
	}
	return l.remote.PutObject(ctx, l.key, token, uint64(now.UnixMicro()))
}

func signClaim(owner string, now, expires time.Time) ([]byte, error) {
	c := claims{
		Owner:      owner,
		AcquiredAt: now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(protocolSigningKey)
	if err != nil {
		return nil, err
	}
	return []byte(signed), nil
}

func parseClaim(data []byte) (*claims, error) {
	c := &claims{}
	tok, err := jwt.ParseWithClaims(string(data), c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("lock: unexpected signing method %v", t.Header["alg"])
		}
		return protocolSigningKey, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrClaimInvalid
	}
	return c, nil
}
