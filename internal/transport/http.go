package transport

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPTransport is the read-only Remote Transport for anonymous access to a
// public db, grounded on original_source/ebooklet/remotes.py's HttpRemote /
// HttpRemoteRead (GET/HEAD only, writable always false). net/http is used
// directly rather than an ecosystem REST client: see DESIGN.md's
// standard-library justifications.
type HTTPTransport struct {
	client *http.Client
	baseURL string
}

// NewHTTPTransport builds a read-only transport rooted at baseURL, e.g.
// "https://example.com/dbs/mydb".
func NewHTTPTransport(baseURL string, readTimeout time.Duration) *HTTPTransport {
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	return &HTTPTransport{
		client:  &http.Client{Timeout: readTimeout},
		baseURL: baseURL,
	}
}

func (t *HTTPTransport) DBKey() string  { return t.baseURL }
func (t *HTTPTransport) Kind() string   { return "http" }
func (t *HTTPTransport) Readable() bool { return true }
func (t *HTTPTransport) Close() error   { return nil }

func (t *HTTPTransport) Writable(ctx context.Context) (bool, error) { return false, nil }

func (t *HTTPTransport) fullKey(key string) string {
	return t.baseURL + "/" + key
}

func (t *HTTPTransport) get(ctx context.Context, op, url string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if notFound(resp.StatusCode) {
		return &Object{}, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, &Error{Op: op, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	meta := ObjectMeta{
		Exists:    true,
		Size:      int64(len(data)),
		Timestamp: timestampFromHeader(resp.Header.Get("X-Amz-Meta-Timestamp")),
		ETag:      resp.Header.Get("ETag"),
	}
	decodeDBMetadataHeader(&meta, resp.Header)
	return &Object{ObjectMeta: meta, Data: data}, nil
}

func (t *HTTPTransport) head(ctx context.Context, op, url string) (*ObjectMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if notFound(resp.StatusCode) {
		return &ObjectMeta{}, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, &Error{Op: op, Status: resp.StatusCode}
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	meta := ObjectMeta{
		Exists:    true,
		Size:      size,
		Timestamp: timestampFromHeader(resp.Header.Get("X-Amz-Meta-Timestamp")),
		ETag:      resp.Header.Get("ETag"),
	}
	decodeDBMetadataHeader(&meta, resp.Header)
	return &meta, nil
}

func timestampFromHeader(raw string) uint64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// decodeDBMetadataHeader mirrors decodeDBMetadata (s3.go) for the header
// names S3 exposes over plain HTTP GET/HEAD ("x-amz-meta-*" lowercased).
func decodeDBMetadataHeader(meta *ObjectMeta, h http.Header) {
	meta.UUID = h.Get("X-Amz-Meta-Uuid")
	meta.Type = h.Get("X-Amz-Meta-Type")
	if raw := h.Get("X-Amz-Meta-Init-Bytes"); raw != "" {
		if decoded, err := base64.URLEncoding.DecodeString(raw); err == nil {
			meta.InitBytes = decoded
		}
	}
	if raw := h.Get("X-Amz-Meta-Num-Groups"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			meta.NumGroups = uint32(v)
		}
	}
}

func (t *HTTPTransport) GetDBObject(ctx context.Context) (*Object, error) {
	return t.get(ctx, "get_db_object", t.baseURL)
}

func (t *HTTPTransport) HeadDBObject(ctx context.Context) (*ObjectMeta, error) {
	return t.head(ctx, "head_db_object", t.baseURL)
}

func (t *HTTPTransport) GetObject(ctx context.Context, key string) (*Object, error) {
	return t.get(ctx, "get_object", t.fullKey(key))
}

func (t *HTTPTransport) HeadObject(ctx context.Context, key string) (*ObjectMeta, error) {
	return t.head(ctx, "head_object", t.fullKey(key))
}

func (t *HTTPTransport) PutDBObject(context.Context, []byte, DBObjectMeta) error { return ErrNotWritable }
func (t *HTTPTransport) PutObject(context.Context, string, []byte, uint64) error {
	return ErrNotWritable
}
func (t *HTTPTransport) DeleteObjects(context.Context, []string) error { return ErrNotWritable }
func (t *HTTPTransport) DeleteAll(context.Context) error               { return ErrNotWritable }
func (t *HTTPTransport) ListObjectVersions(context.Context, string) ([]ObjectVersion, error) {
	return nil, ErrNotWritable
}
