package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Config describes how to reach an S3-compatible bucket. Endpoint and
// UsePathStyle exist so the same transport works against AWS itself or
// against a self-hosted S3-compatible service (minio, R2, B2), the same
// flexibility the teacher's EndpointResolverWithOptionsFunc gives its own
// replication client.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	ReadTimeout     time.Duration
	Retries         int
}

// S3Transport is the read/write Remote Transport backed by an S3-compatible
// bucket. Grounded on internal/replication/s3client.go's client construction
// and logging style.
type S3Transport struct {
	client   *s3.Client
	bucket   string
	dbKey    string
	log      *logrus.Entry
	writable *bool
}

// NewS3Transport builds a transport rooted at dbKey within cfg.Bucket. Setting
// cfg.Endpoint points the client at a self-hosted S3-compatible service
// (minio, R2, B2) instead of AWS, the same flexibility the teacher's custom
// endpoint resolver gives internal/replication/s3client.go.
func NewS3Transport(cfg S3Config, dbKey string) (*S3Transport, error) {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.UsePathStyle,
		RetryMaxAttempts: cfg.Retries,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	return &S3Transport{
		client: client,
		bucket: cfg.Bucket,
		dbKey:  dbKey,
		log:    logrus.WithFields(logrus.Fields{"component": "transport.s3", "bucket": cfg.Bucket, "db_key": dbKey}),
	}, nil
}

func (t *S3Transport) DBKey() string   { return t.dbKey }
func (t *S3Transport) Kind() string    { return "s3" }
func (t *S3Transport) Readable() bool  { return true }
func (t *S3Transport) Close() error    { return nil }

func (t *S3Transport) fullKey(key string) string {
	return t.dbKey + "/" + key
}

// Writable probes write access with a disposable test-key put+delete round
// trip, caching the result for the transport's lifetime, mirroring the
// original's BaseRemoteReadWrite.writable property.
func (t *S3Transport) Writable(ctx context.Context) (bool, error) {
	if t.writable != nil {
		return *t.writable, nil
	}
	testKey := t.dbKey + ".write-probe"
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(testKey),
		Body:   bytes.NewReader([]byte("0")),
	})
	ok := err == nil
	if ok {
		_, _ = t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(testKey),
		})
	}
	t.writable = &ok
	t.log.WithField("writable", ok).Debug("probed write access")
	return ok, nil
}

func (t *S3Transport) getObjectAtKey(ctx context.Context, op, fullKey string) (*Object, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(t.bucket), Key: aws.String(fullKey)})
	if err != nil {
		if status := s3StatusCode(err); notFound(status) {
			return &Object{}, nil
		}
		return nil, &Error{Op: op, Status: s3StatusCode(err), Err: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Op: op, Status: 0, Err: err}
	}
	return &Object{
		ObjectMeta: objectMetaFromGet(out, data),
		Data:       data,
	}, nil
}

func (t *S3Transport) headObjectAtKey(ctx context.Context, op, fullKey string) (*ObjectMeta, error) {
	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(t.bucket), Key: aws.String(fullKey)})
	if err != nil {
		if status := s3StatusCode(err); notFound(status) {
			return &ObjectMeta{}, nil
		}
		return nil, &Error{Op: op, Status: s3StatusCode(err), Err: err}
	}
	meta := &ObjectMeta{Exists: true}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ETag != nil {
		meta.ETag = strings.Trim(*out.ETag, `"`)
	}
	if out.VersionId != nil {
		meta.VersionID = *out.VersionId
	}
	meta.Timestamp = timestampFromMetadata(out.Metadata)
	decodeDBMetadata(meta, out.Metadata)
	return meta, nil
}

func (t *S3Transport) putObjectAtKey(ctx context.Context, op, fullKey string, data []byte, timestamp uint64) error {
	writable, err := t.Writable(ctx)
	if err != nil {
		return err
	}
	if !writable {
		return ErrNotWritable
	}
	_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(fullKey),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"timestamp": strconv.FormatUint(timestamp, 10)},
	})
	if err != nil {
		return &Error{Op: op, Status: s3StatusCode(err), Err: err}
	}
	return nil
}

func (t *S3Transport) GetDBObject(ctx context.Context) (*Object, error) {
	return t.getObjectAtKey(ctx, "get_db_object", t.dbKey)
}

func (t *S3Transport) HeadDBObject(ctx context.Context) (*ObjectMeta, error) {
	return t.headObjectAtKey(ctx, "head_db_object", t.dbKey)
}

// PutDBObject uploads indexData (the Remote Index file bytes) as the db
// object's body and attaches the session-identity fields as custom object
// metadata, per SPEC_FULL.md §6: a reader must be able to parse uuid,
// type, and init_bytes off the header without downloading the body.
func (t *S3Transport) PutDBObject(ctx context.Context, indexData []byte, meta DBObjectMeta) error {
	writable, err := t.Writable(ctx)
	if err != nil {
		return err
	}
	if !writable {
		return ErrNotWritable
	}
	md := map[string]string{
		"timestamp":  strconv.FormatUint(meta.Timestamp, 10),
		"uuid":       meta.UUID,
		"type":       meta.Type,
		"init_bytes": base64.URLEncoding.EncodeToString(meta.InitBytes),
	}
	if meta.NumGroups != 0 {
		md["num_groups"] = strconv.FormatUint(uint64(meta.NumGroups), 10)
	}
	_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(t.dbKey),
		Body:     bytes.NewReader(indexData),
		Metadata: md,
	})
	if err != nil {
		return &Error{Op: "put_db_object", Status: s3StatusCode(err), Err: err}
	}
	return nil
}

func (t *S3Transport) GetObject(ctx context.Context, key string) (*Object, error) {
	return t.getObjectAtKey(ctx, "get_object", t.fullKey(key))
}

func (t *S3Transport) HeadObject(ctx context.Context, key string) (*ObjectMeta, error) {
	return t.headObjectAtKey(ctx, "head_object", t.fullKey(key))
}

func (t *S3Transport) PutObject(ctx context.Context, key string, data []byte, timestamp uint64) error {
	return t.putObjectAtKey(ctx, "put_object", t.fullKey(key), data, timestamp)
}

func (t *S3Transport) ListObjectVersions(ctx context.Context, prefix string) ([]ObjectVersion, error) {
	writable, err := t.Writable(ctx)
	if err != nil {
		return nil, err
	}
	if !writable {
		return nil, ErrNotWritable
	}

	var out []ObjectVersion
	var keyMarker, versionMarker *string
	for {
		resp, err := t.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(t.bucket),
			Prefix:          aws.String(prefix),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			return nil, &Error{Op: "list_object_versions", Status: s3StatusCode(err), Err: err}
		}
		for _, v := range resp.Versions {
			out = append(out, ObjectVersion{Key: aws.ToString(v.Key), VersionID: aws.ToString(v.VersionId)})
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		keyMarker = resp.NextKeyMarker
		versionMarker = resp.NextVersionIdMarker
	}
	return out, nil
}

func (t *S3Transport) DeleteObjects(ctx context.Context, keys []string) error {
	writable, err := t.Writable(ctx)
	if err != nil {
		return err
	}
	if !writable {
		return ErrNotWritable
	}

	versions, err := t.ListObjectVersions(ctx, t.dbKey+"/")
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	var ids []types.ObjectIdentifier
	for _, v := range versions {
		base := v.Key[strings.LastIndex(v.Key, "/")+1:]
		if wanted[base] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(v.Key), VersionId: aws.String(v.VersionID)})
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return t.batchDelete(ctx, ids)
}

func (t *S3Transport) DeleteAll(ctx context.Context) error {
	writable, err := t.Writable(ctx)
	if err != nil {
		return err
	}
	if !writable {
		return ErrNotWritable
	}

	versions, err := t.ListObjectVersions(ctx, t.dbKey)
	if err != nil {
		return err
	}
	var ids []types.ObjectIdentifier
	for _, v := range versions {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(v.Key), VersionId: aws.String(v.VersionID)})
	}
	if len(ids) == 0 {
		return nil
	}
	return t.batchDelete(ctx, ids)
}

func (t *S3Transport) batchDelete(ctx context.Context, ids []types.ObjectIdentifier) error {
	const batchSize = 1000
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		_, err := t.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(t.bucket),
			Delete: &types.Delete{Objects: ids[i:end]},
		})
		if err != nil {
			return &Error{Op: "delete_objects", Status: s3StatusCode(err), Err: err}
		}
	}
	return nil
}

func objectMetaFromGet(out *s3.GetObjectOutput, data []byte) ObjectMeta {
	meta := ObjectMeta{Exists: true, Size: int64(len(data))}
	if out.ETag != nil {
		meta.ETag = strings.Trim(*out.ETag, `"`)
	}
	if out.VersionId != nil {
		meta.VersionID = *out.VersionId
	}
	meta.Timestamp = timestampFromMetadata(out.Metadata)
	decodeDBMetadata(&meta, out.Metadata)
	return meta
}

func timestampFromMetadata(md map[string]string) uint64 {
	if md == nil {
		return 0
	}
	raw, ok := md["timestamp"]
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// decodeDBMetadata fills in the db-object-only fields of meta from a raw
// metadata map. It is a no-op for ordinary key/group objects, which never
// carry these custom headers.
func decodeDBMetadata(meta *ObjectMeta, md map[string]string) {
	if md == nil {
		return
	}
	meta.UUID = md["uuid"]
	meta.Type = md["type"]
	if raw, ok := md["init_bytes"]; ok {
		if decoded, err := base64.URLEncoding.DecodeString(raw); err == nil {
			meta.InitBytes = decoded
		}
	}
	if raw, ok := md["num_groups"]; ok {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			meta.NumGroups = uint32(v)
		}
	}
}

// s3StatusCode extracts an HTTP-like status code out of an aws-sdk-go-v2
// error, falling back to 500 when the SDK does not expose one.
func s3StatusCode(err error) int {
	var respErr *smithyhttp.ResponseError
	if ok := asResponseError(err, &respErr); ok {
		return respErr.HTTPStatusCode()
	}
	if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
		return 404
	}
	return 500
}

func asResponseError(err error, target **smithyhttp.ResponseError) bool {
	type responseErrorer interface {
		HTTPStatusCode() int
	}
	for e := err; e != nil; e = unwrap(e) {
		if re, ok := e.(*smithyhttp.ResponseError); ok {
			*target = re
			return true
		}
		if _, ok := e.(responseErrorer); ok {
			return false
		}
	}
	return false
}

func unwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}
