// Package origin implements the S3-compatible object-store adapter
// (component C4): the permanent, bucket-backed tier the layered composer
// falls through to after every nearer cache has missed. Blobs live at
// "<prefix>/cas/<hex-hash>", KV entries at "<prefix>/kv/<url-safe-key>".
package origin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/cenkalti/backoff/v4"

	"github.com/tuist/fabrik/internal/store"
)

// maxAttempts bounds the adapter's whole-operation retry loop, independent
// of the SDK's own transport-level retryer, per §4.4's "up to three
// attempts" rule.
const maxAttempts = 3

// Config describes how to reach and authenticate against the bucket. Fields
// left zero fall back to the standard AWS resolution chain (environment,
// shared config, instance/task role).
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // non-empty for S3-compatible non-AWS endpoints (MinIO, R2, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Adapter is the origin tier: store.CAS, store.KV, and composer.Upstream's
// Name(), permanent by convention.
type Adapter struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New resolves credentials per Config and returns a ready Adapter.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("origin: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Adapter{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Name identifies this adapter as a composer upstream.
func (a *Adapter) Name() string { return "origin:" + a.bucket }

func (a *Adapter) casKey(hash store.Hash) string {
	return a.join("cas", hash.String())
}

func (a *Adapter) kvKey(key string) string {
	return a.join("kv", url.PathEscape(key))
}

func (a *Adapter) join(parts ...string) string {
	all := append([]string{a.prefix}, parts...)
	out := make([]string, 0, len(all))
	for _, p := range all {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func (a *Adapter) Exists(ctx context.Context, hash store.Hash) (bool, error) {
	return a.headExists(ctx, a.casKey(hash))
}

func (a *Adapter) headExists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := a.withRetry(ctx, func() error {
		_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
		if isNotFound(err) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (a *Adapter) Info(ctx context.Context, hash store.Hash) (store.Info, error) {
	var info store.Info
	err := a.withRetry(ctx, func() error {
		out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(a.casKey(hash))})
		if isNotFound(err) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		info = store.Info{Size: aws.ToInt64(out.ContentLength)}
		if out.LastModified != nil {
			info.CreatedAt = *out.LastModified
			info.LastAccessed = *out.LastModified
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Info{}, store.ErrNotFound
	}
	return info, err
}

// Get streams the object body; the caller must Close it. Bodies are never
// buffered in full, per the streaming guarantee.
func (a *Adapter) Get(ctx context.Context, hash store.Hash) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := a.withRetry(ctx, func() error {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(a.casKey(hash))})
		if isNotFound(err) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Put streams body to the bucket via the multipart manager.Uploader, which
// handles arbitrarily large bodies without whole-buffer retention. S3
// itself verifies nothing about the declared hash; correctness here relies
// on the caller (the composer's write-through path) only ever replicating
// bytes it already verified locally.
func (a *Adapter) Put(ctx context.Context, hash store.Hash, size int64, body io.Reader) (store.Digest, error) {
	key := a.casKey(hash)
	err := a.withRetry(ctx, func() error {
		_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket), Key: aws.String(key), Body: body,
		})
		return err
	})
	if err != nil {
		return store.Digest{}, err
	}
	return store.Digest{Hash: hash, Size: size}, nil
}

func (a *Adapter) Delete(ctx context.Context, hash store.Hash) error {
	return a.withRetry(ctx, func() error {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(a.casKey(hash))})
		return err
	})
}

func (a *Adapter) KVGet(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := a.withRetry(ctx, func() error {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(a.kvKey(key))})
		if isNotFound(err) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Adapter) KVPut(ctx context.Context, key string, value []byte) error {
	return a.withRetry(ctx, func() error {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket), Key: aws.String(a.kvKey(key)), Body: bytes.NewReader(value),
		})
		return err
	})
}

func (a *Adapter) KVExists(ctx context.Context, key string) (bool, error) {
	return a.headExists(ctx, a.kvKey(key))
}

func (a *Adapter) KVDelete(ctx context.Context, key string) error {
	return a.withRetry(ctx, func() error {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(a.kvKey(key))})
		return err
	})
}

// KVList traverses the bucket with ListObjectsV2, paginated lazily so large
// namespaces are never materialized up front.
func (a *Adapter) KVList(ctx context.Context, prefix string) (store.KeyIterator, error) {
	fullPrefix := a.join("kv", "") + "/" + url.PathEscape(prefix)
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket), Prefix: aws.String(fullPrefix),
	})
	return &kvIterator{ctx: ctx, paginator: paginator, stripPrefix: a.join("kv", "") + "/"}, nil
}

type kvIterator struct {
	ctx         context.Context
	paginator   *s3.ListObjectsV2Paginator
	stripPrefix string
	page        []types.Object
	idx         int
	cur         string
	err         error
}

func (it *kvIterator) Next(ctx context.Context) bool {
	for it.idx >= len(it.page) {
		if !it.paginator.HasMorePages() {
			return false
		}
		out, err := it.paginator.NextPage(it.ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.page = out.Contents
		it.idx = 0
	}
	key := aws.ToString(it.page[it.idx].Key)
	it.idx++
	unescaped, err := url.PathUnescape(strings.TrimPrefix(key, it.stripPrefix))
	if err != nil {
		unescaped = key
	}
	it.cur = unescaped
	return true
}

func (it *kvIterator) Key() string  { return it.cur }
func (it *kvIterator) Err() error   { return it.err }
func (it *kvIterator) Close() error { return nil }

// withRetry wraps op in cenkalti/backoff/v4's exponential backoff, retrying
// whole operations on 5xx/timeout per §4.4 (501 Not Implemented is
// explicitly excluded, matching the spec's carve-out for endpoints that
// don't support an operation at all).
func (a *Adapter) withRetry(ctx context.Context, op func() error) error {
	attempts := 0
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1), ctx)
	return backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NoSuchKey
	var nfb *types.NotFound
	return errors.As(err, &nf) || errors.As(err, &nfb)
}

// isRetryable reports whether err looks like a transient 5xx or timeout,
// per §4.4's "retries transient errors (>=5xx except 501, timeouts)" rule.
func isRetryable(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == 501 {
			return false
		}
		return code >= 500
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

