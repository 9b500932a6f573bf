// Package storage persists uploaded file bytes in named buckets and issues
// time-limited download URLs for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

const (
	BucketProfilePictures = "profile-pictures"
	BucketProjectFiles    = "project-files"

	DefaultSignedURLTTL = time.Hour
)

var (
	ErrObjectNotFound   = errors.New("storage: object not found")
	ErrInvalidKey       = errors.New("storage: invalid object key")
	ErrUnknownBucket    = errors.New("storage: unknown bucket")
	ErrInvalidSignature = errors.New("storage: invalid signature")
	ErrURLExpired       = errors.New("storage: signed url expired")
)

// PutOptions carries object metadata for uploads.
type PutOptions struct {
	ContentType  string
	Size         int64
	CacheControl string
}

// PresignOptions controls signed download URLs.
type PresignOptions struct {
	Expires            time.Duration
	ContentDisposition string
}

// Store is implemented by every storage backend.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, opts *PutOptions) error
	Delete(ctx context.Context, bucket, key string) error
	PresignedURL(ctx context.Context, bucket, key string, opts *PresignOptions) (string, error)
	PublicURL(bucket, key string) string
}

// Pinger is implemented by backends that can report whether they are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanKey normalises an object key and rejects anything that could escape its bucket.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, `\`) || strings.ContainsRune(key, 0) {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func validateBucket(buckets map[string]struct{}, bucket string) error {
	if _, ok := buckets[bucket]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	return nil
}

func bucketSet(buckets []string) map[string]struct{} {
	if len(buckets) == 0 {
		buckets = []string{BucketProfilePictures, BucketProjectFiles}
	}
	out := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		b = strings.TrimSpace(b)
		if b != "" {
			out[b] = struct{}{}
		}
	}
	return out
}

func presignTTL(opts *PresignOptions) time.Duration {
	if opts == nil || opts.Expires <= 0 {
		return DefaultSignedURLTTL
	}
	return opts.Expires
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Local   LocalConfig
	S3      S3Config
}

// Open builds the backend named by cfg.Backend ("local" or "s3").
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewLocal(cfg.Local)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", cfg.Backend)
	}
}
