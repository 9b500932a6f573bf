package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/macroscope/macroscope/pkg/crypto"
	"github.com/macroscope/macroscope/pkg/logger"
)

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	Root          string
	BaseURL       string
	SigningSecret string
	Buckets       []string
	PublicBuckets []string
	Clock         func() time.Time
}

// Local stores objects under Root/<bucket>/<key> and signs download URLs with HMAC.
type Local struct {
	root    string
	baseURL string
	secret  []byte
	buckets map[string]struct{}
	public  map[string]struct{}
	now     func() time.Time
}

// NewLocal creates the bucket directories under cfg.Root.
func NewLocal(cfg LocalConfig) (*Local, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, errors.New("storage: local root is required")
	}
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return nil, errors.New("storage: signing secret is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}

	buckets := bucketSet(cfg.Buckets)
	for bucket := range buckets {
		if err := os.MkdirAll(filepath.Join(abs, bucket), 0o750); err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
		}
	}

	public := make(map[string]struct{}, len(cfg.PublicBuckets))
	for _, b := range cfg.PublicBuckets {
		public[b] = struct{}{}
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Local{
		root:    abs,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.SigningSecret),
		buckets: buckets,
		public:  public,
		now:     now,
	}, nil
}

// Ping verifies the storage root is still a directory.
func (l *Local) Ping(context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: root %s is not a directory", l.root)
	}
	return nil
}

// Put writes body to a temporary file and renames it into place.
func (l *Local) Put(ctx context.Context, bucket, key string, body io.Reader, _ *PutOptions) error {
	target, err := l.FullPath(bucket, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close object: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: commit object: %w", err)
	}
	return nil
}

// Delete removes an object. Missing objects report ErrObjectNotFound.
func (l *Local) Delete(ctx context.Context, bucket, key string) error {
	target, err := l.FullPath(bucket, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("storage: delete object: %w", err)
	}
	return nil
}

// PresignedURL returns /files/<bucket>/<key>?expires=<unix>&sig=<hmac>[&disposition=<value>].
// The disposition is covered by the signature.
func (l *Local) PresignedURL(_ context.Context, bucket, key string, opts *PresignOptions) (string, error) {
	cleaned, err := l.checkedKey(bucket, key)
	if err != nil {
		return "", err
	}

	expires := l.now().Add(presignTTL(opts)).Unix()
	disposition := ""
	if opts != nil {
		disposition = opts.ContentDisposition
	}

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", crypto.Sign(l.secret, signaturePayload(bucket, cleaned, expires, disposition)))
	if disposition != "" {
		query.Set("disposition", disposition)
	}
	return l.objectURL(bucket, cleaned) + "?" + query.Encode(), nil
}

// PublicURL returns the unsigned URL of an object. Only public buckets serve it.
func (l *Local) PublicURL(bucket, key string) string {
	cleaned, err := l.checkedKey(bucket, key)
	if err != nil {
		return ""
	}
	return l.objectURL(bucket, cleaned)
}

// IsPublic reports whether objects in bucket may be served without a signature.
func (l *Local) IsPublic(bucket string) bool {
	_, ok := l.public[bucket]
	return ok
}

// Verify checks the expires, disposition and sig query values produced by PresignedURL.
func (l *Local) Verify(bucket, key string, query url.Values) error {
	cleaned, err := l.checkedKey(bucket, key)
	if err != nil {
		return err
	}

	unix, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	payload := signaturePayload(bucket, cleaned, unix, query.Get("disposition"))
	if !crypto.VerifySignature(l.secret, payload, query.Get("sig")) {
		return ErrInvalidSignature
	}
	if l.now().Unix() > unix {
		return ErrURLExpired
	}
	return nil
}

// FullPath resolves an object to its location on disk.
func (l *Local) FullPath(bucket, key string) (string, error) {
	cleaned, err := l.checkedKey(bucket, key)
	if err != nil {
		return "", err
	}

	bucketRoot := filepath.Join(l.root, bucket)
	target := filepath.Join(bucketRoot, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(bucketRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		logger.WithModule("storage").Warn("rejected object path outside bucket",
			zap.String("bucket", bucket),
			zap.String("key", key),
		)
		return "", ErrInvalidKey
	}
	return target, nil
}

func (l *Local) checkedKey(bucket, key string) (string, error) {
	if err := validateBucket(l.buckets, bucket); err != nil {
		return "", err
	}
	return CleanKey(key)
}

func (l *Local) objectURL(bucket, key string) string {
	escaped := make([]string, 0)
	for _, segment := range strings.Split(key, "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return fmt.Sprintf("%s/files/%s/%s", l.baseURL, url.PathEscape(bucket), strings.Join(escaped, "/"))
}

func signaturePayload(bucket, key string, expires int64, disposition string) string {
	return bucket + "/" + key + "\n" + strconv.FormatInt(expires, 10) + "\n" + disposition
}
