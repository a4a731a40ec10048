package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	deleteTimeout        = 30 * time.Second
	defaultPublicBaseURL = "https://storage.googleapis.com"
)

var (
	// ErrForeignURL marks a URL that does not point into the configured bucket.
	ErrForeignURL    = errors.New("assets: url is not served from the bucket")
	errMissingBucket = errors.New("assets: bucket name is required")
)

// GCSConfig describes the bucket holding user uploads.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	// PublicBaseURL is the prefix public object URLs start with. It defaults
	// to https://storage.googleapis.com/<bucket>.
	PublicBaseURL string
}

// GCSStore removes uploaded objects from a Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
	logger        *zap.Logger
}

// NewGCSStore dials Cloud Storage with read-write scope.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("object storage initialized", zap.String("bucket", bucket))
	return &GCSStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: PublicBaseURL(cfg.PublicBaseURL, bucket),
		logger:        logger,
	}, nil
}

// Delete removes one object. A missing object counts as removed.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

// RemoveByURL deletes the object a public URL points at. URLs outside the
// bucket, such as Google profile pictures, are left alone.
func (s *GCSStore) RemoveByURL(ctx context.Context, rawURL string) error {
	key, err := KeyFromURL(s.publicBaseURL, rawURL)
	if errors.Is(err, ErrForeignURL) {
		s.logger.Debug("skipping foreign asset url", zap.String("url", rawURL))
		return nil
	}
	if err != nil {
		return err
	}
	return s.Delete(ctx, key)
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// NoopStore is used when no bucket is configured.
type NoopStore struct{}

func (NoopStore) RemoveByURL(context.Context, string) error {
	return nil
}

// PublicBaseURL resolves the URL prefix objects of bucket are served under.
func PublicBaseURL(configured, bucket string) string {
	configured = strings.TrimRight(strings.TrimSpace(configured), "/")
	if configured != "" {
		return configured
	}
	return defaultPublicBaseURL + "/" + bucket
}

// KeyFromURL extracts the object key from a public URL under baseURL.
func KeyFromURL(baseURL, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrForeignURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse asset url: %w", err)
	}
	if !strings.EqualFold(target.Host, base.Host) {
		return "", ErrForeignURL
	}
	prefix := strings.TrimRight(base.Path, "/") + "/"
	if !strings.HasPrefix(target.Path, prefix) {
		return "", ErrForeignURL
	}
	key := strings.TrimPrefix(target.Path, prefix)
	if key == "" {
		return "", ErrForeignURL
	}
	return key, nil
}
