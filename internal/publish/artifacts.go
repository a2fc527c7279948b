package publish

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"celigo/internal/config"
)

// ArtifactStore uploads one file produced for a work unit and returns its
// file id.
type ArtifactStore interface {
	Upload(ctx context.Context, workUnitID, path string) (string, error)
}

// S3Store uploads artifacts to an S3-compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string

	mu    sync.Mutex
	ready bool
}

// NewS3Store builds a store from the storage config section. No request is
// made until the first upload.
func NewS3Store(cfg config.Storage) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

// ensureBucket creates the bucket on first use. Only success is remembered;
// a failed check is retried by the next upload.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist yet", s.bucket)
	}
	return nil
}

// Upload puts path under <prefix>/<workUnitID>/<base name>. The file id is
// bucket/key@etag.
func (s *S3Store) Upload(ctx context.Context, workUnitID, path string) (string, error) {
	workUnitID = strings.TrimSpace(workUnitID)
	if workUnitID == "" {
		return "", fmt.Errorf("work unit id is required")
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}

	key := objectKey(s.prefix, workUnitID, path)
	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return FileID(s.bucket, key, info.ETag), nil
}

// FileID formats the identifier recorded for an uploaded object.
func FileID(bucket, key, etag string) string {
	return bucket + "/" + key + "@" + strings.Trim(etag, `"`)
}

func objectKey(prefix, workUnitID, path string) string {
	parts := []string{workUnitID, filepath.Base(path)}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".csv":
		return "text/csv"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
