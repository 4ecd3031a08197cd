package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ObjectStore persists uploads to an S3-compatible bucket. Production
// deployments point this at MinIO or any S3 endpoint.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  zerolog.Logger
}

// NewObjectStore connects to the configured endpoint and ensures the bucket
// exists.
func NewObjectStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	return &ObjectStore{
		client:  client,
		bucket:  cfg.S3Bucket,
		baseURL: strings.TrimRight(cfg.StorageBaseURL, "/"),
		logger:  logger,
	}, nil
}

// Save uploads the bytes under scope/filename and returns the public URL.
func (s *ObjectStore) Save(ctx context.Context, scope, filename string, data []byte, contentType string) (string, error) {
	key, err := sanitizeKey(scope + "/" + filename)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// Cleanup removes every object under the scope prefix, logging failures.
func (s *ObjectStore) Cleanup(ctx context.Context, scope string) {
	prefix, err := sanitizeKey(scope)
	if err != nil {
		s.logger.Warn().Err(err).Str("scope", scope).Msg("storage cleanup skipped")
		return
	}
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			s.logger.Error().Err(obj.Err).Str("scope", scope).Msg("storage cleanup list failed")
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			s.logger.Error().Err(err).Str("key", obj.Key).Msg("storage cleanup delete failed")
		}
	}
}
