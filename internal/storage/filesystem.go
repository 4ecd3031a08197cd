package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FileStore persists uploads onto the local filesystem and serves them back
// through the static file route. It is the default backend for development
// and single-node deployments.
type FileStore struct {
	basePath string
	baseURL  string
	logger   zerolog.Logger
}

// NewFileStore initializes a FileStore rooted at basePath. References
// returned by Save are baseURL plus the scoped key.
func NewFileStore(basePath, baseURL string, logger zerolog.Logger) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	return s.basePath
}

// Save writes the bytes under scope/filename and returns the public URL.
// Keys are cleaned to prevent directory traversal.
func (s *FileStore) Save(ctx context.Context, scope, filename string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := sanitizeKey(scope + "/" + filename)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// Cleanup removes every file under the scope. Failures are logged and
// swallowed: cleanup runs on deletion paths where nothing can act on the
// error anyway.
func (s *FileStore) Cleanup(ctx context.Context, scope string) {
	key, err := sanitizeKey(scope)
	if err != nil {
		s.logger.Warn().Err(err).Str("scope", scope).Msg("storage cleanup skipped")
		return
	}
	dir := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error().Err(err).Str("scope", scope).Msg("storage cleanup failed")
	}
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
