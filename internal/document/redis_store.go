// Package document holds the customer's evolving site document. One Redis
// hash per session, one field per section: writers touch single fields so the
// wizard UI and the merge engine can edit different sections concurrently
// without clobbering each other.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"server/internal/domain"
)

const metaCreatedField = "_created_at"

// RedisStore implements domain.DocumentStore on a Redis hash per session.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a document store from an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID + ":document"
}

// EnsureDocument creates an empty document for the session if none exists.
func (s *RedisStore) EnsureDocument(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if err := s.client.HSetNX(ctx, s.key(sessionID), metaCreatedField, time.Now().UTC().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("ensure document: %w", err)
	}
	return nil
}

// Exists reports whether the session has a document.
func (s *RedisStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	return n > 0, nil
}

// GetSection returns the raw JSON stored for one section, nil when unset.
func (s *RedisStore) GetSection(ctx context.Context, sessionID, section string) (json.RawMessage, error) {
	val, err := s.client.HGet(ctx, s.key(sessionID), section).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get section %s: %w", section, err)
	}
	return json.RawMessage(val), nil
}

// SetSection overwrites exactly one section. The document must already exist;
// writing a section never implicitly creates a document, so a deleted session
// cannot be resurrected by a late merge.
func (s *RedisStore) SetSection(ctx context.Context, sessionID, section string, data json.RawMessage) error {
	if section == "" || section[0] == '_' {
		return fmt.Errorf("%w: invalid section name %q", domain.ErrValidation, section)
	}
	exists, err := s.Exists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("document for session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err := s.client.HSet(ctx, s.key(sessionID), section, string(data)).Err(); err != nil {
		return fmt.Errorf("set section %s: %w", section, err)
	}
	return nil
}

// GetDocument returns all populated sections keyed by name.
func (s *RedisStore) GetDocument(ctx context.Context, sessionID string) (map[string]json.RawMessage, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("document for session %s: %w", sessionID, domain.ErrNotFound)
	}
	doc := make(map[string]json.RawMessage, len(fields))
	for name, val := range fields {
		if name == metaCreatedField {
			continue
		}
		doc[name] = json.RawMessage(val)
	}
	return doc, nil
}

// DeleteDocument removes the session's document.
func (s *RedisStore) DeleteDocument(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

var _ domain.DocumentStore = (*RedisStore)(nil)
