// Package session keeps the working copy of in-progress wizard sessions so an
// interrupted session can be resumed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"avatarstudio/api/internal/store"
)

// Draft is the resumable part of a wizard: the field values and the step.
// Draft-local knowledge files are deliberately absent; their bytes live only
// in the session that uploaded them.
type Draft struct {
	SessionID string        `json:"session_id,omitempty"`
	ProfileID string        `json:"profile_id,omitempty"`
	OwnerID   string        `json:"owner_id"`
	Mode      string        `json:"mode"`
	Step      int           `json:"step"`
	Profile   store.Profile `json:"profile"`
	SavedAt   time.Time     `json:"saved_at"`
}

// ErrDraftNotFound is returned by Load when no draft exists for the key.
var ErrDraftNotFound = errors.New("draft not found")

// RedisDraftStore implements draft storage using Redis
type RedisDraftStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDraftStore connects to redisURL and verifies the connection.
func NewRedisDraftStore(redisURL string, ttl time.Duration) (*RedisDraftStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisDraftStoreWithClient(client, ttl), nil
}

// NewRedisDraftStoreWithClient creates a store from an existing Redis client
func NewRedisDraftStoreWithClient(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDraftStore{
		client: client,
		prefix: "wizard:draft:",
		ttl:    ttl,
	}
}

func (s *RedisDraftStore) key(draftKey string) string {
	return s.prefix + draftKey
}

// Client exposes the underlying connection so other Redis consumers (the
// change feed) can share it.
func (s *RedisDraftStore) Client() *redis.Client {
	return s.client
}

// Save stores draft under key, refreshing its expiry.
func (s *RedisDraftStore) Save(ctx context.Context, key string, draft Draft) error {
	if draft.SavedAt.IsZero() {
		draft.SavedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load returns the draft stored under key.
func (s *RedisDraftStore) Load(ctx context.Context, key string) (Draft, error) {
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}
	var draft Draft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return Draft{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	return draft, nil
}

// Clear deletes the draft stored under key.
func (s *RedisDraftStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisDraftStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisDraftStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryDraftStore keeps drafts in process memory. It is used when Redis is
// not configured.
type MemoryDraftStore struct {
	mu     sync.Mutex
	drafts map[string]Draft
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string]Draft)}
}

func (s *MemoryDraftStore) Save(_ context.Context, key string, draft Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if draft.SavedAt.IsZero() {
		draft.SavedAt = time.Now().UTC()
	}
	draft.Profile = draft.Profile.Clone()
	s.drafts[key] = draft
	return nil
}

func (s *MemoryDraftStore) Load(_ context.Context, key string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[key]
	if !ok {
		return Draft{}, ErrDraftNotFound
	}
	draft.Profile = draft.Profile.Clone()
	return draft, nil
}

func (s *MemoryDraftStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
	return nil
}
