package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tourism-assistant/internal/models"
)

// Store persists session memories by session id. Load returns nil, nil for an unknown session.
type Store interface {
	Load(ctx context.Context, sessionID string) (*models.Memory, error)
	Save(ctx context.Context, mem *models.Memory, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// InMemoryStore keeps memories in a map owned by the store instance. Values are cloned on
// the way in and out so callers never share a memory by reference.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Memory
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Memory)}
}

func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return mem.Clone(), nil
}

// Save ignores ttl; expiry is enforced by the manager on access.
func (s *InMemoryStore) Save(ctx context.Context, mem *models.Memory, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[mem.SessionID] = mem.Clone()
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RedisStore keeps each memory as a JSON document under <prefix>:session:<id>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "assistant"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*models.Memory, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	var mem models.Memory
	if err := sonic.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if mem.Entities == nil {
		mem.Entities = make(map[string]models.RememberedEntity)
	}
	return &mem, nil
}

// Save writes the memory with a Redis expiry mirroring the session TTL.
func (s *RedisStore) Save(ctx context.Context, mem *models.Memory, ttl time.Duration) error {
	data, err := sonic.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", mem.SessionID, err)
	}
	if err := s.client.Set(ctx, s.key(mem.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("set session %s: %w", mem.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
