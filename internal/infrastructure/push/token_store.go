package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"heartline/internal/core/domain"
)

const (
	userTokensKeyFmt = "heartline:push:user:%s:tokens"
	tokenExpiry      = 30 * 24 * time.Hour
)

// RedisTokenStore keeps device tokens in a per-user Redis set. Tokens
// expire after 30 days without re-registration.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func userTokensKey(userID domain.UserID) string {
	return fmt.Sprintf(userTokensKeyFmt, userID)
}

func (s *RedisTokenStore) Tokens(ctx context.Context, userID domain.UserID) ([]string, error) {
	tokens, err := s.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read push tokens: %w", err)
	}
	return tokens, nil
}

func (s *RedisTokenStore) Register(ctx context.Context, userID domain.UserID, token string) error {
	key := userTokensKey(userID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, token)
	pipe.Expire(ctx, key, tokenExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Remove(ctx context.Context, userID domain.UserID, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	members := make([]interface{}, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	if err := s.client.SRem(ctx, userTokensKey(userID), members...).Err(); err != nil {
		return fmt.Errorf("failed to remove push tokens: %w", err)
	}
	return nil
}

// MemoryTokenStore is an in-process token store for tests and
// deployments without Redis.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[domain.UserID]map[string]struct{}
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[domain.UserID]map[string]struct{}),
	}
}

func (s *MemoryTokenStore) Tokens(ctx context.Context, userID domain.UserID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.tokens[userID]
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (s *MemoryTokenStore) Register(ctx context.Context, userID domain.UserID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens[userID] == nil {
		s.tokens[userID] = make(map[string]struct{})
	}
	s.tokens[userID][token] = struct{}{}
	return nil
}

func (s *MemoryTokenStore) Remove(ctx context.Context, userID domain.UserID, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tokens {
		delete(s.tokens[userID], t)
	}
	return nil
}

var (
	_ TokenStore = (*RedisTokenStore)(nil)
	_ TokenStore = (*MemoryTokenStore)(nil)
)
