package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/redis/go-redis/v9"
)

// TokenStore maps page_id to its page access token
type TokenStore interface {
	Put(ctx context.Context, pageID, token string, ttl time.Duration) error
	// Get returns "" and no error when no token is stored
	Get(ctx context.Context, pageID string) (string, error)
	Delete(ctx context.Context, pageID string) error
	PageIDs(ctx context.Context) ([]string, error)
}

// RedisTokenStore keeps page tokens in redis under {prefix}page_token:{page_id}
type RedisTokenStore struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisTokenStore creates a redis backed token store
func NewRedisTokenStore(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisTokenStore {
	if defaultTTL <= 0 {
		defaultTTL = utils.PageTokenTTL
	}
	return &RedisTokenStore{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func (s *RedisTokenStore) key(pageID string) string {
	return s.prefix + "page_token:" + pageID
}

// Put stores a token; a non-positive ttl uses the store default
func (s *RedisTokenStore) Put(ctx context.Context, pageID, token string, ttl time.Duration) error {
	if pageID == "" || token == "" {
		return errors.New("page id and token are required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.client.Set(ctx, s.key(pageID), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token for page %s: %w", pageID, err)
	}
	return nil
}

func (s *RedisTokenStore) Get(ctx context.Context, pageID string) (string, error) {
	token, err := s.client.Get(ctx, s.key(pageID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token for page %s: %w", pageID, err)
	}
	return token, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, pageID string) error {
	if err := s.client.Del(ctx, s.key(pageID)).Err(); err != nil {
		return fmt.Errorf("failed to delete token for page %s: %w", pageID, err)
	}
	return nil
}

// PageIDs lists every page that currently has a token
func (s *RedisTokenStore) PageIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	match := s.key("*")
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan page tokens: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len(s.key("")):])
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}
