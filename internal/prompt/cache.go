package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"promptnotify/internal/domain"
)

// Cache stores content lookups. A nil content is a cached miss.
type Cache interface {
	Get(ctx context.Context, key string) (content *domain.PromptContent, ok bool, err error)
	Set(ctx context.Context, key string, content *domain.PromptContent) error
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.PromptContent, bool, error) {
	return nil, false, nil
}
func (NopCache) Set(context.Context, string, *domain.PromptContent) error { return nil }

type cachedContent struct {
	Missing bool                  `json:"missing,omitempty"`
	Content *domain.PromptContent `json:"content,omitempty"`
}

// RedisCache keeps JSON-encoded content in redis.
type RedisCache struct {
	rdb     redis.Cmdable
	prefix  string
	ttl     time.Duration
	missTTL time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl, missTTL time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if missTTL <= 0 {
		missTTL = time.Minute
	}
	return &RedisCache{rdb: rdb, prefix: "promptnotify:content:", ttl: ttl, missTTL: missTTL}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.PromptContent, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v cachedContent
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false, err
	}
	if v.Missing {
		return nil, true, nil
	}
	return v.Content, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, content *domain.PromptContent) error {
	v := cachedContent{Missing: content == nil, Content: content}
	ttl := c.ttl
	if content == nil {
		ttl = c.missTTL
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, b, ttl).Err()
}
