package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shipbatch/shipbatch/internal/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache is a Redis-backed TTL cache. It is constructed unconnected so it can
// be injected before process startup finishes; every operation on an
// unconnected (or disconnected) cache is a miss or no-op, never an error.
type Cache struct {
	mu     sync.RWMutex
	client *goredis.Client
}

func NewCache() *Cache {
	return &Cache{}
}

// NewCacheWithClient wraps an already connected client.
func NewCacheWithClient(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Connect(url string) error {
	client, err := NewRedis(url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Cache) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (c *Cache) conn() *goredis.Client {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	client := c.conn()
	if client == nil {
		return nil, false
	}

	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// Not structured data; hand back the opaque string.
		return raw, true
	}
	return decoded, true
}

func (c *Cache) GetInto(ctx context.Context, key string, dest any) bool {
	client := c.conn()
	if client == nil {
		return false
	}

	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	client := c.conn()
	if client == nil {
		return false
	}

	payload, ok := value.(string)
	if !ok {
		encoded, err := json.Marshal(value)
		if err != nil {
			return false
		}
		payload = string(encoded)
	}

	return client.Set(ctx, key, payload, ttl).Err() == nil
}

func (c *Cache) Delete(ctx context.Context, key string) bool {
	client := c.conn()
	if client == nil {
		return false
	}

	deleted, err := client.Del(ctx, key).Result()
	return err == nil && deleted > 0
}

func (c *Cache) Exists(ctx context.Context, key string) bool {
	client := c.conn()
	if client == nil {
		return false
	}

	count, err := client.Exists(ctx, key).Result()
	return err == nil && count > 0
}
