package shop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache 配置快照缓存
type Cache interface {
	Get(ctx context.Context, shopID string) (*Config, bool)
	Set(ctx context.Context, cfg *Config) error
}

// RedisCache Redis 缓存
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: "shop:config:", ttl: ttl}
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, shopID string) (*Config, bool) {
	data, err := c.client.Get(ctx, c.prefix+shopID).Bytes()
	if err != nil {
		return nil, false
	}
	var cfg Config
	if json.Unmarshal(data, &cfg) != nil {
		return nil, false
	}
	return &cfg, true
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+cfg.ShopID, data, c.ttl).Err()
}

type memoryEntry struct {
	cfg       *Config
	expiresAt time.Time
}

// MemoryCache 进程内缓存（开发与测试）
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

// Get 读取缓存
func (c *MemoryCache) Get(_ context.Context, shopID string) (*Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[shopID]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.cfg, true
}

// Set 写入缓存
func (c *MemoryCache) Set(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("配置为空")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cfg.ShopID] = memoryEntry{cfg: cfg, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// CachedReader 先查缓存，未命中再回源
type CachedReader struct {
	source ConfigReader
	cache  Cache
	logger *zap.Logger
}

// NewCachedReader 创建带缓存的读取器
func NewCachedReader(source ConfigReader, cache Cache, logger *zap.Logger) *CachedReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedReader{source: source, cache: cache, logger: logger}
}

// GetShopConfig 读取店铺配置
func (r *CachedReader) GetShopConfig(ctx context.Context, shopID string) (*Config, error) {
	if cfg, ok := r.cache.Get(ctx, shopID); ok {
		return cfg, nil
	}

	cfg, err := r.source.GetShopConfig(ctx, shopID)
	if err != nil {
		return nil, err
	}

	// 缓存写入失败不影响本次请求
	if err := r.cache.Set(ctx, cfg); err != nil {
		r.logger.Warn("写入店铺配置缓存失败", zap.String("shop_id", shopID), zap.Error(err))
	}
	return cfg, nil
}
