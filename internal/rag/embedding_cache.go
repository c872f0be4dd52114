package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"knowledgehub/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache 向量缓存：进程内 L1 + Redis L2
type EmbeddingCache struct {
	redis        redis.Cmdable
	prefix       string
	ttl          time.Duration
	maxLocalSize int

	mu    sync.Mutex
	local map[string][]float32
}

// CachedEmbedding Redis 中保存的向量
type CachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存，redisClient 为 nil 时只使用本地缓存
func NewEmbeddingCache(redisClient redis.Cmdable, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "kbhub:emb:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:        redisClient,
		prefix:       prefix,
		ttl:          ttl,
		maxLocalSize: 10000,
		local:        make(map[string][]float32),
	}
}

// Get 获取缓存的向量
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	c.mu.Lock()
	vec, ok := c.local[key]
	c.mu.Unlock()
	if ok {
		return vec, true
	}

	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.WithContext(ctx).Warn("读取向量缓存失败", zap.Error(err))
		}
		return nil, false
	}
	var cached CachedEmbedding
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	c.setLocal(key, cached.Vector)
	return cached.Vector, true
}

// Set 设置缓存
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) error {
	key := c.makeKey(text, model)
	c.setLocal(key, vector)

	if c.redis == nil {
		return nil
	}
	data, err := json.Marshal(CachedEmbedding{Vector: vector, Model: model, CreatedAt: time.Now()})
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, data, c.ttl).Err()
}

// makeKey 生成缓存键
func (c *EmbeddingCache) makeKey(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16]) // 只取前 16 字节
}

// setLocal 本地缓存已满时整体清空
func (c *EmbeddingCache) setLocal(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.local) >= c.maxLocalSize {
		c.local = make(map[string][]float32)
	}
	c.local[key] = vector
}

// CachedEmbeddingProvider 带缓存的 Embedding 提供者包装器
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 提供者
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{provider: provider, cache: cache}
}

func (p *CachedEmbeddingProvider) cacheModel() string {
	return p.provider.GetProviderName() + "/" + p.provider.GetModel()
}

// Embed 单条向量化 (带缓存)
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化，只对未命中的去重文本调用底层模型
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.cacheModel()
	result := make([][]float32, len(texts))

	pending := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if vec, ok := p.cache.Get(ctx, text, model); ok {
			result[i] = vec
			continue
		}
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(missing) == 0 {
		return result, nil
	}

	vectors, err := p.provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("向量数量不匹配: 期望%d, 实际%d", len(missing), len(vectors))
	}

	for i, text := range missing {
		if err := p.cache.Set(ctx, text, model, vectors[i]); err != nil {
			logger.WithContext(ctx).Warn("写入向量缓存失败", zap.Error(err))
		}
		for _, idx := range pending[text] {
			result[idx] = vectors[i]
		}
	}
	return result, nil
}

// GetModel 获取模型名称
func (p *CachedEmbeddingProvider) GetModel() string {
	return p.provider.GetModel()
}

// GetProviderName 获取提供者名称
func (p *CachedEmbeddingProvider) GetProviderName() string {
	return p.provider.GetProviderName()
}
