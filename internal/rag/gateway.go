package rag

import (
	"errors"
	"sort"
	"sync"
	"time"

	"knowledgehub/internal/config"

	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// EmbeddingBuilder 构造向量模型
type EmbeddingBuilder func() (EmbeddingProvider, error)

// StoreBuilder 基于向量模型构造向量库网关
type StoreBuilder func(embedder EmbeddingProvider) (VectorStore, error)

// GatewayFactory 根据知识库的 embedding_model / vector_store 选择器组装网关
type GatewayFactory struct {
	mu         sync.Mutex
	embeddings map[string]EmbeddingBuilder
	stores     map[string]StoreBuilder
	built      map[string]EmbeddingProvider
	closers    []func() error
}

// NewGatewayFactory 创建空工厂
func NewGatewayFactory() *GatewayFactory {
	return &GatewayFactory{
		embeddings: make(map[string]EmbeddingBuilder),
		stores:     make(map[string]StoreBuilder),
		built:      make(map[string]EmbeddingProvider),
	}
}

// RegisterEmbedding 注册向量模型
func (f *GatewayFactory) RegisterEmbedding(name string, builder EmbeddingBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[name] = builder
	delete(f.built, name)
}

// RegisterStore 注册向量库
func (f *GatewayFactory) RegisterStore(name string, builder StoreBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[name] = builder
}

// OnClose 登记工厂关闭时需要释放的客户端
func (f *GatewayFactory) OnClose(fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closers = append(f.closers, fn)
}

// Close 释放已构造的客户端连接
func (f *GatewayFactory) Close() error {
	f.mu.Lock()
	closers := f.closers
	f.closers = nil
	f.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate 检查选择器是否已注册，不构造任何客户端
func (f *GatewayFactory) Validate(embeddingModel, vectorStore string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.embeddings[embeddingModel]; !ok {
		return &ConfigurationError{Kind: "embedding_model", Value: embeddingModel}
	}
	if _, ok := f.stores[vectorStore]; !ok {
		return &ConfigurationError{Kind: "vector_store", Value: vectorStore}
	}
	return nil
}

// Resolve 组装向量库网关；向量模型实例按名称复用
func (f *GatewayFactory) Resolve(embeddingModel, vectorStore string) (VectorStore, error) {
	if err := f.Validate(embeddingModel, vectorStore); err != nil {
		return nil, err
	}

	f.mu.Lock()
	embedder, ok := f.built[embeddingModel]
	buildEmbedding := f.embeddings[embeddingModel]
	buildStore := f.stores[vectorStore]
	f.mu.Unlock()

	if !ok {
		var err error
		embedder, err = buildEmbedding()
		if err != nil {
			return nil, &ConfigurationError{Kind: "embedding_model", Value: embeddingModel, Err: err}
		}
		f.mu.Lock()
		f.built[embeddingModel] = embedder
		f.mu.Unlock()
	}

	store, err := buildStore(embedder)
	if err != nil {
		return nil, &ConfigurationError{Kind: "vector_store", Value: vectorStore, Err: err}
	}
	return store, nil
}

// EmbeddingModels 已注册的向量模型
func (f *GatewayFactory) EmbeddingModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.embeddings)
}

// VectorStores 已注册的向量库
func (f *GatewayFactory) VectorStores() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.stores)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewDefaultGatewayFactory 注册 openai/gemini 与 pgvector/qdrant
//
// 客户端在首次 Resolve 时才构造，缺少 API Key 只影响引用它的知识库。
// rdb 非空且启用缓存时，向量模型外包一层 Redis 缓存。
func NewDefaultGatewayFactory(cfg config.RagConfig, db *gorm.DB, rdb *redis.Client) (*GatewayFactory, error) {
	f := NewGatewayFactory()

	var cache *EmbeddingCache
	if cfg.EmbeddingCache.Enabled && rdb != nil {
		cache = NewEmbeddingCache(rdb, "", time.Duration(cfg.EmbeddingCache.TTLMinutes)*time.Minute)
	}
	wrap := func(p EmbeddingProvider) EmbeddingProvider {
		if cache == nil {
			return p
		}
		return NewCachedEmbeddingProvider(p, cache)
	}

	f.RegisterEmbedding(EmbeddingOpenAI, func() (EmbeddingProvider, error) {
		p, err := NewOpenAIEmbeddingProvider(OpenAIOptions{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			return nil, err
		}
		return wrap(p), nil
	})
	f.RegisterEmbedding(EmbeddingGemini, func() (EmbeddingProvider, error) {
		p, err := NewGeminiEmbeddingProvider(GeminiOptions{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
		})
		if err != nil {
			return nil, err
		}
		return wrap(p), nil
	})

	if db != nil {
		if err := MigratePGVector(db); err != nil {
			return nil, err
		}
		f.RegisterStore(StorePGVector, func(embedder EmbeddingProvider) (VectorStore, error) {
			return NewPGVectorStore(db, embedder, PGVectorOptions{Dimension: cfg.PGVector.Dimension})
		})
	}
	if cfg.Qdrant.Endpoint != "" {
		opts := QdrantOptions{
			Endpoint:       cfg.Qdrant.Endpoint,
			APIKey:         cfg.Qdrant.APIKey,
			Distance:       cfg.Qdrant.Distance,
			TimeoutSeconds: cfg.Qdrant.TimeoutSeconds,
		}
		// gRPC 连接在所有 Qdrant 知识库之间共享
		var (
			clientMu sync.Mutex
			client   *qdrant.Client
		)
		f.RegisterStore(StoreQdrant, func(embedder EmbeddingProvider) (VectorStore, error) {
			clientMu.Lock()
			defer clientMu.Unlock()
			if client == nil {
				c, err := NewQdrantClient(opts)
				if err != nil {
					return nil, err
				}
				client = c
				f.OnClose(c.Close)
			}
			return NewQdrantStore(client, embedder, opts)
		})
	}
	return f, nil
}
