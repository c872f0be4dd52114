package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	authHandlers "knowledgehub/api/handlers/auth"
	knowledgeHandlers "knowledgehub/api/handlers/knowledge"
	"knowledgehub/internal/auth"
	"knowledgehub/internal/config"
	"knowledgehub/internal/infra"
	"knowledgehub/internal/infra/queue"
	"knowledgehub/internal/ingest"
	"knowledgehub/internal/logger"
	middlewarepkg "knowledgehub/internal/middleware"
	modelSvc "knowledgehub/internal/models"
	"knowledgehub/internal/rag"
	"knowledgehub/internal/rag/parsers"
	"knowledgehub/internal/storage"
	"knowledgehub/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	Config      *config.Config
	DB          *gorm.DB
	RedisClient *redis.Client

	KnowledgeBases *modelSvc.KnowledgeBaseService
	SourceFiles    *modelSvc.SourceFileService
	Users          *modelSvc.UserService

	Blobs     storage.BlobStore
	Gateways  *rag.GatewayFactory
	Publisher queue.Publisher
	Pipeline  *ingest.Pipeline
	Ingest    *ingest.Service

	JWTService  *auth.JWTService
	AuthService *auth.Service

	// GlobalLimiter 全局按客户端限流，配置为 0 时为 nil
	GlobalLimiter *middlewarepkg.RateLimiter
	// RateLimiter 抓取与同步接口限流，配置为 0 时为 nil
	RateLimiter *middlewarepkg.RateLimiter

	// WorkerServer 事件消费者，仅 Redis 启用时创建
	WorkerServer *worker.Server
}

// Handlers HTTP 处理器集合
type Handlers struct {
	Auth      *authHandlers.AuthHandler
	Knowledge *knowledgeHandlers.Handler
}

// NewContainer 按配置打开数据库、Redis 并组装全部服务
func NewContainer(ctx context.Context, cfg *config.Config) (*AppContainer, error) {
	level := gormLogger.Warn
	if cfg.Server.Mode == "debug" {
		level = gormLogger.Info
	}
	db, err := infra.OpenDatabase(&cfg.Database, level)
	if err != nil {
		return nil, err
	}

	c := &AppContainer{Config: cfg, DB: db}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// InitContainer 基于已打开的数据库组装服务，测试与 CLI 复用
func InitContainer(ctx context.Context, db *gorm.DB, cfg *config.Config) (*AppContainer, error) {
	c := &AppContainer{Config: cfg, DB: db}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *AppContainer) init(ctx context.Context) error {
	cfg := c.Config

	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(c.DB, modelSvc.All()...); err != nil {
			return err
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	if err := c.initRedis(ctx); err != nil {
		return err
	}
	if err := c.initIngest(); err != nil {
		return err
	}
	c.initAuth()

	if perSecond := cfg.Server.RateLimitPerSecond; perSecond > 0 {
		c.GlobalLimiter = middlewarepkg.NewRateLimiter(&middlewarepkg.RateLimiterConfig{
			RequestsPerSecond: perSecond,
			BurstSize:         max(perSecond, cfg.Server.RateLimitBurst),
			CleanupInterval:   5 * time.Minute,
		})
	}
	if perMinute := cfg.Ingest.RateLimitPerMinute; perMinute > 0 {
		c.RateLimiter = middlewarepkg.NewRateLimiter(&middlewarepkg.RateLimiterConfig{
			RequestsPerSecond: max(1, perMinute/60),
			RequestsPerMinute: perMinute,
			BurstSize:         max(1, perMinute/6),
			CleanupInterval:   5 * time.Minute,
		})
	}
	return nil
}

// initRedis Redis 可选；启用时事件经 asynq 发布并由 worker 消费
func (c *AppContainer) initRedis(ctx context.Context) error {
	cfg := c.Config
	if !cfg.Redis.Enabled {
		c.Publisher = queue.NoopPublisher{}
		logger.Info("Redis 未启用，知识库事件不对外发布")
		return nil
	}

	rdb, err := infra.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	c.RedisClient = rdb
	c.Publisher = queue.NewPublisher(cfg.Redis)
	c.WorkerServer = worker.NewServer(cfg.Redis, cfg.Sync.EventWorkers, logger.Get())
	return nil
}

func (c *AppContainer) initIngest() error {
	cfg := c.Config

	blobs, err := storage.NewLocalBlobStore(cfg.Storage.BasePath)
	if err != nil {
		return err
	}
	c.Blobs = blobs

	// pgvector 与元数据共用 Postgres，sqlite 下不注册
	var vectorDB *gorm.DB
	if cfg.Database.Driver == "postgres" {
		vectorDB = c.DB
	}
	c.Gateways, err = rag.NewDefaultGatewayFactory(cfg.RAG, vectorDB, c.RedisClient)
	if err != nil {
		return fmt.Errorf("初始化向量库网关失败: %w", err)
	}
	logger.Info("向量库网关已注册",
		zap.Strings("embedding_models", c.Gateways.EmbeddingModels()),
		zap.Strings("vector_stores", c.Gateways.VectorStores()),
	)

	c.KnowledgeBases = modelSvc.NewKnowledgeBaseService(c.DB)
	c.SourceFiles = modelSvc.NewSourceFileService(c.DB)

	c.Pipeline, err = ingest.NewPipeline(ingest.PipelineDeps{
		KnowledgeBases: c.KnowledgeBases,
		Files:          c.SourceFiles,
		Blobs:          c.Blobs,
		Parsers:        parsers.NewRegistry(),
		Splitter:       rag.NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		Gateways:       c.Gateways,
		Publisher:      c.Publisher,
		ExtractWorkers: cfg.Sync.ExtractWorkers,
		StaleAfter:     cfg.Sync.StaleAfter(),
	})
	if err != nil {
		return err
	}

	c.Ingest = ingest.NewService(ingest.ServiceDeps{
		KnowledgeBases: c.KnowledgeBases,
		Files:          c.SourceFiles,
		Blobs:          c.Blobs,
		Gateways:       c.Gateways,
		Fetcher:        ingest.NewFetcher(cfg.Ingest),
		Pipeline:       c.Pipeline,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	})
	return nil
}

func (c *AppContainer) initAuth() {
	cfg := c.Config
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = "knowledgehub-dev-secret"
		logger.Warn("未配置 auth.jwt_secret，使用开发默认值")
	}

	// rdb 为 nil 时黑名单为空操作
	var blacklist redis.UniversalClient
	if c.RedisClient != nil {
		blacklist = c.RedisClient
	}
	c.JWTService = auth.NewJWTService(secret, cfg.Auth.Issuer, cfg.Auth.AccessTTL(), blacklist)
	c.Users = modelSvc.NewUserService(c.DB)
	c.AuthService = auth.NewService(c.Users, c.JWTService)
}

// InitHandlers 创建 HTTP 处理器
func (c *AppContainer) InitHandlers() *Handlers {
	return &Handlers{
		Auth:      authHandlers.NewAuthHandler(c.AuthService),
		Knowledge: knowledgeHandlers.NewHandler(c.Ingest),
	}
}

// Close 按依赖逆序释放资源
func (c *AppContainer) Close() error {
	var errs []error
	if c.WorkerServer != nil {
		c.WorkerServer.Shutdown()
	}
	if c.GlobalLimiter != nil {
		c.GlobalLimiter.Stop()
	}
	if c.RateLimiter != nil {
		c.RateLimiter.Stop()
	}
	if c.Pipeline != nil {
		c.Pipeline.Release()
	}
	if c.Gateways != nil {
		if err := c.Gateways.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭向量库客户端: %w", err))
		}
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭事件发布者: %w", err))
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 Redis: %w", err))
		}
	}
	if err := infra.CloseDatabase(c.DB); err != nil {
		errs = append(errs, fmt.Errorf("关闭数据库: %w", err))
	}
	return errors.Join(errs...)
}
