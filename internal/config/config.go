package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	RAG      RagConfig      `mapstructure:"rag"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// 全局按客户端限流，0 不限流
	RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	Issuer           string `mapstructure:"issuer"`
	AccessTTLMinutes int    `mapstructure:"access_ttl_minutes"`
}

// StorageConfig 源文件存储配置
type StorageConfig struct {
	BasePath string `mapstructure:"base_path"` // 默认 ./resources
}

// RagConfig 切分与向量化配置
type RagConfig struct {
	ChunkSize      int                  `mapstructure:"chunk_size"`
	ChunkOverlap   int                  `mapstructure:"chunk_overlap"`
	OpenAI         OpenAIConfig         `mapstructure:"openai"`
	Gemini         GeminiConfig         `mapstructure:"gemini"`
	Qdrant         QdrantConfig         `mapstructure:"qdrant"`
	PGVector       PGVectorConfig       `mapstructure:"pgvector"`
	EmbeddingCache EmbeddingCacheConfig `mapstructure:"embedding_cache"`
}

// OpenAIConfig OpenAI 向量模型配置
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// GeminiConfig Gemini 向量模型配置
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// QdrantConfig Qdrant 外部向量数据库配置
type QdrantConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Distance       string `mapstructure:"distance"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PGVectorConfig pgvector 配置
type PGVectorConfig struct {
	Dimension int `mapstructure:"dimension"`
}

// EmbeddingCacheConfig 向量缓存配置（依赖 Redis）
type EmbeddingCacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLMinutes int  `mapstructure:"ttl_minutes"`
}

// IngestConfig 上传与网页抓取配置
type IngestConfig struct {
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	MaxUploadBytes      int64  `mapstructure:"max_upload_bytes"`
	RateLimitPerMinute  int    `mapstructure:"rate_limit_per_minute"` // 抓取与同步接口，0 不限流
}

// SyncConfig 同步流水线配置
type SyncConfig struct {
	ExtractWorkers    int `mapstructure:"extract_workers"`
	StaleAfterMinutes int `mapstructure:"stale_after_minutes"`
	EventWorkers      int `mapstructure:"event_workers"` // 事件消费并发，仅 Redis 启用时生效
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")
	setDefaults(v)

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.rate_limit_per_second", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "knowledgehub.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("auth.issuer", "knowledgehub")
	v.SetDefault("auth.access_ttl_minutes", 30)
	v.SetDefault("storage.base_path", "./resources")
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.openai.model", "text-embedding-3-small")
	v.SetDefault("rag.gemini.model", "text-embedding-004")
	v.SetDefault("rag.qdrant.distance", "Cosine")
	v.SetDefault("rag.qdrant.timeout_seconds", 30)
	v.SetDefault("rag.pgvector.dimension", 1536)
	v.SetDefault("rag.embedding_cache.ttl_minutes", 1440)
	v.SetDefault("ingest.fetch_timeout_seconds", 10)
	v.SetDefault("ingest.user_agent", "knowledgehub-fetcher/1.0")
	v.SetDefault("ingest.max_upload_bytes", 32<<20)
	v.SetDefault("ingest.rate_limit_per_minute", 30)
	v.SetDefault("sync.extract_workers", 4)
	v.SetDefault("sync.stale_after_minutes", 30)
	v.SetDefault("sync.event_workers", 2)
}

// Validate 校验配置并补齐缺省值
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "postgres":
		c.Database.Driver = "postgres"
	case "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if c.Auth.AccessTTLMinutes <= 0 {
		c.Auth.AccessTTLMinutes = 30
	}
	if c.Storage.BasePath == "" {
		c.Storage.BasePath = "./resources"
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap < 0 {
		c.RAG.ChunkOverlap = 0
	}
	if c.Ingest.FetchTimeoutSeconds <= 0 {
		c.Ingest.FetchTimeoutSeconds = 10
	}
	if c.Sync.ExtractWorkers <= 0 {
		c.Sync.ExtractWorkers = 4
	}
	if c.RAG.EmbeddingCache.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("rag.embedding_cache 依赖 redis.enabled=true")
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr Redis 地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccessTTL 访问令牌有效期
func (c *AuthConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

// FetchTimeout 网页抓取超时
func (c *IngestConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// StaleAfter 同步中状态的过期时间，0 表示永不接管
func (c *SyncConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}
