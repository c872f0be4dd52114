package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pgInsertBatchSize = 200

// VectorRecord kb_vectors 表中的一条分块向量
type VectorRecord struct {
	ID             string            `gorm:"type:varchar(64);primaryKey"`
	Namespace      string            `gorm:"type:varchar(128);not null;index:idx_kb_vectors_namespace"`
	Content        string            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	Embedding      pgvector.Vector   `gorm:"type:vector"`
	EmbeddingModel string            `gorm:"type:varchar(100)"`
	CreatedAt      time.Time         `gorm:"not null"`
}

// TableName 指定表名
func (VectorRecord) TableName() string {
	return "kb_vectors"
}

// PGVectorStore 基于PostgreSQL pgvector扩展的向量存储实现
type PGVectorStore struct {
	db        *gorm.DB
	embedder  EmbeddingProvider
	dimension int
}

// PGVectorOptions pgvector 配置
type PGVectorOptions struct {
	// Dimension 大于 0 时校验向量维度
	Dimension   int
	AutoMigrate bool
}

// NewPGVectorStore 创建新的pgvector存储实例
func NewPGVectorStore(db *gorm.DB, embedder EmbeddingProvider, opts PGVectorOptions) (*PGVectorStore, error) {
	if opts.AutoMigrate {
		if err := MigratePGVector(db); err != nil {
			return nil, err
		}
	}
	return &PGVectorStore{db: db, embedder: embedder, dimension: opts.Dimension}, nil
}

// MigratePGVector 启用扩展并创建 kb_vectors 表
func MigratePGVector(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("确保pgvector扩展失败: %w", err)
		}
	}
	if err := db.AutoMigrate(&VectorRecord{}); err != nil {
		return fmt.Errorf("迁移 kb_vectors 失败: %w", err)
	}
	return nil
}

// Clear 删除命名空间下的全部向量
func (s *PGVectorStore) Clear(ctx context.Context, namespace string) error {
	if err := s.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&VectorRecord{}).Error; err != nil {
		return fmt.Errorf("清空向量失败: %w", err)
	}
	return nil
}

// Insert 向量化并写入一条分块
func (s *PGVectorStore) Insert(ctx context.Context, text string, metadata map[string]any, namespace string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	record, err := s.record(namespace, text, metadata, vec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(record).Error
}

// InsertBatch 批量向量化后在一个事务中写入
func (s *PGVectorStore) InsertBatch(ctx context.Context, namespace string, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("向量数量不匹配: 期望%d, 实际%d", len(chunks), len(vectors))
	}

	records := make([]*VectorRecord, len(chunks))
	for i, c := range chunks {
		if records[i], err = s.record(namespace, c.Content, c.Metadata.Map(), vectors[i]); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, pgInsertBatchSize).Error
	})
}

func (s *PGVectorStore) record(namespace, text string, metadata map[string]any, vec []float32) (*VectorRecord, error) {
	if s.dimension > 0 && len(vec) != s.dimension {
		return nil, fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.dimension, len(vec))
	}
	return &VectorRecord{
		ID:             uuid.New().String(),
		Namespace:      namespace,
		Content:        text,
		Metadata:       datatypes.JSONMap(metadata),
		Embedding:      pgvector.NewVector(vec),
		EmbeddingModel: s.embedder.GetProviderName() + "/" + s.embedder.GetModel(),
		CreatedAt:      time.Now().UTC(),
	}, nil
}
