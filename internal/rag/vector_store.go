package rag

import "context"

// 向量模型与向量库选择器
const (
	EmbeddingOpenAI = "openai"
	EmbeddingGemini = "gemini"

	StorePGVector = "pgvector"
	StoreQdrant   = "qdrant"
)

// VectorStore 按命名空间写入分块的向量库网关，由具体后端负责向量化
type VectorStore interface {
	// Clear 删除命名空间下全部向量，命名空间不存在视为成功
	Clear(ctx context.Context, namespace string) error
	// Insert 向量化一段文本并写入命名空间
	Insert(ctx context.Context, text string, metadata map[string]any, namespace string) error
}

// BatchInserter 支持批量写入的后端可选实现
type BatchInserter interface {
	InsertBatch(ctx context.Context, namespace string, chunks []Chunk) error
}

// InsertChunks 优先批量写入，否则逐条写入
func InsertChunks(ctx context.Context, store VectorStore, namespace string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if b, ok := store.(BatchInserter); ok {
		return b.InsertBatch(ctx, namespace, chunks)
	}
	for _, c := range chunks {
		if err := store.Insert(ctx, c.Content, c.Metadata.Map(), namespace); err != nil {
			return err
		}
	}
	return nil
}
