package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupVectorTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rag_vectors_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, MigratePGVector(db))
	return db
}

func testChunks(kbID string, contents ...string) []Chunk {
	chunks := make([]Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = Chunk{Content: c, Metadata: ChunkMetadata{KBID: kbID, FileName: "a.md"}}
	}
	return chunks
}

func countNamespace(t *testing.T, db *gorm.DB, ns string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&VectorRecord{}).Where("namespace = ?", ns).Count(&n).Error)
	return n
}

func TestPGVectorStoreInsertAndClear(t *testing.T) {
	ctx := context.Background()
	db := setupVectorTestDB(t)
	embedder := &fakeEmbedder{}
	store, err := NewPGVectorStore(db, embedder, PGVectorOptions{Dimension: 2})
	require.NoError(t, err)

	require.NoError(t, InsertChunks(ctx, store, "kb_1_vector", testChunks("kb_1", "alpha", "beta", "gamma")))
	require.NoError(t, store.Insert(ctx, "delta", map[string]any{"kb_id": "kb_2"}, "kb_2_vector"))
	require.Equal(t, int64(3), countNamespace(t, db, "kb_1_vector"))
	require.Equal(t, 2, embedder.callCount(), "批量写入只调用一次向量化")

	var rec VectorRecord
	require.NoError(t, db.Select("content", "metadata", "embedding_model").Where("namespace = ?", "kb_2_vector").First(&rec).Error)
	require.Equal(t, "delta", rec.Content)
	require.Equal(t, "kb_2", rec.Metadata["kb_id"])
	require.Equal(t, "fake/fake-model", rec.EmbeddingModel)

	require.NoError(t, store.Clear(ctx, "kb_1_vector"))
	require.Zero(t, countNamespace(t, db, "kb_1_vector"))
	require.Equal(t, int64(1), countNamespace(t, db, "kb_2_vector"))

	require.NoError(t, store.Clear(ctx, "kb_404_vector"))
}

func TestPGVectorStoreRejectsDimensionMismatch(t *testing.T) {
	store, err := NewPGVectorStore(setupVectorTestDB(t), &fakeEmbedder{}, PGVectorOptions{Dimension: 3})
	require.NoError(t, err)
	require.Error(t, store.Insert(context.Background(), "x", nil, "ns"))
}

func TestPGVectorStorePropagatesEmbeddingError(t *testing.T) {
	db := setupVectorTestDB(t)
	store, err := NewPGVectorStore(db, &fakeEmbedder{err: errors.New("quota")}, PGVectorOptions{})
	require.NoError(t, err)
	err = store.InsertBatch(context.Background(), "ns", testChunks("kb_1", "a"))
	require.ErrorContains(t, err, "quota")
	require.Zero(t, countNamespace(t, db, "ns"))
}
