package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"knowledgehub/internal/infra/queue"
	"knowledgehub/internal/models"
	"knowledgehub/internal/rag"
	"knowledgehub/internal/rag/parsers"
	"knowledgehub/internal/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// memoryStore 记录写入内容的向量库
type memoryStore struct {
	mu       sync.Mutex
	data     map[string][]rag.Chunk
	clears   []string
	clearErr error
	err      error
	onInsert func(namespace string)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]rag.Chunk)}
}

func (s *memoryStore) Clear(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears = append(s.clears, namespace)
	if s.clearErr != nil {
		return s.clearErr
	}
	delete(s.data, namespace)
	return nil
}

func (s *memoryStore) Insert(ctx context.Context, text string, metadata map[string]any, namespace string) error {
	return s.InsertBatch(ctx, namespace, []rag.Chunk{{Content: text}})
}

func (s *memoryStore) InsertBatch(_ context.Context, namespace string, chunks []rag.Chunk) error {
	if s.onInsert != nil {
		s.onInsert(namespace)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[namespace] = append(s.data[namespace], chunks...)
	return nil
}

func (s *memoryStore) chunks(namespace string) []rag.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rag.Chunk(nil), s.data[namespace]...)
}

// fakeResolver 固定返回 memoryStore
type fakeResolver struct {
	store    *memoryStore
	err      error
	resolves int
}

func (r *fakeResolver) Validate(embeddingModel, vectorStore string) error {
	if embeddingModel != rag.EmbeddingOpenAI && embeddingModel != rag.EmbeddingGemini {
		return &rag.ConfigurationError{Kind: "embedding_model", Value: embeddingModel}
	}
	if vectorStore != rag.StorePGVector && vectorStore != rag.StoreQdrant {
		return &rag.ConfigurationError{Kind: "vector_store", Value: vectorStore}
	}
	return nil
}

func (r *fakeResolver) Resolve(embeddingModel, vectorStore string) (rag.VectorStore, error) {
	r.resolves++
	if r.err != nil {
		return nil, r.err
	}
	if err := r.Validate(embeddingModel, vectorStore); err != nil {
		return nil, err
	}
	return r.store, nil
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	events []queue.SyncEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, event queue.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type testEnv struct {
	db        *gorm.DB
	kbs       *models.KnowledgeBaseService
	files     *models.SourceFileService
	blobs     *storage.FSBlobStore
	store     *memoryStore
	resolver  *fakeResolver
	publisher *recordingPublisher
	pipeline  *Pipeline
	service   *Service
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ingest_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)

	registry := parsers.NewRegistry()
	store := newMemoryStore()
	env := &testEnv{
		db:        db,
		kbs:       models.NewKnowledgeBaseService(db),
		files:     models.NewSourceFileService(db),
		blobs:     storage.NewMemoryBlobStore(),
		store:     store,
		resolver:  &fakeResolver{store: store},
		publisher: &recordingPublisher{},
	}

	pipeline, err := NewPipeline(PipelineDeps{
		KnowledgeBases: env.kbs,
		Files:          env.files,
		Blobs:          env.blobs,
		Parsers:        registry,
		Splitter:       rag.NewSplitter(200, 20),
		Gateways:       env.resolver,
		Publisher:      env.publisher,
		ExtractWorkers: 2,
		StaleAfter:     time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)
	env.pipeline = pipeline

	env.service = NewService(ServiceDeps{
		KnowledgeBases: env.kbs,
		Files:          env.files,
		Blobs:          env.blobs,
		Gateways:       env.resolver,
		Pipeline:       pipeline,
		MaxUploadBytes: 1 << 20,
	})
	return env
}

func (e *testEnv) createKB(t *testing.T, name string) *models.KnowledgeBase {
	t.Helper()
	kb, err := e.service.CreateKnowledgeBase(context.Background(), CreateKnowledgeBaseInput{
		Name:           name,
		EmbeddingModel: rag.EmbeddingOpenAI,
		VectorStore:    rag.StorePGVector,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)
	return kb
}

func (e *testEnv) upload(t *testing.T, kbID string, files map[string]string) []*models.SourceFile {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	readers := make([]NamedReader, 0, len(files))
	for _, name := range names {
		readers = append(readers, NamedReader{Name: name, Reader: strings.NewReader(files[name])})
	}
	result, err := e.service.UploadFiles(context.Background(), kbID, "user-1", readers)
	require.NoError(t, err)
	require.Len(t, result.Files, len(files))
	return result.Files
}

func (e *testEnv) kbStatus(t *testing.T, kbID string) string {
	t.Helper()
	kb, err := e.kbs.GetKnowledgeBase(context.Background(), kbID)
	require.NoError(t, err)
	require.NotNil(t, kb)
	return kb.Status
}

func (e *testEnv) fileStatuses(t *testing.T, kbID string) map[string]string {
	t.Helper()
	files, err := e.files.ListSourceFiles(context.Background(), kbID)
	require.NoError(t, err)
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.Filename] = f.Status
	}
	return out
}
