package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"knowledgehub/internal/auth"
	"knowledgehub/internal/config"
	"knowledgehub/internal/ingest"
	"knowledgehub/internal/models"
	"knowledgehub/internal/rag"
	"knowledgehub/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeEmbedder) GetModel() string        { return "fake" }
func (fakeEmbedder) GetProviderName() string { return "fake" }

type recordingStore struct {
	mu   sync.Mutex
	data map[string]int
}

func (s *recordingStore) Clear(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, namespace)
	return nil
}

func (s *recordingStore) Insert(_ context.Context, _ string, _ map[string]any, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace]++
	return nil
}

func (s *recordingStore) count(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[namespace]
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	store  *recordingStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:kbhandler_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))

	store := &recordingStore{data: make(map[string]int)}
	factory := rag.NewGatewayFactory()
	factory.RegisterEmbedding(rag.EmbeddingOpenAI, func() (rag.EmbeddingProvider, error) { return fakeEmbedder{}, nil })
	factory.RegisterStore(rag.StorePGVector, func(rag.EmbeddingProvider) (rag.VectorStore, error) { return store, nil })

	kbs := models.NewKnowledgeBaseService(db)
	files := models.NewSourceFileService(db)
	blobs := storage.NewMemoryBlobStore()
	pipeline, err := ingest.NewPipeline(ingest.PipelineDeps{
		KnowledgeBases: kbs,
		Files:          files,
		Blobs:          blobs,
		Gateways:       factory,
		ExtractWorkers: 2,
	})
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	h := NewHandler(ingest.NewService(ingest.ServiceDeps{
		KnowledgeBases: kbs,
		Files:          files,
		Blobs:          blobs,
		Gateways:       factory,
		Fetcher:        ingest.NewFetcher(config.IngestConfig{}),
		Pipeline:       pipeline,
		MaxUploadBytes: 1 << 20,
	}))

	r := gin.New()
	r.GET("/api/knowledgebases", h.List)
	r.GET("/api/knowledgebases/:kb_id", h.Get)
	r.GET("/api/knowledgebases/:kb_id/files", h.ListFiles)
	authed := r.Group("/api", fakeAuth())
	authed.POST("/knowledgebases", h.Create)
	authed.DELETE("/knowledgebases/:kb_id", h.Delete)
	authed.POST("/knowledgebases/:kb_id/upload", h.Upload)
	authed.POST("/knowledgebases/:kb_id/url", h.IngestURL)
	authed.DELETE("/knowledgebases/:kb_id/files/:file_id", h.DeleteFile)
	authed.POST("/knowledgebases/:kb_id/sync", h.Sync)

	return &testServer{router: r, store: store}
}

// fakeAuth 以 X-Test-User 头模拟登录用户，值为 admin 时授予管理员
func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader("X-Test-User")
		if user == "" {
			user = "alice"
		}
		p := &auth.Principal{UserID: user, Username: user, IsAdmin: user == "admin"}
		c.Set(string(auth.PrincipalContextKey), p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, apiEnvelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) doJSON(t *testing.T, method, path, user string, body any) (int, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	return s.do(t, req)
}

func (s *testServer) createKB(t *testing.T, user string) KnowledgeBaseResponse {
	t.Helper()
	code, env := s.doJSON(t, http.MethodPost, "/api/knowledgebases", user, gin.H{
		"name":            "产品手册",
		"embedding_model": rag.EmbeddingOpenAI,
		"vector_store":    rag.StorePGVector,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var kb KnowledgeBaseResponse
	require.NoError(t, json.Unmarshal(env.Data, &kb))
	return kb
}

func (s *testServer) upload(t *testing.T, kbID string, files map[string]string) (int, apiEnvelope) {
	t.Helper()
	return s.uploadAs(t, kbID, "", files)
}

func (s *testServer) uploadAs(t *testing.T, kbID, user string, files map[string]string) (int, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/knowledgebases/"+kbID+"/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	return s.do(t, req)
}

func TestCreateGetAndList(t *testing.T) {
	s := newTestServer(t)
	kb := s.createKB(t, "alice")
	assert.Equal(t, "kb_1", kb.KBID)
	assert.Equal(t, models.KBStatusUnsynced, kb.Status)
	assert.Equal(t, "alice", kb.CreatedBy)

	code, env := s.doJSON(t, http.MethodGet, "/api/knowledgebases/"+kb.KBID, "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, env = s.doJSON(t, http.MethodGet, "/api/knowledgebases?page=1&page_size=10", "", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Items      []KnowledgeBaseResponse `json:"items"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Items, 1)
	assert.EqualValues(t, 1, list.Pagination.Total)

	code, env = s.doJSON(t, http.MethodGet, "/api/knowledgebases/kb_404", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Code)
}

func TestCreateRejectsUnknownSelector(t *testing.T) {
	s := newTestServer(t)

	code, env := s.doJSON(t, http.MethodPost, "/api/knowledgebases", "alice", gin.H{
		"name":            "x",
		"embedding_model": rag.EmbeddingOpenAI,
		"vector_store":    "faiss",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "configuration_error", env.Code)

	code, env = s.doJSON(t, http.MethodPost, "/api/knowledgebases", "alice", gin.H{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", env.Code)
}

func TestUploadAndSync(t *testing.T) {
	s := newTestServer(t)
	kb := s.createKB(t, "alice")

	code, env := s.upload(t, kb.KBID, map[string]string{
		"guide.txt": "第一章 安装步骤。第二章 配置说明。",
		"data.csv":  "name,price\nwidget,10\n",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "Successfully uploaded 2 files to knowledge base kb_1", env.Message)

	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &uploaded))
	assert.Len(t, uploaded.FilesUploaded, 2)
	assert.NotContains(t, string(env.Data), "file_path")

	code, env = s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/sync", "alice", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var result ingest.SyncResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.ProcessedFileCount)
	assert.Empty(t, result.FailedFileNames)
	assert.Positive(t, s.store.count(kb.KBID+"_vector"))

	code, env = s.doJSON(t, http.MethodGet, "/api/knowledgebases/"+kb.KBID+"/files", "", nil)
	require.Equal(t, http.StatusOK, code)
	var files []FileResponse
	require.NoError(t, json.Unmarshal(env.Data, &files))
	for _, f := range files {
		assert.Equal(t, models.FileStatusSynced, f.Status, f.Filename)
	}
}

func TestSyncWithoutFilesReturnsResult(t *testing.T) {
	s := newTestServer(t)
	kb := s.createKB(t, "alice")

	code, env := s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/sync", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, env.Success)
	assert.Equal(t, "sync_failed", env.Code)

	var result ingest.SyncResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, kb.KBID, result.KBID)
	assert.Zero(t, result.ProcessedFileCount)
}

func TestUploadRequiresFiles(t *testing.T) {
	s := newTestServer(t)
	kb := s.createKB(t, "alice")

	code, env := s.upload(t, kb.KBID, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", env.Code)

	code, env = s.upload(t, "kb_404", map[string]string{"a.txt": "hello"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Code)
}

func TestIngestURL(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><script>x()</script><body><p>发布说明</p></body></html>`))
	}))
	defer site.Close()

	s := newTestServer(t)
	kb := s.createKB(t, "alice")

	code, env := s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/url", "alice", gin.H{"url": site.URL + "/notes"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var file FileResponse
	require.NoError(t, json.Unmarshal(env.Data, &file))
	assert.Equal(t, site.URL+"/notes", file.FileURL)
	assert.Equal(t, models.FileStatusUnsynced, file.Status)

	code, env = s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/url", "alice", gin.H{"url": "ftp://example.com/a"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "fetch_failed", env.Code)
}

func TestDeleteRequiresOwnerOrAdmin(t *testing.T) {
	s := newTestServer(t)
	kb := s.createKB(t, "alice")

	code, env := s.upload(t, kb.KBID, map[string]string{"a.txt": "hello"})
	require.Equal(t, http.StatusOK, code)
	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &uploaded))
	fileID := uploaded.FilesUploaded[0].FileID

	code, env = s.doJSON(t, http.MethodDelete, "/api/knowledgebases/"+kb.KBID+"/files/"+fileID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Code)

	code, env = s.doJSON(t, http.MethodDelete, "/api/knowledgebases/"+kb.KBID+"/files/"+fileID, "alice", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var deleted DeleteFileResponse
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.Equal(t, models.KBStatusEmpty, deleted.KBStatus)

	code, _ = s.doJSON(t, http.MethodDelete, "/api/knowledgebases/"+kb.KBID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.doJSON(t, http.MethodDelete, "/api/knowledgebases/"+kb.KBID, "admin", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.doJSON(t, http.MethodGet, "/api/knowledgebases/"+kb.KBID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWriteOperationsRequireOwnerOrAdmin(t *testing.T) {
	s := newTestServer(t)
	kb := s.createKB(t, "alice")

	code, env := s.uploadAs(t, kb.KBID, "mallory", map[string]string{"a.txt": "hello"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Code)

	code, env = s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/url", "mallory", gin.H{"url": "http://example.com/a"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Code)

	code, env = s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/sync", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Code)

	assert.Zero(t, s.store.count(kb.KBID+"_vector"))

	code, env = s.uploadAs(t, kb.KBID, "admin", map[string]string{"a.txt": "hello"})
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.doJSON(t, http.MethodPost, "/api/knowledgebases/"+kb.KBID+"/sync", "admin", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Positive(t, s.store.count(kb.KBID+"_vector"))
}
