package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"knowledgehub/internal/logger"
	"knowledgehub/internal/metrics"
	"knowledgehub/internal/models"
	"knowledgehub/internal/rag/parsers"
	"knowledgehub/internal/storage"
	"knowledgehub/pkg/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateKnowledgeBaseInput 创建知识库参数
type CreateKnowledgeBaseInput struct {
	Name           string
	Description    string
	Category       string
	EmbeddingModel string
	VectorStore    string
	WorkspaceID    string
	CreatedBy      string
}

// NamedReader 一个待上传的文件
type NamedReader struct {
	Name   string
	Reader io.Reader
}

// UploadResult 上传结果
type UploadResult struct {
	Files   []*models.SourceFile `json:"files_uploaded"`
	Skipped []string             `json:"skipped,omitempty"`
	Message string               `json:"message"`
}

// ServiceDeps 服务依赖
type ServiceDeps struct {
	KnowledgeBases *models.KnowledgeBaseService
	Files          *models.SourceFileService
	Blobs          storage.BlobStore
	Gateways       GatewayResolver
	Fetcher        *Fetcher
	Pipeline       *Pipeline
	// MaxUploadBytes 单文件大小上限，<= 0 不限制
	MaxUploadBytes int64
}

// Service 知识库管理、文件入库与同步入口
type Service struct {
	kbs            *models.KnowledgeBaseService
	files          *models.SourceFileService
	blobs          storage.BlobStore
	gateways       GatewayResolver
	fetcher        *Fetcher
	pipeline       *Pipeline
	maxUploadBytes int64
}

// NewService 创建服务
func NewService(deps ServiceDeps) *Service {
	return &Service{
		kbs:            deps.KnowledgeBases,
		files:          deps.Files,
		blobs:          deps.Blobs,
		gateways:       deps.Gateways,
		fetcher:        deps.Fetcher,
		pipeline:       deps.Pipeline,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// CreateKnowledgeBase 校验选择器、分配 ID 并创建存储目录
func (s *Service) CreateKnowledgeBase(ctx context.Context, in CreateKnowledgeBaseInput) (*models.KnowledgeBase, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: knowledge base name is required", ErrInvalidInput)
	}
	if err := s.gateways.Validate(in.EmbeddingModel, in.VectorStore); err != nil {
		return nil, err
	}

	kb := &models.KnowledgeBase{
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Category:       in.Category,
		EmbeddingModel: in.EmbeddingModel,
		VectorStore:    in.VectorStore,
		WorkspaceID:    in.WorkspaceID,
		CreatedBy:      in.CreatedBy,
	}
	if err := s.kbs.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, &PersistenceError{Op: "create knowledge base", Err: err}
	}

	if err := s.blobs.EnsureNamespace(kb.KBID); err != nil {
		// 目录创建失败时撤销记录
		if _, delErr := s.kbs.DeleteKnowledgeBase(ctx, kb.KBID); delErr != nil {
			logger.WithContext(ctx).Error("回滚知识库记录失败", zap.String("kb_id", kb.KBID), zap.Error(delErr))
		}
		return nil, &PersistenceError{Op: "create source directory", Err: err}
	}

	logger.WithContext(ctx).Info("知识库已创建",
		zap.String("kb_id", kb.KBID),
		zap.String("embedding_model", kb.EmbeddingModel),
		zap.String("vector_store", kb.VectorStore),
	)
	return kb, nil
}

// GetKnowledgeBase 获取知识库
func (s *Service) GetKnowledgeBase(ctx context.Context, kbID string) (*models.KnowledgeBase, error) {
	kb, err := s.kbs.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, &PersistenceError{Op: "load knowledge base", Err: err}
	}
	if kb == nil {
		return nil, &NotFoundError{Resource: "knowledge base", ID: kbID}
	}
	return kb, nil
}

// ListKnowledgeBases 分页列出知识库
func (s *Service) ListKnowledgeBases(ctx context.Context, filter models.KnowledgeBaseFilter, page *types.PaginationRequest) ([]*models.KnowledgeBase, *types.PaginationResponse, error) {
	kbs, resp, err := s.kbs.ListKnowledgeBases(ctx, filter, page)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "list knowledge bases", Err: err}
	}
	return kbs, resp, nil
}

// ListFiles 列出知识库的源文件
func (s *Service) ListFiles(ctx context.Context, kbID string) ([]*models.SourceFile, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	files, err := s.files.ListSourceFiles(ctx, kbID)
	if err != nil {
		return nil, &PersistenceError{Op: "list source files", Err: err}
	}
	return files, nil
}

// DeleteKnowledgeBase 删除知识库、全部源文件记录与存储；向量清理尽力而为
func (s *Service) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	kb, err := s.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}

	files, err := s.kbs.DeleteKnowledgeBase(ctx, kbID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "knowledge base", ID: kbID}
		}
		return &PersistenceError{Op: "delete knowledge base", Err: err}
	}

	log := logger.WithContext(ctx).With(zap.String("kb_id", kbID))
	if err := s.blobs.DeleteNamespace(kbID); err != nil {
		log.Warn("删除源文件目录失败", zap.Error(err))
	}
	if store, err := s.gateways.Resolve(kb.EmbeddingModel, kb.VectorStore); err != nil {
		log.Warn("无法连接向量库，跳过向量清理", zap.Error(err))
	} else if err := store.Clear(ctx, kb.VectorNamespace()); err != nil {
		log.Warn("清理向量失败", zap.Error(err))
	}

	log.Info("知识库已删除", zap.Int("files", len(files)))
	return nil
}

// UploadFiles 逐个写入文件并创建记录；单个失败记录日志后跳过，全部失败才返回错误
func (s *Service) UploadFiles(ctx context.Context, kbID, uploadedBy string, files []NamedReader) (*UploadResult, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx).With(zap.String("kb_id", kbID))
	result := &UploadResult{Files: make([]*models.SourceFile, 0, len(files))}
	for _, f := range files {
		record, err := s.storeFile(ctx, kbID, uploadedBy, sanitizeFilename(f.Name), "", f.Reader)
		if err != nil {
			log.Warn("文件写入失败，跳过", zap.String("file", f.Name), zap.Error(err))
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}
		result.Files = append(result.Files, record)
	}

	if len(result.Files) == 0 {
		return result, &PersistenceError{Op: "upload files", Err: ErrNoFilesStored}
	}
	if _, err := s.kbs.MarkChanged(ctx, kbID); err != nil {
		return result, &PersistenceError{Op: "mark knowledge base updated", Err: err}
	}
	metrics.UploadsTotal.WithLabelValues("upload").Add(float64(len(result.Files)))

	result.Message = fmt.Sprintf("Successfully uploaded %d files to knowledge base %s", len(result.Files), kbID)
	return result, nil
}

// IngestURL 抓取网页，去掉脚本和样式后作为 HTML 源文件保存
func (s *Service) IngestURL(ctx context.Context, kbID, uploadedBy, rawURL string) (*models.SourceFile, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	if s.fetcher == nil {
		return nil, &FetchError{URL: rawURL, Err: errors.New("url ingestion is disabled")}
	}

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	content := parsers.StripScripts(string(page.Body))
	record, err := s.storeFile(ctx, kbID, uploadedBy, PageFilename(page.URL), page.URL.String(), strings.NewReader(content))
	if err != nil {
		return nil, &PersistenceError{Op: "store fetched page", Err: err}
	}
	if _, err := s.kbs.MarkChanged(ctx, kbID); err != nil {
		return nil, &PersistenceError{Op: "mark knowledge base updated", Err: err}
	}
	metrics.UploadsTotal.WithLabelValues("url").Inc()

	logger.WithContext(ctx).Info("网页已入库",
		zap.String("kb_id", kbID),
		zap.String("file_id", record.FileID),
		zap.String("url", record.FileURL),
	)
	return record, nil
}

// DeleteFile 删除源文件记录后删除存储中的文件，返回知识库的新状态
func (s *Service) DeleteFile(ctx context.Context, kbID, fileID string) (string, error) {
	file, err := s.files.GetSourceFile(ctx, kbID, fileID)
	if err != nil {
		return "", &PersistenceError{Op: "load source file", Err: err}
	}
	if file == nil {
		return "", &NotFoundError{Resource: "file", ID: fileID}
	}

	status, err := s.files.DeleteSourceFile(ctx, kbID, fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &NotFoundError{Resource: "file", ID: fileID}
		}
		return "", &PersistenceError{Op: "delete source file", Err: err}
	}

	if err := s.blobs.Delete(file.FilePath); err != nil {
		logger.WithContext(ctx).Warn("删除源文件失败", zap.String("path", file.FilePath), zap.Error(err))
	}
	return status, nil
}

// Sync 同步知识库
func (s *Service) Sync(ctx context.Context, kbID string) (*SyncResult, error) {
	return s.pipeline.Sync(ctx, kbID)
}

// storeFile 写入存储并创建源文件记录，记录创建失败时删除已写入的文件
func (s *Service) storeFile(ctx context.Context, kbID, uploadedBy, name, fileURL string, r io.Reader) (*models.SourceFile, error) {
	if name == "" {
		return nil, errors.New("empty file name")
	}
	if r == nil {
		r = bytes.NewReader(nil)
	}
	if s.maxUploadBytes > 0 {
		r = io.LimitReader(r, s.maxUploadBytes+1)
	}

	fileID := models.NewFileID()
	path, size, err := s.blobs.Write(kbID, models.StoredName(fileID, name), r)
	if err != nil {
		return nil, err
	}
	if s.maxUploadBytes > 0 && size > s.maxUploadBytes {
		s.removeBlob(ctx, path)
		return nil, fmt.Errorf("file exceeds %d bytes", s.maxUploadBytes)
	}

	record := &models.SourceFile{
		FileID:     fileID,
		KBID:       kbID,
		Filename:   name,
		FileSize:   size,
		FilePath:   path,
		FileURL:    fileURL,
		Status:     models.FileStatusUnsynced,
		UploadedBy: uploadedBy,
	}
	if err := s.files.CreateSourceFile(ctx, record); err != nil {
		s.removeBlob(ctx, path)
		return nil, err
	}
	return record, nil
}

func (s *Service) removeBlob(ctx context.Context, path string) {
	if err := s.blobs.Delete(path); err != nil {
		logger.WithContext(ctx).Warn("清理存储文件失败", zap.String("path", path), zap.Error(err))
	}
}

// sanitizeFilename 只保留文件名部分
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}
