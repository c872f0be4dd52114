package knowledge

import (
	"time"

	"knowledgehub/internal/models"
)

// CreateKnowledgeBaseRequest 创建知识库请求
type CreateKnowledgeBaseRequest struct {
	Name           string `json:"name" binding:"required,min=1,max=200"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	EmbeddingModel string `json:"embedding_model" binding:"required"`
	VectorStore    string `json:"vector_store" binding:"required"`
	WorkspaceID    string `json:"workspace_id"`
}

// IngestURLRequest 网页入库请求
type IngestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// ListKnowledgeBasesQuery 列表查询参数
type ListKnowledgeBasesQuery struct {
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
	Status      string `form:"status"`
	WorkspaceID string `form:"workspace_id"`
	CreatedBy   string `form:"created_by"`
}

// KnowledgeBaseResponse 知识库详情
type KnowledgeBaseResponse struct {
	KBID           string     `json:"kb_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	EmbeddingModel string     `json:"embedding_model"`
	VectorStore    string     `json:"vector_store"`
	Status         string     `json:"status"`
	WorkspaceID    string     `json:"workspace_id,omitempty"`
	CreatedBy      string     `json:"created_by"`
	SyncStartedAt  *time.Time `json:"sync_started_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
}

// FileResponse 源文件，不暴露存储路径
type FileResponse struct {
	FileID       string    `json:"file_id"`
	KBID         string    `json:"kb_id"`
	Filename     string    `json:"filename"`
	FileSize     int64     `json:"file_size"`
	FileType     string    `json:"file_type"`
	FileURL      string    `json:"file_url,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadDate   time.Time `json:"upload_date"`
}

// UploadResponse 上传结果
type UploadResponse struct {
	FilesUploaded []FileResponse `json:"files_uploaded"`
	Skipped       []string       `json:"skipped,omitempty"`
}

// DeleteFileResponse 删除文件后的知识库状态
type DeleteFileResponse struct {
	FileID   string `json:"file_id"`
	KBStatus string `json:"kb_status"`
}

func toKnowledgeBaseResponse(kb *models.KnowledgeBase) KnowledgeBaseResponse {
	return KnowledgeBaseResponse{
		KBID:           kb.KBID,
		Name:           kb.Name,
		Description:    kb.Description,
		Category:       kb.Category,
		EmbeddingModel: kb.EmbeddingModel,
		VectorStore:    kb.VectorStore,
		Status:         kb.Status,
		WorkspaceID:    kb.WorkspaceID,
		CreatedBy:      kb.CreatedBy,
		SyncStartedAt:  kb.SyncStartedAt,
		CreatedAt:      kb.CreatedAt,
		LastUpdatedAt:  kb.LastUpdatedAt,
	}
}

func toFileResponse(f *models.SourceFile) FileResponse {
	return FileResponse{
		FileID:       f.FileID,
		KBID:         f.KBID,
		Filename:     f.Filename,
		FileSize:     f.FileSize,
		FileType:     f.FileType,
		FileURL:      f.FileURL,
		Status:       f.Status,
		ErrorMessage: f.ErrorMessage,
		UploadedBy:   f.UploadedBy,
		UploadDate:   f.UploadDate,
	}
}

func toFileResponses(files []*models.SourceFile) []FileResponse {
	out := make([]FileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	return out
}
