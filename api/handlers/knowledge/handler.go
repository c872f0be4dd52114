package knowledge

import (
	"errors"
	"fmt"
	"net/http"

	response "knowledgehub/api/handlers/common"
	"knowledgehub/internal/auth"
	"knowledgehub/internal/ingest"
	"knowledgehub/internal/logger"
	"knowledgehub/internal/models"
	"knowledgehub/pkg/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 知识库与源文件接口
type Handler struct {
	svc *ingest.Service
}

// NewHandler 创建处理器
func NewHandler(svc *ingest.Service) *Handler {
	return &Handler{svc: svc}
}

// Create 创建知识库
// @Summary 创建知识库
// @Tags KnowledgeBase
// @Security BearerAuth
// @Router /api/knowledgebases [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateKnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "参数错误: "+err.Error())
		return
	}

	kb, err := h.svc.CreateKnowledgeBase(c.Request.Context(), ingest.CreateKnowledgeBaseInput{
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		EmbeddingModel: req.EmbeddingModel,
		VectorStore:    req.VectorStore,
		WorkspaceID:    req.WorkspaceID,
		CreatedBy:      currentUserID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusCreated, "", toKnowledgeBaseResponse(kb))
}

// List 分页列出知识库
// @Summary 列出知识库
// @Tags KnowledgeBase
// @Router /api/knowledgebases [get]
func (h *Handler) List(c *gin.Context) {
	var q ListKnowledgeBasesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "参数错误: "+err.Error())
		return
	}

	filter := models.KnowledgeBaseFilter{CreatedBy: q.CreatedBy, WorkspaceID: q.WorkspaceID, Status: q.Status}
	kbs, page, err := h.svc.ListKnowledgeBases(c.Request.Context(), filter, &types.PaginationRequest{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]KnowledgeBaseResponse, 0, len(kbs))
	for _, kb := range kbs {
		items = append(items, toKnowledgeBaseResponse(kb))
	}
	response.OK(c, http.StatusOK, "", response.ListResponse{Items: items, Pagination: response.ToPaginationMeta(page)})
}

// Get 知识库详情
func (h *Handler) Get(c *gin.Context) {
	kb, err := h.svc.GetKnowledgeBase(c.Request.Context(), c.Param("kb_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, "", toKnowledgeBaseResponse(kb))
}

// Delete 删除知识库，仅创建者或管理员
// @Summary 删除知识库
// @Tags KnowledgeBase
// @Security BearerAuth
// @Router /api/knowledgebases/{kb_id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	kbID := c.Param("kb_id")
	if !h.authorizeOwner(c, kbID) {
		return
	}
	if err := h.svc.DeleteKnowledgeBase(c.Request.Context(), kbID); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, fmt.Sprintf("Knowledge base %s deleted", kbID), nil)
}

// ListFiles 列出源文件
func (h *Handler) ListFiles(c *gin.Context) {
	files, err := h.svc.ListFiles(c.Request.Context(), c.Param("kb_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, "", toFileResponses(files))
}

// Upload 上传文件（multipart 字段 files，可多个），仅创建者或管理员
// @Summary 上传源文件
// @Tags KnowledgeBase
// @Security BearerAuth
// @Accept multipart/form-data
// @Router /api/knowledgebases/{kb_id}/upload [post]
func (h *Handler) Upload(c *gin.Context) {
	kbID := c.Param("kb_id")
	if !h.authorizeOwner(c, kbID) {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "无效的表单: "+err.Error())
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "缺少上传文件")
		return
	}

	inputs := make([]ingest.NamedReader, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			logger.WithContext(c.Request.Context()).Warn("打开上传文件失败", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		defer f.Close()
		inputs = append(inputs, ingest.NamedReader{Name: fh.Filename, Reader: f})
	}

	result, err := h.svc.UploadFiles(c.Request.Context(), kbID, currentUserID(c), inputs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, result.Message, UploadResponse{
		FilesUploaded: toFileResponses(result.Files),
		Skipped:       result.Skipped,
	})
}

// IngestURL 抓取网页作为源文件，仅创建者或管理员
func (h *Handler) IngestURL(c *gin.Context) {
	kbID := c.Param("kb_id")
	if !h.authorizeOwner(c, kbID) {
		return
	}
	var req IngestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "参数错误: "+err.Error())
		return
	}

	file, err := h.svc.IngestURL(c.Request.Context(), kbID, currentUserID(c), req.URL)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, fmt.Sprintf("Successfully ingested %s", file.FileURL), toFileResponse(file))
}

// DeleteFile 删除源文件，仅创建者或管理员
func (h *Handler) DeleteFile(c *gin.Context) {
	kbID, fileID := c.Param("kb_id"), c.Param("file_id")
	if !h.authorizeOwner(c, kbID) {
		return
	}
	status, err := h.svc.DeleteFile(c.Request.Context(), kbID, fileID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, fmt.Sprintf("File %s deleted", fileID), DeleteFileResponse{FileID: fileID, KBStatus: status})
}

// Sync 同步知识库到向量库，仅创建者或管理员；失败时 data 中仍带有处理结果
// @Summary 同步知识库
// @Tags KnowledgeBase
// @Security BearerAuth
// @Router /api/knowledgebases/{kb_id}/sync [post]
func (h *Handler) Sync(c *gin.Context) {
	kbID := c.Param("kb_id")
	if !h.authorizeOwner(c, kbID) {
		return
	}
	result, err := h.svc.Sync(c.Request.Context(), kbID)
	if err != nil {
		status, code := classify(err)
		if code == response.CodeInternalError {
			code = response.CodeSyncFailed
		}
		c.JSON(status, response.APIResponse{Success: false, Code: code, Message: err.Error(), Data: result})
		return
	}
	response.OK(c, http.StatusOK, fmt.Sprintf("Knowledge base %s synced", result.KBID), result)
}

// authorizeOwner 校验调用方为知识库创建者或管理员，失败时已写入响应
func (h *Handler) authorizeOwner(c *gin.Context, kbID string) bool {
	p, ok := auth.GetPrincipal(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, "未认证")
		return false
	}
	kb, err := h.svc.GetKnowledgeBase(c.Request.Context(), kbID)
	if err != nil {
		writeError(c, err)
		return false
	}
	if !p.IsAdmin && kb.CreatedBy != p.UserID {
		response.Fail(c, http.StatusForbidden, response.CodeForbidden, "无权操作该知识库")
		return false
	}
	return true
}

func currentUserID(c *gin.Context) string {
	if p, ok := auth.GetPrincipal(c); ok {
		return p.UserID
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	response.Fail(c, status, code, err.Error())
}

// classify 错误映射为 HTTP 状态码与错误码
func classify(err error) (int, string) {
	var (
		notFound    *ingest.NotFoundError
		unsupported *ingest.UnsupportedFormatError
		fetchErr    *ingest.FetchError
		inProgress  *ingest.SyncInProgressError
		configErr   *ingest.ConfigurationError
		noDocs      *ingest.NoDocumentsError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, response.CodeNotFound
	case errors.As(err, &inProgress):
		return http.StatusConflict, response.CodeSyncInProgress
	case errors.As(err, &configErr):
		return http.StatusBadRequest, response.CodeConfigurationError
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, response.CodeUnsupportedFormat
	case errors.As(err, &fetchErr):
		return http.StatusBadRequest, response.CodeFetchFailed
	case errors.As(err, &noDocs):
		return http.StatusUnprocessableEntity, response.CodeSyncFailed
	case errors.Is(err, ingest.ErrNoFilesStored), errors.Is(err, ingest.ErrInvalidInput):
		return http.StatusBadRequest, response.CodeBadRequest
	default:
		return http.StatusInternalServerError, response.CodeInternalError
	}
}
