package common

import (
	"knowledgehub/pkg/types"

	"github.com/gin-gonic/gin"
)

// 错误码
const (
	CodeBadRequest         = "bad_request"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeUnsupportedFormat  = "unsupported_format"
	CodeFetchFailed        = "fetch_failed"
	CodeSyncInProgress     = "sync_in_progress"
	CodeSyncFailed         = "sync_failed"
	CodeConfigurationError = "configuration_error"
	CodeInternalError      = "internal_error"
)

// APIResponse 通用响应结构，用于封装成功或失败结果。
type APIResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PaginationMeta 分页元信息。
type PaginationMeta struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"total_page"`
}

// ListResponse 列表响应结构，包含数据与分页信息。
type ListResponse struct {
	Items      interface{}    `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// ErrorResponse 统一错误返回结构。
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ToPaginationMeta 分页结果转换为响应元信息
func ToPaginationMeta(p *types.PaginationResponse) PaginationMeta {
	if p == nil {
		return PaginationMeta{}
	}
	return PaginationMeta{
		Page:      p.Page,
		PageSize:  p.PageSize,
		Total:     p.Total,
		TotalPage: p.TotalPages,
	}
}

// OK 成功响应
func OK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, APIResponse{Success: true, Message: message, Data: data})
}

// Fail 失败响应
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Code: code, Message: message})
}
