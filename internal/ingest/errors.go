package ingest

import (
	"errors"
	"fmt"

	"knowledgehub/internal/rag"
	"knowledgehub/internal/rag/parsers"
)

// 解析与配置错误在各自的包中定义，这里导出别名方便调用方统一匹配
type (
	UnsupportedFormatError = parsers.UnsupportedFormatError
	ExtractionError        = parsers.ExtractionError
	ConfigurationError     = rag.ConfigurationError
)

var (
	// ErrNoFilesStored 一次上传中没有任何文件写入成功
	ErrNoFilesStored = errors.New("no files were stored")
	// ErrInvalidInput 请求参数不合法
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError 知识库或文件不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// PersistenceError 元数据或源文件存储写入失败
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GatewayError 向量库清空或写入失败
type GatewayError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("vector store %s %s: %v", e.Op, e.Namespace, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// FetchError 网页抓取失败（网络错误、超时或非 2xx）
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SyncInProgressError 同一知识库已有同步在进行
type SyncInProgressError struct {
	KBID string
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("knowledge base %s is already syncing", e.KBID)
}

// NoDocumentsError 没有任何文件成功处理
type NoDocumentsError struct {
	KBID        string
	FailedFiles []string
}

func (e *NoDocumentsError) Error() string {
	if len(e.FailedFiles) > 0 {
		return fmt.Sprintf("no documents processed for %s (%d failed)", e.KBID, len(e.FailedFiles))
	}
	return fmt.Sprintf("no documents found for %s", e.KBID)
}
