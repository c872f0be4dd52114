package rag

import "fmt"

// ConfigurationError 知识库引用了未知的向量模型或向量库
type ConfigurationError struct {
	Kind  string // embedding_model / vector_store
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q 配置错误: %v", e.Kind, e.Value, e.Err)
	}
	return fmt.Sprintf("不支持的 %s: %q", e.Kind, e.Value)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
