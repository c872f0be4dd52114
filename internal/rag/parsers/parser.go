package parsers

import (
	"io"
	"path/filepath"
	"strings"
)

// Parser 文档解析器，把一种格式的字节流转换为纯文本
type Parser interface {
	// Parse 读取 reader 并提取文本
	Parse(reader io.Reader) (string, error)

	// SupportedExtensions 支持的扩展名（小写，带点，如 ".txt"）
	SupportedExtensions() []string
}

// NormalizeExt 规范化扩展名：小写，带前导点
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ExtOf 文件名的规范化扩展名
func ExtOf(name string) string {
	return NormalizeExt(filepath.Ext(name))
}
