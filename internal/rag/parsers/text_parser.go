package parsers

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TextParser 文本文件解析器
// 支持: .txt, .md, .markdown
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse 解析文本文件
func (p *TextParser) Parse(reader io.Reader) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	if !utf8.Valid(content) {
		return "", errors.New("文件不是合法的 UTF-8 文本")
	}

	text := strings.TrimSpace(strings.TrimPrefix(string(content), "\ufeff"))
	if text == "" {
		return "", errors.New("文件内容为空")
	}
	return text, nil
}

// SupportedExtensions 支持的文件扩展名
func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}
