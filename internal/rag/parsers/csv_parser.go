package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// CSVParser 分隔符文本解析器，每行渲染为 "列名: 值" 形式
type CSVParser struct {
	comma rune
	exts  []string
}

// NewCSVParser 逗号分隔
func NewCSVParser() *CSVParser {
	return &CSVParser{comma: ',', exts: []string{".csv"}}
}

// NewTSVParser 制表符分隔
func NewTSVParser() *CSVParser {
	return &CSVParser{comma: '\t', exts: []string{".tsv"}}
}

// Parse 解析分隔符文本
func (p *CSVParser) Parse(reader io.Reader) (string, error) {
	if p.comma != ',' {
		converted, err := toCommaSeparated(reader, p.comma)
		if err != nil {
			return "", err
		}
		reader = converted
	}

	docs, err := documentloaders.NewCSV(reader).Load(context.Background())
	if err != nil {
		return "", fmt.Errorf("解析 CSV 失败: %w", err)
	}

	rows := make([]string, 0, len(docs))
	for _, doc := range docs {
		if content := strings.TrimSpace(doc.PageContent); content != "" {
			rows = append(rows, content)
		}
	}
	if len(rows) == 0 {
		return "", errors.New("CSV 没有数据行")
	}
	return strings.Join(rows, "\n\n"), nil
}

// SupportedExtensions 支持的扩展名
func (p *CSVParser) SupportedExtensions() []string {
	return p.exts
}

// documentloaders.CSV 只接受逗号分隔
func toCommaSeparated(reader io.Reader, comma rune) (io.Reader, error) {
	r := csv.NewReader(reader)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析分隔符文本失败: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return &buf, nil
}
