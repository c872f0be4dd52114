package parsers

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Registry 按扩展名索引的解析器表
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry 创建包含默认解析器的注册表
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	r.Register(NewCSVParser())
	r.Register(NewTSVParser())
	r.Register(NewTextParser())
	r.Register(NewHTMLParser())
	r.Register(NewPDFParser())
	r.Register(NewDocxParser())
	r.Register(NewDocParser())
	return r
}

// NewEmptyRegistry 创建空注册表
func NewEmptyRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register 注册解析器，同一扩展名后注册的覆盖先注册的
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedExtensions() {
		r.parsers[NormalizeExt(ext)] = p
	}
}

// Resolve 查找扩展名对应的解析器
func (r *Registry) Resolve(ext string) (Parser, error) {
	ext = NormalizeExt(ext)
	r.mu.RLock()
	p, ok := r.parsers[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedFormatError{Ext: ext}
	}
	return p, nil
}

// Extensions 已注册的扩展名
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse 按文件名选择解析器并提取文本
func (r *Registry) Parse(fileName string, reader io.Reader) (string, error) {
	p, err := r.Resolve(ExtOf(fileName))
	if err != nil {
		return "", err
	}
	return Extract(p, fileName, reader)
}

// Extract 调用解析器，错误与 panic 均转换为 *ExtractionError
func Extract(p Parser, fileName string, reader io.Reader) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = &ExtractionError{File: fileName, Err: fmt.Errorf("解析器异常: %v", rec)}
		}
	}()

	text, err = p.Parse(reader)
	if err != nil {
		return "", &ExtractionError{File: fileName, Err: err}
	}
	return text, nil
}
