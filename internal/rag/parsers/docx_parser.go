package parsers

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const docxBodyPart = "word/document.xml"

var (
	docxParaRe  = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRe  = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	docSpacesRe = regexp.MustCompile(`\s+`)
)

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// DocxParser Word 文档解析器（.docx 为 ZIP 包中的 XML）
type DocxParser struct{}

// NewDocxParser 创建 DOCX 解析器
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// Parse 解析 DOCX 文档
func (p *DocxParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文档失败: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 DOCX 失败: %w", err)
	}

	body, err := readZipPart(zr, docxBodyPart)
	if err != nil {
		return "", err
	}

	paragraphs := docxParagraphs(body)
	text := strings.TrimSpace(strings.Join(paragraphs, "\n"))
	if text == "" {
		return "", errors.New("DOCX 文档没有文本内容")
	}
	return text, nil
}

// SupportedExtensions 支持的扩展名
func (p *DocxParser) SupportedExtensions() []string {
	return []string{".docx"}
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("打开 %s 失败: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("无效的 DOCX 文件：找不到 %s", name)
}

// docxParagraphs 结构化解析失败时退回正则提取
func docxParagraphs(body []byte) []string {
	var doc docxDocument
	var out []string
	if err := xml.Unmarshal(body, &doc); err == nil {
		for _, para := range doc.Body.Paragraphs {
			var sb strings.Builder
			for _, run := range para.Runs {
				for _, t := range run.Text {
					sb.WriteString(t.Content)
				}
			}
			if s := strings.TrimSpace(sb.String()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	for _, para := range docxParaRe.FindAllString(string(body), -1) {
		var sb strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(para, -1) {
			sb.WriteString(m[1])
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DocParser 旧版 .doc（OLE 复合文档），只提取可打印文本片段
type DocParser struct{}

// NewDocParser 创建 DOC 解析器
func NewDocParser() *DocParser {
	return &DocParser{}
}

// Parse 解析 DOC 文档
func (p *DocParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文档失败: %w", err)
	}

	var words []string
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= 2 {
			words = append(words, string(data[start:end]))
		}
		start = -1
	}
	for i, b := range data {
		printable := (b >= 32 && b <= 126) || b == '\n' || b == '\r' || b == '\t'
		if printable && start < 0 {
			start = i
		} else if !printable {
			flush(i)
		}
	}
	flush(len(data))

	text := strings.TrimSpace(docSpacesRe.ReplaceAllString(strings.Join(words, " "), " "))
	if text == "" {
		return "", errors.New("无法从 .doc 文件提取文本，建议转换为 .docx 格式")
	}
	return text, nil
}

// SupportedExtensions 支持的扩展名
func (p *DocParser) SupportedExtensions() []string {
	return []string{".doc"}
}
