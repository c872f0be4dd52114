package parsers

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	chromeRe      = regexp.MustCompile(`(?is)<(nav|header|footer|aside)[^>]*>.*?</(nav|header|footer|aside)>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockEndRe    = regexp.MustCompile(`(?i)</(p|div|section|article|h[1-6]|li|tr|table|blockquote|pre)\s*>|<(br|hr)\s*/?>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	spacesRe      = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinesRe  = regexp.MustCompile(`\n\s*\n+`)
	mainTagRes    = map[string]*regexp.Regexp{
		"main":    regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`),
		"article": regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
		"body":    regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`),
	}
)

// HTMLParser HTML 文档解析器
type HTMLParser struct{}

// NewHTMLParser 创建 HTML 解析器
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// Parse 解析 HTML 文档，优先取 main/article/body 中的正文
func (p *HTMLParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取 HTML 失败: %w", err)
	}

	doc := StripScripts(string(data))
	text := htmlToText(mainContent(doc))
	if text == "" {
		return "", fmt.Errorf("HTML 中没有可提取的文本")
	}
	return text, nil
}

// SupportedExtensions 支持的扩展名
func (p *HTMLParser) SupportedExtensions() []string {
	return []string{".html", ".htm"}
}

// StripScripts 移除 script/style/noscript 块，抓取网页后入库前也会调用
func StripScripts(doc string) string {
	return scriptStyleRe.ReplaceAllString(doc, "")
}

func mainContent(doc string) string {
	for _, tag := range []string{"main", "article", "body"} {
		if m := mainTagRes[tag].FindStringSubmatch(doc); len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			return m[1]
		}
	}
	return doc
}

func htmlToText(doc string) string {
	doc = chromeRe.ReplaceAllString(doc, "")
	doc = commentRe.ReplaceAllString(doc, "")
	doc = blockEndRe.ReplaceAllString(doc, "\n")
	text := tagRe.ReplaceAllString(doc, " ")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = spacesRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = blankLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
