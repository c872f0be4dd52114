package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"knowledgehub/internal/config"
	"knowledgehub/pkg/httputil"
)

const (
	// MaxPageBytes 单个网页的最大读取字节数
	MaxPageBytes = 5 << 20

	maxSlugLen = 120
)

var errUnsupportedScheme = errors.New("only http and https URLs are supported")

// Page 抓取到的网页
type Page struct {
	URL         *url.URL
	Body        []byte
	ContentType string
}

// Fetcher 网页抓取器
type Fetcher struct {
	client   *httputil.Client
	maxBytes int64
}

// NewFetcher 按配置创建抓取器，不做重试
func NewFetcher(cfg config.IngestConfig, opts ...httputil.ClientOption) *Fetcher {
	timeout := cfg.FetchTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := []httputil.ClientOption{
		httputil.WithTimeout(timeout),
		httputil.WithUserAgent(cfg.UserAgent),
		httputil.WithHeaders(map[string]string{"Accept": "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"}),
	}
	return &Fetcher{
		client:   httputil.NewClient(append(base, opts...)...),
		maxBytes: MaxPageBytes,
	}
}

// Fetch 下载网页；网络错误、超时、非 2xx 与超限均返回 *FetchError
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := parseFetchURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Get(ctx, u.String())
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := httputil.ReadBody(resp, f.maxBytes)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	return &Page{URL: u, Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func parseFetchURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errUnsupportedScheme
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	return u, nil
}

// PageFilename 由主机名和路径生成存储文件名，如 example.com_docs_intro.html
func PageFilename(u *url.URL) string {
	raw := u.Hostname() + "/" + strings.Trim(u.EscapedPath(), "/")

	var b strings.Builder
	lastUnderscore := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	slug := strings.Trim(b.String(), "_.")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "_.")
	}
	if slug == "" {
		slug = "page"
	}
	return strings.TrimSuffix(slug, ".html") + ".html"
}
