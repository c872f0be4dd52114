package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "text-embedding-004"
	// batchEmbedContents 单次最多 100 条
	geminiMaxBatch = 100
)

// GeminiOptions Gemini 向量模型配置
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiEmbeddingProvider Google Gemini 向量化服务
type GeminiEmbeddingProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiEmbeddingProvider 创建 Gemini 向量化提供者
func NewGeminiEmbeddingProvider(opts GeminiOptions) (*GeminiEmbeddingProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("Gemini API Key 不能为空")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	model := strings.TrimPrefix(opts.Model, "models/")
	if model == "" {
		model = geminiDefaultModel
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &GeminiEmbeddingProvider{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		model:      model,
		maxRetries: maxRetries,
		httpClient: client,
	}, nil
}

// Embed 单条向量化
func (p *GeminiEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("文本不能为空")
	}
	vectors, err := p.batch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化
func (p *GeminiEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += geminiMaxBatch {
		end := min(i+geminiMaxBatch, len(texts))
		vectors, err := p.batch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

func (p *GeminiEmbeddingProvider) batch(ctx context.Context, texts []string) ([][]float32, error) {
	modelRef := "models/" + p.model
	req := geminiBatchRequest{Requests: make([]geminiEmbedRequest, len(texts))}
	for i, text := range texts {
		req.Requests[i] = geminiEmbedRequest{Model: modelRef, Content: geminiContent{Parts: []geminiPart{{Text: text}}}}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", p.baseURL, modelRef, p.apiKey)

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		vectors, retryable, err := p.do(ctx, url, body, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (p *GeminiEmbeddingProvider) do(ctx context.Context, url string, body []byte, expected int) ([][]float32, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("创建请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("调用 Gemini 接口失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr geminiErrorResponse
		msg := string(data)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("Gemini API 错误 (状态码 %d): %s", resp.StatusCode, msg)
	}

	var out geminiBatchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("解析响应失败: %w", err)
	}
	if len(out.Embeddings) != expected {
		return nil, false, fmt.Errorf("Gemini API返回向量数量不匹配: 期望%d, 实际%d", expected, len(out.Embeddings))
	}

	vectors := make([][]float32, expected)
	for i, emb := range out.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, false, nil
}

// GetModel 获取当前使用的模型
func (p *GeminiEmbeddingProvider) GetModel() string {
	return p.model
}

// GetProviderName 获取提供商名称
func (p *GeminiEmbeddingProvider) GetProviderName() string {
	return EmbeddingGemini
}
