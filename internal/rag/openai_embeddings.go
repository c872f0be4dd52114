package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"knowledgehub/internal/logger"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	// OpenAI 单次请求最多 2048 条输入
	openAIMaxBatchInputs = 2048
	// 单次请求的 token 预算，低于接口上限留出余量
	openAIDefaultBatchTokens = 250000
)

// OpenAIOptions OpenAI 向量模型配置
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxBatchTokens int
	// TokenCounter 为空时使用 tiktoken，编码表不可用时退回估算
	TokenCounter TokenCounter
}

// OpenAIEmbeddingProvider OpenAI向量化服务提供者
type OpenAIEmbeddingProvider struct {
	client      *openai.Client
	model       string
	batchTokens int
	counter     TokenCounter
	counterOnce sync.Once
}

// NewOpenAIEmbeddingProvider 创建OpenAI向量化提供者
func NewOpenAIEmbeddingProvider(opts OpenAIOptions) (*OpenAIEmbeddingProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OpenAI API Key 不能为空")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	model := opts.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	batchTokens := opts.MaxBatchTokens
	if batchTokens <= 0 {
		batchTokens = openAIDefaultBatchTokens
	}

	return &OpenAIEmbeddingProvider{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		batchTokens: batchTokens,
		counter:     opts.TokenCounter,
	}, nil
}

// Embed 将单条文本转换为向量
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("文本不能为空")
	}
	vectors, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化，按条数与 token 预算拆分请求
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	count := p.tokenCounter()
	all := make([][]float32, 0, len(texts))
	start, tokens := 0, 0
	for i, text := range texts {
		n := count(text)
		if i > start && (i-start >= openAIMaxBatchInputs || tokens+n > p.batchTokens) {
			vectors, err := p.request(ctx, texts[start:i])
			if err != nil {
				return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", start, i, err)
			}
			all = append(all, vectors...)
			start, tokens = i, 0
		}
		tokens += n
	}

	vectors, err := p.request(ctx, texts[start:])
	if err != nil {
		return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", start, len(texts), err)
	}
	return append(all, vectors...), nil
}

func (p *OpenAIEmbeddingProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("调用OpenAI Embeddings API失败: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI API返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data))
	}

	// 结果按 Index 回填，接口不保证顺序
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("OpenAI API返回非法索引: %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, vec := range embeddings {
		if len(vec) == 0 {
			return nil, fmt.Errorf("OpenAI API缺少第 %d 条向量", i)
		}
	}
	return embeddings, nil
}

func (p *OpenAIEmbeddingProvider) tokenCounter() TokenCounter {
	p.counterOnce.Do(func() {
		if p.counter != nil {
			return
		}
		enc, err := tiktoken.EncodingForModel(p.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			logger.Warn("加载 tiktoken 编码失败，使用估算值", zap.String("model", p.model), zap.Error(err))
			p.counter = estimateTokenCount
			return
		}
		p.counter = func(text string) int {
			return len(enc.Encode(text, nil, nil))
		}
	})
	return p.counter
}

// GetModel 获取当前使用的模型
func (p *OpenAIEmbeddingProvider) GetModel() string {
	return p.model
}

// GetProviderName 获取提供商名称
func (p *OpenAIEmbeddingProvider) GetProviderName() string {
	return EmbeddingOpenAI
}
