package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbeddingProviderSplitsByTokenBudget(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		requests.Add(1)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		data := make([]map[string]any, len(req.Input))
		// 倒序返回，验证按 index 回填
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float32{float32(len(req.Input[j])), 0}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": req.Model, "data": data})
	}))
	defer server.Close()

	p, err := NewOpenAIEmbeddingProvider(OpenAIOptions{
		APIKey:         "sk-test",
		BaseURL:        server.URL + "/v1",
		MaxBatchTokens: 2,
		TokenCounter:   func(string) int { return 1 },
	})
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	for i, v := range vectors {
		require.Equal(t, float32(i+1), v[0])
	}
	require.Equal(t, int32(3), requests.Load())
	require.Equal(t, "openai", p.GetProviderName())
	require.Equal(t, "text-embedding-3-small", p.GetModel())
}

func TestOpenAIEmbeddingProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbeddingProvider(OpenAIOptions{})
	require.Error(t, err)
}

func TestGeminiEmbeddingProviderBatchEmbed(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded"}}`))
			return
		}
		if r.URL.Path != "/models/text-embedding-004:batchEmbedContents" || r.URL.Query().Get("key") != "g-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req geminiBatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := geminiBatchResponse{}
		for _, item := range req.Requests {
			out.Embeddings = append(out.Embeddings, struct {
				Values []float32 `json:"values"`
			}{Values: []float32{float32(len(item.Content.Parts[0].Text))}})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	p, err := NewGeminiEmbeddingProvider(GeminiOptions{APIKey: "g-key", BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(context.Background(), []string{"x", "yy"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1}, {2}}, vectors)
	require.Equal(t, int32(2), attempts.Load())
}

func TestGeminiEmbeddingProviderDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid"}}`))
	}))
	defer server.Close()

	p, err := NewGeminiEmbeddingProvider(GeminiOptions{APIKey: "bad", BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "x")
	require.ErrorContains(t, err, "API key not valid")
	require.Equal(t, int32(1), attempts.Load())
}

func TestCachedEmbeddingProviderDeduplicatesAndCaches(t *testing.T) {
	inner := &fakeEmbedder{}
	p := NewCachedEmbeddingProvider(inner, NewEmbeddingCache(nil, "", 0))
	ctx := context.Background()

	vectors, err := p.EmbedBatch(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Equal(t, vectors[0], vectors[2])
	require.Equal(t, []string{"a", "b"}, inner.calls[0])

	_, err = p.Embed(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 1, inner.callCount(), "命中缓存不再调用底层模型")
}
