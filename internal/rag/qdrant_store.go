package rag

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	qdrantUpsertBatchSize = 128
	qdrantDefaultPort     = 6334
)

// QdrantClient 向量库使用到的 Qdrant 客户端方法，*qdrant.Client 实现了该接口
type QdrantClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// QdrantOptions 初始化 Qdrant 向量存储的配置
type QdrantOptions struct {
	Endpoint       string
	APIKey         string
	Distance       string
	TimeoutSeconds int
}

// NewQdrantClient 按 endpoint 创建 gRPC 客户端
//
// endpoint 支持 "host:port" 与 "http(s)://host:port"，端口缺省为 6334，https 时启用 TLS。
func NewQdrantClient(opts QdrantOptions) (*qdrant.Client, error) {
	host, port, useTLS, err := parseQdrantEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: opts.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Qdrant 客户端失败: %w", err)
	}
	return client, nil
}

func parseQdrantEndpoint(endpoint string) (host string, port int, useTLS bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", 0, false, fmt.Errorf("qdrant endpoint 不能为空")
	}

	hostPort := endpoint
	if strings.Contains(endpoint, "://") {
		u, perr := url.Parse(endpoint)
		if perr != nil || u.Host == "" {
			return "", 0, false, fmt.Errorf("无效的 qdrant endpoint: %s", endpoint)
		}
		useTLS = u.Scheme == "https"
		hostPort = u.Host
	}

	h, p, serr := net.SplitHostPort(hostPort)
	if serr != nil {
		return hostPort, qdrantDefaultPort, useTLS, nil
	}
	port, err = strconv.Atoi(p)
	if err != nil || port <= 0 {
		return "", 0, false, fmt.Errorf("无效的 qdrant 端口: %s", p)
	}
	return h, port, useTLS, nil
}

func parseQdrantDistance(name string) (qdrant.Distance, error) {
	if name == "" {
		return qdrant.Distance_Cosine, nil
	}
	v, ok := qdrant.Distance_value[name]
	if !ok || qdrant.Distance(v) == qdrant.Distance_UnknownDistance {
		return 0, fmt.Errorf("不支持的 qdrant 距离: %s", name)
	}
	return qdrant.Distance(v), nil
}

// QdrantStore 基于 Qdrant 的向量存储，每个命名空间对应一个集合
type QdrantStore struct {
	client   QdrantClient
	distance qdrant.Distance
	timeout  time.Duration
	embedder EmbeddingProvider

	mu      sync.Mutex
	ensured map[string]bool
}

// NewQdrantStore 创建 Qdrant 向量存储实例
func NewQdrantStore(client QdrantClient, embedder EmbeddingProvider, opts QdrantOptions) (*QdrantStore, error) {
	if client == nil {
		return nil, fmt.Errorf("qdrant 客户端不能为空")
	}
	distance, err := parseQdrantDistance(opts.Distance)
	if err != nil {
		return nil, err
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	return &QdrantStore{
		client:   client,
		distance: distance,
		timeout:  time.Duration(timeout) * time.Second,
		embedder: embedder,
		ensured:  make(map[string]bool),
	}, nil
}

// Clear 删除命名空间对应的集合，下次写入时按向量维度重建
func (s *QdrantStore) Clear(ctx context.Context, namespace string) error {
	s.mu.Lock()
	delete(s.ensured, namespace)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return fmt.Errorf("探测 Qdrant 集合失败: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, namespace); err != nil {
		return fmt.Errorf("删除 Qdrant 集合失败: %w", err)
	}
	return nil
}

// Insert 向量化并写入一条分块
func (s *QdrantStore) Insert(ctx context.Context, text string, metadata map[string]any, namespace string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	return s.upsert(ctx, namespace, len(vec), []*qdrant.PointStruct{newQdrantPoint(text, metadata, vec)})
}

// InsertBatch 批量向量化并分批 upsert
func (s *QdrantStore) InsertBatch(ctx context.Context, namespace string, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("向量数量不匹配: 期望%d, 实际%d", len(chunks), len(vectors))
	}

	for i := 0; i < len(chunks); i += qdrantUpsertBatchSize {
		end := min(i+qdrantUpsertBatchSize, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			points = append(points, newQdrantPoint(chunks[j].Content, chunks[j].Metadata.Map(), vectors[j]))
		}
		if err := s.upsert(ctx, namespace, len(vectors[i]), points); err != nil {
			return err
		}
	}
	return nil
}

func newQdrantPoint(text string, metadata map[string]any, vec []float32) *qdrant.PointStruct {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(uuid.New().String()),
		Vectors: qdrant.NewVectors(vec...),
		Payload: qdrant.NewValueMap(map[string]any{
			"page_content": text,
			"metadata":     metadata,
		}),
	}
}

func (s *QdrantStore) upsert(ctx context.Context, namespace string, size int, points []*qdrant.PointStruct) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ensureCollection(ctx, namespace, size); err != nil {
		return err
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert 失败: %w", err)
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, namespace string, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[namespace] {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return fmt.Errorf("探测 Qdrant 集合失败: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: s.distance,
			}),
		})
		if err != nil {
			return fmt.Errorf("创建 Qdrant 集合失败: %w", err)
		}
	}
	s.ensured[namespace] = true
	return nil
}
