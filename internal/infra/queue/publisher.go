package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"knowledgehub/internal/config"

	"github.com/hibiken/asynq"
)

// 知识库生命周期事件
const (
	TypeKnowledgeBaseSynced     = "kb:synced"
	TypeKnowledgeBaseSyncFailed = "kb:sync_failed"

	EventsQueue = "events"
)

// SyncEvent 同步事件载荷
type SyncEvent struct {
	KBID           string    `json:"kb_id"`
	Status         string    `json:"status"`
	ProcessedFiles []string  `json:"processed_files,omitempty"`
	FailedFiles    []string  `json:"failed_files,omitempty"`
	ChunkCount     int       `json:"chunk_count"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher 事件发布接口，由组合根注入
type Publisher interface {
	Publish(ctx context.Context, eventType string, event SyncEvent) error
	Close() error
}

type asynqPublisher struct {
	client *asynq.Client
}

// NewPublisher 创建基于 asynq 的事件发布者
func NewPublisher(cfg config.RedisConfig) Publisher {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqPublisher{client: client}
}

func (p *asynqPublisher) Publish(ctx context.Context, eventType string, event SyncEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(eventType, payload)
	// 事件消费方自行幂等，投递失败重试 3 次
	if _, err := p.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue(EventsQueue),
	); err != nil {
		return fmt.Errorf("enqueue event failed: %w", err)
	}
	return nil
}

func (p *asynqPublisher) Close() error {
	return p.client.Close()
}

// NoopPublisher Redis 未启用时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, SyncEvent) error { return nil }
func (NoopPublisher) Close() error                                     { return nil }
