package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"knowledgehub/internal/infra/queue"
	"knowledgehub/internal/metrics"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// EventHandler 消费同步流水线发布的知识库事件
type EventHandler struct {
	logger *zap.Logger
}

func NewEventHandler(logger *zap.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

// HandleLifecycleEvent 处理 kb:synced / kb:sync_failed，载荷无法解析时不重试
func (h *EventHandler) HandleLifecycleEvent(ctx context.Context, t *asynq.Task) error {
	var ev queue.SyncEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		metrics.LifecycleEventsTotal.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if ev.KBID == "" {
		metrics.LifecycleEventsTotal.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("event without kb_id: %w", asynq.SkipRetry)
	}

	fields := []zap.Field{
		zap.String("kb_id", ev.KBID),
		zap.String("status", ev.Status),
		zap.Int("processed", len(ev.ProcessedFiles)),
		zap.Int("failed", len(ev.FailedFiles)),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	switch t.Type() {
	case queue.TypeKnowledgeBaseSynced:
		h.logger.Info("知识库同步完成", append(fields, zap.Int("chunks", ev.ChunkCount))...)
	case queue.TypeKnowledgeBaseSyncFailed:
		h.logger.Warn("知识库同步失败", append(fields, zap.Strings("failed_files", ev.FailedFiles), zap.String("error", ev.Error))...)
	default:
		metrics.LifecycleEventsTotal.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("unknown event type %q: %w", t.Type(), asynq.SkipRetry)
	}

	metrics.LifecycleEventsTotal.WithLabelValues(t.Type(), "ok").Inc()
	return nil
}
