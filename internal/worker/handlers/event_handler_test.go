package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"knowledgehub/internal/infra/queue"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandleLifecycleEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewEventHandler(zap.New(core))

	payload, err := json.Marshal(queue.SyncEvent{
		KBID:           "kb_1",
		Status:         "failed",
		ProcessedFiles: []string{"a.txt"},
		FailedFiles:    []string{"b.pdf"},
		Error:          "vector store insert failed",
		OccurredAt:     time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleLifecycleEvent(context.Background(), asynq.NewTask(queue.TypeKnowledgeBaseSyncFailed, payload)))
	entries := logs.FilterMessage("知识库同步失败").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kb_1", entries[0].ContextMap()["kb_id"])

	require.NoError(t, h.HandleLifecycleEvent(context.Background(), asynq.NewTask(queue.TypeKnowledgeBaseSynced, payload)))
	assert.Equal(t, 1, logs.FilterMessage("知识库同步完成").Len())
}

func TestHandleLifecycleEventSkipsRetryOnBadPayload(t *testing.T) {
	h := NewEventHandler(zap.NewNop())

	err := h.HandleLifecycleEvent(context.Background(), asynq.NewTask(queue.TypeKnowledgeBaseSynced, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.HandleLifecycleEvent(context.Background(), asynq.NewTask(queue.TypeKnowledgeBaseSynced, []byte(`{"status":"synced"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.HandleLifecycleEvent(context.Background(), asynq.NewTask("kb:unknown", []byte(`{"kb_id":"kb_1"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
